package injection

import (
	"context"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/ie"
	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// FindNearbyAP listens for beacons on the injecting interface for the
// configured scan timeout and returns the strongest one that reported a
// signal level. It returns nil when no such beacon was seen. Only the
// injecting radio's view counts: it is the one that must hear the ACKs.
func (o *Orchestrator) FindNearbyAP(ctx context.Context) (*domain.AccessPoint, error) {
	beacons, err := o.collectFrom(ctx, o.ch.RecvInject, 0, o.cfg.ScanTimeout, func(f *domain.Frame) bool {
		return f.IsBeacon() && f.SignalDBM != nil && f.Addr2 != nil
	})

	var best *domain.Frame
	for _, b := range beacons {
		if best == nil || *b.SignalDBM > *best.SignalDBM {
			best = b
		}
	}
	if best == nil {
		return nil, err
	}

	ap := &domain.AccessPoint{
		BSSID:     best.Addr2.String(),
		SSID:      ie.ParseSSID(best.Elements).String(),
		SignalDBM: *best.SignalDBM,
	}
	if ch, chErr := ie.ParseChannel(best.Elements); chErr == nil {
		ap.Channel = ch
	}
	o.logger.Info("found access point", "bssid", ap.BSSID, "ssid", ap.SSID, "signal", ap.SignalDBM)
	return ap, err
}
