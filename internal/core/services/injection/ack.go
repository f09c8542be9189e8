package injection

import (
	"context"
	"net"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// ACK probe variants.
const (
	AckUnassigned    = "unassigned"
	AckSpoofedSender = "spoofed-sender"
	AckRealSender    = "real-sender"
)

// AckProbe counts how often each of three frames is (re)transmitted:
// one toward an address nobody owns, and two toward an acknowledging
// destination with a spoofed and then the real sender address. It needs a
// capture handle distinct from the injecting one.
//
// The destination is target.AccessPoint, else the strongest beacon heard by
// the injecting interface, else target.Peer.
func (o *Orchestrator) AckProbe(ctx context.Context, target Target) ([]domain.TestVerdict, *domain.AccessPoint) {
	variants := []string{AckUnassigned, AckSpoofedSender, AckRealSender}

	if !o.ch.DistinctCapture() {
		return o.inconclusive(ctx, variants,
			"%v: acknowledgment behavior needs a capture interface distinct from the injecting one", domain.ErrAmbiguousResult), nil
	}

	var ap *domain.AccessPoint
	dest := target.AccessPoint
	if dest == nil {
		found, err := o.FindNearbyAP(ctx)
		if err != nil {
			o.logger.Debug("beacon scan failed", "error", err)
		}
		if found != nil {
			ap = found
			dest, _ = net.ParseMAC(found.BSSID)
		}
	}
	if dest == nil {
		dest = target.Peer
	}
	if dest == nil {
		return o.inconclusive(ctx, variants,
			"%v: no access point found and no peer given", domain.ErrAmbiguousResult), ap
	}

	unassigned := o.cfg.UnassignedAddr
	out := []domain.TestVerdict{
		o.ackVariant(ctx, AckUnassigned, o.ackFrame(unassigned, unassigned, false), func(n int) domain.TestVerdict {
			if n == 1 {
				return domain.NewVerdict(domain.ProbeAck, AckUnassigned, domain.VerdictSuspicious,
					"frame toward an unassigned address was sent once and never retransmitted; timing-sensitive results are less reliable")
			}
			return domain.NewVerdict(domain.ProbeAck, AckUnassigned, domain.VerdictPass,
				"unacknowledged frame was retransmitted %d times", n-1)
		}),
	}
	if ctx.Err() != nil {
		return out, ap
	}
	out = append(out, o.ackVariant(ctx, AckSpoofedSender, o.ackFrame(dest, o.cfg.AckSpoofedSender, true), func(n int) domain.TestVerdict {
		if n > 2 {
			return domain.NewVerdict(domain.ProbeAck, AckSpoofedSender, domain.VerdictPass,
				"captured %d transmissions; the destination does not acknowledge the spoofed sender, which is expected", n)
		}
		return domain.NewVerdict(domain.ProbeAck, AckSpoofedSender, domain.VerdictPass,
			"captured %d transmissions", n)
	}))
	if ctx.Err() != nil {
		return out, ap
	}
	out = append(out, o.ackVariant(ctx, AckRealSender, o.ackFrame(dest, target.Own, true), func(n int) domain.TestVerdict {
		if n > 2 {
			return domain.NewVerdict(domain.ProbeAck, AckRealSender, domain.VerdictSuspicious,
				"frame toward an acknowledging destination was transmitted %d times; excess retransmissions may desynchronize time-sensitive tests", n)
		}
		return domain.NewVerdict(domain.ProbeAck, AckRealSender, domain.VerdictPass,
			"acknowledged frame was transmitted %d times", n)
	}))
	return out, ap
}

func (o *Orchestrator) ackFrame(addr1, addr2 net.HardwareAddr, toDS bool) domain.Frame {
	f := domain.Frame{
		Kind:    domain.KindDataPlaintext,
		Type:    domain.TypeData,
		Subtype: domain.SubtypeData,
		Addr1:   addr1,
		Addr2:   addr2,
		Addr3:   addr1,
	}
	if toDS {
		f.Flags |= domain.FlagToDS
	}
	return f
}

// ackVariant injects f once and judges the number of labeled captures.
func (o *Orchestrator) ackVariant(ctx context.Context, variant string, f domain.Frame, judge func(n int) domain.TestVerdict) domain.TestVerdict {
	return o.traced(ctx, domain.ProbeAck, variant, func(ctx context.Context) domain.TestVerdict {
		frames, err := o.injectAndCapture(ctx, f, 0)
		if err != nil {
			v := failFromError(domain.ProbeAck, variant, err)
			v.Injected, v.Captured = 1, len(frames)
			return v
		}
		var v domain.TestVerdict
		if len(frames) == 0 {
			v = failFromError(domain.ProbeAck, variant, domain.ErrNoCapture)
		} else {
			v = judge(len(frames))
		}
		v.Injected, v.Captured = 1, len(frames)
		return v
	})
}

func (o *Orchestrator) inconclusive(ctx context.Context, variants []string, format string, args ...any) []domain.TestVerdict {
	out := make([]domain.TestVerdict, 0, len(variants))
	for _, variant := range variants {
		out = append(out, o.traced(ctx, domain.ProbeAck, variant, func(context.Context) domain.TestVerdict {
			return domain.NewVerdict(domain.ProbeAck, variant, domain.VerdictInconclusive, format, args...)
		}))
	}
	return out
}
