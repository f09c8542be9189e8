package injection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/gopacket/layers"
)

// Capture is one packet read from a Handle, envelope included.
type Capture struct {
	Data      []byte
	Timestamp time.Time
	LinkType  layers.LinkType
}

// Handle is a raw send/receive transport bound to one interface.
type Handle interface {
	// Send transmits a packet that already carries its capture envelope.
	Send(packet []byte) error
	// Receive waits up to timeout for the next packet. It returns nil, nil
	// when the timeout expires.
	Receive(timeout time.Duration) (*Capture, error)
	// Name is the interface the handle is bound to.
	Name() string
	Close() error
}

// Open returns a Handle on iface, preferring a raw socket and falling back
// to pcap.
func Open(iface string, opts Options, logger *slog.Logger) (Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.PreferRaw {
		raw, err := NewRawTransport(iface, opts)
		if err == nil {
			logger.Info("Using raw socket transport", "interface", iface)
			return raw, nil
		}
		logger.Warn("Raw transport unavailable, falling back to pcap", "interface", iface, "error", err)
	}

	p, err := NewPcapTransport(iface, opts)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", iface, err)
	}
	logger.Info("Using pcap transport", "interface", iface)
	return p, nil
}
