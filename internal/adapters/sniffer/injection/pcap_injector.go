package injection

import (
	"errors"
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/gopacket/pcap"
)

// Options tunes how handles are opened.
type Options struct {
	SnapLen     datasize.ByteSize
	BufferSize  datasize.ByteSize
	ReadTimeout time.Duration
	// PreferRaw tries an AF_PACKET socket before falling back to pcap.
	PreferRaw bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		SnapLen:     64 * datasize.KB,
		BufferSize:  2 * datasize.MB,
		ReadTimeout: 50 * time.Millisecond,
		PreferRaw:   true,
	}
}

// PcapTransport is a Handle backed by libpcap.
type PcapTransport struct {
	handle *pcap.Handle
	iface  string
}

// NewPcapTransport activates a pcap handle in immediate mode so captures
// are not held back by the kernel buffer.
func NewPcapTransport(iface string, opts Options) (*PcapTransport, error) {
	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return nil, fmt.Errorf("pcap open failed: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(int(opts.SnapLen.Bytes())); err != nil {
		return nil, fmt.Errorf("pcap snaplen: %w", err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return nil, fmt.Errorf("pcap promisc: %w", err)
	}
	if err := inactive.SetTimeout(opts.ReadTimeout); err != nil {
		return nil, fmt.Errorf("pcap timeout: %w", err)
	}
	if err := inactive.SetImmediateMode(true); err != nil {
		return nil, fmt.Errorf("pcap immediate mode: %w", err)
	}
	if opts.BufferSize > 0 {
		if err := inactive.SetBufferSize(int(opts.BufferSize.Bytes())); err != nil {
			return nil, fmt.Errorf("pcap buffer size: %w", err)
		}
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("pcap activate failed: %w", err)
	}
	return &PcapTransport{handle: handle, iface: iface}, nil
}

func (p *PcapTransport) Send(packet []byte) error {
	return p.handle.WritePacketData(packet)
}

func (p *PcapTransport) Receive(timeout time.Duration) (*Capture, error) {
	deadline := time.Now().Add(timeout)
	for {
		data, ci, err := p.handle.ReadPacketData()
		switch {
		case err == nil:
			return &Capture{Data: data, Timestamp: ci.Timestamp, LinkType: p.handle.LinkType()}, nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
			if !time.Now().Before(deadline) {
				return nil, nil
			}
		default:
			return nil, fmt.Errorf("pcap read on %s: %w", p.iface, err)
		}
	}
}

func (p *PcapTransport) Name() string { return p.iface }

func (p *PcapTransport) Close() error {
	p.handle.Close()
	return nil
}
