//go:build linux

package injection

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const ethPAll = 0x0003

// RawTransport is a Handle on an AF_PACKET socket.
type RawTransport struct {
	fd       int
	ifIndex  int
	iface    string
	linkType layers.LinkType
	buf      []byte
}

// NewRawTransport binds an AF_PACKET socket to iface. The link type is taken
// from the interface's encapsulation.
func NewRawTransport(iface string, opts Options) (*RawTransport, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s not found: %w", iface, err)
	}
	attrs := link.Attrs()

	var linkType layers.LinkType
	switch attrs.EncapType {
	case "ieee802.11/radiotap":
		linkType = layers.LinkTypeIEEE80211Radio
	case "ieee802.11":
		linkType = layers.LinkTypeIEEE802_11
	default:
		return nil, fmt.Errorf("interface %s has encapsulation %q, not monitor mode", iface, attrs.EncapType)
	}

	proto := htons(ethPAll)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, fmt.Errorf("socket creation failed: %w", err)
	}

	ll := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: attrs.Index}
	if err := unix.Bind(fd, ll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind failed: %w", err)
	}

	if opts.BufferSize > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, int(opts.BufferSize.Bytes()))
	}

	return &RawTransport{
		fd:       fd,
		ifIndex:  attrs.Index,
		iface:    iface,
		linkType: linkType,
		buf:      make([]byte, int(opts.SnapLen.Bytes())),
	}, nil
}

func (r *RawTransport) Send(packet []byte) error {
	ll := &unix.SockaddrLinklayer{Ifindex: r.ifIndex}
	return unix.Sendto(r.fd, packet, 0, ll)
}

func (r *RawTransport) Receive(timeout time.Duration) (*Capture, error) {
	if timeout < time.Millisecond {
		timeout = time.Millisecond
	}
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(r.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return nil, fmt.Errorf("set receive timeout on %s: %w", r.iface, err)
	}

	n, _, err := unix.Recvfrom(r.fd, r.buf, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("recv on %s: %w", r.iface, err)
	}

	data := make([]byte, n)
	copy(data, r.buf[:n])
	return &Capture{Data: data, Timestamp: time.Now(), LinkType: r.linkType}, nil
}

func (r *RawTransport) Name() string { return r.iface }

func (r *RawTransport) Close() error {
	return unix.Close(r.fd)
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}
