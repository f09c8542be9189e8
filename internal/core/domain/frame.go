package domain

import (
	"bytes"
	"encoding/binary"
	"net"
	"time"
)

// FrameKind is decided once, when a capture is normalized.
type FrameKind int

const (
	KindManagement FrameKind = iota
	KindControl
	KindDataPlaintext
	KindDataProtected
	KindQoSData
)

func (k FrameKind) String() string {
	switch k {
	case KindManagement:
		return "management"
	case KindControl:
		return "control"
	case KindDataPlaintext:
		return "data"
	case KindDataProtected:
		return "data-protected"
	case KindQoSData:
		return "qos-data"
	default:
		return "unknown"
	}
}

// 802.11 frame types (FC bits 2-3).
const (
	TypeManagement uint8 = 0
	TypeControl    uint8 = 1
	TypeData       uint8 = 2
)

// Subtypes used by the probes.
const (
	SubtypeProbeResp uint8 = 5
	SubtypeBeacon    uint8 = 8
	SubtypeData      uint8 = 0
	SubtypeQoSData   uint8 = 8
)

// FrameFlags mirrors the second octet of the frame control field.
type FrameFlags uint8

const (
	FlagToDS FrameFlags = 1 << iota
	FlagFromDS
	FlagMoreFragments
	FlagRetry
	FlagPowerMgmt
	FlagMoreData
	FlagProtected
	FlagOrder
)

func (f FrameFlags) Has(flag FrameFlags) bool { return f&flag != 0 }

// QoSControl is the QoS control field of QoS data frames.
type QoSControl struct {
	TID       uint8
	EOSP      bool
	AckPolicy uint8
	TXOP      uint8
}

// EncryptedPayload is the body of a protected frame: the security header
// (IV and key ID octets) followed by ciphertext.
type EncryptedPayload struct {
	Header []byte
	Data   []byte
}

// ExtendedIV reports whether the key ID octet announces an extended IV
// (TKIP and CCMP). Legacy WEP leaves it cleared.
func (e *EncryptedPayload) ExtendedIV() bool {
	return len(e.Header) >= 4 && e.Header[3]&0x20 != 0
}

// Element is one information element of a management frame body.
type Element struct {
	ID   uint8
	Info []byte
}

// Frame is the canonical 802.11 frame every capture is normalized into.
type Frame struct {
	Kind     FrameKind
	Type     uint8
	Subtype  uint8
	Flags    FrameFlags
	Duration uint16

	Addr1 net.HardwareAddr
	Addr2 net.HardwareAddr
	Addr3 net.HardwareAddr
	Addr4 net.HardwareAddr

	// SequenceControl holds the raw 16-bit field: sequence number in the
	// upper 12 bits, fragment number in the lower 4.
	SequenceControl uint16

	QoS       *QoSControl
	Body      []byte
	Encrypted *EncryptedPayload
	Elements  []Element

	// EtherType is set for plaintext data frames carrying LLC/SNAP.
	EtherType uint16

	Timestamp time.Time
	SignalDBM *int8
	Label     []byte
	Raw       []byte
}

// SequenceNumber returns SC >> 4.
func (f *Frame) SequenceNumber() uint16 {
	return f.SequenceControl >> 4
}

// FragmentNumber returns SC & 0xF.
func (f *Frame) FragmentNumber() uint8 {
	return uint8(f.SequenceControl & 0x0F)
}

// SetSequence writes both halves of the sequence control field.
func (f *Frame) SetSequence(seq uint16, frag uint8) {
	f.SequenceControl = seq<<4 | uint16(frag&0x0F)
}

func (f *Frame) IsEncrypted() bool {
	return f.Flags.Has(FlagProtected) || f.Encrypted != nil
}

// IV returns the initialization vector of a protected frame.
//
// Frames with an extended IV are read as PN0 | PN1<<8 | BE32(payload[4:8])<<16.
// TKIP frames are read with the same formula even though their octet order
// differs; the resulting value is still unique per packet, which is all the
// reuse engine needs.
func (f *Frame) IV() (uint64, error) {
	if !f.IsEncrypted() {
		return 0, ErrPlaintextFrame
	}
	sec := EncryptedPayload{Header: f.securityHeader()}
	hdr := sec.Header
	if len(hdr) < 4 {
		return 0, ErrMalformedFrame
	}
	if !sec.ExtendedIV() {
		return uint64(hdr[0]) | uint64(hdr[1])<<8 | uint64(hdr[2])<<16, nil
	}
	if len(hdr) < 8 {
		return 0, ErrMalformedFrame
	}
	ext := binary.BigEndian.Uint32(hdr[4:8])
	return uint64(hdr[0]) | uint64(hdr[1])<<8 | uint64(ext)<<16, nil
}

func (f *Frame) securityHeader() []byte {
	if f.Encrypted != nil {
		return f.Encrypted.Header
	}
	if len(f.Body) >= 8 {
		return f.Body[:8]
	}
	return f.Body
}

// Priority returns the QoS TID, or 0 for frames without a QoS field.
func (f *Frame) Priority() uint8 {
	if f.QoS == nil {
		return 0
	}
	return f.QoS.TID
}

// IsBeacon reports whether f is a beacon.
func (f *Frame) IsBeacon() bool {
	return f.Type == TypeManagement && f.Subtype == SubtypeBeacon
}

// CarriesEAPOL reports whether the plaintext body is an LLC/SNAP EAPOL packet.
func (f *Frame) CarriesEAPOL() bool {
	return f.EtherType == EtherTypeEAPOL
}

// HasLabel reports whether the label occurs anywhere in the raw frame.
func (f *Frame) HasLabel(label []byte) bool {
	if len(label) == 0 {
		return false
	}
	if f.Raw != nil {
		return bytes.Contains(f.Raw, label)
	}
	return bytes.Contains(f.Body, label)
}

// Clone returns a deep copy, so that callers may mutate the result freely.
func (f Frame) Clone() Frame {
	c := f
	c.Addr1 = cloneBytes(f.Addr1)
	c.Addr2 = cloneBytes(f.Addr2)
	c.Addr3 = cloneBytes(f.Addr3)
	c.Addr4 = cloneBytes(f.Addr4)
	if f.QoS != nil {
		q := *f.QoS
		c.QoS = &q
	}
	c.Body = cloneBytes(f.Body)
	if f.Encrypted != nil {
		c.Encrypted = &EncryptedPayload{
			Header: cloneBytes(f.Encrypted.Header),
			Data:   cloneBytes(f.Encrypted.Data),
		}
	}
	if f.Elements != nil {
		c.Elements = make([]Element, len(f.Elements))
		for i, el := range f.Elements {
			c.Elements[i] = Element{ID: el.ID, Info: cloneBytes(el.Info)}
		}
	}
	if f.SignalDBM != nil {
		s := *f.SignalDBM
		c.SignalDBM = &s
	}
	c.Label = cloneBytes(f.Label)
	c.Raw = cloneBytes(f.Raw)
	return c
}

// EtherTypeEAPOL is 802.1X over LAN.
const EtherTypeEAPOL uint16 = 0x888E

func cloneBytes[T ~[]byte](b T) T {
	if b == nil {
		return nil
	}
	out := make(T, len(b))
	copy(out, b)
	return out
}
