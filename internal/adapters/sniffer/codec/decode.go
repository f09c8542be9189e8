package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/ie"
	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// fixedFieldLen is the length of the fixed fields that precede the element
// chain in each management subtype.
var fixedFieldLen = map[uint8]int{
	0: 4,  // association request
	1: 6,  // association response
	2: 10, // reassociation request
	3: 6,  // reassociation response
	4: 0,  // probe request
	5: 12, // probe response
	8: 12, // beacon
}

// Decode normalizes one capture into a Frame. Raw keeps the 802.11 bytes
// without envelope or FCS.
func Decode(data []byte, link layers.LinkType, ts time.Time) (*domain.Frame, Envelope, error) {
	raw, env, err := Unwrap(data, link)
	if err != nil {
		return nil, env, err
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		return nil, env, err
	}
	f.Timestamp = ts
	f.SignalDBM = env.SignalDBM
	return f, env, nil
}

// DecodeFrame decodes a bare 802.11 frame without FCS.
func DecodeFrame(raw []byte) (f *domain.Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, fmt.Errorf("%w: dot11: %v", domain.ErrMalformedFrame, r)
		}
	}()

	// layers.Dot11 always treats the last four bytes as the FCS.
	buf := make([]byte, len(raw)+4)
	copy(buf, raw)

	var d layers.Dot11
	if err := d.DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}

	if d.Type.MainType() > layers.Dot11TypeData {
		return nil, fmt.Errorf("%w: extension frame type", domain.ErrMalformedFrame)
	}
	f = &domain.Frame{
		Type:     uint8(d.Type.MainType()),
		Subtype:  uint8(d.Type) >> 2,
		Flags:    domain.FrameFlags(d.Flags),
		Duration: d.DurationID,
		Addr1:    d.Address1,
		Addr2:    d.Address2,
		Addr3:    d.Address3,
		Addr4:    d.Address4,
		Body:     d.Payload,
		Raw:      raw,
	}
	if f.Type != domain.TypeControl {
		f.SequenceControl = binary.LittleEndian.Uint16(raw[22:24])
	}
	if d.QOS != nil {
		f.QoS = &domain.QoSControl{
			TID:       d.QOS.TID,
			EOSP:      d.QOS.EOSP,
			AckPolicy: uint8(d.QOS.AckPolicy),
			TXOP:      d.QOS.TXOP,
		}
	}

	switch f.Type {
	case domain.TypeManagement:
		f.Kind = domain.KindManagement
		if n, ok := fixedFieldLen[f.Subtype]; ok && !f.Flags.Has(domain.FlagProtected) && len(f.Body) >= n {
			// Elements decoded before a malformed one are still useful.
			f.Elements, _ = ie.Parse(f.Body[n:])
		}
	case domain.TypeControl:
		f.Kind = domain.KindControl
	case domain.TypeData:
		decodeData(f)
	}
	return f, nil
}

func decodeData(f *domain.Frame) {
	if f.Flags.Has(domain.FlagProtected) {
		f.Kind = domain.KindDataProtected
		f.Encrypted = encryptedView(f.Body)
		return
	}
	f.Kind = domain.KindDataPlaintext
	if f.QoS != nil {
		f.Kind = domain.KindQoSData
	}
	f.EtherType = etherType(f.Body)
}

// encryptedView splits a protected body into its security header and
// ciphertext. Bodies too short for a header are left without a view.
func encryptedView(body []byte) *domain.EncryptedPayload {
	if len(body) < 4 {
		return nil
	}
	n := 4
	if (&domain.EncryptedPayload{Header: body[:4]}).ExtendedIV() {
		n = 8
	}
	if len(body) < n {
		return nil
	}
	return &domain.EncryptedPayload{Header: body[:n], Data: body[n:]}
}

// etherType reads the protocol from an LLC/SNAP header, 0 when absent.
func etherType(body []byte) uint16 {
	var llc layers.LLC
	if err := llc.DecodeFromBytes(body, gopacket.NilDecodeFeedback); err != nil {
		return 0
	}
	if llc.DSAP != 0xAA || llc.SSAP != 0xAA {
		return 0
	}
	var snap layers.SNAP
	if err := snap.DecodeFromBytes(llc.Payload, gopacket.NilDecodeFeedback); err != nil {
		return 0
	}
	return uint16(snap.Type)
}
