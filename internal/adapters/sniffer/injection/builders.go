package injection

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// EAPOLBuilder produces the LLC/SNAP encapsulated EAPOL packet the probes
// carry. It implements ports.PayloadBuilder.
type EAPOLBuilder struct{}

// EAPOL serializes an EAP-Failure inside an EAPOL packet.
//
// Lengths are set by hand: EAP's FixLengths counts the type octet even for
// codes that have none.
func (EAPOLBuilder) EAPOL() ([]byte, error) {
	llc := &layers.LLC{DSAP: 0xAA, SSAP: 0xAA, Control: 0x03}
	snap := &layers.SNAP{
		OrganizationalCode: []byte{0x00, 0x00, 0x00},
		Type:               layers.EthernetTypeEAPOL,
	}
	eapol := &layers.EAPOL{Version: 1, Type: layers.EAPOLTypeEAP, Length: 4}
	eap := &layers.EAP{Code: layers.EAPCodeFailure, Id: 0, Length: 4}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, llc, snap, eapol, eap); err != nil {
		return nil, fmt.Errorf("serialize EAPOL failed: %w", err)
	}
	return buf.Bytes(), nil
}

// DummyFrame is the empty data frame sent after a fragment to make some
// drivers flush their fragment queue.
func DummyFrame() domain.Frame {
	return domain.Frame{
		Kind:    domain.KindDataPlaintext,
		Type:    domain.TypeData,
		Subtype: domain.SubtypeData,
	}
}
