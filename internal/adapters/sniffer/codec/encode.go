package codec

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

var zeroMAC = make(net.HardwareAddr, 6)

// EncodeFrame writes the 802.11 header and body of f, without FCS.
//
// The QoS control field is written for data subtypes with bit 3 set and a
// fourth address when both DS bits are set. Protected frames with an
// Encrypted view are written from the view.
func EncodeFrame(f *domain.Frame) ([]byte, error) {
	if f.Type > domain.TypeData {
		return nil, fmt.Errorf("%w: cannot encode frame type %d", domain.ErrMalformedFrame, f.Type)
	}

	out := make([]byte, 0, 36+len(f.Body))
	out = append(out, f.Subtype<<4|f.Type<<2, byte(f.Flags))
	out = binary.LittleEndian.AppendUint16(out, f.Duration)

	var err error
	if out, err = appendAddr(out, f.Addr1); err != nil {
		return nil, err
	}
	if f.Type == domain.TypeControl {
		if f.Addr2 != nil {
			if out, err = appendAddr(out, f.Addr2); err != nil {
				return nil, err
			}
		}
		return append(out, f.Body...), nil
	}

	for _, a := range []net.HardwareAddr{f.Addr2, f.Addr3} {
		if out, err = appendAddr(out, a); err != nil {
			return nil, err
		}
	}
	out = binary.LittleEndian.AppendUint16(out, f.SequenceControl)

	if f.Type == domain.TypeData && f.Flags.Has(domain.FlagToDS) && f.Flags.Has(domain.FlagFromDS) {
		if out, err = appendAddr(out, f.Addr4); err != nil {
			return nil, err
		}
	}
	if f.Type == domain.TypeData && f.Subtype&0x08 != 0 {
		var qos domain.QoSControl
		if f.QoS != nil {
			qos = *f.QoS
		}
		b0 := qos.TID&0x0F | (qos.AckPolicy&0x03)<<5
		if qos.EOSP {
			b0 |= 0x10
		}
		out = append(out, b0, qos.TXOP)
	}

	if f.Encrypted != nil {
		out = append(out, f.Encrypted.Header...)
		return append(out, f.Encrypted.Data...), nil
	}
	return append(out, f.Body...), nil
}

func appendAddr(out []byte, a net.HardwareAddr) ([]byte, error) {
	if a == nil {
		a = zeroMAC
	}
	if len(a) != 6 {
		return nil, fmt.Errorf("%w: address %v is not 6 bytes", domain.ErrInvalidMAC, a)
	}
	return append(out, a...), nil
}
