// Package codec converts between capture bytes and domain.Frame.
//
// Captures arrive wrapped in a radiotap header, or bare when the capture
// handle reports LinkTypeIEEE802_11. Either way the frame handed to the rest
// of the program never carries the envelope or a frame check sequence.
package codec

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// ReflectedHeaderMax is the largest radiotap header the local stack puts on
// frames it loops back from our own injections.
const ReflectedHeaderMax = 13

// Envelope is the capture metadata found in front of a frame.
type Envelope struct {
	// HeaderLen is the radiotap header length, 0 for bare captures.
	HeaderLen int
	// FCS reports whether the capture carried a frame check sequence.
	FCS       bool
	SignalDBM *int8
	Frequency int
	Channel   int
	TSFT      uint64
}

// Reflected reports whether the envelope looks like the short header the
// kernel adds when echoing an injected frame.
func (e Envelope) Reflected() bool {
	return e.HeaderLen > 0 && e.HeaderLen <= ReflectedHeaderMax
}

// Unwrap strips the capture envelope and any FCS.
func Unwrap(data []byte, link layers.LinkType) (frame []byte, env Envelope, err error) {
	switch link {
	case layers.LinkTypeIEEE80211Radio:
		rt, err := decodeRadioTap(data)
		if err != nil {
			return nil, env, err
		}
		env = envelopeOf(rt)
		// rt.Payload always ends in a checksum: the captured FCS or one
		// computed by the decoder.
		if len(rt.Payload) < 4 {
			return nil, env, fmt.Errorf("%w: empty radiotap payload", domain.ErrMalformedFrame)
		}
		return rt.Payload[:len(rt.Payload)-4], env, nil
	case layers.LinkTypeIEEE802_11:
		return data, env, nil
	default:
		return nil, env, fmt.Errorf("%w: unsupported link type %v", domain.ErrMalformedFrame, link)
	}
}

// Wrap prepends the minimal radiotap header used for injection.
func Wrap(frame []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &layers.RadioTap{}, gopacket.Payload(frame)); err != nil {
		return nil, fmt.Errorf("serialize radiotap: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRadioTap(data []byte) (rt *layers.RadioTap, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt, err = nil, fmt.Errorf("%w: radiotap: %v", domain.ErrMalformedFrame, r)
		}
	}()

	rt = &layers.RadioTap{}
	if err := rt.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedFrame, err)
	}
	if int(rt.Length) < 8 || int(rt.Length) > len(data) {
		return nil, fmt.Errorf("%w: radiotap length %d of %d bytes", domain.ErrMalformedFrame, rt.Length, len(data))
	}
	return rt, nil
}

func envelopeOf(rt *layers.RadioTap) Envelope {
	env := Envelope{
		HeaderLen: int(rt.Length),
		FCS:       rt.Present.Flags() && rt.Flags.FCS(),
	}
	if rt.Present.DBMAntennaSignal() {
		s := rt.DBMAntennaSignal
		env.SignalDBM = &s
	}
	if rt.Present.Channel() {
		env.Frequency = int(rt.ChannelFrequency)
		env.Channel = FrequencyToChannel(env.Frequency)
	}
	if rt.Present.TSFT() {
		env.TSFT = rt.TSFT
	}
	return env
}

// FrequencyToChannel converts WiFi frequency (MHz) to channel number
func FrequencyToChannel(freq int) int {
	// 2.4 GHz band (channels 1-14)
	if freq >= 2412 && freq <= 2484 {
		if freq == 2484 {
			return 14
		}
		return (freq - 2407) / 5
	}

	// 5 GHz band (channels 36-165)
	if freq >= 5170 && freq <= 5825 {
		return (freq - 5000) / 5
	}

	// 6 GHz band - WiFi 6E (channels 1-233)
	if freq >= 5955 && freq <= 7115 {
		return (freq - 5950) / 5
	}

	return 0
}
