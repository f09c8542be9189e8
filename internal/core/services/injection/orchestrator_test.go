package injection

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/services/ivreuse"
)

var snapEAPOL = []byte{0xAA, 0xAA, 0x03, 0x00, 0x00, 0x00, 0x88, 0x8E}

type fakePayloads struct{}

func (fakePayloads) EAPOL() ([]byte, error) {
	return append(bytes.Clone(snapEAPOL), 0x01, 0x00, 0x00, 0x05, 0x01, 0x00, 0x00, 0x05, 0x01), nil
}

// fakeChannel queues whatever echo returns for every sent frame.
type fakeChannel struct {
	mu       sync.Mutex
	queue    []*domain.Frame
	sent     []domain.Frame
	distinct bool
	// heard is what the injecting radio receives when distinct is set.
	heard []*domain.Frame

	echo    func(domain.Frame) []domain.Frame
	sendErr func(domain.Frame) error
	// promote moves frames with a higher priority ahead of queued ones.
	promote bool
}

func echoUnmodified(copies int) func(domain.Frame) []domain.Frame {
	return func(f domain.Frame) []domain.Frame {
		out := make([]domain.Frame, copies)
		for i := range out {
			out[i] = f.Clone()
		}
		return out
	}
}

func stripQoS(f domain.Frame) []domain.Frame {
	f = f.Clone()
	f.QoS = nil
	f.Subtype = domain.SubtypeData
	return []domain.Frame{f}
}

func (c *fakeChannel) Send(f domain.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		if err := c.sendErr(f); err != nil {
			return err
		}
	}
	c.sent = append(c.sent, f)
	if c.echo == nil {
		return nil
	}
	for _, e := range c.echo(f) {
		if bytes.HasPrefix(e.Body, snapEAPOL) {
			e.EtherType = domain.EtherTypeEAPOL
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now()
		}
		c.enqueue(&e)
	}
	return nil
}

func (c *fakeChannel) enqueue(f *domain.Frame) {
	if c.promote {
		for i, q := range c.queue {
			if f.Priority() > q.Priority() {
				c.queue = append(c.queue[:i], append([]*domain.Frame{f}, c.queue[i:]...)...)
				return
			}
		}
	}
	c.queue = append(c.queue, f)
}

func (c *fakeChannel) Recv(timeout time.Duration, _ bool) (*domain.Frame, error) {
	c.mu.Lock()
	if len(c.queue) > 0 {
		f := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()
	time.Sleep(min(timeout, time.Millisecond))
	return nil, nil
}

func (c *fakeChannel) RecvInject(timeout time.Duration) (*domain.Frame, error) {
	if !c.distinct {
		return c.Recv(timeout, false)
	}
	c.mu.Lock()
	if len(c.heard) > 0 {
		f := c.heard[0]
		c.heard = c.heard[1:]
		c.mu.Unlock()
		return f, nil
	}
	c.mu.Unlock()
	time.Sleep(min(timeout, time.Millisecond))
	return nil, nil
}

func (c *fakeChannel) DistinctCapture() bool      { return c.distinct }
func (c *fakeChannel) Stats() domain.ChannelStats { return domain.ChannelStats{} }
func (c *fakeChannel) Close() error               { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CaptureTimeout = 40 * time.Millisecond
	cfg.OrderTimeout = 40 * time.Millisecond
	cfg.ScanTimeout = 20 * time.Millisecond
	return cfg
}

func newTestOrchestrator(ch *fakeChannel, opts ...Option) *Orchestrator {
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return New(ch, fakePayloads{}, testConfig(), opts...)
}

var testTarget = Target{
	Own:  domain.MustMAC("02:00:00:00:00:01"),
	Peer: domain.MustMAC("02:00:00:00:00:02"),
}

func TestRandomLabel(t *testing.T) {
	a, b := RandomLabel(), RandomLabel()
	assert.Len(t, a, 12)
	assert.True(t, bytes.HasPrefix(a, LabelMarker))
	assert.NotEqual(t, a, b)
}

func TestFieldIntegrityProbe(t *testing.T) {
	t.Run("UnmodifiedEcho", func(t *testing.T) {
		ch := &fakeChannel{echo: echoUnmodified(1)}
		o := newTestOrchestrator(ch)

		for _, policy := range []domain.AddressPolicy{domain.AddressSpoofed, domain.AddressReal} {
			v := o.FieldIntegrityProbe(context.Background(), testTarget, policy)
			assert.Equal(t, domain.VerdictPass, v.Verdict, v.Rationale)
			assert.Empty(t, v.FailedChecks())
			require.Len(t, v.Checks, 4)
			assert.Equal(t, 4, v.Captured)
		}
	})

	t.Run("QoSStripped", func(t *testing.T) {
		ch := &fakeChannel{echo: stripQoS}
		o := newTestOrchestrator(ch)

		v := o.FieldIntegrityProbe(context.Background(), testTarget, domain.AddressSpoofed)
		assert.Equal(t, domain.VerdictFail, v.Verdict)
		assert.Equal(t, []string{"priority"}, v.FailedChecks())
		assert.Contains(t, v.Rationale, "priority")
	})

	t.Run("SequenceOverwritten", func(t *testing.T) {
		ch := &fakeChannel{echo: func(f domain.Frame) []domain.Frame {
			f = f.Clone()
			f.SetSequence(1234, 0)
			return []domain.Frame{f}
		}}
		o := newTestOrchestrator(ch)

		v := o.FieldIntegrityProbe(context.Background(), testTarget, domain.AddressReal)
		assert.Equal(t, domain.VerdictFail, v.Verdict)
		assert.ElementsMatch(t, []string{"sequence-number", "fragment-number"}, v.FailedChecks())
	})

	t.Run("NothingCaptured", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{})

		v := o.FieldIntegrityProbe(context.Background(), testTarget, domain.AddressReal)
		assert.Equal(t, domain.VerdictFail, v.Verdict)
		assert.Len(t, v.FailedChecks(), 4)
		assert.Contains(t, v.Rationale, domain.ErrNoCapture.Error())
	})

	t.Run("Addresses", func(t *testing.T) {
		ch := &fakeChannel{echo: echoUnmodified(1)}
		o := newTestOrchestrator(ch)

		o.FieldIntegrityProbe(context.Background(), testTarget, domain.AddressSpoofed)
		o.FieldIntegrityProbe(context.Background(), testTarget, domain.AddressReal)
		require.Len(t, ch.sent, 8)

		cfg := testConfig()
		assert.Equal(t, cfg.SpoofedReceiver, ch.sent[0].Addr1)
		assert.Equal(t, cfg.SpoofedSender, ch.sent[0].Addr2)
		assert.Equal(t, testTarget.Peer, ch.sent[4].Addr1)
		assert.Equal(t, testTarget.Own, ch.sent[4].Addr2)
		assert.Equal(t, uint16(fieldsSeq<<4|1), ch.sent[2].SequenceControl)
		assert.Equal(t, uint8(2), ch.sent[3].Priority())
	})
}

func TestFragmentationProbe(t *testing.T) {
	ch := &fakeChannel{echo: echoUnmodified(1)}
	o := newTestOrchestrator(ch)

	v := o.FragmentationProbe(context.Background(), testTarget)
	assert.Equal(t, domain.VerdictPass, v.Verdict)

	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	assert.True(t, sent.Flags.Has(domain.FlagMoreFragments))
	assert.True(t, sent.Flags.Has(domain.FlagProtected))
	assert.Equal(t, uint8(2), sent.Priority())
	assert.Equal(t, uint16(probeSeq), sent.SequenceNumber())
	assert.Zero(t, sent.FragmentNumber())
	assert.True(t, sent.HasLabel(sent.Label))

	dropped := newTestOrchestrator(&fakeChannel{})
	v = dropped.FragmentationProbe(context.Background(), testTarget)
	assert.Equal(t, domain.VerdictFail, v.Verdict)
}

func TestOrderingProbe(t *testing.T) {
	t.Run("Preserved", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{echo: echoUnmodified(1)})
		v := o.OrderingProbe(context.Background(), testTarget, domain.AddressSpoofed)
		assert.Equal(t, domain.VerdictPass, v.Verdict, v.Rationale)
		assert.Equal(t, 4, v.Captured)
	})

	t.Run("SequenceControl", func(t *testing.T) {
		ch := &fakeChannel{echo: echoUnmodified(1)}
		o := newTestOrchestrator(ch)
		o.OrderingProbe(context.Background(), testTarget, domain.AddressReal)

		require.Len(t, ch.sent, len(orderPriorities))
		for _, f := range ch.sent {
			assert.Equal(t, uint16(33), f.SequenceControl)
			assert.Equal(t, uint16(2), f.SequenceNumber())
			assert.Equal(t, uint8(1), f.FragmentNumber())
		}
	})

	t.Run("PriorityPromoted", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{echo: echoUnmodified(1), promote: true})
		v := o.OrderingProbe(context.Background(), testTarget, domain.AddressReal)
		assert.Equal(t, domain.VerdictFail, v.Verdict)
		assert.Contains(t, v.Rationale, "[6 2 2 2]")
	})
}

func TestHeader_NoPeer(t *testing.T) {
	o := newTestOrchestrator(&fakeChannel{})
	own := Target{Own: testTarget.Own}

	f := o.header(own, domain.AddressReal)
	assert.Equal(t, "00:00:00:00:00:00", f.Addr1.String())
	assert.Equal(t, f.Addr1, f.Addr3)
	assert.Equal(t, testTarget.Own, f.Addr2)

	f = o.header(testTarget, domain.AddressReal)
	assert.Equal(t, testTarget.Peer, f.Addr1)

	spoofed := o.header(own, domain.AddressSpoofed)
	assert.Equal(t, testConfig().SpoofedReceiver, spoofed.Addr1)
}

func TestEvaluateOrdering(t *testing.T) {
	tests := []struct {
		name     string
		captured []uint8
		want     domain.Verdict
	}{
		{"InOrder", []uint8{2, 2, 2, 6}, domain.VerdictPass},
		{"Reordered", []uint8{2, 2, 6, 2}, domain.VerdictFail},
		{"ReorderedPartial", []uint8{6, 2}, domain.VerdictFail},
		{"MissingHigh", []uint8{2, 2, 2}, domain.VerdictInconclusive},
		{"MissingLow", []uint8{2, 6}, domain.VerdictInconclusive},
		{"Nothing", nil, domain.VerdictFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := EvaluateOrdering("spoofed", orderPriorities, tt.captured)
			assert.Equal(t, tt.want, v.Verdict, v.Rationale)
			assert.NotEmpty(t, v.Rationale)
		})
	}
}

func TestAckProbe(t *testing.T) {
	t.Run("AliasedCapture", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{echo: echoUnmodified(1)})
		verdicts, ap := o.AckProbe(context.Background(), testTarget)
		assert.Nil(t, ap)
		require.Len(t, verdicts, 3)
		for _, v := range verdicts {
			assert.Equal(t, domain.VerdictInconclusive, v.Verdict)
		}
	})

	t.Run("SingleTransmission", func(t *testing.T) {
		ch := &fakeChannel{distinct: true, echo: echoUnmodified(1)}
		o := newTestOrchestrator(ch)
		verdicts, _ := o.AckProbe(context.Background(), testTarget)

		got := make(map[string]domain.Verdict)
		for _, v := range verdicts {
			got[v.Variant] = v.Verdict
		}
		assert.Equal(t, map[string]domain.Verdict{
			AckUnassigned:    domain.VerdictSuspicious,
			AckSpoofedSender: domain.VerdictPass,
			AckRealSender:    domain.VerdictPass,
		}, got)

		require.Len(t, ch.sent, 3)
		assert.Equal(t, testConfig().UnassignedAddr, ch.sent[0].Addr1)
		assert.Equal(t, testTarget.Peer, ch.sent[1].Addr1, "falls back to the peer")
		assert.True(t, ch.sent[2].Flags.Has(domain.FlagToDS))
		assert.Equal(t, testTarget.Own, ch.sent[2].Addr2)
	})

	t.Run("Retransmissions", func(t *testing.T) {
		ch := &fakeChannel{distinct: true, echo: echoUnmodified(4)}
		o := newTestOrchestrator(ch)
		verdicts, _ := o.AckProbe(context.Background(), testTarget)
		require.Len(t, verdicts, 3)
		assert.Equal(t, domain.VerdictPass, verdicts[0].Verdict)
		assert.Equal(t, domain.VerdictPass, verdicts[1].Verdict)
		assert.Equal(t, domain.VerdictSuspicious, verdicts[2].Verdict)
		assert.Equal(t, 4, verdicts[2].Captured)
	})

	t.Run("NoCapture", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{distinct: true})
		verdicts, _ := o.AckProbe(context.Background(), testTarget)
		for _, v := range verdicts {
			assert.Equal(t, domain.VerdictFail, v.Verdict)
		}
	})

	t.Run("NoDestination", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{distinct: true})
		verdicts, _ := o.AckProbe(context.Background(), Target{Own: testTarget.Own})
		for _, v := range verdicts {
			assert.Equal(t, domain.VerdictInconclusive, v.Verdict)
		}
	})
}

func beacon(bssid, ssid string, signal int8) *domain.Frame {
	return &domain.Frame{
		Kind:      domain.KindManagement,
		Type:      domain.TypeManagement,
		Subtype:   domain.SubtypeBeacon,
		Addr2:     domain.MustMAC(bssid),
		Elements:  []domain.Element{{ID: 0, Info: []byte(ssid)}, {ID: 3, Info: []byte{6}}},
		SignalDBM: &signal,
	}
}

func TestFindNearbyAP(t *testing.T) {
	t.Run("InjectingRadioOnly", func(t *testing.T) {
		ch := &fakeChannel{distinct: true}
		ch.heard = []*domain.Frame{
			beacon("02:aa:00:00:00:01", "weak", -80),
			beacon("02:aa:00:00:00:02", "strong", -40),
			{Type: domain.TypeManagement, Subtype: domain.SubtypeBeacon, Addr2: domain.MustMAC("02:aa:00:00:00:03")},
		}
		ch.queue = []*domain.Frame{beacon("02:aa:00:00:00:04", "capture-side", -10)}
		o := newTestOrchestrator(ch)

		ap, err := o.FindNearbyAP(context.Background())
		require.NoError(t, err)
		require.NotNil(t, ap)
		assert.Equal(t, "02:aa:00:00:00:02", ap.BSSID)
		assert.Equal(t, "strong", ap.SSID)
		assert.Equal(t, int8(-40), ap.SignalDBM)
		assert.Equal(t, 6, ap.Channel)
		assert.Len(t, ch.queue, 1, "capture interface is not read")
	})

	t.Run("CaptureSideBeaconsIgnored", func(t *testing.T) {
		ch := &fakeChannel{distinct: true}
		ch.queue = []*domain.Frame{beacon("02:aa:00:00:00:04", "capture-side", -10)}
		o := newTestOrchestrator(ch)

		ap, err := o.FindNearbyAP(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, ap)
	})

	t.Run("HiddenSSID", func(t *testing.T) {
		hidden := beacon("02:aa:00:00:00:05", "\x00\x00\x00", -50)
		hidden.Elements = hidden.Elements[:1]
		o := newTestOrchestrator(&fakeChannel{queue: []*domain.Frame{hidden}})

		ap, err := o.FindNearbyAP(context.Background())
		require.NoError(t, err)
		require.NotNil(t, ap)
		assert.Equal(t, "<HIDDEN>", ap.SSID)
		assert.Zero(t, ap.Channel)
	})

	t.Run("Nothing", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{})
		ap, err := o.FindNearbyAP(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, ap)
	})
}

func TestAckProbe_UsesDiscoveredAP(t *testing.T) {
	ch := &fakeChannel{distinct: true, echo: echoUnmodified(1)}
	ch.heard = []*domain.Frame{beacon("02:aa:00:00:00:09", "lab", -30)}
	ch.queue = []*domain.Frame{beacon("02:aa:00:00:00:0a", "far", -20)}
	o := newTestOrchestrator(ch)

	_, ap := o.AckProbe(context.Background(), Target{Own: testTarget.Own})
	require.NotNil(t, ap)
	assert.Equal(t, "lab", ap.SSID)
	require.Len(t, ch.sent, 3)
	assert.Equal(t, "02:aa:00:00:00:09", ch.sent[1].Addr1.String())
}

func TestRun(t *testing.T) {
	ignore := cmpopts.IgnoreFields(domain.TestVerdict{}, "Rationale", "Checks", "Duration")

	t.Run("UnmodifiedEcho", func(t *testing.T) {
		o := newTestOrchestrator(&fakeChannel{echo: echoUnmodified(1)})
		res, err := o.Run(context.Background(), testTarget)
		require.NoError(t, err)

		want := []domain.TestVerdict{
			{Probe: domain.ProbeFragmentation, Verdict: domain.VerdictPass, Injected: 1, Captured: 1},
			{Probe: domain.ProbeFieldIntegrity, Variant: "spoofed", Verdict: domain.VerdictPass, Injected: 4, Captured: 4},
			{Probe: domain.ProbeFieldIntegrity, Variant: "real", Verdict: domain.VerdictPass, Injected: 4, Captured: 4},
			{Probe: domain.ProbeOrdering, Variant: "spoofed", Verdict: domain.VerdictPass, Injected: 4, Captured: 4},
			{Probe: domain.ProbeOrdering, Variant: "real", Verdict: domain.VerdictPass, Injected: 4, Captured: 4},
			{Probe: domain.ProbeAck, Variant: AckUnassigned, Verdict: domain.VerdictInconclusive},
			{Probe: domain.ProbeAck, Variant: AckSpoofedSender, Verdict: domain.VerdictInconclusive},
			{Probe: domain.ProbeAck, Variant: AckRealSender, Verdict: domain.VerdictInconclusive},
		}
		if diff := cmp.Diff(want, res.Verdicts, ignore); diff != "" {
			t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("TransportErrorDoesNotStopBattery", func(t *testing.T) {
		ch := &fakeChannel{
			echo: echoUnmodified(1),
			sendErr: func(f domain.Frame) error {
				if f.Flags.Has(domain.FlagMoreFragments) {
					return errors.New("sendto: no buffer space available")
				}
				return nil
			},
		}
		o := newTestOrchestrator(ch)
		res, err := o.Run(context.Background(), testTarget)
		require.NoError(t, err)
		require.Len(t, res.Verdicts, 8)

		assert.Equal(t, domain.VerdictFail, res.Verdicts[0].Verdict)
		assert.Contains(t, res.Verdicts[0].Rationale, domain.ErrTransport.Error())
		assert.Equal(t, domain.VerdictPass, res.Verdicts[1].Verdict)
		assert.Equal(t, domain.VerdictPass, res.Verdicts[2].Verdict)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := newTestOrchestrator(&fakeChannel{echo: echoUnmodified(1)})
		res, err := o.Run(ctx, testTarget)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, res.Verdicts)
	})
}

func encrypted(iv uint64, seq uint16, at time.Time) *domain.Frame {
	hdr := make([]byte, 8)
	hdr[0] = byte(iv)
	hdr[1] = byte(iv >> 8)
	hdr[3] = 0x20
	binary.BigEndian.PutUint32(hdr[4:], uint32(iv>>16))
	f := &domain.Frame{
		Kind:      domain.KindDataProtected,
		Type:      domain.TypeData,
		Flags:     domain.FlagProtected,
		Addr1:     domain.MustMAC("02:bb:00:00:00:01"),
		Addr2:     domain.MustMAC("02:bb:00:00:00:02"),
		Encrypted: &domain.EncryptedPayload{Header: hdr, Data: []byte{0xde, 0xad}},
		Timestamp: at,
	}
	f.SetSequence(seq, 0)
	return f
}

type recordingPublisher struct {
	verdicts []domain.TestVerdict
	reuses   []domain.IVReuseEvent
}

func (p *recordingPublisher) PublishVerdict(v domain.TestVerdict) {
	p.verdicts = append(p.verdicts, v)
}
func (p *recordingPublisher) PublishIVReuse(ev domain.IVReuseEvent) {
	p.reuses = append(p.reuses, ev)
}

func TestRun_ObservesIVReuse(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ch := &fakeChannel{echo: echoUnmodified(1)}
	ch.queue = []*domain.Frame{
		encrypted(77, 10, at),
		encrypted(77, 10, at.Add(500*time.Millisecond)),
		encrypted(77, 11, at.Add(3*time.Second)),
	}
	pub := &recordingPublisher{}
	o := newTestOrchestrator(ch, WithIVEngine(ivreuse.NewEngine()), WithPublisher(pub))

	res, err := o.Run(context.Background(), testTarget)
	require.NoError(t, err)
	require.Len(t, res.IVReuses, 1)

	ev := res.IVReuses[0]
	assert.Equal(t, uint64(77), ev.IV)
	assert.Equal(t, uint16(10), ev.PreviousSeq)
	assert.Equal(t, uint16(11), ev.Seq)
	assert.Equal(t, "02:bb:00:00:00:02", ev.Transmitter)

	assert.Len(t, pub.reuses, 1)
	assert.Len(t, pub.verdicts, len(res.Verdicts))
}

func TestCheckIVReuse(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := ivreuse.NewEngine()

	steps := []struct {
		frame  *domain.Frame
		reused bool
	}{
		{encrypted(5, 10, at), false},
		{encrypted(8, 11, at.Add(10*time.Millisecond)), false},
		{encrypted(5, 10, at.Add(20*time.Millisecond)), false},
		{encrypted(6, 12, at.Add(30*time.Millisecond)), false},
		{encrypted(5, 13, at.Add(2*time.Second)), true},
	}
	for i, step := range steps {
		ev, ok := CheckIVReuse(e, step.frame)
		assert.Equal(t, step.reused, ok, "step %d", i)
		if ok {
			assert.Equal(t, uint64(5), ev.IV)
			assert.Equal(t, uint16(10), ev.PreviousSeq)
			assert.Equal(t, uint16(13), ev.Seq)
			assert.Equal(t, at.Add(20*time.Millisecond), ev.FirstSeen, "retransmission refreshed the record")
		}
	}
	assert.Equal(t, 3, e.Len())

	_, ok := CheckIVReuse(e, &domain.Frame{Kind: domain.KindDataPlaintext, Body: []byte{1}})
	assert.False(t, ok)
}
