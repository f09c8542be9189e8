// Package injection runs the injection test battery against a monitor
// channel and turns what it captures back into verdicts.
package injection

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
	"github.com/lcalzada-xor/wprobe/internal/core/services/ivreuse"
)

// LabelMarker prefixes every probe label.
var LabelMarker = []byte("AAAA")

// Config holds the timeouts and the invented addresses used by the probes.
type Config struct {
	CaptureTimeout time.Duration
	OrderTimeout   time.Duration
	ScanTimeout    time.Duration

	SpoofedReceiver  net.HardwareAddr
	SpoofedSender    net.HardwareAddr
	UnassignedAddr   net.HardwareAddr
	AckSpoofedSender net.HardwareAddr
}

// DefaultConfig returns the timeouts and addresses the battery was tuned with.
func DefaultConfig() Config {
	return Config{
		CaptureTimeout:   time.Second,
		OrderTimeout:     1500 * time.Millisecond,
		ScanTimeout:      500 * time.Millisecond,
		SpoofedReceiver:  domain.MustMAC("00:11:00:00:02:01"),
		SpoofedSender:    domain.MustMAC("00:22:00:00:02:01"),
		UnassignedAddr:   domain.MustMAC("00:11:00:00:02:01"),
		AckSpoofedSender: domain.MustMAC("00:22:00:00:00:01"),
	}
}

// Target names the stations taking part in a run.
type Target struct {
	// Own is the hardware address of the injecting interface.
	Own net.HardwareAddr
	// Peer is an optional station or AP the real-address probes are sent to.
	Peer net.HardwareAddr
	// AccessPoint skips the beacon search of the ACK probe when set.
	AccessPoint net.HardwareAddr
}

// Result is everything one battery run produced.
type Result struct {
	Verdicts    []domain.TestVerdict
	AccessPoint *domain.AccessPoint
	IVReuses    []domain.IVReuseEvent
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithLabelSource replaces the random label generator.
func WithLabelSource(fn func() []byte) Option {
	return func(o *Orchestrator) { o.newLabel = fn }
}

// WithIVEngine feeds every captured protected frame to the engine.
func WithIVEngine(e *ivreuse.Engine) Option {
	return func(o *Orchestrator) { o.ivs = e }
}

// WithPublisher forwards verdicts and IV reuse events as they are produced.
func WithPublisher(p ports.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// Orchestrator drives a FrameChannel through the probe battery.
// It is not safe for concurrent use.
type Orchestrator struct {
	ch        ports.FrameChannel
	payloads  ports.PayloadBuilder
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	newLabel  func() []byte
	ivs       *ivreuse.Engine
	publisher ports.EventPublisher

	// label of the probe in flight, so our own frames never reach the IV engine
	activeLabel []byte
	reuses      []domain.IVReuseEvent
}

// New creates an Orchestrator. The channel must already be capturing.
func New(ch ports.FrameChannel, payloads ports.PayloadBuilder, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ch:       ch,
		payloads: payloads,
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   otel.Tracer("wprobe/injection"),
		newLabel: RandomLabel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RandomLabel returns LabelMarker followed by two random big-endian uint32s.
func RandomLabel() []byte {
	label := make([]byte, len(LabelMarker)+8)
	copy(label, LabelMarker)
	binary.BigEndian.PutUint32(label[4:], rand.Uint32())
	binary.BigEndian.PutUint32(label[8:], rand.Uint32())
	return label
}

// Run executes every probe in order. A failing probe never prevents the
// following ones from running; only context cancellation stops the battery.
func (o *Orchestrator) Run(ctx context.Context, target Target) (Result, error) {
	o.reuses = nil
	var res Result
	policies := []domain.AddressPolicy{domain.AddressSpoofed, domain.AddressReal}

	probes := []func(){
		func() { res.Verdicts = append(res.Verdicts, o.FragmentationProbe(ctx, target)) },
	}
	for _, policy := range policies {
		probes = append(probes, func() {
			res.Verdicts = append(res.Verdicts, o.FieldIntegrityProbe(ctx, target, policy))
		})
	}
	for _, policy := range policies {
		probes = append(probes, func() {
			res.Verdicts = append(res.Verdicts, o.OrderingProbe(ctx, target, policy))
		})
	}
	probes = append(probes, func() {
		verdicts, ap := o.AckProbe(ctx, target)
		res.Verdicts = append(res.Verdicts, verdicts...)
		res.AccessPoint = ap
	})

	for _, probe := range probes {
		if ctx.Err() != nil {
			break
		}
		probe()
	}

	res.IVReuses = o.reuses
	return res, ctx.Err()
}

// traced runs one probe inside a span and logs its verdict.
func (o *Orchestrator) traced(ctx context.Context, probe, variant string, fn func(ctx context.Context) domain.TestVerdict) domain.TestVerdict {
	ctx, span := o.tracer.Start(ctx, "probe."+probe)
	defer span.End()
	span.SetAttributes(attribute.String("probe.variant", variant))

	start := time.Now()
	v := fn(ctx)
	v.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("probe.verdict", string(v.Verdict)),
		attribute.Int("probe.captured", v.Captured),
	)

	level := slog.LevelInfo
	if v.Verdict == domain.VerdictFail {
		level = slog.LevelWarn
	}
	o.logger.Log(ctx, level, "probe finished",
		"probe", v.Name(),
		"verdict", v.Verdict,
		"captured", v.Captured,
		"rationale", v.Rationale,
	)
	if o.publisher != nil {
		o.publisher.PublishVerdict(v)
	}
	return v
}

// send appends label to a copy of frame and transmits it.
func (o *Orchestrator) send(frame domain.Frame, label []byte) error {
	f := frame.Clone()
	f.Body = append(f.Body, label...)
	f.Label = label
	if err := o.ch.Send(f); err != nil {
		if errors.Is(err, domain.ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	return nil
}

// injectAndCapture sends one labeled frame and collects the captures that
// carry the label. count > 0 stops after that many captures.
func (o *Orchestrator) injectAndCapture(ctx context.Context, frame domain.Frame, count int) ([]*domain.Frame, error) {
	label := o.newLabel()
	o.activeLabel = label
	defer func() { o.activeLabel = nil }()

	if err := o.send(frame, label); err != nil {
		return nil, err
	}
	return o.capture(ctx, label, count, o.cfg.CaptureTimeout, nil)
}

// capture reads frames until timeout, keeping those that carry label and
// pass accept. Every frame read is offered to the IV engine first.
func (o *Orchestrator) capture(ctx context.Context, label []byte, count int, timeout time.Duration, accept func(*domain.Frame) bool) ([]*domain.Frame, error) {
	return o.collect(ctx, count, timeout, func(f *domain.Frame) bool {
		return f.HasLabel(label) && (accept == nil || accept(f))
	})
}

// recvFunc reads one frame from a channel handle, nil on timeout.
type recvFunc func(timeout time.Duration) (*domain.Frame, error)

// collect reads captures until timeout and returns those keep selects.
// count > 0 returns early once that many were kept.
func (o *Orchestrator) collect(ctx context.Context, count int, timeout time.Duration, keep func(*domain.Frame) bool) ([]*domain.Frame, error) {
	reflected := !o.ch.DistinctCapture()
	recv := func(d time.Duration) (*domain.Frame, error) { return o.ch.Recv(d, reflected) }
	return o.collectFrom(ctx, recv, count, timeout, keep)
}

func (o *Orchestrator) collectFrom(ctx context.Context, recv recvFunc, count int, timeout time.Duration, keep func(*domain.Frame) bool) ([]*domain.Frame, error) {
	var kept []*domain.Frame
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return kept, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return kept, nil
		}

		f, err := recv(remaining)
		if err != nil {
			if errors.Is(err, domain.ErrTransport) {
				return kept, err
			}
			return kept, fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		if f == nil {
			continue
		}
		o.observe(f)

		if !keep(f) {
			continue
		}
		kept = append(kept, f)
		if count > 0 && len(kept) >= count {
			return kept, nil
		}
	}
}

// observe feeds protected background traffic to the IV engine.
func (o *Orchestrator) observe(f *domain.Frame) {
	if o.ivs == nil || !f.IsEncrypted() {
		return
	}
	if o.activeLabel != nil && f.HasLabel(o.activeLabel) {
		return
	}
	if ev, ok := CheckIVReuse(o.ivs, f); ok {
		o.logger.Warn("IV reuse detected",
			"iv", ev.IV,
			"transmitter", ev.Transmitter,
			"seq", ev.Seq,
			"previous_seq", ev.PreviousSeq,
		)
		o.reuses = append(o.reuses, ev)
		if o.publisher != nil {
			o.publisher.PublishIVReuse(ev)
		}
	}
}

// CheckIVReuse classifies a protected frame against the engine and then
// tracks it. It reports a reuse event when the frame reuses an earlier IV.
func CheckIVReuse(e *ivreuse.Engine, f *domain.Frame) (domain.IVReuseEvent, bool) {
	isNew, err := e.IsNew(f)
	if err != nil {
		return domain.IVReuseEvent{}, false
	}
	if isNew {
		_ = e.Track(f)
		return domain.IVReuseEvent{}, false
	}

	rec, known, err := e.Lookup(f)
	if err != nil {
		return domain.IVReuseEvent{}, false
	}
	reused, err := e.IsReused(f)
	if err != nil {
		return domain.IVReuseEvent{}, false
	}
	_ = e.Track(f)
	if !known || !reused {
		return domain.IVReuseEvent{}, false
	}
	return domain.IVReuseEvent{
		IV:          rec.IV,
		Transmitter: macString(f.Addr2),
		Receiver:    macString(f.Addr1),
		PreviousSeq: rec.Seq,
		Seq:         f.SequenceNumber(),
		FirstSeen:   rec.Time,
		SeenAt:      f.Timestamp,
	}, true
}

func macString(hw net.HardwareAddr) string {
	if hw == nil {
		return ""
	}
	return hw.String()
}
