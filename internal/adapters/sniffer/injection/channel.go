package injection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/codec"
	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/telemetry"
)

// Recorder receives a copy of every radiotap packet crossing a channel.
type Recorder interface {
	WritePacket(ts time.Time, data []byte) error
}

// MonitorChannel implements ports.FrameChannel on top of one or two
// Handles. With a single handle, captures come from the injecting
// interface itself.
type MonitorChannel struct {
	inject  Handle
	capture Handle

	detectInjected bool
	flushFragments bool
	recorder       Recorder
	logger         *slog.Logger

	mu     sync.Mutex
	stats  domain.ChannelStats
	closed bool

	closeOnce sync.Once
	closeErr  error
}

// ChannelOption configures a MonitorChannel.
type ChannelOption func(*MonitorChannel)

// WithInjectedMarker sets the More-Data flag on every sent frame and drops
// captures that carry it.
func WithInjectedMarker() ChannelOption {
	return func(c *MonitorChannel) { c.detectInjected = true }
}

// WithFragmentFlush sends an empty data frame after every frame with the
// More-Fragments flag. iwlwifi holds fragments back until the next frame.
func WithFragmentFlush() ChannelOption {
	return func(c *MonitorChannel) { c.flushFragments = true }
}

// WithRecorder dumps sent and received packets.
func WithRecorder(r Recorder) ChannelOption {
	return func(c *MonitorChannel) { c.recorder = r }
}

func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *MonitorChannel) { c.logger = l }
}

// NewMonitorChannel wraps the handles. A nil capture handle aliases inject.
func NewMonitorChannel(inject, capture Handle, opts ...ChannelOption) *MonitorChannel {
	if capture == nil {
		capture = inject
	}
	c := &MonitorChannel{inject: inject, capture: capture, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send encodes the frame, wraps it in a radiotap header and transmits it.
func (c *MonitorChannel) Send(frame domain.Frame) error {
	if c.isClosed() {
		return domain.ErrChannelClosed
	}

	f := frame.Clone()
	if c.detectInjected {
		f.Flags |= domain.FlagMoreData
	}
	if err := c.transmit(&f); err != nil {
		return err
	}

	if c.flushFragments && f.Flags.Has(domain.FlagMoreFragments) {
		dummy := DummyFrame()
		if c.detectInjected {
			dummy.Flags |= domain.FlagMoreData
		}
		c.logger.Debug("Sending dummy frame after fragment", "interface", c.inject.Name())
		return c.transmit(&dummy)
	}
	return nil
}

func (c *MonitorChannel) transmit(f *domain.Frame) error {
	raw, err := codec.EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	pkt, err := codec.Wrap(raw)
	if err != nil {
		return fmt.Errorf("wrap frame: %w", err)
	}

	name := c.inject.Name()
	if err := c.inject.Send(pkt); err != nil {
		c.mu.Lock()
		c.stats.ErrorCount++
		c.mu.Unlock()
		telemetry.InjectionErrors.WithLabelValues(name).Inc()
		return fmt.Errorf("%w: send on %s: %w", domain.ErrTransport, name, err)
	}

	c.mu.Lock()
	c.stats.FramesSent++
	c.mu.Unlock()
	telemetry.FramesInjected.WithLabelValues(name, f.Kind.String()).Inc()
	c.record(time.Now(), pkt)
	return nil
}

// Recv returns the next usable frame, or nil when the timeout expires or
// the capture was discarded.
func (c *MonitorChannel) Recv(timeout time.Duration, reflected bool) (*domain.Frame, error) {
	return c.recvOn(c.capture, timeout, reflected)
}

// RecvInject reads from the injecting handle. Reflected copies of our own
// transmissions are always discarded.
func (c *MonitorChannel) RecvInject(timeout time.Duration) (*domain.Frame, error) {
	return c.recvOn(c.inject, timeout, false)
}

func (c *MonitorChannel) recvOn(h Handle, timeout time.Duration, reflected bool) (*domain.Frame, error) {
	if c.isClosed() {
		return nil, domain.ErrChannelClosed
	}

	name := h.Name()
	capt, err := h.Receive(timeout)
	if err != nil {
		c.mu.Lock()
		c.stats.ErrorCount++
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: receive on %s: %w", domain.ErrTransport, name, err)
	}
	if capt == nil {
		return nil, nil
	}
	if capt.LinkType == layers.LinkTypeIEEE80211Radio {
		c.record(capt.Timestamp, capt.Data)
	}

	f, env, err := codec.Decode(capt.Data, capt.LinkType, capt.Timestamp)
	if err != nil {
		c.discard(name, telemetry.ReasonUndecodable, func(s *domain.ChannelStats) { s.DroppedUndecodable++ })
		c.logger.Debug("Discarding undecodable capture", "interface", name, "error", err)
		return nil, nil
	}
	if c.detectInjected && f.Flags.Has(domain.FlagMoreData) {
		c.discard(name, telemetry.ReasonInjected, func(s *domain.ChannelStats) { s.DroppedInjected++ })
		return nil, nil
	}
	if !reflected && env.Reflected() {
		c.discard(name, telemetry.ReasonReflected, func(s *domain.ChannelStats) { s.DroppedReflected++ })
		return nil, nil
	}

	c.mu.Lock()
	c.stats.FramesReceived++
	c.mu.Unlock()
	telemetry.FramesCaptured.WithLabelValues(name).Inc()
	return f, nil
}

func (c *MonitorChannel) discard(iface, reason string, count func(*domain.ChannelStats)) {
	c.mu.Lock()
	count(&c.stats)
	c.mu.Unlock()
	telemetry.FramesDiscarded.WithLabelValues(iface, reason).Inc()
}

func (c *MonitorChannel) record(ts time.Time, pkt []byte) {
	if c.recorder == nil {
		return
	}
	if err := c.recorder.WritePacket(ts, pkt); err != nil {
		c.logger.Warn("Failed to record packet", "error", err)
	}
}

// DistinctCapture reports whether captures come from a second interface.
func (c *MonitorChannel) DistinctCapture() bool {
	return c.capture != c.inject && c.capture.Name() != c.inject.Name()
}

func (c *MonitorChannel) Stats() domain.ChannelStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases both handles once. An aliased handle is closed once.
func (c *MonitorChannel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.closeErr = c.inject.Close()
		if c.capture != c.inject {
			if err := c.capture.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

func (c *MonitorChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
