package injection

import (
	"errors"
	"sync"
	"time"

	"github.com/google/gopacket/layers"

	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/codec"
)

var errMockClosed = errors.New("mock transport closed")

// MockTransport implements Handle in memory for tests.
// Sent packets are recorded, and Echo decides what comes back on the
// receiving side.
type MockTransport struct {
	mu      sync.Mutex
	name    string
	Sent    [][]byte
	Closed  bool
	SendErr error

	// Echo maps a sent packet to the captures it produces. Nil echoes nothing.
	Echo func(packet []byte) [][]byte
	// EchoTo receives the echoed captures. Nil means this transport.
	EchoTo *MockTransport

	queue chan *Capture
}

// NewMockTransport creates a new instance of MockTransport.
func NewMockTransport(name string) *MockTransport {
	return &MockTransport{
		name:  name,
		Sent:  make([][]byte, 0),
		queue: make(chan *Capture, 1024),
	}
}

// Send stores a copy of the packet and queues its echoes.
func (m *MockTransport) Send(packet []byte) error {
	m.mu.Lock()
	if m.Closed {
		m.mu.Unlock()
		return errMockClosed
	}
	if m.SendErr != nil {
		err := m.SendErr
		m.mu.Unlock()
		return err
	}

	// Copy buffer to avoid reference issues if the caller reuses the buffer
	p := make([]byte, len(packet))
	copy(p, packet)
	m.Sent = append(m.Sent, p)

	echo, dst := m.Echo, m.EchoTo
	m.mu.Unlock()

	if echo == nil {
		return nil
	}
	if dst == nil {
		dst = m
	}
	for _, c := range echo(p) {
		dst.Inject(c)
	}
	return nil
}

// Inject queues a radiotap capture as if it came off the air.
func (m *MockTransport) Inject(data []byte) {
	m.InjectAt(data, time.Now())
}

// InjectAt queues a radiotap capture with an explicit timestamp.
func (m *MockTransport) InjectAt(data []byte, ts time.Time) {
	m.queue <- &Capture{Data: data, Timestamp: ts, LinkType: layers.LinkTypeIEEE80211Radio}
}

func (m *MockTransport) Receive(timeout time.Duration) (*Capture, error) {
	m.mu.Lock()
	closed := m.Closed
	m.mu.Unlock()
	if closed {
		return nil, errMockClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c := <-m.queue:
		return c, nil
	case <-timer.C:
		return nil, nil
	}
}

func (m *MockTransport) Name() string { return m.name }

// Close marks the transport as closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// GetPackets returns a copy of the sent packets.
func (m *MockTransport) GetPackets() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	packets := make([][]byte, len(m.Sent))
	for i, p := range m.Sent {
		packets[i] = make([]byte, len(p))
		copy(packets[i], p)
	}
	return packets
}

// overTheAirHeader is a radiotap header with Flags (FCS present), Channel
// (2437 MHz) and antenna signal (-42 dBm), the way a monitor interface
// reports a frame it heard.
var overTheAirHeader = []byte{
	0x00, 0x00, 0x0F, 0x00, 0x2A, 0x00, 0x00, 0x00,
	0x10, 0x00, 0x85, 0x09, 0xA0, 0x00, 0xD6,
}

// OverTheAir is an Echo that returns the sent frame unchanged, re-wrapped as
// a capture from a second monitor interface with a trailing FCS.
func OverTheAir(packet []byte) [][]byte {
	frame, _, err := codec.Unwrap(packet, layers.LinkTypeIEEE80211Radio)
	if err != nil {
		return nil
	}
	out := make([]byte, 0, len(overTheAirHeader)+len(frame)+4)
	out = append(out, overTheAirHeader...)
	out = append(out, frame...)
	out = append(out, 0xde, 0xad, 0xbe, 0xef)
	return [][]byte{out}
}

// Reflect is an Echo that loops the sent packet back unchanged, the way the
// local stack reflects injections.
func Reflect(packet []byte) [][]byte {
	return [][]byte{packet}
}
