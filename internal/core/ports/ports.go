package ports

import (
	"context"
	"net"
	"time"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

// FrameChannel sends and receives normalized 802.11 frames on monitor-mode
// interfaces.
type FrameChannel interface {
	// Send transmits one frame. Transport failures wrap domain.ErrTransport.
	Send(frame domain.Frame) error
	// Recv waits up to timeout for one frame. It returns (nil, nil) when the
	// timeout expires or the capture was discarded. Reflected copies of our
	// own transmissions are only returned when reflected is true.
	Recv(timeout time.Duration, reflected bool) (*domain.Frame, error)
	// RecvInject is Recv on the injecting interface: what that radio hears
	// over the air, never reflected copies. It equals Recv(timeout, false)
	// when both handles are the same.
	RecvInject(timeout time.Duration) (*domain.Frame, error)
	// DistinctCapture reports whether captures come from a second interface.
	DistinctCapture() bool
	Stats() domain.ChannelStats
	// Close releases both handles. It is idempotent.
	Close() error
}

// InterfaceConfigurator reads and changes wireless interface settings.
// Only the application layer calls it; the core never reconfigures hardware.
type InterfaceConfigurator interface {
	CurrentChannel(iface string) (int, error)
	SetChannel(iface string, channel int) error
	EnsureMonitorMode(iface string) error
	HardwareAddress(iface string) (net.HardwareAddr, error)
	SetHardwareAddress(iface string, mac net.HardwareAddr) error
	DriverName(iface string) (string, bool)
}

// PayloadBuilder produces the frame bodies the probes inject.
type PayloadBuilder interface {
	// EAPOL returns an LLC/SNAP encapsulated EAPOL packet.
	EAPOL() ([]byte, error)
}

// EventPublisher pushes live events to observers.
type EventPublisher interface {
	PublishVerdict(v domain.TestVerdict)
	PublishIVReuse(e domain.IVReuseEvent)
}

// ReportExporter renders a report into a document.
type ReportExporter interface {
	ExportReport(report *domain.Report) ([]byte, error)
}

// ReportStore persists reports and IV reuse events.
type ReportStore interface {
	SaveReport(ctx context.Context, report *domain.Report) error
	GetReport(ctx context.Context, id string) (*domain.Report, error)
	ListReports(ctx context.Context, limit int) ([]domain.Report, error)
	SaveIVReuse(ctx context.Context, event domain.IVReuseEvent) error
	ListIVReuses(ctx context.Context, since time.Time) ([]domain.IVReuseEvent, error)
	Close() error
}

// InjectionTester runs the full probe battery on a pair of interfaces.
// An empty captureIface captures on injectIface; peer may be empty.
type InjectionTester interface {
	RunInjectionTest(ctx context.Context, injectIface, captureIface, peer string) (*domain.Report, error)
}
