package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FramesInjected counts frames handed to the injecting interface
	FramesInjected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wprobe",
			Name:      "frames_injected_total",
			Help:      "Total number of frames handed to the injecting interface",
		},
		[]string{"interface", "kind"},
	)

	// InjectionErrors counts failed injection attempts
	InjectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wprobe",
			Name:      "injection_errors_total",
			Help:      "Total number of failed frame injection attempts",
		},
		[]string{"interface"},
	)

	// FramesCaptured counts frames delivered by the capture interface
	FramesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wprobe",
			Name:      "frames_captured_total",
			Help:      "Total number of frames delivered by the capture interface",
		},
		[]string{"interface"},
	)

	// FramesDiscarded counts captures the monitor channel dropped
	FramesDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wprobe",
			Name:      "frames_discarded_total",
			Help:      "Total number of captured frames discarded before decoding reached the caller",
		},
		[]string{"interface", "reason"},
	)

	// ProbeVerdicts counts probe outcomes
	ProbeVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wprobe",
			Name:      "probe_verdicts_total",
			Help:      "Total number of probe verdicts by probe and outcome",
		},
		[]string{"probe", "verdict"},
	)

	// IVReuseDetections counts protected frames that repeated an IV
	IVReuseDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wprobe",
			Name:      "iv_reuse_detections_total",
			Help:      "Total number of IV reuse events detected",
		},
		[]string{"cipher"},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// Discard reasons
const (
	ReasonInjected    = "injected"
	ReasonReflected   = "reflected"
	ReasonUndecodable = "undecodable"
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		// Register metrics, ignoring errors if already registered
		// This prevents panics when metrics are already in the registry
		prometheus.DefaultRegisterer.Register(FramesInjected)
		prometheus.DefaultRegisterer.Register(InjectionErrors)
		prometheus.DefaultRegisterer.Register(FramesCaptured)
		prometheus.DefaultRegisterer.Register(FramesDiscarded)
		prometheus.DefaultRegisterer.Register(ProbeVerdicts)
		prometheus.DefaultRegisterer.Register(IVReuseDetections)
	})
}
