package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

// TestRequest selects the interfaces of an injection run.
type TestRequest struct {
	InjectInterface  string `json:"inject_interface"`
	CaptureInterface string `json:"capture_interface,omitempty"`
	Peer             string `json:"peer,omitempty"`
}

// Validate checks interface names and the optional peer MAC.
func (req TestRequest) Validate() error {
	if !domain.IsValidInterface(req.InjectInterface) {
		return errors.New("invalid inject interface name")
	}
	if req.CaptureInterface != "" && !domain.IsValidInterface(req.CaptureInterface) {
		return errors.New("invalid capture interface name")
	}
	if req.Peer != "" && !domain.IsValidMAC(req.Peer) {
		return errors.New("invalid peer MAC")
	}
	return nil
}

// TestHandler starts injection runs on request.
type TestHandler struct {
	Tester ports.InjectionTester
	Logger *slog.Logger
}

// NewTestHandler creates a new TestHandler
func NewTestHandler(tester ports.InjectionTester, logger *slog.Logger) *TestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestHandler{Tester: tester, Logger: logger}
}

// HandleRun runs the probe battery and answers with the finished report.
// The request blocks for the duration of the run.
func (h *TestHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1MB
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)

	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := h.Tester.RunInjectionTest(r.Context(), req.InjectInterface, req.CaptureInterface, req.Peer)
	switch {
	case errors.Is(err, domain.ErrTestInProgress):
		http.Error(w, "Another injection test is running", http.StatusConflict)
		return
	case err != nil && report == nil:
		h.Logger.Error("Injection test failed", "inject", req.InjectInterface, "error", err)
		http.Error(w, "Injection test failed: "+err.Error(), http.StatusInternalServerError)
		return
	case err != nil:
		// Interrupted runs still carry the verdicts gathered so far.
		h.Logger.Warn("Injection test interrupted", "inject", req.InjectInterface, "error", err)
	}

	writeJSON(w, http.StatusCreated, report)
}
