package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcalzada-xor/wprobe/internal/adapters/web/middleware"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Full paths on the root router: a subrouter answers a method mismatch
	// with 404 instead of 405.
	r.HandleFunc("/api/reports", s.ReportHandler.HandleList).Methods(http.MethodGet)
	r.HandleFunc("/api/reports/{id}", s.ReportHandler.HandleGet).Methods(http.MethodGet)
	r.HandleFunc("/api/reports/{id}/pdf", s.ReportHandler.HandleExportPDF).Methods(http.MethodGet)
	r.HandleFunc("/api/iv-reuses", s.ReportHandler.HandleListIVReuses).Methods(http.MethodGet)

	if s.TestHandler != nil {
		// Each run holds both radios for several seconds
		limiter := middleware.NewRateLimiter(s.TestRateLimit, 1*time.Minute)
		r.Handle("/api/tests", middleware.RateLimitMiddleware(limiter)(http.HandlerFunc(s.TestHandler.HandleRun))).Methods(http.MethodPost)
	}

	if s.WSManager != nil {
		r.HandleFunc("/ws", s.WSManager.HandleWebSocket)
	}

	return r
}
