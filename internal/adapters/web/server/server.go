package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/wprobe/internal/adapters/web/handlers"
	"github.com/lcalzada-xor/wprobe/internal/adapters/web/websocket"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

// DefaultTestRateLimit caps injection runs started over HTTP per client and minute.
const DefaultTestRateLimit = 6

type Server struct {
	Addr          string
	WSManager     *websocket.WSManager
	ReportHandler *handlers.ReportHandler
	// TestHandler is nil when the server was started without radios.
	TestHandler   *handlers.TestHandler
	TestRateLimit int
	Logger        *slog.Logger

	srv *http.Server
}

// NewServer wires the handlers. tester may be nil, in which case the run
// endpoint is not registered.
func NewServer(addr string, store ports.ReportStore, exporter ports.ReportExporter, tester ports.InjectionTester, wsManager *websocket.WSManager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Addr:          addr,
		WSManager:     wsManager,
		ReportHandler: handlers.NewReportHandler(store, exporter, logger),
		TestRateLimit: DefaultTestRateLimit,
		Logger:        logger,
	}
	if tester != nil {
		s.TestHandler = handlers.NewTestHandler(tester, logger)
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	handler := SetupRoutes(s)

	instrumentedHandler := otelhttp.NewHandler(handler, "wprobe-server")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumentedHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Logger.Info("Web server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.Logger.Error("Web server shutdown error", "error", err)
		}
		if s.WSManager != nil {
			s.WSManager.Close()
		}
	}()

	s.Logger.Info("Web server listening", "addr", ln.Addr().String())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
