package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/lcalzada-xor/wprobe/internal/adapters/reporting"
	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/driver"
	"github.com/lcalzada-xor/wprobe/internal/adapters/sniffer/injection"
	"github.com/lcalzada-xor/wprobe/internal/adapters/storage"
	"github.com/lcalzada-xor/wprobe/internal/config"
	"github.com/lcalzada-xor/wprobe/internal/core/domain"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
	"github.com/lcalzada-xor/wprobe/internal/telemetry"
)

// Opener opens a raw transport on one interface.
type Opener func(ctx context.Context, iface string) (injection.Handle, error)

// Application wires the adapters around the probe battery and the IV reuse
// monitor.
type Application struct {
	Config       *config.Config
	Store        ports.ReportStore
	Configurator ports.InterfaceConfigurator
	Exporter     ports.ReportExporter
	Publisher    ports.EventPublisher

	logger *slog.Logger
	open   Opener

	// held for the duration of an injection run
	running sync.Mutex

	closers []func() error
}

// Option configures an Application.
type Option func(*Application)

// WithOpener replaces the pcap/raw socket transports.
func WithOpener(open Opener) Option {
	return func(app *Application) { app.open = open }
}

func WithConfigurator(c ports.InterfaceConfigurator) Option {
	return func(app *Application) { app.Configurator = c }
}

// WithStore replaces the SQLite store.
func WithStore(s ports.ReportStore) Option {
	return func(app *Application) { app.Store = s }
}

// WithPublisher forwards verdicts and IV reuse events as they happen.
func WithPublisher(p ports.EventPublisher) Option {
	return func(app *Application) { app.Publisher = p }
}

// New creates a new Application instance and bootstraps its components.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		Config:   cfg,
		Exporter: reporting.NewPDFExporter(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.bootstrap(); err != nil {
		app.Close()
		return nil, fmt.Errorf("application bootstrap failed: %w", err)
	}
	return app, nil
}

// bootstrap fills in every component no option provided.
func (app *Application) bootstrap() error {
	telemetry.InitMetrics()

	if app.Store == nil {
		store, err := app.initStorage()
		if err != nil {
			return err
		}
		app.Store = store
		app.closers = append(app.closers, store.Close)
	}

	if app.Configurator == nil {
		c := driver.NewConfigurator(app.logger)
		app.Configurator = c
		app.closers = append(app.closers, c.Close)
	}

	if app.open == nil {
		app.open = app.retryingOpener(injection.Options{
			SnapLen:     app.Config.SnapLen,
			BufferSize:  app.Config.BufferSize,
			ReadTimeout: app.Config.ReadTimeout,
			PreferRaw:   app.Config.PreferRaw,
		})
	}
	return nil
}

func (app *Application) initStorage() (*storage.SQLiteAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(app.Config.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	store, err := storage.NewSQLiteAdapter(app.Config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to init report storage: %w", err)
	}
	return store, nil
}

// retryingOpener retries transient open failures (interface still coming up
// after a mode change) until Config.OpenTimeout elapses.
func (app *Application) retryingOpener(opts injection.Options) Opener {
	return func(ctx context.Context, iface string) (injection.Handle, error) {
		if !domain.IsValidInterface(iface) {
			return nil, fmt.Errorf("%w: %q", domain.ErrInvalidInterfaceName, iface)
		}

		retry := []backoff.RetryOption{
			backoff.WithBackOff(backoff.NewExponentialBackOff()),
			backoff.WithNotify(func(err error, next time.Duration) {
				app.logger.Warn("Open failed, retrying", "interface", iface, "error", err, "next", next)
			}),
		}
		if app.Config.OpenTimeout > 0 {
			retry = append(retry, backoff.WithMaxElapsedTime(app.Config.OpenTimeout))
		} else {
			retry = append(retry, backoff.WithMaxTries(1))
		}

		return backoff.Retry(ctx, func() (injection.Handle, error) {
			return injection.Open(iface, opts, app.logger)
		}, retry...)
	}
}

// Close releases the store and the nl80211 connection.
func (app *Application) Close() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		errs = append(errs, app.closers[i]())
	}
	app.closers = nil
	return errors.Join(errs...)
}
