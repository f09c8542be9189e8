package app

import (
	"context"
	"net"

	"golang.org/x/sync/errgroup"

	webserver "github.com/lcalzada-xor/wprobe/internal/adapters/web/server"
	"github.com/lcalzada-xor/wprobe/internal/adapters/web/websocket"
	"github.com/lcalzada-xor/wprobe/internal/core/ports"
)

// WatchInterface is the interface the IV reuse monitor listens on: the
// capture interface when one is configured.
func (app *Application) WatchInterface() string {
	if app.Config.CaptureInterface != "" {
		return app.Config.CaptureInterface
	}
	return app.Config.InjectInterface
}

// NewWebServer builds the HTTP API. Live events go to its WebSocket clients
// unless a publisher was already configured. Injection runs are only
// offered when an inject interface is configured.
func (app *Application) NewWebServer() *webserver.Server {
	ws := websocket.NewWSManager(app.Config.AllowedOrigins, app.logger)
	if app.Publisher == nil {
		app.Publisher = ws
	}

	var tester ports.InjectionTester
	if app.Config.InjectInterface != "" {
		tester = app
	}
	return webserver.NewServer(app.Config.Addr, app.Store, app.Exporter, tester, ws, app.logger)
}

// Serve runs the HTTP API and, when an interface is configured, the IV
// reuse monitor until ctx is cancelled or one of them fails.
func (app *Application) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.Config.Addr)
	if err != nil {
		return err
	}
	return app.serve(ctx, ln)
}

func (app *Application) serve(ctx context.Context, ln net.Listener) error {
	srv := app.NewWebServer()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})
	if iface := app.WatchInterface(); iface != "" {
		g.Go(func() error {
			return app.Watch(ctx, iface)
		})
	} else {
		app.logger.Info("No interface configured, serving stored reports only")
	}
	return g.Wait()
}
