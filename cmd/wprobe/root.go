package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lcalzada-xor/wprobe/internal/app"
	"github.com/lcalzada-xor/wprobe/internal/config"
	"github.com/lcalzada-xor/wprobe/internal/telemetry"
)

// cli carries what the subcommands share once the root command has loaded
// the configuration.
type cli struct {
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *slog.Logger

	cleanups []func()
}

func run(args []string, stdout, stderr io.Writer) error {
	c := &cli{stdout: stdout, stderr: stderr}
	defer c.close()

	root := c.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.Execute()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wprobe",
		Short: "802.11 injection and IV reuse diagnostics",
		Long: `wprobe checks whether a monitor-mode interface injects frames faithfully
(fragments, header fields, sequence order, retransmissions) and watches
protected traffic for reused IVs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(c.injectCmd())
	root.AddCommand(c.watchCmd())
	root.AddCommand(c.serveCmd())
	root.AddCommand(c.reportsCmd())
	root.AddCommand(versionCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = newLogger(c.stderr, cfg.Debug)
	slog.SetDefault(c.logger)

	if cfg.TracePath == "" {
		return nil
	}
	f, err := os.Create(cfg.TracePath)
	if err != nil {
		return fmt.Errorf("create trace file: %w", err)
	}
	shutdown, err := telemetry.InitTracer(f, version)
	if err != nil {
		f.Close()
		return fmt.Errorf("init tracer: %w", err)
	}
	c.cleanups = append(c.cleanups, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown tracer", "error", err)
		}
		f.Close()
	})
	return nil
}

// newApp builds the application; it is closed when the command returns.
func (c *cli) newApp() (*app.Application, error) {
	a, err := app.New(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.cleanups = append(c.cleanups, func() {
		if err := a.Close(); err != nil {
			c.logger.Warn("Failed to close application", "error", err)
		}
	})
	return a, nil
}

func (c *cli) close() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newLogger writes human readable logs to terminals and JSON otherwise.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		h := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Level:           charmlog.InfoLevel,
		})
		if debug {
			h.SetLevel(charmlog.DebugLevel)
		}
		return slog.New(h)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// isInterrupted reports whether err only says the run was stopped by the user.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wprobe %s\n", version)
		},
	}
}
