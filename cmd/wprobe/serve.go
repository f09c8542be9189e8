package main

import (
	"github.com/spf13/cobra"
)

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and watch for IV reuse",
		Long: `Serve stored reports over HTTP, accept injection runs on POST /api/tests
and stream verdicts and IV reuse detections to WebSocket clients on /ws.
When an interface is configured the IV reuse monitor runs alongside.`,
		Example: `  wprobe serve --addr 127.0.0.1:8080 -i wlan0 -c wlan1`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd)
			defer cancel()

			c.logger.Info("wprobe starting", "version", version, "addr", c.cfg.Addr)
			return a.Serve(ctx)
		},
	}
}
