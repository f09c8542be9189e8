package main

import (
	"errors"

	"github.com/spf13/cobra"
)

func (c *cli) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Report protected frames that reuse an IV",
		Long: `Listen on the capture interface (or the inject interface) and log every
protected frame whose IV was already used by the same transmitter.
Detections are stored and can be listed with "wprobe reports iv-reuses".`,
		Example: `  wprobe watch -c wlan1 --channel 11`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			iface := a.WatchInterface()
			if iface == "" {
				return errors.New("no interface configured (use --capture or --inject)")
			}
			if c.cfg.SetupMonitor {
				if err := a.Configurator.EnsureMonitorMode(iface); err != nil {
					return err
				}
			}
			if c.cfg.Channel > 0 {
				if err := a.Configurator.SetChannel(iface, c.cfg.Channel); err != nil {
					return err
				}
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()
			return a.Watch(ctx, iface)
		},
	}
}
