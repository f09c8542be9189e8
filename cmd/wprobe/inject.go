package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"github.com/lcalzada-xor/wprobe/internal/core/domain"
)

var errProbesFailed = errors.New("one or more probes failed")

func (c *cli) injectCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Run the injection probe battery",
		Long: `Inject probe frames on --inject and capture them on --capture (or on the
same interface) to check fragmentation, header fields, sequence order and
retransmission behaviour. The report is stored and printed.`,
		Example: `  wprobe inject -i wlan0 -c wlan1 --peer 02:11:22:33:44:55
  wprobe inject -i wlan0 --channel 6 --setup-monitor --pcap run.pcap`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.RequireInjectInterface(); err != nil {
				return err
			}
			a, err := c.newApp()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			report, runErr := a.RunInjectionTest(ctx, c.cfg.InjectInterface, c.cfg.CaptureInterface, c.cfg.Peer)
			if report == nil {
				return runErr
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				newPrinter(cmd.OutOrStdout()).report(report)
			}

			if runErr != nil && !isInterrupted(runErr) {
				return runErr
			}
			if report.Summary()[domain.VerdictFail] > 0 {
				return errProbesFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
