package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) reportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect stored reports",
	}
	cmd.AddCommand(c.reportsListCmd())
	cmd.AddCommand(c.reportsShowCmd())
	cmd.AddCommand(c.reportsExportCmd())
	cmd.AddCommand(c.reportsIVReusesCmd())
	return cmd
}

func (c *cli) reportsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			reports, err := a.Store.ListReports(cmd.Context(), limit)
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).reportList(reports)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of reports to list")
	return cmd
}

func (c *cli) reportsShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Print one report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			report, err := a.Store.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			newPrinter(cmd.OutOrStdout()).report(report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func (c *cli) reportsExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "export ID",
		Short:   "Export one report as PDF",
		Example: `  wprobe reports export 6f1c... -o run.pdf`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			report, err := a.Store.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := a.Exporter.ExportReport(report)
			if err != nil {
				return fmt.Errorf("export report: %w", err)
			}
			if output == "" {
				output = fmt.Sprintf("wprobe_%s.pdf", report.ID)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default wprobe_<id>.pdf)")
	return cmd
}

func (c *cli) reportsIVReusesCmd() *cobra.Command {
	var within time.Duration

	cmd := &cobra.Command{
		Use:   "iv-reuses",
		Short: "List stored IV reuse detections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := c.newApp()
			if err != nil {
				return err
			}
			var since time.Time
			if within > 0 {
				since = time.Now().Add(-within)
			}
			events, err := a.Store.ListIVReuses(cmd.Context(), since)
			if err != nil {
				return err
			}
			newPrinter(cmd.OutOrStdout()).ivReuses(events)
			return nil
		},
	}
	cmd.Flags().DurationVar(&within, "since", 0, "Only list detections from this far back (0 lists all)")
	return cmd
}
