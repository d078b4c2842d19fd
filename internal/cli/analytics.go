package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchpilot/internal/analytics"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Summarise recorded stage and backend telemetry",
}

var analyticsStageDurationCmd = &cobra.Command{
	Use:   "stage-duration",
	Short: "Average and percentile durations per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, func(d analytics.DB, since time.Time) (any, func() error, error) {
			rows, err := analytics.QueryStageDurations(d, since)
			return rows, func() error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-8s %6s %8s %8s %8s\n", "STAGE", "COUNT", "AVG(s)", "P50(s)", "P95(s)")
				for _, r := range rows {
					fmt.Fprintf(w, "%-8s %6d %8.1f %8.1f %8.1f\n", r.Stage, r.Count, r.Avg, r.P50, r.P95)
				}
				return nil
			}, err
		})
	},
}

var analyticsStageOutcomesCmd = &cobra.Command{
	Use:   "stage-outcomes",
	Short: "Attempt, failure and first-pass rates per stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, func(d analytics.DB, since time.Time) (any, func() error, error) {
			rows, err := analytics.QueryStageOutcomes(d, since)
			return rows, func() error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-8s %8s %6s %6s %8s %10s\n", "STAGE", "ATTEMPTS", "OK", "FAILED", "RETRIED", "FIRST PASS")
				for _, r := range rows {
					fmt.Fprintf(w, "%-8s %8d %6d %6d %8d %9.1f%%\n", r.Stage, r.Attempts, r.Succeeded, r.Failed, r.Retried, r.FirstPass)
				}
				return nil
			}, err
		})
	},
}

var analyticsEndpointsCmd = &cobra.Command{
	Use:   "endpoints",
	Short: "Call volume, failure mix and latency per backend endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withAnalytics(cmd, func(d analytics.DB, since time.Time) (any, func() error, error) {
			rows, err := analytics.QueryEndpointStats(d, since)
			return rows, func() error {
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-16s %6s %7s %9s %6s %6s %8s %8s\n", "ENDPOINT", "CALLS", "FAILED", "TRANSPORT", "SHAPE", "OTHER", "AVG(ms)", "P95(ms)")
				for _, r := range rows {
					fmt.Fprintf(w, "%-16s %6d %6.1f%% %9d %6d %6d %8.1f %8.1f\n",
						r.Endpoint, r.Calls, r.FailurePct, r.Transport, r.Shape, r.Other, r.AvgMs, r.P95Ms)
				}
				return nil
			}, err
		})
	},
}

// withAnalytics opens the telemetry DB, runs q, and prints its result as
// JSON or through the returned table printer.
func withAnalytics(cmd *cobra.Command, q func(analytics.DB, time.Time) (any, func() error, error)) error {
	var since time.Time
	if s, _ := cmd.Flags().GetString("since"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid --since %q: %w", s, err)
		}
		since = time.Now().Add(-d)
	}

	d, cleanup, err := openDB()
	if err != nil {
		return err
	}
	defer cleanup()

	rows, table, err := q(d, since)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		data, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	return table()
}

func init() {
	for _, c := range []*cobra.Command{analyticsStageDurationCmd, analyticsStageOutcomesCmd, analyticsEndpointsCmd} {
		c.Flags().String("since", "", "only include telemetry newer than this duration (e.g. 24h)")
		c.Flags().String("format", "text", "output format: text or json")
		analyticsCmd.AddCommand(c)
	}
}
