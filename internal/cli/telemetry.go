package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchpilot/internal/db"
)

var callsCmd = &cobra.Command{
	Use:   "calls",
	Short: "Inspect recorded backend calls",
}

var callsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backend calls, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		var f db.CallFilter
		f.SessionID, _ = cmd.Flags().GetString("session")
		f.Endpoint, _ = cmd.Flags().GetString("endpoint")
		f.FailedOnly, _ = cmd.Flags().GetBool("failed")
		f.Limit, _ = cmd.Flags().GetInt("limit")

		calls, err := d.ListAPICalls(f)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(calls, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		if len(calls) == 0 {
			fmt.Fprintln(w, "No calls recorded.")
			return nil
		}

		fmt.Fprintf(w, "%-20s %-16s %-6s %-8s %-10s %s\n", "TIME", "ENDPOINT", "STATUS", "MS", "ERROR", "SESSION")
		fmt.Fprintf(w, "%-20s %-16s %-6s %-8s %-10s %s\n",
			strings.Repeat("-", 20),
			strings.Repeat("-", 16),
			strings.Repeat("-", 6),
			strings.Repeat("-", 8),
			strings.Repeat("-", 10),
			strings.Repeat("-", 7))
		for _, c := range calls {
			status := "-"
			if c.StatusCode != nil {
				status = fmt.Sprintf("%d", *c.StatusCode)
			}
			kind := c.ErrorKind
			if kind == "" {
				kind = "ok"
			}
			fmt.Fprintf(w, "%-20s %-16s %-6s %-8d %-10s %s\n",
				c.CreatedAt.Local().Format("2006-01-02 15:04:05"), c.Endpoint, status, c.DurationMs, kind, shortID(c.SessionID))
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect recorded stage transitions",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stage transitions, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()

		sessionID, _ := cmd.Flags().GetString("session")
		limit, _ := cmd.Flags().GetInt("limit")
		events, err := d.ListStageEvents(sessionID, limit)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(events, "", "  ")
			fmt.Fprintln(w, string(data))
			return nil
		}

		if len(events) == 0 {
			fmt.Fprintln(w, "No stage events recorded.")
			return nil
		}

		fmt.Fprintf(w, "%-20s %-8s %-8s %-8s %-4s %-8s %s\n", "TIME", "SESSION", "STAGE", "STATUS", "ATT", "MS", "ERROR")
		for _, e := range events {
			ms := "-"
			if e.DurationMs != nil {
				ms = fmt.Sprintf("%d", *e.DurationMs)
			}
			fmt.Fprintf(w, "%-20s %-8s %-8s %-8s %-4d %-8s %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"), shortID(e.SessionID), e.Stage, e.To, e.Attempt, ms, firstLine(e.Error))
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	callsListCmd.Flags().String("session", "", "only calls from this session")
	callsListCmd.Flags().String("endpoint", "", "only calls to this endpoint path")
	callsListCmd.Flags().Bool("failed", false, "only failed calls")
	callsListCmd.Flags().Int("limit", 50, "maximum number of calls (0 for all)")
	callsListCmd.Flags().String("format", "text", "output format: text or json")
	callsCmd.AddCommand(callsListCmd)

	eventsListCmd.Flags().String("session", "", "only events from this session")
	eventsListCmd.Flags().Int("limit", 0, "keep only the most recent N events (0 for all)")
	eventsListCmd.Flags().String("format", "text", "output format: text or json")
	eventsCmd.AddCommand(eventsListCmd)
}
