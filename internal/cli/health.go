package cli

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchpilot/internal/backend"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("backend-url") {
			cfg.BackendURL, _ = cmd.Flags().GetString("backend-url")
			cfg.PipelineMode = string(backend.ModeNetwork)
		}
		mode, err := cfg.Mode()
		if err != nil {
			return err
		}

		checker := backend.NewHealthChecker(mode, cfg.BackendURL, cfg.Endpoints.Health,
			backend.WithHealthInterval(cfg.HealthInterval()),
			backend.WithHealthTimeout(cfg.HealthTimeout()),
			backend.WithHealthLogger(newLogger(cmd)),
		)

		watch, _ := cmd.Flags().GetBool("watch")
		format, _ := cmd.Flags().GetString("format")
		out := cmd.OutOrStdout()

		if watch {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			prog := newProgress(out)
			checker.Watch(ctx, prog.health)
			return nil
		}

		h := checker.Check(cmd.Context())
		if format == "json" {
			data, _ := json.MarshalIndent(h, "", "  ")
			fmt.Fprintln(out, string(data))
		} else {
			fmt.Fprintln(out, healthLine(h))
		}
		if h.Status == backend.HealthOffline {
			return fmt.Errorf("backend %s is offline", cfg.BackendURL)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("backend-url", "", "backend base URL (implies network mode)")
	healthCmd.Flags().Bool("watch", false, "keep polling until interrupted")
	healthCmd.Flags().String("format", "text", "output format: text or json")
}
