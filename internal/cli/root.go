package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "patchpilot",
	Short: "patchpilot turns a bug recording into a reproducing test and a patch",
	Long: `patchpilot takes a screen recording of a bug through a fixed pipeline:
analyze the video, generate a Playwright test, run it, generate a patch
once the bug is reproduced, and export a bug report.

Work is done by an analysis backend (network mode) or by built-in sample
data (sample mode). Configuration is read from ./patchpilot.yaml or
~/.patchpilot/config.yaml; PATCHPILOT_* environment variables override it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

// newLogger builds the stderr logger for a command.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	w := cmd.ErrOrStderr()
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to patchpilot config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(callsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
}
