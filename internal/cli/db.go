package cli

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/patchpilot/internal/config"
	"github.com/lucasnoah/patchpilot/internal/db"
	"github.com/spf13/cobra"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Telemetry database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintf(cmd.OutOrStdout(), "Telemetry database (%s) is up to date.\n", d.Dialect())
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the telemetry database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return fmt.Errorf("refusing to drop telemetry tables without --force")
		}
		d, cleanup, err := openDB()
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Telemetry database reset.")
		return nil
	},
}

// errTelemetryDisabled is returned by commands that need the telemetry
// database when none is configured.
var errTelemetryDisabled = errors.New("telemetry persistence is disabled; set telemetry.database or PATCHPILOT_TELEMETRY_DATABASE")

// telemetryDSN returns the configured database. "default" selects
// ~/.patchpilot/telemetry.db.
func telemetryDSN(cfg *config.Config) (string, error) {
	switch cfg.Telemetry.Database {
	case "":
		return "", errTelemetryDisabled
	case "default":
		return db.DefaultDBPath()
	}
	return cfg.Telemetry.Database, nil
}

// openDB opens and migrates the telemetry DB, returning it with a cleanup func.
func openDB() (*db.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	return openTelemetryDB(cfg)
}

func openTelemetryDB(cfg *config.Config) (*db.DB, func(), error) {
	dsn, err := telemetryDSN(cfg)
	if err != nil {
		return nil, nil, err
	}
	d, err := db.Open(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}

func init() {
	dbResetCmd.Flags().Bool("force", false, "confirm dropping all telemetry")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}
