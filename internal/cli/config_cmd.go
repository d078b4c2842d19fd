package cli

import (
	"errors"
	"fmt"

	"github.com/lucasnoah/patchpilot/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Println("Configuration is valid.")
			return nil
		}

		cmd.Println("Validation errors:")
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("config has %d validation error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration with defaults and environment merged",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

// loadConfig loads --config if given, otherwise the first config in the
// search path, otherwise the built-in defaults.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	cfg, err := config.LoadDefault()
	if errors.Is(err, config.ErrNotFound) {
		return cfg, nil
	}
	return cfg, err
}

func init() {
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
