package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBackendURL = "http://localhost:8000"
	DefaultOutputDir  = "patchpilot-out"

	defaultRequestTimeout = 180 * time.Second
	defaultHealthInterval = 30 * time.Second
	defaultHealthTimeout  = 3 * time.Second

	envPrefix = "PATCHPILOT"
)

// ErrNotFound is returned by LoadDefault when no config file exists in the
// search path.
var ErrNotFound = errors.New("no patchpilot config found")

// envKeys are the settings that can be overridden from the environment, as
// PATCHPILOT_<KEY> with dots replaced by underscores.
var envKeys = []string{
	"pipeline_mode",
	"backend_url",
	"request_timeout",
	"output_dir",
	"telemetry.database",
	"telemetry.metrics_file",
	"report.template",
}

// Load reads and parses a configuration from the given YAML file path, then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// SearchPaths returns the locations LoadDefault checks, in order.
func SearchPaths() []string {
	candidates := []string{"patchpilot.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".patchpilot", "config.yaml"))
	}
	return candidates
}

// LoadDefault loads the first config found in SearchPaths. When none exists
// it returns the built-in defaults (with environment overrides) along with
// ErrNotFound so callers can tell the difference.
func LoadDefault() (*Config, error) {
	candidates := SearchPaths()
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), fmt.Errorf("%w (searched: %v)", ErrNotFound, candidates)
}

// Default returns the built-in configuration with environment overrides.
func Default() *Config {
	var cfg Config
	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg
}

// applyEnv overlays PATCHPILOT_* environment variables.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	set := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	set("pipeline_mode", &cfg.PipelineMode)
	set("backend_url", &cfg.BackendURL)
	set("request_timeout", &cfg.RequestTimeout)
	set("output_dir", &cfg.OutputDir)
	set("telemetry.database", &cfg.Telemetry.Database)
	set("telemetry.metrics_file", &cfg.Telemetry.MetricsFile)
	set("report.template", &cfg.Report.Template)
}

// applyDefaults fills every unset field.
func applyDefaults(cfg *Config) {
	if cfg.PipelineMode == "" {
		cfg.PipelineMode = "sample"
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	if cfg.RequestTimeout == "" {
		cfg.RequestTimeout = defaultRequestTimeout.String()
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	e := &cfg.Endpoints
	def := defaultEndpoints()
	fill(&e.Analyze, def.Analyze)
	fill(&e.GenerateTest, def.GenerateTest)
	fill(&e.RunTest, def.RunTest)
	fill(&e.GeneratePatch, def.GeneratePatch)
	fill(&e.Health, def.Health)

	fill(&cfg.Health.Interval, defaultHealthInterval.String())
	fill(&cfg.Health.Timeout, defaultHealthTimeout.String())

	d := &cfg.Sample.Delays
	fill(&d.Analyze, "1.5s")
	fill(&d.GenerateTest, "1.2s")
	fill(&d.RunTest, "2s")
	fill(&d.GeneratePatch, "1.5s")
}

func defaultEndpoints() Endpoints {
	return Endpoints{
		Analyze:       "/analyze",
		GenerateTest:  "/generate-test",
		RunTest:       "/run-test",
		GeneratePatch: "/generate-patch",
		Health:        "/health",
	}
}

func fill(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
