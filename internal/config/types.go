package config

import (
	"time"

	"github.com/lucasnoah/patchpilot/internal/backend"
)

// Config is the top-level configuration parsed from patchpilot.yaml.
// Durations are Go duration strings ("180s", "1.5s").
type Config struct {
	PipelineMode   string    `yaml:"pipeline_mode" json:"pipeline_mode"`
	BackendURL     string    `yaml:"backend_url" json:"backend_url"`
	RequestTimeout string    `yaml:"request_timeout" json:"request_timeout"`
	Endpoints      Endpoints `yaml:"endpoints" json:"endpoints"`
	Health         Health    `yaml:"health" json:"health"`
	Sample         Sample    `yaml:"sample" json:"sample"`
	Telemetry      Telemetry `yaml:"telemetry" json:"telemetry"`
	Report         Report    `yaml:"report" json:"report"`
	OutputDir      string    `yaml:"output_dir" json:"output_dir"`
}

// Endpoints are the backend paths for each operation.
type Endpoints struct {
	Analyze       string `yaml:"analyze" json:"analyze"`
	GenerateTest  string `yaml:"generate_test" json:"generate_test"`
	RunTest       string `yaml:"run_test" json:"run_test"`
	GeneratePatch string `yaml:"generate_patch" json:"generate_patch"`
	Health        string `yaml:"health" json:"health"`
}

// Health configures backend reachability polling.
type Health struct {
	Interval string `yaml:"interval" json:"interval"`
	Timeout  string `yaml:"timeout" json:"timeout"`
}

// Sample configures the offline adapter.
type Sample struct {
	Delays SampleDelays `yaml:"delays" json:"delays"`
}

// SampleDelays are the simulated latencies per operation.
type SampleDelays struct {
	Analyze       string `yaml:"analyze" json:"analyze"`
	GenerateTest  string `yaml:"generate_test" json:"generate_test"`
	RunTest       string `yaml:"run_test" json:"run_test"`
	GeneratePatch string `yaml:"generate_patch" json:"generate_patch"`
}

// Telemetry configures persistence of call records and stage events.
// An empty Database disables persistence.
type Telemetry struct {
	Database    string `yaml:"database" json:"database"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

// Report configures export.
type Report struct {
	Template string `yaml:"template" json:"template"`
}

// Mode returns the parsed pipeline mode.
func (c *Config) Mode() (backend.Mode, error) {
	return backend.ParseMode(c.PipelineMode)
}

// Timeout returns the request timeout.
func (c *Config) Timeout() time.Duration {
	return durationOr(c.RequestTimeout, defaultRequestTimeout)
}

// HealthInterval returns the health poll interval.
func (c *Config) HealthInterval() time.Duration {
	return durationOr(c.Health.Interval, defaultHealthInterval)
}

// HealthTimeout returns the health probe timeout.
func (c *Config) HealthTimeout() time.Duration {
	return durationOr(c.Health.Timeout, defaultHealthTimeout)
}

// BackendEndpoints converts the configured paths.
func (c *Config) BackendEndpoints() backend.Endpoints {
	return backend.Endpoints{
		Analyze:       c.Endpoints.Analyze,
		GenerateTest:  c.Endpoints.GenerateTest,
		RunTest:       c.Endpoints.RunTest,
		GeneratePatch: c.Endpoints.GeneratePatch,
		Health:        c.Endpoints.Health,
	}
}

// SampleDelays returns the parsed sample latencies.
func (c *Config) SampleDelays() backend.Delays {
	def := backend.DefaultDelays()
	d := c.Sample.Delays
	return backend.Delays{
		Analyze:       durationOr(d.Analyze, def.Analyze),
		GenerateTest:  durationOr(d.GenerateTest, def.GenerateTest),
		RunTest:       durationOr(d.RunTest, def.RunTest),
		GeneratePatch: durationOr(d.GeneratePatch, def.GeneratePatch),
	}
}

// AdapterOptions builds the backend factory options for this config.
func (c *Config) AdapterOptions() (backend.Options, error) {
	mode, err := c.Mode()
	if err != nil {
		return backend.Options{}, err
	}
	delays := c.SampleDelays()
	return backend.Options{
		Mode:      mode,
		BaseURL:   c.BackendURL,
		Endpoints: c.BackendEndpoints(),
		Timeout:   c.Timeout(),
		Delays:    &delays,
	}, nil
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
