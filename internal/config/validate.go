package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lucasnoah/patchpilot/internal/backend"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if _, err := backend.ParseMode(cfg.PipelineMode); err != nil {
		errs = append(errs, ValidationError{Field: "pipeline_mode", Message: err.Error()})
	}

	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "backend_url",
			Message: fmt.Sprintf("%q is not an http(s) URL", cfg.BackendURL),
		})
	}

	durations := []struct {
		field string
		value string
	}{
		{"request_timeout", cfg.RequestTimeout},
		{"health.interval", cfg.Health.Interval},
		{"health.timeout", cfg.Health.Timeout},
		{"sample.delays.analyze", cfg.Sample.Delays.Analyze},
		{"sample.delays.generate_test", cfg.Sample.Delays.GenerateTest},
		{"sample.delays.run_test", cfg.Sample.Delays.RunTest},
		{"sample.delays.generate_patch", cfg.Sample.Delays.GeneratePatch},
	}
	for _, d := range durations {
		validateDuration(d.field, d.value, &errs)
	}

	endpoints := []struct {
		field string
		value string
	}{
		{"endpoints.analyze", cfg.Endpoints.Analyze},
		{"endpoints.generate_test", cfg.Endpoints.GenerateTest},
		{"endpoints.run_test", cfg.Endpoints.RunTest},
		{"endpoints.generate_patch", cfg.Endpoints.GeneratePatch},
		{"endpoints.health", cfg.Endpoints.Health},
	}
	for _, e := range endpoints {
		if !strings.HasPrefix(e.value, "/") {
			errs = append(errs, ValidationError{
				Field:   e.field,
				Message: fmt.Sprintf("path %q must start with /", e.value),
			})
		}
	}

	return errs
}

func validateDuration(field, value string, errs *[]ValidationError) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d < 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must not be negative"})
	}
}
