package backend

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Mode selects an Adapter implementation.
type Mode string

const (
	ModeSample  Mode = "sample"
	ModeNetwork Mode = "network"
)

// ParseMode accepts "sample" and "network" (or its older name "backend").
// An empty string means sample mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sample":
		return ModeSample, nil
	case "network", "backend":
		return ModeNetwork, nil
	default:
		return "", fmt.Errorf("unknown pipeline mode %q (want sample or network)", s)
	}
}

// Options configures New.
type Options struct {
	Mode      Mode
	BaseURL   string
	Endpoints Endpoints
	Timeout   time.Duration
	Delays    *Delays // nil keeps DefaultDelays
	Recorder  *Recorder
	Logger    *slog.Logger
}

// New builds the adapter selected by opts.Mode.
func New(opts Options) (Adapter, error) {
	switch opts.Mode {
	case ModeSample, "":
		var sopts []SampleOption
		if opts.Delays != nil {
			sopts = append(sopts, WithDelays(*opts.Delays))
		}
		return NewSample(sopts...), nil
	case ModeNetwork:
		if opts.BaseURL == "" {
			return nil, fmt.Errorf("network mode requires a backend URL")
		}
		nopts := []NetworkOption{WithRecorder(opts.Recorder)}
		if opts.Endpoints != (Endpoints{}) {
			nopts = append(nopts, WithEndpoints(opts.Endpoints))
		}
		if opts.Timeout > 0 {
			nopts = append(nopts, WithHTTPClient(&http.Client{Timeout: opts.Timeout}))
		}
		if opts.Logger != nil {
			nopts = append(nopts, WithLogger(opts.Logger))
		}
		return NewNetwork(opts.BaseURL, nopts...), nil
	default:
		return nil, fmt.Errorf("unknown pipeline mode %q", opts.Mode)
	}
}

// RecorderOf returns the call recorder behind a, or nil for adapters that
// make no remote calls.
func RecorderOf(a Adapter) *Recorder {
	if n, ok := a.(*Network); ok {
		return n.Recorder()
	}
	return nil
}
