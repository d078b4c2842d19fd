package backend

import (
	"context"
	"time"

	"github.com/lucasnoah/patchpilot/internal/result"
)

// Delays holds the simulated latency of each Sample operation.
type Delays struct {
	Analyze       time.Duration
	GenerateTest  time.Duration
	RunTest       time.Duration
	GeneratePatch time.Duration
}

// DefaultDelays returns latencies long enough to exercise a loading state.
func DefaultDelays() Delays {
	return Delays{
		Analyze:       1500 * time.Millisecond,
		GenerateTest:  1200 * time.Millisecond,
		RunTest:       2000 * time.Millisecond,
		GeneratePatch: 1500 * time.Millisecond,
	}
}

// Sample ignores its inputs and returns fixture data after a delay.
type Sample struct {
	delays Delays
}

// SampleOption configures a Sample.
type SampleOption func(*Sample)

// WithDelays overrides the simulated latencies.
func WithDelays(d Delays) SampleOption {
	return func(s *Sample) {
		s.delays = d
	}
}

// NewSample creates a Sample adapter.
func NewSample(opts ...SampleOption) *Sample {
	s := &Sample{delays: DefaultDelays()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// wait sleeps for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Sample) AnalyzeVideo(ctx context.Context, _ *Video) (*result.Analysis, error) {
	if err := wait(ctx, s.delays.Analyze); err != nil {
		return nil, err
	}
	return SampleAnalysis(), nil
}

func (s *Sample) GenerateTest(ctx context.Context, _ *result.Analysis, _ string) (*result.GeneratedTest, error) {
	if err := wait(ctx, s.delays.GenerateTest); err != nil {
		return nil, err
	}
	return SampleTest(), nil
}

func (s *Sample) RunTest(ctx context.Context, _ *result.GeneratedTest) (*result.RunResult, error) {
	if err := wait(ctx, s.delays.RunTest); err != nil {
		return nil, err
	}
	return SampleRun(), nil
}

func (s *Sample) GeneratePatch(ctx context.Context, _ PatchInput) (*result.PatchResult, error) {
	if err := wait(ctx, s.delays.GeneratePatch); err != nil {
		return nil, err
	}
	return SamplePatch(), nil
}
