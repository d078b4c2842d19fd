package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchpilot/internal/result"
)

func instantSample() *Sample {
	return NewSample(WithDelays(Delays{}))
}

func TestSample_ReturnsCoherentFixtures(t *testing.T) {
	s := instantSample()
	ctx := context.Background()

	a, err := s.AnalyzeVideo(ctx, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, a.Timeline)
	assert.NotEmpty(t, a.ReproSteps)
	for i, st := range a.ReproSteps {
		assert.Equal(t, i+1, st.Number)
	}

	test, err := s.GenerateTest(ctx, a, "")
	require.NoError(t, err)
	assert.Contains(t, test.PlaywrightSpec, a.TargetURL)

	run, err := s.RunTest(ctx, test)
	require.NoError(t, err)
	assert.Equal(t, result.RunFailed, run.Status)
	assert.True(t, run.Reproduced())

	patch, err := s.GeneratePatch(ctx, PatchInput{Analysis: a, Run: run})
	require.NoError(t, err)
	assert.NotEmpty(t, patch.Diff)
	assert.NotEmpty(t, patch.Risks)
}

func TestSample_ReturnsCopies(t *testing.T) {
	s := instantSample()
	a, err := s.AnalyzeVideo(context.Background(), nil)
	require.NoError(t, err)
	a.Timeline[0].Description = "changed"
	a.ReproSteps = nil

	b, err := s.AnalyzeVideo(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", b.Timeline[0].Description)
	assert.NotEmpty(t, b.ReproSteps)
}

func TestSample_HonorsCancellation(t *testing.T) {
	s := NewSample(WithDelays(Delays{RunTest: time.Hour}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunTest(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSample_Delay(t *testing.T) {
	s := NewSample(WithDelays(Delays{GenerateTest: 20 * time.Millisecond}))
	start := time.Now()
	_, err := s.GenerateTest(context.Background(), nil, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
