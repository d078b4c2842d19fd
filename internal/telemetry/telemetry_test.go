package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/db"
	"github.com/lucasnoah/patchpilot/internal/pipeline"
)

func okCall(endpoint string) backend.CallRecord {
	return backend.CallRecord{
		ID:          "call-1",
		Timestamp:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Endpoint:    endpoint,
		Method:      "POST",
		Request:     map[string]any{"title": "Bug"},
		RequestSize: 17,
		StatusCode:  200,
		Duration:    250 * time.Millisecond,
	}
}

func failedCall(endpoint string) backend.CallRecord {
	return backend.CallRecord{
		ID:           "call-2",
		Timestamp:    time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC),
		Endpoint:     endpoint,
		Method:       "POST",
		Duration:     3 * time.Millisecond,
		Err:          errors.New("dial tcp: connection refused"),
		ErrorKind:    backend.ErrorKindTransport,
		ErrorMessage: "dial tcp: connection refused",
	}
}

func fullRun(t *testing.T, opts ...pipeline.Option) *pipeline.Machine {
	t.Helper()
	m := pipeline.New(backend.NewSample(backend.WithDelays(backend.Delays{})),
		append([]pipeline.Option{pipeline.WithSessionID("sess-1")}, opts...)...)
	require.NoError(t, m.SetVideo(backend.NewVideo("bug.webm", "video/webm", []byte("frames"))))
	for _, st := range pipeline.Stages[1:] {
		require.NoError(t, m.Run(context.Background(), st))
	}
	return m
}

func TestMetrics_Calls(t *testing.T) {
	m := NewMetrics()
	m.Call(okCall("/analyze"))
	m.Call(okCall("/analyze"))
	m.Call(failedCall("/run-test"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("/analyze", "200", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("/run-test", "none", "transport")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.callDuration))
}

func TestMetrics_PipelineRun(t *testing.T) {
	m := NewMetrics()
	fullRun(t, pipeline.WithTransitionHook(m.Transition))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("upload", "success")))
	for _, st := range []string{"analyze", "test", "run", "patch", "export"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(st, "loading")), st)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(st, "success")), st)
	}
	// Upload settles without a loading phase, so only five observations.
	assert.Equal(t, 5, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_WriteFile(t *testing.T) {
	m := NewMetrics()
	m.Call(okCall("/generate-test"))

	path := filepath.Join(t.TempDir(), "patchpilot.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `patchpilot_backend_calls_total{endpoint="/generate-test",error_kind="none",status="200"} 1`)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	sink.Call(okCall("/analyze"))
	sink.Call(failedCall("/run-test"))
	sink.Transition(pipeline.Transition{SessionID: "s", Stage: pipeline.StageRun, From: pipeline.StatusLoading,
		To: pipeline.StatusError, Attempt: 1, Error: "Could not reach the backend"})

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "level=DEBUG")
	assert.Contains(t, lines[0], "status=200")
	assert.Contains(t, lines[1], "level=WARN")
	assert.Contains(t, lines[1], "error_kind=transport")
	assert.Contains(t, lines[2], `msg="stage transition"`)
	assert.Contains(t, lines[2], "stage=run")
	assert.Contains(t, lines[2], "to=error")
}

func TestStore_PersistsRun(t *testing.T) {
	d, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate())

	store := NewStore(d, "sess-1", nil)
	fullRun(t, pipeline.WithTransitionHook(store.Transition))
	store.Call(okCall("/analyze"))
	store.Call(failedCall("/run-test"))

	events, err := d.ListStageEvents("sess-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 11)
	assert.Equal(t, "upload", events[0].Stage)
	assert.Equal(t, "success", events[0].To)
	assert.Equal(t, "export", events[10].Stage)
	require.NotNil(t, events[10].DurationMs)
	assert.Nil(t, events[1].DurationMs, "loading events carry no duration")

	calls, err := d.ListAPICalls(db.CallFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "transport", calls[0].ErrorKind)
	assert.Nil(t, calls[0].StatusCode)
	assert.Equal(t, `{"title":"Bug"}`, calls[1].Request)
}

func TestAttach_SubscribesAndUnsubscribes(t *testing.T) {
	rec := backend.NewRecorder()
	m := NewMetrics()

	opt, unsubscribe := Attach(rec, Multi{m, NewLogSink(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))})
	require.NotNil(t, opt)

	rec.Emit(okCall("/analyze"))
	unsubscribe()
	rec.Emit(okCall("/analyze"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("/analyze", "200", "none")))

	_, noop := Attach(nil, m)
	noop()
}

func TestEventRow(t *testing.T) {
	row := EventRow(pipeline.Transition{SessionID: "s", Generation: 2, Stage: pipeline.StagePatch,
		From: pipeline.StatusLoading, To: pipeline.StatusSuccess, Attempt: 3, Duration: 1500 * time.Millisecond})
	require.NotNil(t, row.DurationMs)
	assert.Equal(t, int64(1500), *row.DurationMs)
	assert.Equal(t, uint64(2), row.Generation)

	row = EventRow(pipeline.Transition{Stage: pipeline.StagePatch, From: pipeline.StatusIdle, To: pipeline.StatusLoading})
	assert.Nil(t, row.DurationMs)
}
