package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchpilot/internal/normalize"
	"github.com/lucasnoah/patchpilot/internal/result"
)

// recordSink collects every record emitted on a Recorder.
type recordSink struct {
	mu   sync.Mutex
	recs []CallRecord
}

func (s *recordSink) add(r CallRecord) {
	s.mu.Lock()
	s.recs = append(s.recs, r)
	s.mu.Unlock()
}

func (s *recordSink) all() []CallRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallRecord(nil), s.recs...)
}

func newTestNetwork(t *testing.T, h http.HandlerFunc) (*Network, *recordSink) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	n := NewNetwork(srv.URL + "/")
	sink := &recordSink{}
	unsub := n.Subscribe(sink.add)
	t.Cleanup(unsub)
	return n, sink
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestNetwork_AnalyzeVideoUploadsMultipart(t *testing.T) {
	var gotName, gotBody string
	n, sink := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(data)
		writeJSON(t, w, map[string]any{
			"title":      "Login crash",
			"timeline":   []map[string]any{{"t": 0, "event": "opens page"}, {"t": 75, "event": "crash"}},
			"reproSteps": []string{"open page", "click link"},
			"expected":   "reset page",
			"actual":     "blank page",
		})
	})

	a, err := n.AnalyzeVideo(context.Background(), NewVideo("bug.mp4", "video/mp4", []byte("frames")))
	require.NoError(t, err)

	assert.Equal(t, "bug.mp4", gotName)
	assert.Equal(t, "frames", gotBody)
	require.Len(t, a.Timeline, 2)
	assert.Equal(t, "01:15", a.Timeline[1].Timestamp)
	assert.Equal(t, "crash", a.Timeline[1].Description)
	assert.Equal(t, []result.ReproStep{{Number: 1, Description: "open page"}, {Number: 2, Description: "click link"}}, a.ReproSteps)

	recs := sink.all()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.True(t, rec.OK())
	assert.Equal(t, "/analyze", rec.Endpoint)
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, map[string]any{"filename": "bug.mp4", "size": int64(6), "type": "video/mp4"}, rec.Request)
	assert.NotEmpty(t, rec.ID)
	assert.Positive(t, rec.ResponseSize)
}

func TestNetwork_GenerateTestSendsWireAnalysis(t *testing.T) {
	var got map[string]any
	n, _ := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-test", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]any{"playwright_spec": "test()", "filename": "a.spec.ts"})
	})

	analysis := &result.Analysis{
		Timeline:   []result.TimelineEvent{{Timestamp: "01:05", Description: "click"}},
		ReproSteps: []result.ReproStep{{Number: 1, Description: "open"}},
		Expected:   "works",
		Actual:     "crashes",
		TargetURL:  "https://from-analysis.test",
	}
	test, err := n.GenerateTest(context.Background(), analysis, "https://override.test")
	require.NoError(t, err)
	assert.Equal(t, "test()", test.PlaywrightSpec)
	assert.Equal(t, "a.spec.ts", test.Filename)

	assert.Equal(t, "works", got["title"])
	assert.Equal(t, []any{map[string]any{"t": float64(65), "event": "click"}}, got["timeline"])
	assert.Equal(t, []any{"open"}, got["reproSteps"])
	assert.Equal(t, "https://override.test", got["targetUrl"])
}

func TestNetwork_GeneratePatchSendsErrorLog(t *testing.T) {
	var got map[string]any
	n, _ := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, map[string]any{"diff": "--- a\n+++ b", "rationale": []string{"one", "two"}, "risks": []string{}})
	})

	p, err := n.GeneratePatch(context.Background(), PatchInput{
		Analysis: SampleAnalysis(),
		Run:      &result.RunResult{Status: result.RunFailed, Stdout: "out", Stderr: "err"},
	})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo", p.Rationale)

	assert.Equal(t, "err\n\n--- Output ---\n\nout", got["error_log"])
	assert.Contains(t, got, "failing_test")
	assert.Nil(t, got["failing_test"])
	assert.Nil(t, got["original_code"])
	wa := got["analysis"].(map[string]any)
	assert.Equal(t, SampleAnalysis().Expected, wa["title"])
	assert.Equal(t, SampleAnalysis().TargetURL, wa["targetUrl"])
}

func TestNetwork_RunTestMapsPassed(t *testing.T) {
	n, _ := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"status": "passed", "stdout": "ok", "screenshotUrl": ""})
	})
	run, err := n.RunTest(context.Background(), SampleTest())
	require.NoError(t, err)
	assert.Equal(t, result.RunSuccess, run.Status)
	assert.Nil(t, run.ScreenshotURL)
}

func TestNetwork_NonSuccessStatusIsTransportError(t *testing.T) {
	n, sink := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	})

	_, err := n.RunTest(context.Background(), SampleTest())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 500, te.StatusCode)
	assert.True(t, te.Reachable())
	assert.Equal(t, "/run-test", te.Endpoint)
	assert.Contains(t, te.Details, "model exploded")
	assert.False(t, normalize.IsShape(err))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ErrorKindTransport, recs[0].ErrorKind)
	assert.Equal(t, 500, recs[0].StatusCode)
}

func TestNetwork_UnreachableHasZeroStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n := NewNetwork(url)
	sink := &recordSink{}
	n.Subscribe(sink.add)

	_, err := n.GenerateTest(context.Background(), SampleAnalysis(), "")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.StatusCode)
	assert.False(t, te.Reachable())

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ErrorKindTransport, recs[0].ErrorKind)
	assert.Equal(t, 0, recs[0].StatusCode)
}

func TestNetwork_ShapeDriftIsShapeError(t *testing.T) {
	n, sink := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"playwrightSpec": "test()"})
	})

	_, err := n.GenerateTest(context.Background(), SampleAnalysis(), "")
	var se *normalize.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"filename"}, se.MissingFields)
	assert.False(t, IsTransport(err))

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ErrorKindShape, recs[0].ErrorKind)
	assert.Equal(t, []string{"filename"}, recs[0].MissingFields)
	assert.Equal(t, http.StatusOK, recs[0].StatusCode)
}

func TestNetwork_NonJSONBodyIsShapeError(t *testing.T) {
	n, _ := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>gateway</html>")
	})

	_, err := n.GeneratePatch(context.Background(), PatchInput{Analysis: SampleAnalysis(), Run: SampleRun()})
	var se *normalize.ShapeError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{normalize.RootField}, se.MissingFields)
	assert.Equal(t, "<html>gateway</html>", se.Received)
}

func TestNetwork_VideoWithoutContentRecordsLocalFailure(t *testing.T) {
	n, sink := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := n.AnalyzeVideo(context.Background(), &Video{Name: "ghost.mp4"})
	require.Error(t, err)

	recs := sink.all()
	require.Len(t, recs, 1)
	assert.Equal(t, ErrorKindOther, recs[0].ErrorKind)
	assert.Equal(t, "/analyze", recs[0].Endpoint)
}

func TestNetwork_OneRecordPerCall(t *testing.T) {
	calls := 0
	n, sink := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls%2 == 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(t, w, map[string]any{"status": "failed"})
	})

	for i := 0; i < 4; i++ {
		n.RunTest(context.Background(), SampleTest())
	}
	assert.Len(t, sink.all(), 4)

	last, ok := n.LastCall()
	require.True(t, ok)
	assert.False(t, last.OK())
	assert.Equal(t, 502, last.StatusCode)
}

func TestNetwork_CustomEndpoints(t *testing.T) {
	n, _ := newTestNetwork(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/run", r.URL.Path)
		writeJSON(t, w, map[string]any{"status": "success"})
	})
	e := DefaultEndpoints()
	e.RunTest = "/v2/run"
	WithEndpoints(e)(n)

	_, err := n.RunTest(context.Background(), SampleTest())
	require.NoError(t, err)
}
