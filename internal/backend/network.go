package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/patchpilot/internal/normalize"
	"github.com/lucasnoah/patchpilot/internal/result"
)

// maxResponseSize limits how much of a response body is read.
const maxResponseSize = 10 * 1024 * 1024

// Endpoints maps each operation to its path on the backend.
type Endpoints struct {
	Analyze       string
	GenerateTest  string
	RunTest       string
	GeneratePatch string
	Health        string
}

// DefaultEndpoints returns the paths served by the reference backend.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Analyze:       "/analyze",
		GenerateTest:  "/generate-test",
		RunTest:       "/run-test",
		GeneratePatch: "/generate-patch",
		Health:        "/health",
	}
}

// Network calls a remote backend over HTTP. Every call, successful or not,
// produces exactly one CallRecord on its Recorder before returning.
type Network struct {
	baseURL    string
	endpoints  Endpoints
	httpClient *http.Client
	recorder   *Recorder
	logger     *slog.Logger
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) NetworkOption {
	return func(n *Network) {
		n.httpClient = c
	}
}

// WithEndpoints overrides the operation paths.
func WithEndpoints(e Endpoints) NetworkOption {
	return func(n *Network) {
		n.endpoints = e
	}
}

// WithRecorder shares a Recorder between adapters, so subscribers survive an
// adapter swap.
func WithRecorder(r *Recorder) NetworkOption {
	return func(n *Network) {
		n.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) NetworkOption {
	return func(n *Network) {
		n.logger = logger
	}
}

// NewNetwork creates a Network adapter for the backend at baseURL.
func NewNetwork(baseURL string, opts ...NetworkOption) *Network {
	n := &Network{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: DefaultEndpoints(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // analysis and test runs are slow
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.recorder == nil {
		n.recorder = NewRecorder()
	}
	return n
}

// BaseURL returns the backend root URL.
func (n *Network) BaseURL() string {
	return n.baseURL
}

// Recorder returns the recorder that receives this adapter's call records.
func (n *Network) Recorder() *Recorder {
	return n.recorder
}

// Subscribe registers fn for every settled call.
func (n *Network) Subscribe(fn func(CallRecord)) (unsubscribe func()) {
	return n.recorder.Subscribe(fn)
}

// LastCall returns the most recent call record.
func (n *Network) LastCall() (CallRecord, bool) {
	return n.recorder.Last()
}

// outbound is one prepared request.
type outbound struct {
	endpoint    string
	body        []byte
	contentType string
	summary     any // what the call record shows instead of body
}

func jsonOutbound(endpoint string, payload any) (outbound, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return outbound{}, fmt.Errorf("encode %s request: %w", endpoint, err)
	}
	return outbound{
		endpoint:    endpoint,
		body:        data,
		contentType: "application/json",
		summary:     payload,
	}, nil
}

// localFailure records a call that failed before any request was sent.
func (n *Network) localFailure(endpoint string, summary any, err error) {
	rec := CallRecord{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Endpoint:  endpoint,
		Method:    http.MethodPost,
		Request:   summary,
	}
	rec.setError(err)
	n.logger.Warn("backend call not sent", "endpoint", endpoint, "error", err)
	n.recorder.Emit(rec)
}

// roundTrip issues one POST, then decodes and normalizes the response.
func roundTrip[T any](ctx context.Context, n *Network, out outbound, norm func(any) (T, error)) (T, error) {
	var zero T
	start := time.Now()
	rec := CallRecord{
		ID:          uuid.NewString(),
		Timestamp:   start.UTC(),
		Endpoint:    out.endpoint,
		Method:      http.MethodPost,
		Request:     out.summary,
		RequestSize: len(out.body),
	}

	settle := func(err error) {
		rec.Duration = time.Since(start)
		rec.setError(err)
		if err != nil {
			n.logger.Warn("backend call failed",
				"endpoint", rec.Endpoint, "kind", rec.ErrorKind, "duration_ms", rec.DurationMs(), "error", err)
		} else {
			n.logger.Debug("backend call", "endpoint", rec.Endpoint, "duration_ms", rec.DurationMs())
		}
		n.recorder.Emit(rec)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+out.endpoint, bytes.NewReader(out.body))
	if err != nil {
		terr := newConnectError(out.endpoint, err)
		settle(terr)
		return zero, terr
	}
	req.Header.Set("Content-Type", out.contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		terr := newConnectError(out.endpoint, err)
		settle(terr)
		return zero, terr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	rec.StatusCode = resp.StatusCode
	rec.ResponseSize = len(body)
	if err != nil {
		terr := newConnectError(out.endpoint, fmt.Errorf("read response: %w", err))
		terr.StatusCode = resp.StatusCode
		settle(terr)
		return zero, terr
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := newStatusError(out.endpoint, resp.StatusCode, string(body))
		rec.Response = string(body)
		settle(terr)
		return zero, terr
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		// The service answered, but not with structured data: a contract
		// problem rather than a transport one.
		raw = string(body)
	}
	rec.Response = raw

	v, err := norm(raw)
	if err != nil {
		settle(err)
		return zero, err
	}
	settle(nil)
	return v, nil
}

// AnalyzeVideo uploads the video as multipart/form-data field "file".
func (n *Network) AnalyzeVideo(ctx context.Context, video *Video) (*result.Analysis, error) {
	out, err := n.uploadOutbound(video)
	if err != nil {
		n.localFailure(n.endpoints.Analyze, video.summary(), err)
		return nil, err
	}
	return roundTrip(ctx, n, out, normalize.Analysis)
}

func (n *Network) uploadOutbound(video *Video) (outbound, error) {
	endpoint := n.endpoints.Analyze
	src, err := video.Open()
	if err != nil {
		return outbound{}, fmt.Errorf("open video: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", video.Name)
	if err != nil {
		return outbound{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return outbound{}, fmt.Errorf("read video: %w", err)
	}
	if err := mw.Close(); err != nil {
		return outbound{}, fmt.Errorf("close multipart body: %w", err)
	}
	return outbound{
		endpoint:    endpoint,
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		summary:     video.summary(),
	}, nil
}

// GenerateTest sends the analysis in the backend's dialect. A non-empty
// targetURL overrides the analysis target.
func (n *Network) GenerateTest(ctx context.Context, analysis *result.Analysis, targetURL string) (*result.GeneratedTest, error) {
	out, err := jsonOutbound(n.endpoints.GenerateTest, toWireAnalysis(analysis, testTitle(analysis), targetURL))
	if err != nil {
		n.localFailure(n.endpoints.GenerateTest, nil, err)
		return nil, err
	}
	return roundTrip(ctx, n, out, normalize.Test)
}

// RunTest asks the backend to execute the generated spec.
func (n *Network) RunTest(ctx context.Context, test *result.GeneratedTest) (*result.RunResult, error) {
	var payload wireTestRequest
	if test != nil {
		payload = wireTestRequest{PlaywrightSpec: test.PlaywrightSpec, Filename: test.Filename}
	}
	out, err := jsonOutbound(n.endpoints.RunTest, payload)
	if err != nil {
		n.localFailure(n.endpoints.RunTest, nil, err)
		return nil, err
	}
	return roundTrip(ctx, n, out, normalize.Run)
}

// GeneratePatch sends the analysis together with the failing run's logs.
func (n *Network) GeneratePatch(ctx context.Context, in PatchInput) (*result.PatchResult, error) {
	out, err := jsonOutbound(n.endpoints.GeneratePatch, toWirePatchRequest(in))
	if err != nil {
		n.localFailure(n.endpoints.GeneratePatch, nil, err)
		return nil, err
	}
	return roundTrip(ctx, n, out, normalize.Patch)
}
