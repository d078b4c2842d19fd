package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// HealthStatus is the connectivity state shown to the user.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown" // sample mode, nothing to check
	HealthChecking  HealthStatus = "checking"
	HealthConnected HealthStatus = "connected"
	HealthOffline   HealthStatus = "offline"
)

// Health is the result of the latest check.
type Health struct {
	Status      HealthStatus `json:"status"`
	LastChecked time.Time    `json:"last_checked,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// HealthChecker polls the backend's health endpoint. It is independent of
// the four pipeline operations and never records CallRecords.
type HealthChecker struct {
	url      string // empty when there is no backend to check
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	current Health
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithHealthInterval sets the re-check interval used by Watch.
func WithHealthInterval(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.interval = d
	}
}

// WithHealthTimeout sets the per-check timeout.
func WithHealthTimeout(d time.Duration) HealthOption {
	return func(h *HealthChecker) {
		h.client = &http.Client{Timeout: d}
	}
}

// WithHealthLogger sets the logger.
func WithHealthLogger(logger *slog.Logger) HealthOption {
	return func(h *HealthChecker) {
		h.logger = logger
	}
}

// NewHealthChecker creates a checker for mode. In sample mode every check
// reports HealthUnknown without touching the network.
func NewHealthChecker(mode Mode, baseURL, path string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		client:   &http.Client{Timeout: 3 * time.Second},
		interval: 30 * time.Second,
		logger:   slog.Default(),
		current:  Health{Status: HealthUnknown},
	}
	if mode == ModeNetwork {
		h.url = strings.TrimRight(baseURL, "/") + path
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Current returns the result of the most recent check.
func (h *HealthChecker) Current() Health {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *HealthChecker) set(v Health) {
	h.mu.Lock()
	h.current = v
	h.mu.Unlock()
}

// Check performs one GET against the health endpoint. Any 2xx answer is
// connected; anything else, including no answer, is offline.
func (h *HealthChecker) Check(ctx context.Context) Health {
	if h.url == "" {
		v := Health{Status: HealthUnknown, LastChecked: time.Now().UTC()}
		h.set(v)
		return v
	}

	h.mu.Lock()
	h.current.Status = HealthChecking
	h.mu.Unlock()

	v := Health{Status: HealthConnected}
	if err := h.probe(ctx); err != nil {
		v = Health{Status: HealthOffline, Error: err.Error()}
		h.logger.Debug("backend health check failed", "url", h.url, "error", err)
	}
	v.LastChecked = time.Now().UTC()
	h.set(v)
	return v
}

func (h *HealthChecker) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend not reachable: HTTP %d", resp.StatusCode)
	}
	return nil
}

// Watch checks immediately and then on every interval until ctx is done,
// passing each result to fn. In sample mode it reports once and returns.
func (h *HealthChecker) Watch(ctx context.Context, fn func(Health)) {
	fn(h.Check(ctx))
	if h.url == "" {
		return
	}

	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if ctx.Err() != nil {
				return
			}
			fn(h.Check(ctx))
		}
	}
}
