package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a failure to get a successful response from the
// backend: either no response at all (StatusCode 0) or a non-2xx status.
// It never describes a well-formed response with the wrong shape; that is a
// normalize.ShapeError.
type TransportError struct {
	StatusCode int    // 0 when the request failed before a status was received
	Endpoint   string // e.g. "/analyze"
	Message    string
	Details    string // raw error text or response body
	cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.cause
}

// Reachable reports whether the backend answered at all.
func (e *TransportError) Reachable() bool {
	return e.StatusCode != 0
}

func newStatusError(endpoint string, status int, body string) *TransportError {
	text := http.StatusText(status)
	if text == "" {
		text = "unexpected status"
	}
	if body == "" {
		body = "Unknown error"
	}
	return &TransportError{
		StatusCode: status,
		Endpoint:   endpoint,
		Message:    "API request failed: " + text,
		Details:    body,
	}
}

func newConnectError(endpoint string, err error) *TransportError {
	return &TransportError{
		Endpoint: endpoint,
		Message:  "network error: " + err.Error(),
		Details:  err.Error(),
		cause:    err,
	}
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
