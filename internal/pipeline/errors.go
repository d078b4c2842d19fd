package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/normalize"
)

var (
	// ErrRetryUnsupported is returned by Retry for the upload stage, which
	// has no action to repeat.
	ErrRetryUnsupported = errors.New("upload cannot be retried; select the video again")

	// ErrUnknownStage is returned for a stage name outside Stages.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrStaleAttempt is returned when an attempt settles after a reset.
	// Its result has been discarded.
	ErrStaleAttempt = errors.New("pipeline was reset while the stage was running; result discarded")
)

// PreconditionError is returned when an action is invoked while its gating
// predicate is false. The machine state is left untouched.
type PreconditionError struct {
	Stage  Stage
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot run %s: %s", e.Stage, e.Reason)
}

// IsPrecondition reports whether err is, or wraps, a *PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

const maxDetailLen = 300

// Describe turns an action error into the message stored on the stage.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var te *backend.TransportError
	var se *normalize.ShapeError
	var pe *PreconditionError
	switch {
	case errors.As(err, &pe):
		return pe.Error()
	case errors.As(err, &te):
		if !te.Reachable() {
			return fmt.Sprintf("Could not reach the backend (%s): %s", te.Endpoint, clip(te.Details))
		}
		return fmt.Sprintf("Backend returned HTTP %d for %s: %s", te.StatusCode, te.Endpoint, clip(te.Details))
	case errors.As(err, &se):
		if len(se.MissingFields) == 1 && se.MissingFields[0] == normalize.RootField {
			return fmt.Sprintf("Unexpected %s response: body is not a JSON object", se.Kind)
		}
		return fmt.Sprintf("Unexpected %s response: missing or invalid fields: %s", se.Kind, strings.Join(se.MissingFields, ", "))
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out waiting for the backend"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	default:
		return err.Error()
	}
}

func clip(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxDetailLen {
		return string(r[:maxDetailLen]) + "..."
	}
	return s
}

// lastErrorFor builds the structured copy of err for the last-error slot.
func lastErrorFor(stage Stage, err error) *LastError {
	le := &LastError{
		Stage:   stage,
		Kind:    backend.ErrorKindOther,
		Message: Describe(err),
		Details: err.Error(),
	}

	var te *backend.TransportError
	var se *normalize.ShapeError
	switch {
	case errors.As(err, &te):
		le.Kind = backend.ErrorKindTransport
		le.Endpoint = te.Endpoint
		le.Details = te.Details
		if te.Reachable() {
			code := te.StatusCode
			le.StatusCode = &code
		}
	case errors.As(err, &se):
		le.Kind = backend.ErrorKindShape
		le.MissingFields = append([]string(nil), se.MissingFields...)
		le.Received = se.Received
	}
	return le
}
