// Package telemetry fans backend call records and stage transitions out to
// logs, metrics and the telemetry database. It is diagnostic only.
package telemetry

import (
	"log/slog"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/pipeline"
)

// Sink receives call records and stage transitions.
type Sink interface {
	Call(backend.CallRecord)
	Transition(pipeline.Transition)
}

// Multi delivers to every sink in order.
type Multi []Sink

func (m Multi) Call(rec backend.CallRecord) {
	for _, s := range m {
		s.Call(rec)
	}
}

func (m Multi) Transition(tr pipeline.Transition) {
	for _, s := range m {
		s.Transition(tr)
	}
}

// Attach subscribes sink to rec and returns the machine option that routes
// transitions to it. The returned func unsubscribes from rec.
func Attach(rec *backend.Recorder, sink Sink) (pipeline.Option, func()) {
	unsubscribe := func() {}
	if rec != nil {
		unsubscribe = rec.Subscribe(sink.Call)
	}
	return pipeline.WithTransitionHook(sink.Transition), unsubscribe
}

// LogSink writes records to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Call(rec backend.CallRecord) {
	attrs := []any{
		"call_id", rec.ID,
		"endpoint", rec.Endpoint,
		"method", rec.Method,
		"duration_ms", rec.DurationMs(),
		"request_size", rec.RequestSize,
		"response_size", rec.ResponseSize,
	}
	if rec.StatusCode != 0 {
		attrs = append(attrs, "status", rec.StatusCode)
	}
	if rec.OK() {
		s.logger.Debug("backend call", attrs...)
		return
	}
	attrs = append(attrs, "error_kind", rec.ErrorKind, "error", rec.ErrorMessage)
	if len(rec.MissingFields) > 0 {
		attrs = append(attrs, "missing_fields", rec.MissingFields)
	}
	s.logger.Warn("backend call failed", attrs...)
}

// Transition logs at debug level; the machine already logs stage outcomes.
func (s *LogSink) Transition(tr pipeline.Transition) {
	attrs := []any{
		"session", tr.SessionID,
		"generation", tr.Generation,
		"stage", tr.Stage,
		"from", tr.From,
		"to", tr.To,
		"attempt", tr.Attempt,
	}
	if tr.Duration > 0 {
		attrs = append(attrs, "duration_ms", tr.Duration.Milliseconds())
	}
	if tr.Error != "" {
		attrs = append(attrs, "error", tr.Error)
	}
	s.logger.Debug("stage transition", attrs...)
}
