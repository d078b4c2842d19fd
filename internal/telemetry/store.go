package telemetry

import (
	"log/slog"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/db"
	"github.com/lucasnoah/patchpilot/internal/pipeline"
)

// Store persists records to the telemetry database. Write failures are
// logged and dropped; they never reach the pipeline.
type Store struct {
	db        *db.DB
	sessionID string
	logger    *slog.Logger
}

// NewStore creates a Store that tags call records with sessionID.
func NewStore(d *db.DB, sessionID string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: d, sessionID: sessionID, logger: logger}
}

func (s *Store) Call(rec backend.CallRecord) {
	if err := s.db.LogAPICall(CallRow(s.sessionID, rec)); err != nil {
		s.logger.Warn("failed to store call record", "call_id", rec.ID, "error", err)
	}
}

func (s *Store) Transition(tr pipeline.Transition) {
	if err := s.db.LogStageEvent(EventRow(tr)); err != nil {
		s.logger.Warn("failed to store stage event", "stage", tr.Stage, "error", err)
	}
}

// CallRow converts a call record to its database row.
func CallRow(sessionID string, rec backend.CallRecord) db.APICall {
	row := db.APICall{
		CallID:        rec.ID,
		SessionID:     sessionID,
		Endpoint:      rec.Endpoint,
		Method:        rec.Method,
		DurationMs:    rec.DurationMs(),
		RequestSize:   rec.RequestSize,
		ResponseSize:  rec.ResponseSize,
		ErrorKind:     rec.ErrorKind,
		ErrorMessage:  rec.ErrorMessage,
		MissingFields: rec.MissingFields,
		Request:       db.EncodePayload(rec.Request),
		Response:      db.EncodePayload(rec.Response),
		CreatedAt:     rec.Timestamp,
	}
	if rec.StatusCode != 0 {
		code := rec.StatusCode
		row.StatusCode = &code
	}
	return row
}

// EventRow converts a transition to its database row. Duration is only
// recorded for settled attempts.
func EventRow(tr pipeline.Transition) db.StageEvent {
	row := db.StageEvent{
		SessionID:  tr.SessionID,
		Generation: tr.Generation,
		Stage:      string(tr.Stage),
		From:       string(tr.From),
		To:         string(tr.To),
		Attempt:    tr.Attempt,
		Error:      tr.Error,
		CreatedAt:  tr.At,
	}
	if tr.To == pipeline.StatusSuccess || tr.To == pipeline.StatusError {
		ms := tr.Duration.Milliseconds()
		row.DurationMs = &ms
	}
	return row
}
