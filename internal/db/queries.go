package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxPayloadLen caps stored request and response bodies.
const maxPayloadLen = 64 * 1024

// timestampLayout is fixed-width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTimestamp renders t the way created_at columns store it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a created_at value.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// APICall is a row in api_calls.
type APICall struct {
	ID            int64     `json:"id"`
	CallID        string    `json:"call_id"`
	SessionID     string    `json:"session_id"`
	Endpoint      string    `json:"endpoint"`
	Method        string    `json:"method"`
	StatusCode    *int      `json:"status_code,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	RequestSize   int       `json:"request_size"`
	ResponseSize  int       `json:"response_size"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorMessage  string    `json:"error,omitempty"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	Request       string    `json:"request,omitempty"`
	Response      string    `json:"response,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// StageEvent is a row in stage_events.
type StageEvent struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Generation uint64    `json:"generation"`
	Stage      string    `json:"stage"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
	DurationMs *int64    `json:"duration_ms,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CallFilter narrows ListAPICalls. Zero fields match everything.
type CallFilter struct {
	SessionID  string
	Endpoint   string
	FailedOnly bool
	Limit      int
}

// EncodePayload renders v as JSON for storage, truncated to a fixed size.
// Strings are stored as-is.
func EncodePayload(v any) string {
	if v == nil {
		return ""
	}
	var s string
	if str, ok := v.(string); ok {
		s = str
	} else {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("<unencodable: %v>", err)
		}
		s = string(data)
	}
	if len(s) > maxPayloadLen {
		s = s[:maxPayloadLen] + "...(truncated)"
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// LogAPICall inserts a backend call record.
func (d *DB) LogAPICall(c APICall) error {
	var missing sql.NullString
	if len(c.MissingFields) > 0 {
		missing = nullString(strings.Join(c.MissingFields, ","))
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := d.exec(
		`INSERT INTO api_calls (call_id, session_id, endpoint, method, status_code, duration_ms,
		 request_size, response_size, error_kind, error_message, missing_fields, request, response, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CallID, c.SessionID, c.Endpoint, c.Method, c.StatusCode, c.DurationMs,
		c.RequestSize, c.ResponseSize, nullString(c.ErrorKind), nullString(c.ErrorMessage), missing,
		nullString(c.Request), nullString(c.Response), FormatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("log api call: %w", err)
	}
	return nil
}

// ListAPICalls returns matching call records, newest first.
func (d *DB) ListAPICalls(f CallFilter) ([]APICall, error) {
	q := `SELECT id, call_id, session_id, endpoint, method, status_code, duration_ms, request_size,
	      response_size, error_kind, error_message, missing_fields, request, response, created_at
	      FROM api_calls WHERE 1=1`
	var args []any
	if f.SessionID != "" {
		q += " AND session_id = ?"
		args = append(args, f.SessionID)
	}
	if f.Endpoint != "" {
		q += " AND endpoint = ?"
		args = append(args, f.Endpoint)
	}
	if f.FailedOnly {
		q += " AND error_kind IS NOT NULL"
	}
	q += " ORDER BY id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list api calls: %w", err)
	}
	defer rows.Close()

	var calls []APICall
	for rows.Next() {
		var c APICall
		var status sql.NullInt64
		var kind, msg, missing, req, resp sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &c.CallID, &c.SessionID, &c.Endpoint, &c.Method, &status, &c.DurationMs,
			&c.RequestSize, &c.ResponseSize, &kind, &msg, &missing, &req, &resp, &created); err != nil {
			return nil, fmt.Errorf("scan api call: %w", err)
		}
		if status.Valid {
			v := int(status.Int64)
			c.StatusCode = &v
		}
		c.ErrorKind = kind.String
		c.ErrorMessage = msg.String
		if missing.Valid && missing.String != "" {
			c.MissingFields = strings.Split(missing.String, ",")
		}
		c.Request = req.String
		c.Response = resp.String
		c.CreatedAt, _ = ParseTimestamp(created)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// LogStageEvent inserts a stage transition.
func (d *DB) LogStageEvent(e StageEvent) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := d.exec(
		`INSERT INTO stage_events (session_id, generation, stage, from_status, to_status, attempt, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, int64(e.Generation), e.Stage, e.From, e.To, e.Attempt, nullString(e.Error), e.DurationMs,
		FormatTimestamp(created),
	)
	if err != nil {
		return fmt.Errorf("log stage event: %w", err)
	}
	return nil
}

// ListStageEvents returns transitions for sessionID (all sessions when
// empty) in the order they were recorded. limit <= 0 means no limit; a
// limit keeps the most recent events.
func (d *DB) ListStageEvents(sessionID string, limit int) ([]StageEvent, error) {
	q := `SELECT id, session_id, generation, stage, from_status, to_status, attempt, error, duration_ms, created_at
	      FROM stage_events`
	var args []any
	if sessionID != "" {
		q += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	q += " ORDER BY id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list stage events: %w", err)
	}
	defer rows.Close()

	var events []StageEvent
	for rows.Next() {
		var e StageEvent
		var gen int64
		var errText sql.NullString
		var dur sql.NullInt64
		var created string
		if err := rows.Scan(&e.ID, &e.SessionID, &gen, &e.Stage, &e.From, &e.To, &e.Attempt, &errText, &dur, &created); err != nil {
			return nil, fmt.Errorf("scan stage event: %w", err)
		}
		e.Generation = uint64(gen)
		e.Error = errText.String
		if dur.Valid {
			v := dur.Int64
			e.DurationMs = &v
		}
		e.CreatedAt, _ = ParseTimestamp(created)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
