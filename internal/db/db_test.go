package db

import (
	"strings"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return d
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestMigrate_Idempotent(t *testing.T) {
	d := testDB(t)
	if err := d.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var count int
	if err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("count schema_version: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 schema_version row, got %d", count)
	}
}

func TestReset_ClearsRows(t *testing.T) {
	d := testDB(t)
	if err := d.LogStageEvent(StageEvent{SessionID: "s1", Stage: "analyze", From: "idle", To: "loading", Attempt: 1}); err != nil {
		t.Fatalf("LogStageEvent: %v", err)
	}
	if err := d.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	events, err := d.ListStageEvents("", 0)
	if err != nil {
		t.Fatalf("ListStageEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after reset, got %d", len(events))
	}
}

func TestLogAPICall_RoundTrip(t *testing.T) {
	d := testDB(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	calls := []APICall{
		{CallID: "c1", SessionID: "s1", Endpoint: "/analyze", Method: "POST", StatusCode: intPtr(200),
			DurationMs: 120, RequestSize: 2048, ResponseSize: 512, Response: `{"summary":"x"}`, CreatedAt: at},
		{CallID: "c2", SessionID: "s1", Endpoint: "/run-test", Method: "POST",
			DurationMs: 5, ErrorKind: "transport", ErrorMessage: "connection refused", CreatedAt: at.Add(time.Second)},
		{CallID: "c3", SessionID: "s2", Endpoint: "/generate-test", Method: "POST", StatusCode: intPtr(200),
			DurationMs: 40, ErrorKind: "shape", MissingFields: []string{"playwrightSpec", "filename"}, CreatedAt: at.Add(2 * time.Second)},
	}
	for _, c := range calls {
		if err := d.LogAPICall(c); err != nil {
			t.Fatalf("LogAPICall(%s): %v", c.CallID, err)
		}
	}

	got, err := d.ListAPICalls(CallFilter{})
	if err != nil {
		t.Fatalf("ListAPICalls: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(got))
	}
	if got[0].CallID != "c3" || got[2].CallID != "c1" {
		t.Errorf("expected newest first, got %s..%s", got[0].CallID, got[2].CallID)
	}
	if strings.Join(got[0].MissingFields, ",") != "playwrightSpec,filename" {
		t.Errorf("missing fields = %v", got[0].MissingFields)
	}
	if got[1].StatusCode != nil {
		t.Errorf("expected nil status code for unreachable call, got %d", *got[1].StatusCode)
	}
	if got[2].StatusCode == nil || *got[2].StatusCode != 200 {
		t.Errorf("expected status 200, got %v", got[2].StatusCode)
	}
	if !got[2].CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want %v", got[2].CreatedAt, at)
	}
	if got[2].Response != `{"summary":"x"}` {
		t.Errorf("response = %q", got[2].Response)
	}
}

func TestListAPICalls_Filters(t *testing.T) {
	d := testDB(t)
	for i, ep := range []string{"/analyze", "/run-test", "/run-test", "/generate-patch"} {
		c := APICall{CallID: ep, SessionID: "s1", Endpoint: ep, Method: "POST", DurationMs: int64(i)}
		if i == 2 {
			c.ErrorKind = "transport"
		}
		if err := d.LogAPICall(c); err != nil {
			t.Fatalf("LogAPICall: %v", err)
		}
	}
	if err := d.LogAPICall(APICall{CallID: "other", SessionID: "s2", Endpoint: "/analyze", Method: "POST"}); err != nil {
		t.Fatalf("LogAPICall: %v", err)
	}

	tests := []struct {
		name   string
		filter CallFilter
		want   int
	}{
		{"all", CallFilter{}, 5},
		{"session", CallFilter{SessionID: "s1"}, 4},
		{"endpoint", CallFilter{Endpoint: "/run-test"}, 2},
		{"failed", CallFilter{FailedOnly: true}, 1},
		{"limit", CallFilter{Limit: 2}, 2},
		{"session and endpoint", CallFilter{SessionID: "s2", Endpoint: "/analyze"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ListAPICalls(tt.filter)
			if err != nil {
				t.Fatalf("ListAPICalls: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d calls, got %d", tt.want, len(got))
			}
		})
	}
}

func TestStageEvents_OrderAndLimit(t *testing.T) {
	d := testDB(t)
	seq := []StageEvent{
		{SessionID: "s1", Generation: 0, Stage: "analyze", From: "idle", To: "loading", Attempt: 1},
		{SessionID: "s1", Generation: 0, Stage: "analyze", From: "loading", To: "error", Attempt: 1, Error: "boom", DurationMs: int64Ptr(15)},
		{SessionID: "s1", Generation: 0, Stage: "analyze", From: "error", To: "loading", Attempt: 2},
		{SessionID: "s1", Generation: 0, Stage: "analyze", From: "loading", To: "success", Attempt: 2, DurationMs: int64Ptr(30)},
		{SessionID: "s2", Generation: 1, Stage: "upload", From: "idle", To: "success", Attempt: 1},
	}
	for _, e := range seq {
		if err := d.LogStageEvent(e); err != nil {
			t.Fatalf("LogStageEvent: %v", err)
		}
	}

	events, err := d.ListStageEvents("s1", 0)
	if err != nil {
		t.Fatalf("ListStageEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].To != "loading" || events[3].To != "success" {
		t.Errorf("expected oldest first, got %s..%s", events[0].To, events[3].To)
	}
	if events[1].Error != "boom" || events[1].DurationMs == nil || *events[1].DurationMs != 15 {
		t.Errorf("unexpected error event: %+v", events[1])
	}
	if events[0].DurationMs != nil {
		t.Errorf("expected nil duration on loading event")
	}

	recent, err := d.ListStageEvents("s1", 2)
	if err != nil {
		t.Fatalf("ListStageEvents: %v", err)
	}
	if len(recent) != 2 || recent[0].Attempt != 2 || recent[1].To != "success" {
		t.Errorf("expected the two most recent events, got %+v", recent)
	}

	all, err := d.ListStageEvents("", 0)
	if err != nil {
		t.Fatalf("ListStageEvents: %v", err)
	}
	if len(all) != 5 || all[4].Generation != 1 {
		t.Errorf("unexpected events across sessions: %+v", all)
	}
}

func TestLogStageEvent_RejectsUnknownStatus(t *testing.T) {
	d := testDB(t)
	err := d.LogStageEvent(StageEvent{SessionID: "s1", Stage: "analyze", From: "idle", To: "done", Attempt: 1})
	if err == nil {
		t.Fatal("expected check constraint violation")
	}
}

func TestDialectFor(t *testing.T) {
	tests := map[string]Dialect{
		"postgres://u:p@localhost/db": DialectPostgres,
		"postgresql://localhost/db":   DialectPostgres,
		":memory:":                    DialectSQLite,
		"/home/me/.patchpilot/tel.db": DialectSQLite,
		"file:tel.db?cache=shared":    DialectSQLite,
	}
	for dsn, want := range tests {
		if got := DialectFor(dsn); got != want {
			t.Errorf("DialectFor(%q) = %s, want %s", dsn, got, want)
		}
	}
}

func TestRebind(t *testing.T) {
	pg := &DB{dialect: DialectPostgres}
	if got := pg.Rebind("INSERT INTO t (a, b) VALUES (?, ?)"); got != "INSERT INTO t (a, b) VALUES ($1, $2)" {
		t.Errorf("postgres rebind = %q", got)
	}
	lite := &DB{dialect: DialectSQLite}
	if got := lite.Rebind("SELECT ? "); got != "SELECT ? " {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestEncodePayload(t *testing.T) {
	if got := EncodePayload(nil); got != "" {
		t.Errorf("nil payload = %q", got)
	}
	if got := EncodePayload("raw"); got != "raw" {
		t.Errorf("string payload = %q", got)
	}
	if got := EncodePayload(map[string]int{"a": 1}); got != `{"a":1}` {
		t.Errorf("map payload = %q", got)
	}
	big := EncodePayload(strings.Repeat("x", maxPayloadLen+10))
	if !strings.HasSuffix(big, "...(truncated)") || len(big) != maxPayloadLen+len("...(truncated)") {
		t.Errorf("expected truncated payload, got len %d", len(big))
	}
}
