// Package analytics summarises stored telemetry: stage durations and
// outcomes, and backend endpoint reliability.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lucasnoah/patchpilot/internal/db"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
	Rebind(query string) string
}

func query(database DB, q string, args ...any) (*sql.Rows, error) {
	return database.Conn().Query(database.Rebind(q), args...)
}

// sinceClause appends a created_at filter when since is set.
func sinceClause(q string, since time.Time, args []any) (string, []any) {
	if since.IsZero() {
		return q, args
	}
	return q + " AND created_at >= ?", append(args, db.FormatTimestamp(since))
}

// StageDuration holds duration stats for settled attempts of a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_seconds"`
	P50   float64 `json:"p50_seconds"`
	P95   float64 `json:"p95_seconds"`
}

// QueryStageDurations returns average and percentile durations per stage,
// over attempts that settled (success or error) at or after since.
func QueryStageDurations(database DB, since time.Time) ([]StageDuration, error) {
	q := `SELECT stage, duration_ms FROM stage_events
		WHERE to_status IN ('success', 'error') AND from_status = 'loading' AND duration_ms IS NOT NULL`
	q, args := sinceClause(q, since, nil)

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var ms int64
		if err := rows.Scan(&stage, &ms); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		stageDurations[stage] = append(stageDurations[stage], float64(ms)/1000)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}
	sortByPipelineOrder(results, func(i int) string { return results[i].Stage })
	return results, nil
}

// StageOutcome counts attempts and their results for a stage.
type StageOutcome struct {
	Stage     string  `json:"stage"`
	Attempts  int     `json:"attempts"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	FirstPass float64 `json:"first_pass_pct"`
	Retried   int     `json:"retried"`
}

// QueryStageOutcomes returns per-stage attempt counts. FirstPass is the share
// of first attempts (per session and generation) that succeeded.
func QueryStageOutcomes(database DB, since time.Time) ([]StageOutcome, error) {
	q := `SELECT stage, to_status, attempt FROM stage_events
		WHERE from_status = 'loading' AND to_status IN ('success', 'error')`
	q, args := sinceClause(q, since, nil)

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage outcomes: %w", err)
	}
	defer rows.Close()

	type counts struct {
		attempts, succeeded, failed, retried int
		firstTotal, firstPassed              int
	}
	byStage := make(map[string]*counts)
	for rows.Next() {
		var stage, to string
		var attempt int
		if err := rows.Scan(&stage, &to, &attempt); err != nil {
			return nil, fmt.Errorf("scan stage outcome: %w", err)
		}
		c := byStage[stage]
		if c == nil {
			c = &counts{}
			byStage[stage] = c
		}
		c.attempts++
		if to == "success" {
			c.succeeded++
		} else {
			c.failed++
		}
		if attempt == 1 {
			c.firstTotal++
			if to == "success" {
				c.firstPassed++
			}
		} else {
			c.retried++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageOutcome
	for stage, c := range byStage {
		results = append(results, StageOutcome{
			Stage:     stage,
			Attempts:  c.attempts,
			Succeeded: c.succeeded,
			Failed:    c.failed,
			FirstPass: pct(c.firstPassed, c.firstTotal),
			Retried:   c.retried,
		})
	}
	sortByPipelineOrder(results, func(i int) string { return results[i].Stage })
	return results, nil
}

// EndpointStats summarises calls to one backend endpoint.
type EndpointStats struct {
	Endpoint    string  `json:"endpoint"`
	Calls       int     `json:"calls"`
	Failures    int     `json:"failures"`
	FailurePct  float64 `json:"failure_pct"`
	Transport   int     `json:"transport_errors"`
	Shape       int     `json:"shape_errors"`
	Other       int     `json:"other_errors"`
	AvgMs       float64 `json:"avg_ms"`
	P95Ms       float64 `json:"p95_ms"`
	MaxRequest  int     `json:"max_request_bytes"`
	MaxResponse int     `json:"max_response_bytes"`
}

// QueryEndpointStats returns call volume, failure mix and latency per endpoint.
func QueryEndpointStats(database DB, since time.Time) ([]EndpointStats, error) {
	q := `SELECT endpoint, duration_ms, error_kind, request_size, response_size FROM api_calls WHERE 1=1`
	q, args := sinceClause(q, since, nil)

	rows, err := query(database, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query endpoint stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*EndpointStats)
	durations := make(map[string][]float64)
	for rows.Next() {
		var endpoint string
		var ms int64
		var kind sql.NullString
		var reqSize, respSize int
		if err := rows.Scan(&endpoint, &ms, &kind, &reqSize, &respSize); err != nil {
			return nil, fmt.Errorf("scan endpoint stats: %w", err)
		}
		s := stats[endpoint]
		if s == nil {
			s = &EndpointStats{Endpoint: endpoint}
			stats[endpoint] = s
		}
		s.Calls++
		switch kind.String {
		case "":
		case "transport":
			s.Failures++
			s.Transport++
		case "shape":
			s.Failures++
			s.Shape++
		default:
			s.Failures++
			s.Other++
		}
		s.MaxRequest = max(s.MaxRequest, reqSize)
		s.MaxResponse = max(s.MaxResponse, respSize)
		durations[endpoint] = append(durations[endpoint], float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []EndpointStats
	for endpoint, s := range stats {
		d := durations[endpoint]
		sort.Float64s(d)
		s.FailurePct = pct(s.Failures, s.Calls)
		s.AvgMs = avg(d)
		s.P95Ms = percentile(d, 95)
		results = append(results, *s)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Endpoint < results[j].Endpoint
	})
	return results, nil
}

// --- helpers ---

var stageOrder = map[string]int{"upload": 0, "analyze": 1, "test": 2, "run": 3, "patch": 4, "export": 5}

// sortByPipelineOrder sorts a slice by stage position, unknown stages last.
func sortByPipelineOrder[T any](s []T, stage func(i int) string) {
	rank := func(name string) int {
		if r, ok := stageOrder[name]; ok {
			return r
		}
		return len(stageOrder)
	}
	sort.SliceStable(s, func(i, j int) bool {
		ri, rj := rank(stage(i)), rank(stage(j))
		if ri != rj {
			return ri < rj
		}
		return stage(i) < stage(j)
	})
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
