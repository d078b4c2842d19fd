package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/result"
)

// Stage is one step of the workflow.
type Stage string

const (
	StageUpload  Stage = "upload"
	StageAnalyze Stage = "analyze"
	StageTest    Stage = "test"
	StageRun     Stage = "run"
	StagePatch   Stage = "patch"
	StageExport  Stage = "export"
)

// Stages lists every stage in dependency order.
var Stages = []Stage{StageUpload, StageAnalyze, StageTest, StageRun, StagePatch, StageExport}

func (s Stage) index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of Stages.
func (s Stage) Valid() bool {
	return s.index() >= 0
}

// Upstream returns the stages that must succeed before s may run.
func (s Stage) Upstream() []Stage {
	i := s.index()
	if i <= 0 {
		return nil
	}
	return append([]Stage(nil), Stages[:i]...)
}

// ParseStage accepts a stage name in any case.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// Status is a stage's lifecycle position.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// StageState is the bookkeeping for one stage. StartedAt and FinishedAt
// always belong to the same attempt: starting an attempt clears FinishedAt.
type StageState struct {
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	Attempt    int        `json:"attempt"`
}

// Duration returns the current attempt's duration once it has settled.
func (s StageState) Duration() (time.Duration, bool) {
	if s.StartedAt == nil || s.FinishedAt == nil || s.FinishedAt.Before(*s.StartedAt) {
		return 0, false
	}
	return s.FinishedAt.Sub(*s.StartedAt), true
}

func (s StageState) clone() StageState {
	out := s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	out.DurationMs = nil
	if d, ok := s.Duration(); ok {
		ms := d.Milliseconds()
		out.DurationMs = &ms
	}
	return out
}

// Data holds one slot per producing stage. A slot is set exactly when its
// stage's status is success.
type Data struct {
	Analysis  *result.Analysis      `json:"analysis"`
	Test      *result.GeneratedTest `json:"test"`
	RunResult *result.RunResult     `json:"runResult"`
	Patch     *result.PatchResult   `json:"patch"`
	BugReport *result.BugReport     `json:"bugReport"`
}

func (d Data) clone() Data {
	return Data{
		Analysis:  d.Analysis.Clone(),
		Test:      d.Test.Clone(),
		RunResult: d.RunResult.Clone(),
		Patch:     d.Patch.Clone(),
		BugReport: d.BugReport.Clone(),
	}
}

// has reports whether stage's slot is set. Upload has no slot.
func (d *Data) has(stage Stage) bool {
	switch stage {
	case StageAnalyze:
		return d.Analysis != nil
	case StageTest:
		return d.Test != nil
	case StageRun:
		return d.RunResult != nil
	case StagePatch:
		return d.Patch != nil
	case StageExport:
		return d.BugReport != nil
	}
	return false
}

func (d *Data) clear(stage Stage) {
	switch stage {
	case StageAnalyze:
		d.Analysis = nil
	case StageTest:
		d.Test = nil
	case StageRun:
		d.RunResult = nil
	case StagePatch:
		d.Patch = nil
	case StageExport:
		d.BugReport = nil
	}
}

// LastError is a structured copy of the most recent stage failure.
type LastError struct {
	Stage         Stage     `json:"stage"`
	Kind          string    `json:"kind"` // transport, shape or other
	Endpoint      string    `json:"endpoint,omitempty"`
	StatusCode    *int      `json:"status_code,omitempty"` // nil when no response was received
	Message       string    `json:"message"`
	Details       string    `json:"details,omitempty"`
	MissingFields []string  `json:"missing_fields,omitempty"`
	Received      any       `json:"received,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Snapshot is a read-only copy of the machine state.
type Snapshot struct {
	SessionID    string               `json:"session_id"`
	Stages       map[Stage]StageState `json:"stages"`
	Data         Data                 `json:"data"`
	Video        *backend.Video       `json:"video,omitempty"`
	CurrentStage Stage                `json:"current_stage,omitempty"`
	LastError    *LastError           `json:"last_error,omitempty"`
}

// Stage returns the state of s.
func (s Snapshot) Stage(st Stage) StageState {
	return s.Stages[st]
}

// Transition describes one stage status change. It is passed to transition
// hooks after the machine lock is released.
type Transition struct {
	SessionID  string        `json:"session_id"`
	Generation uint64        `json:"generation"`
	Stage      Stage         `json:"stage"`
	From       Status        `json:"from"`
	To         Status        `json:"to"`
	Attempt    int           `json:"attempt"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	At         time.Time     `json:"at"`
}
