// Package pipeline sequences the workflow stages against a backend adapter.
//
// A Machine owns the per-stage status, the accumulated results and the
// last-error slot. Callers drive it only through its actions; every action
// checks its gating predicate and marks the stage loading inside one critical
// section, so at most one attempt per stage is ever in flight. Adapter calls
// run outside the lock. Reset bumps a generation counter and attempts that
// settle under an older generation are discarded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/report"
	"github.com/lucasnoah/patchpilot/internal/result"
)

// TransitionHook observes stage status changes.
type TransitionHook func(Transition)

// Machine is the pipeline state machine. It is safe for concurrent use.
type Machine struct {
	id       string
	logger   *slog.Logger
	now      func() time.Time
	template string
	hooks    []TransitionHook

	mu         sync.Mutex
	adapter    backend.Adapter
	generation uint64
	stages     map[Stage]*StageState
	data       Data
	video      *backend.Video
	targetURL  string
	current    Stage
	lastErr    *LastError
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithReportTemplate sets the template used by RunExport.
func WithReportTemplate(tmpl string) Option {
	return func(m *Machine) {
		m.template = tmpl
	}
}

// WithTransitionHook registers fn for every status change. Hooks run in
// registration order on the goroutine that caused the change.
func WithTransitionHook(fn TransitionHook) Option {
	return func(m *Machine) {
		m.hooks = append(m.hooks, fn)
	}
}

// WithSessionID fixes the session identifier instead of generating one.
func WithSessionID(id string) Option {
	return func(m *Machine) {
		m.id = id
	}
}

// New creates a Machine with every stage idle.
func New(adapter backend.Adapter, opts ...Option) *Machine {
	m := &Machine{
		adapter: adapter,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.id == "" {
		m.id = uuid.NewString()
	}
	m.stages = freshStages()
	return m
}

func freshStages() map[Stage]*StageState {
	stages := make(map[Stage]*StageState, len(Stages))
	for _, s := range Stages {
		stages[s] = &StageState{Status: StatusIdle}
	}
	return stages
}

// SessionID identifies this machine in logs and telemetry.
func (m *Machine) SessionID() string {
	return m.id
}

// SetAdapter swaps the backend. Attempts already in flight keep the adapter
// they started with.
func (m *Machine) SetAdapter(a backend.Adapter) {
	m.mu.Lock()
	m.adapter = a
	m.mu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		SessionID:    m.id,
		Stages:       make(map[Stage]StageState, len(m.stages)),
		Data:         m.data.clone(),
		Video:        m.video,
		CurrentStage: m.current,
	}
	for st, state := range m.stages {
		s.Stages[st] = state.clone()
	}
	if m.lastErr != nil {
		le := *m.lastErr
		le.MissingFields = append([]string(nil), m.lastErr.MissingFields...)
		if le.StatusCode != nil {
			code := *le.StatusCode
			le.StatusCode = &code
		}
		s.LastError = &le
	}
	return s
}

// precondition reports why stage cannot start now, or nil. Callers hold mu.
func (m *Machine) precondition(stage Stage) error {
	if m.stages[stage].Status == StatusLoading {
		return &PreconditionError{Stage: stage, Reason: "already in progress"}
	}
	for _, up := range stage.Upstream() {
		if m.stages[up].Status != StatusSuccess {
			return &PreconditionError{Stage: stage, Reason: fmt.Sprintf("%s has not succeeded", up)}
		}
	}
	if stage == StagePatch && !m.data.RunResult.Reproduced() {
		return &PreconditionError{Stage: stage, Reason: "the test run did not reproduce a failure"}
	}
	return nil
}

func (m *Machine) can(stage Stage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.precondition(stage) == nil
}

// CanAnalyze reports whether RunAnalyze may be invoked.
func (m *Machine) CanAnalyze() bool { return m.can(StageAnalyze) }

// CanGenerateTest reports whether RunGenerateTest may be invoked.
func (m *Machine) CanGenerateTest() bool { return m.can(StageTest) }

// CanRunTest reports whether RunRunTest may be invoked.
func (m *Machine) CanRunTest() bool { return m.can(StageRun) }

// CanGeneratePatch reports whether RunGeneratePatch may be invoked. It is
// false after a passing test run.
func (m *Machine) CanGeneratePatch() bool { return m.can(StagePatch) }

// CanExport reports whether RunExport may be invoked.
func (m *Machine) CanExport() bool { return m.can(StageExport) }

// attempt is one started stage action, with the inputs it captured.
type attempt struct {
	stage      Stage
	generation uint64
	number     int
	adapter    backend.Adapter
	video      *backend.Video
	targetURL  string
	data       Data
}

// begin checks the gate and marks stage loading. setup, if non-nil, runs
// under the lock once the gate has passed.
func (m *Machine) begin(stage Stage, setup func()) (*attempt, error) {
	m.mu.Lock()
	if err := m.precondition(stage); err != nil {
		m.mu.Unlock()
		m.logger.Warn("stage action rejected", "session", m.id, "stage", stage, "reason", err)
		return nil, err
	}
	if setup != nil {
		setup()
	}

	st := m.stages[stage]
	from := st.Status
	now := m.now()
	st.Status = StatusLoading
	st.Error = ""
	st.StartedAt = &now
	st.FinishedAt = nil
	st.Attempt++
	m.current = stage

	a := &attempt{
		stage:      stage,
		generation: m.generation,
		number:     st.Attempt,
		adapter:    m.adapter,
		video:      m.video,
		targetURL:  m.targetURL,
		data:       m.data.clone(),
	}
	tr := m.transition(stage, from, *st)
	m.mu.Unlock()

	m.logger.Info("stage started", "session", m.id, "stage", stage, "attempt", a.number)
	m.notify(tr)
	return a, nil
}

// settle records the outcome of a. On success apply stores the result.
func (m *Machine) settle(a *attempt, err error, apply func(*Data)) error {
	m.mu.Lock()
	if a.generation != m.generation {
		m.mu.Unlock()
		m.logger.Debug("discarding stale stage result", "session", m.id, "stage", a.stage, "attempt", a.number)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStaleAttempt, err)
		}
		return ErrStaleAttempt
	}

	st := m.stages[a.stage]
	now := m.now()
	st.FinishedAt = &now
	if err == nil {
		apply(&m.data)
		if !m.data.has(a.stage) {
			err = fmt.Errorf("%s produced no result", a.stage)
		}
	}
	if err != nil {
		st.Status = StatusError
		st.Error = Describe(err)
		m.data.clear(a.stage)
		m.lastErr = lastErrorFor(a.stage, err)
		m.lastErr.Timestamp = now.UTC()
	} else {
		st.Status = StatusSuccess
	}
	tr := m.transition(a.stage, StatusLoading, *st)
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("stage failed", "session", m.id, "stage", a.stage, "attempt", a.number,
			"duration_ms", tr.Duration.Milliseconds(), "error", tr.Error)
	} else {
		m.logger.Info("stage succeeded", "session", m.id, "stage", a.stage, "attempt", a.number,
			"duration_ms", tr.Duration.Milliseconds())
	}
	m.notify(tr)
	return err
}

// transition builds the hook payload for st. Callers hold mu.
func (m *Machine) transition(stage Stage, from Status, st StageState) Transition {
	tr := Transition{
		SessionID:  m.id,
		Generation: m.generation,
		Stage:      stage,
		From:       from,
		To:         st.Status,
		Attempt:    st.Attempt,
		Error:      st.Error,
		At:         m.now().UTC(),
	}
	if d, ok := st.Duration(); ok {
		tr.Duration = d
	}
	return tr
}

func (m *Machine) notify(trs ...Transition) {
	for _, tr := range trs {
		for _, h := range m.hooks {
			h(tr)
		}
	}
}

// SetVideo selects the recording to analyze. It always succeeds for a
// non-nil video and marks upload successful. Results of later stages are
// kept.
func (m *Machine) SetVideo(v *backend.Video) error {
	if v == nil {
		return fmt.Errorf("no video selected")
	}

	m.mu.Lock()
	st := m.stages[StageUpload]
	from := st.Status
	now := m.now()
	st.Status = StatusSuccess
	st.Error = ""
	st.StartedAt = &now
	st.FinishedAt = &now
	st.Attempt++
	m.video = v
	m.current = StageUpload
	tr := m.transition(StageUpload, from, *st)
	m.mu.Unlock()

	m.logger.Info("video selected", "session", m.id, "file", v.Name, "size", v.Size)
	m.notify(tr)
	return nil
}

// RunAnalyze sends the selected video to the adapter.
func (m *Machine) RunAnalyze(ctx context.Context) error {
	a, err := m.begin(StageAnalyze, nil)
	if err != nil {
		return err
	}
	out, err := a.adapter.AnalyzeVideo(ctx, a.video)
	return m.settle(a, err, func(d *Data) { d.Analysis = out })
}

// RunGenerateTest generates a test from the analysis. A non-empty targetURL
// overrides the analysis target and is remembered for Retry.
func (m *Machine) RunGenerateTest(ctx context.Context, targetURL string) error {
	a, err := m.begin(StageTest, func() {
		if targetURL != "" {
			m.targetURL = targetURL
		}
	})
	if err != nil {
		return err
	}
	out, err := a.adapter.GenerateTest(ctx, a.data.Analysis, a.targetURL)
	return m.settle(a, err, func(d *Data) { d.Test = out })
}

// RunRunTest executes the generated test.
func (m *Machine) RunRunTest(ctx context.Context) error {
	a, err := m.begin(StageRun, nil)
	if err != nil {
		return err
	}
	out, err := a.adapter.RunTest(ctx, a.data.Test)
	return m.settle(a, err, func(d *Data) { d.RunResult = out })
}

// RunGeneratePatch asks for a fix. It requires a run that reproduced the
// failure.
func (m *Machine) RunGeneratePatch(ctx context.Context) error {
	a, err := m.begin(StagePatch, nil)
	if err != nil {
		return err
	}
	out, err := a.adapter.GeneratePatch(ctx, backend.PatchInput{
		Analysis: a.data.Analysis,
		Run:      a.data.RunResult,
	})
	return m.settle(a, err, func(d *Data) { d.Patch = out })
}

// RunExport renders the bug report from the accumulated results. It makes
// no adapter call.
func (m *Machine) RunExport(ctx context.Context) error {
	a, err := m.begin(StageExport, nil)
	if err != nil {
		return err
	}
	var out *result.BugReport
	if err = ctx.Err(); err == nil {
		out, err = report.Build(report.Input{
			Analysis: a.data.Analysis,
			Test:     a.data.Test,
			Run:      a.data.RunResult,
			Patch:    a.data.Patch,
		}, m.template)
	}
	return m.settle(a, err, func(d *Data) { d.BugReport = out })
}

// Retry repeats stage's action. Downstream results are kept.
func (m *Machine) Retry(ctx context.Context, stage Stage) error {
	switch stage {
	case StageUpload:
		return ErrRetryUnsupported
	case StageAnalyze:
		return m.RunAnalyze(ctx)
	case StageTest:
		return m.RunGenerateTest(ctx, "")
	case StageRun:
		return m.RunRunTest(ctx)
	case StagePatch:
		return m.RunGeneratePatch(ctx)
	case StageExport:
		return m.RunExport(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
}

// Run invokes the action for stage. Upload is not an action; use SetVideo.
func (m *Machine) Run(ctx context.Context, stage Stage) error {
	if stage == StageUpload {
		return errors.New("upload has no action; use SetVideo")
	}
	return m.Retry(ctx, stage)
}

// Reset returns every stage to idle and clears all results. Attempts still
// in flight are discarded when they settle.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.generation++
	var trs []Transition
	for _, s := range Stages {
		st := m.stages[s]
		if st.Status != StatusIdle {
			trs = append(trs, Transition{
				SessionID:  m.id,
				Generation: m.generation,
				Stage:      s,
				From:       st.Status,
				To:         StatusIdle,
				Attempt:    st.Attempt,
				At:         m.now().UTC(),
			})
		}
	}
	m.stages = freshStages()
	m.data = Data{}
	m.video = nil
	m.targetURL = ""
	m.current = ""
	m.lastErr = nil
	gen := m.generation
	m.mu.Unlock()

	m.logger.Info("pipeline reset", "session", m.id, "generation", gen)
	m.notify(trs...)
}
