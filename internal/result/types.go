// Package result holds the canonical records produced by each pipeline stage.
// Every backend response is normalized into one of these shapes before the
// pipeline sees it.
package result

// RunStatus is the outcome of executing a generated test.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// TimelineEvent is one observed moment in the recorded video.
type TimelineEvent struct {
	Timestamp   string `json:"timestamp"` // MM:SS
	Description string `json:"description"`
}

// ReproStep is a numbered reproduction step. Numbers are always 1..n in order.
type ReproStep struct {
	Number      int    `json:"number"`
	Description string `json:"description"`
}

// Analysis is the result of analyzing an uploaded video.
type Analysis struct {
	Timeline   []TimelineEvent `json:"timeline"`
	ReproSteps []ReproStep     `json:"reproSteps"`
	Expected   string          `json:"expected"`
	Actual     string          `json:"actual"`
	TargetURL  string          `json:"targetUrl"`
}

// GeneratedTest is a Playwright spec reproducing the analyzed bug.
type GeneratedTest struct {
	PlaywrightSpec string `json:"playwrightSpec"`
	Filename       string `json:"filename"`
}

// RunResult is the outcome of running a GeneratedTest.
type RunResult struct {
	Status        RunStatus `json:"status"`
	Stdout        string    `json:"stdout"`
	Stderr        string    `json:"stderr"`
	ScreenshotURL *string   `json:"screenshotUrl"`
}

// Reproduced reports whether the run actually reproduced a failure.
func (r *RunResult) Reproduced() bool {
	return r != nil && r.Status == RunFailed
}

// PatchResult is a proposed fix for the reproduced failure.
type PatchResult struct {
	Diff      string   `json:"diff"`
	Rationale string   `json:"rationale"`
	Risks     []string `json:"risks"`
}

// BugReport is the exported markdown summary of the whole pipeline.
type BugReport struct {
	Markdown string `json:"markdown"`
}

// Clone returns a deep copy of a.
func (a *Analysis) Clone() *Analysis {
	if a == nil {
		return nil
	}
	c := *a
	c.Timeline = append([]TimelineEvent{}, a.Timeline...)
	c.ReproSteps = append([]ReproStep{}, a.ReproSteps...)
	return &c
}

// Clone returns a copy of t.
func (t *GeneratedTest) Clone() *GeneratedTest {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Clone returns a deep copy of r.
func (r *RunResult) Clone() *RunResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.ScreenshotURL != nil {
		s := *r.ScreenshotURL
		c.ScreenshotURL = &s
	}
	return &c
}

// Clone returns a deep copy of p.
func (p *PatchResult) Clone() *PatchResult {
	if p == nil {
		return nil
	}
	c := *p
	c.Risks = append([]string{}, p.Risks...)
	return &c
}

// Clone returns a copy of b.
func (b *BugReport) Clone() *BugReport {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
