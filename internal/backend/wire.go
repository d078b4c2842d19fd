package backend

import (
	"strings"

	"github.com/lucasnoah/patchpilot/internal/normalize"
	"github.com/lucasnoah/patchpilot/internal/result"
)

// The remote service speaks a slightly different dialect than the canonical
// records: timeline offsets are integer seconds, repro steps are plain
// strings and the analysis carries a title.

const (
	defaultTitle   = "Bug Analysis"
	maxTitleLen    = 100
	noErrorLog     = "No error log available"
	errorLogJoiner = "\n\n--- Output ---\n\n"
)

type wireTimelineItem struct {
	T     int    `json:"t"`
	Event string `json:"event"`
}

type wireAnalysis struct {
	Title      string             `json:"title"`
	Timeline   []wireTimelineItem `json:"timeline"`
	ReproSteps []string           `json:"reproSteps"`
	Expected   string             `json:"expected"`
	Actual     string             `json:"actual"`
	TargetURL  *string            `json:"targetUrl"`
}

type wireTestRequest struct {
	PlaywrightSpec string `json:"playwrightSpec"`
	Filename       string `json:"filename"`
}

type wirePatchRequest struct {
	Analysis     wireAnalysis      `json:"analysis"`
	ErrorLog     string            `json:"error_log"`
	RunResult    *result.RunResult `json:"run_result"`
	FailingTest  *string           `json:"failing_test"`
	OriginalCode *string           `json:"original_code"`
}

func toWireAnalysis(a *result.Analysis, title, targetURL string) wireAnalysis {
	w := wireAnalysis{
		Title:      title,
		Timeline:   make([]wireTimelineItem, 0),
		ReproSteps: make([]string, 0),
	}
	if a != nil {
		for _, ev := range a.Timeline {
			w.Timeline = append(w.Timeline, wireTimelineItem{
				T:     normalize.ParseTimestamp(ev.Timestamp),
				Event: ev.Description,
			})
		}
		for _, st := range a.ReproSteps {
			w.ReproSteps = append(w.ReproSteps, st.Description)
		}
		w.Expected = a.Expected
		w.Actual = a.Actual
		if targetURL == "" {
			targetURL = a.TargetURL
		}
	}
	if targetURL != "" {
		w.TargetURL = &targetURL
	}
	return w
}

func testTitle(a *result.Analysis) string {
	if a == nil || a.Expected == "" {
		return defaultTitle
	}
	return a.Expected
}

func patchTitle(a *result.Analysis) string {
	t := testTitle(a)
	if r := []rune(t); len(r) > maxTitleLen {
		return string(r[:maxTitleLen])
	}
	return t
}

func errorLog(run *result.RunResult) string {
	if run == nil {
		return noErrorLog
	}
	var parts []string
	for _, s := range []string{run.Stderr, run.Stdout} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return noErrorLog
	}
	return strings.Join(parts, errorLogJoiner)
}

func toWirePatchRequest(in PatchInput) wirePatchRequest {
	return wirePatchRequest{
		Analysis:  toWireAnalysis(in.Analysis, patchTitle(in.Analysis), ""),
		ErrorLog:  errorLog(in.Run),
		RunResult: in.Run,
	}
}
