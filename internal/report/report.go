package report

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/patchpilot/internal/result"
)

// Input is the data a report is rendered from. Analysis, Test, Run and Patch
// must all be set.
type Input struct {
	Analysis *result.Analysis
	Test     *result.GeneratedTest
	Run      *result.RunResult
	Patch    *result.PatchResult
}

const (
	defaultTitle   = "Untitled Bug"
	maxTitleLen    = 80
	maxErrorLength = 200
	none           = "_None reported._"
)

// VarsFor derives the template variables for in.
func VarsFor(in Input) (Vars, error) {
	if in.Analysis == nil || in.Test == nil || in.Run == nil || in.Patch == nil {
		return nil, fmt.Errorf("report needs analysis, test, run result and patch")
	}
	a, run := in.Analysis, in.Run

	v := Vars{
		"title":          title(a),
		"summary":        summary(a),
		"target_url":     a.TargetURL,
		"timeline":       timeline(a.Timeline),
		"repro_steps":    reproSteps(a.ReproSteps),
		"expected":       orNone(a.Expected),
		"actual":         orNone(a.Actual),
		"test_filename":  in.Test.Filename,
		"run_status":     strings.ToUpper(string(run.Status)),
		"reproduced":     "",
		"run_error":      firstLine(run.Stderr),
		"screenshot_url": "",
		"diff":           strings.TrimRight(in.Patch.Diff, "\n"),
		"rationale":      orNone(in.Patch.Rationale),
		"risks":          bullets(in.Patch.Risks),
	}
	if run.Reproduced() {
		v["reproduced"] = "yes"
	}
	if run.ScreenshotURL != nil {
		v["screenshot_url"] = *run.ScreenshotURL
	}
	return v, nil
}

// Build renders in with tmpl; an empty tmpl uses BugReportTemplate.
func Build(in Input, tmpl string) (*result.BugReport, error) {
	if tmpl == "" {
		tmpl = BugReportTemplate
	}
	vars, err := VarsFor(in)
	if err != nil {
		return nil, err
	}
	md, err := Render(tmpl, vars)
	if err != nil {
		return nil, fmt.Errorf("render bug report: %w", err)
	}
	return &result.BugReport{Markdown: md}, nil
}

func title(a *result.Analysis) string {
	t := strings.TrimSpace(a.Actual)
	if t == "" {
		t = strings.TrimSpace(a.Expected)
	}
	if t == "" {
		return defaultTitle
	}
	return truncate(firstLine(t), maxTitleLen)
}

func summary(a *result.Analysis) string {
	switch {
	case a.Expected != "" && a.Actual != "":
		return fmt.Sprintf("Expected: %s. Instead: %s.", strings.TrimRight(a.Expected, "."), strings.TrimRight(a.Actual, "."))
	case a.Actual != "":
		return a.Actual
	default:
		return fmt.Sprintf("Recorded session with %d events and %d reproduction steps.", len(a.Timeline), len(a.ReproSteps))
	}
}

func timeline(events []result.TimelineEvent) string {
	if len(events) == 0 {
		return none
	}
	lines := make([]string, len(events))
	for i, ev := range events {
		lines[i] = fmt.Sprintf("- **%s**: %s", ev.Timestamp, ev.Description)
	}
	return strings.Join(lines, "\n")
}

func reproSteps(steps []result.ReproStep) string {
	if len(steps) == 0 {
		return none
	}
	lines := make([]string, len(steps))
	for i, st := range steps {
		lines[i] = fmt.Sprintf("%d. %s", st.Number, st.Description)
	}
	return strings.Join(lines, "\n")
}

func bullets(items []string) string {
	if len(items) == 0 {
		return none
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return none
	}
	return s
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, maxErrorLength)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n])
	}
	return s
}
