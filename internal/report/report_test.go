package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/patchpilot/internal/result"
)

func TestRender_Vars(t *testing.T) {
	out, err := Render("Hello {{name}}, stage {{stage}}.", Vars{"name": "Ada", "stage": "patch"})
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, stage patch.", out)
}

func TestRender_ReportsEveryMissingVar(t *testing.T) {
	_, err := Render("{{a}} {{b}} {{c}}", Vars{"b": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "c")
	assert.NotContains(t, err.Error(), "b,")
}

func TestRender_Conditionals(t *testing.T) {
	tmpl := "A{{#if x}}[x={{x}}{{#if y}} y={{y}}{{/if}}]{{/if}}B"

	out, err := Render(tmpl, Vars{"x": "1", "y": "2"})
	require.NoError(t, err)
	assert.Equal(t, "A[x=1 y=2]B", out)

	out, err = Render(tmpl, Vars{"x": "1", "y": ""})
	require.NoError(t, err)
	assert.Equal(t, "A[x=1]B", out)

	out, err = Render(tmpl, Vars{})
	require.NoError(t, err)
	assert.Equal(t, "AB", out)
}

func TestRender_ValuesAreNotReexpanded(t *testing.T) {
	out, err := Render("{{a}}", Vars{"a": "{{b}}"})
	require.NoError(t, err)
	assert.Equal(t, "{{b}}", out)
}

func TestRender_MalformedConditionals(t *testing.T) {
	_, err := Render("x{{/if}}", Vars{})
	assert.ErrorContains(t, err, "dangling")

	_, err = Render("{{#if a}}x", Vars{"a": "1"})
	assert.ErrorContains(t, err, "unclosed")
}

func TestLoadTemplate(t *testing.T) {
	tmpl, err := LoadTemplate("")
	require.NoError(t, err)
	assert.Equal(t, BugReportTemplate, tmpl)

	path := filepath.Join(t.TempDir(), "custom.md")
	require.NoError(t, os.WriteFile(path, []byte("# {{title}}"), 0o644))
	tmpl, err = LoadTemplate(path)
	require.NoError(t, err)
	assert.Equal(t, "# {{title}}", tmpl)

	_, err = LoadTemplate(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}

func sampleInput() Input {
	shot := "https://cdn.test/shot.png"
	return Input{
		Analysis: &result.Analysis{
			Timeline: []result.TimelineEvent{
				{Timestamp: "00:00", Description: "Opens login"},
				{Timestamp: "00:12", Description: "Clicks Forgot Password"},
			},
			ReproSteps: []result.ReproStep{
				{Number: 1, Description: "Open /login"},
				{Number: 2, Description: "Click Forgot Password"},
			},
			Expected:  "Reset page opens",
			Actual:    "Blank page",
			TargetURL: "https://example.com/login",
		},
		Test: &result.GeneratedTest{Filename: "forgot.spec.ts", PlaywrightSpec: "test()"},
		Run: &result.RunResult{
			Status:        result.RunFailed,
			Stderr:        "TypeError: boom\n    at x.ts:1",
			ScreenshotURL: &shot,
		},
		Patch: &result.PatchResult{
			Diff:      "--- a/x\n+++ b/x\n",
			Rationale: "Guard the lookup.",
			Risks:     []string{"Low"},
		},
	}
}

func TestBuild_BuiltinSections(t *testing.T) {
	rep, err := Build(sampleInput(), "")
	require.NoError(t, err)
	md := rep.Markdown

	for _, section := range []string{
		"# Bug Report: Blank page",
		"## Summary", "## Timeline", "## Reproduction Steps", "## Expected Behavior",
		"## Actual Behavior", "## Test Results", "## Suggested Fix", "## Rationale",
		"## Risks", "## Generated Test",
	} {
		assert.Contains(t, md, section)
	}
	assert.Contains(t, md, "- **00:12**: Clicks Forgot Password")
	assert.Contains(t, md, "2. Click Forgot Password")
	assert.Contains(t, md, "**FAILED** (as expected, demonstrating the bug)")
	assert.Contains(t, md, "- Error: `TypeError: boom`")
	assert.Contains(t, md, "- Screenshot: https://cdn.test/shot.png")
	assert.Contains(t, md, "```diff\n--- a/x\n+++ b/x\n```")
	assert.Contains(t, md, "Target: https://example.com/login")
	assert.Contains(t, md, "- Low")
	assert.NotContains(t, md, "{{")
}

func TestBuild_PassingRunOmitsOptionalLines(t *testing.T) {
	in := sampleInput()
	in.Run = &result.RunResult{Status: result.RunSuccess}
	in.Analysis.TargetURL = ""
	in.Patch.Risks = nil

	rep, err := Build(in, "")
	require.NoError(t, err)
	md := rep.Markdown
	assert.Contains(t, md, "**SUCCESS**\n\n## Suggested Fix")
	assert.NotContains(t, md, "as expected")
	assert.NotContains(t, md, "- Error:")
	assert.NotContains(t, md, "Target:")
	assert.Contains(t, md, "## Risks\n"+none)
}

func TestBuild_Deterministic(t *testing.T) {
	a, err := Build(sampleInput(), "")
	require.NoError(t, err)
	b, err := Build(sampleInput(), "")
	require.NoError(t, err)
	assert.Equal(t, a.Markdown, b.Markdown)
}

func TestBuild_CustomTemplate(t *testing.T) {
	rep, err := Build(sampleInput(), "{{title}} / {{test_filename}} / {{run_status}}")
	require.NoError(t, err)
	assert.Equal(t, "Blank page / forgot.spec.ts / FAILED", rep.Markdown)

	_, err = Build(sampleInput(), "{{nope}}")
	assert.ErrorContains(t, err, "nope")
}

func TestBuild_RequiresAllInputs(t *testing.T) {
	in := sampleInput()
	in.Patch = nil
	_, err := Build(in, "")
	assert.Error(t, err)
}

func TestTitleFallbacks(t *testing.T) {
	assert.Equal(t, defaultTitle, title(&result.Analysis{}))
	assert.Equal(t, "Works", title(&result.Analysis{Expected: "Works"}))
	long := strings.Repeat("x", 200)
	assert.Len(t, title(&result.Analysis{Actual: long}), maxTitleLen)
}
