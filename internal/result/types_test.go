package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalysisCloneIsDeep(t *testing.T) {
	orig := &Analysis{
		Timeline:   []TimelineEvent{{Timestamp: "00:01", Description: "open page"}},
		ReproSteps: []ReproStep{{Number: 1, Description: "open page"}},
		Expected:   "works",
		Actual:     "crashes",
	}
	c := orig.Clone()
	c.Timeline[0].Description = "changed"
	c.ReproSteps[0].Number = 9

	assert.Equal(t, "open page", orig.Timeline[0].Description)
	assert.Equal(t, 1, orig.ReproSteps[0].Number)
}

func TestRunResultCloneCopiesScreenshot(t *testing.T) {
	url := "https://example.com/shot.png"
	orig := &RunResult{Status: RunFailed, ScreenshotURL: &url}
	c := orig.Clone()
	*c.ScreenshotURL = "other"

	assert.Equal(t, "https://example.com/shot.png", *orig.ScreenshotURL)
}

func TestPatchCloneCopiesRisks(t *testing.T) {
	orig := &PatchResult{Diff: "d", Rationale: "r", Risks: []string{"low"}}
	c := orig.Clone()
	c.Risks[0] = "high"
	assert.Equal(t, "low", orig.Risks[0])
}

func TestCloneNil(t *testing.T) {
	var a *Analysis
	var g *GeneratedTest
	var r *RunResult
	var p *PatchResult
	var b *BugReport
	assert.Nil(t, a.Clone())
	assert.Nil(t, g.Clone())
	assert.Nil(t, r.Clone())
	assert.Nil(t, p.Clone())
	assert.Nil(t, b.Clone())
}

func TestReproduced(t *testing.T) {
	assert.True(t, (&RunResult{Status: RunFailed}).Reproduced())
	assert.False(t, (&RunResult{Status: RunSuccess}).Reproduced())
	var r *RunResult
	assert.False(t, r.Reproduced())
}
