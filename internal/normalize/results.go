package normalize

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/patchpilot/internal/result"
)

// Test normalizes a /generate-test response. Both playwrightSpec and
// filename are required and must be non-empty.
func Test(raw any) (*result.GeneratedTest, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, newShapeError("test", []string{RootField}, raw)
	}

	var f fields
	out := &result.GeneratedTest{
		PlaywrightSpec: f.requiredString(obj, "playwrightSpec"),
		Filename:       f.requiredString(obj, "filename"),
	}
	if !f.ok() {
		return nil, newShapeError("test", f.missing, raw)
	}
	return out, nil
}

// runStatuses maps every accepted status literal to its canonical value.
// The backend reports "passed"; "success" is accepted for payloads that are
// already canonical.
var runStatuses = map[string]result.RunStatus{
	"passed":  result.RunSuccess,
	"success": result.RunSuccess,
	"failed":  result.RunFailed,
}

// Run normalizes a /run-test response. status must be one of the literals in
// runStatuses; stdout, stderr and screenshotUrl are optional.
func Run(raw any) (*result.RunResult, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, newShapeError("run", []string{RootField}, raw)
	}

	var f fields
	out := &result.RunResult{}

	v, _, found := lookup(obj, "status")
	s, _ := v.(string)
	status, known := runStatuses[s]
	if !found || !known {
		f.add("status")
	}
	out.Status = status

	out.Stdout = f.optionalString(obj, "stdout")
	out.Stderr = f.optionalString(obj, "stderr")
	if shot := f.optionalString(obj, "screenshotUrl"); shot != "" {
		out.ScreenshotURL = &shot
	}

	if !f.ok() {
		return nil, newShapeError("run", f.missing, raw)
	}
	return out, nil
}

// Patch normalizes a /generate-patch response. rationale may be a string or
// a list of strings (joined by newlines); risks must be a list of strings.
func Patch(raw any) (*result.PatchResult, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, newShapeError("patch", []string{RootField}, raw)
	}

	var f fields
	out := &result.PatchResult{
		Diff:      f.requiredString(obj, "diff"),
		Rationale: rationale(obj, &f),
		Risks:     []string{},
	}

	for i, r := range f.requiredArray(obj, "risks") {
		s, ok := r.(string)
		if !ok {
			f.add(fmt.Sprintf("risks[%d]", i))
			continue
		}
		out.Risks = append(out.Risks, s)
	}

	if !f.ok() {
		return nil, newShapeError("patch", f.missing, raw)
	}
	return out, nil
}

func rationale(obj map[string]any, f *fields) string {
	v, _, found := lookup(obj, "rationale")
	if !found {
		f.add("rationale")
		return ""
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			f.add("rationale")
		}
		return x
	case []any:
		lines := make([]string, 0, len(x))
		for _, el := range x {
			s, ok := el.(string)
			if !ok {
				f.add("rationale")
				return ""
			}
			lines = append(lines, s)
		}
		if len(lines) == 0 {
			f.add("rationale")
		}
		return strings.Join(lines, "\n")
	default:
		f.add("rationale")
		return ""
	}
}
