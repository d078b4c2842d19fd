package normalize

import (
	"fmt"

	"github.com/lucasnoah/patchpilot/internal/result"
)

// Analysis normalizes an /analyze response.
//
// timeline and reproSteps are required lists. Each element is validated on
// its own and a malformed element fails the whole payload: step numbering is
// derived from position, so a dropped element would shift every later step.
func Analysis(raw any) (*result.Analysis, error) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, newShapeError("analysis", []string{RootField}, raw)
	}

	var f fields
	timeline := f.requiredArray(obj, "timeline")
	steps := f.requiredArray(obj, "reproSteps")

	out := &result.Analysis{
		Timeline:   make([]result.TimelineEvent, 0, len(timeline)),
		ReproSteps: make([]result.ReproStep, 0, len(steps)),
	}

	for i, el := range timeline {
		if ev, ok := timelineEvent(el, i, &f); ok {
			out.Timeline = append(out.Timeline, ev)
		}
	}
	for i, el := range steps {
		if st, ok := reproStep(el, i, &f); ok {
			out.ReproSteps = append(out.ReproSteps, st)
		}
	}

	out.Expected = f.optionalString(obj, "expected")
	out.Actual = f.optionalString(obj, "actual")
	out.TargetURL = f.optionalString(obj, "targetUrl")

	if !f.ok() {
		return nil, newShapeError("analysis", f.missing, raw)
	}
	return out, nil
}

func timelineEvent(el any, i int, f *fields) (result.TimelineEvent, bool) {
	prefix := fmt.Sprintf("timeline[%d]", i)
	obj, ok := asObject(el)
	if !ok {
		f.add(prefix)
		return result.TimelineEvent{}, false
	}

	valid := true
	var ev result.TimelineEvent

	v, key, found := lookup(obj, "timestamp")
	switch {
	case !found:
		valid = false
	case key == "t":
		secs, ok := asSeconds(v)
		if !ok {
			valid = false
			break
		}
		ev.Timestamp = FormatTimestamp(secs)
	default:
		s, ok := v.(string)
		if !ok {
			valid = false
			break
		}
		ev.Timestamp = s
	}
	if !valid {
		f.add(prefix + ".timestamp")
	}

	d, _, found := lookup(obj, "description")
	desc, isStr := d.(string)
	if !found || !isStr {
		f.add(prefix + ".description")
		valid = false
	}
	ev.Description = desc

	return ev, valid
}

func reproStep(el any, i int, f *fields) (result.ReproStep, bool) {
	prefix := fmt.Sprintf("reproSteps[%d]", i)
	switch v := el.(type) {
	case string:
		return result.ReproStep{Number: i + 1, Description: v}, true
	case map[string]any:
		d, _, found := lookup(v, "description")
		desc, isStr := d.(string)
		if !found || !isStr {
			f.add(prefix + ".description")
			return result.ReproStep{}, false
		}
		return result.ReproStep{Number: i + 1, Description: desc}, true
	default:
		f.add(prefix)
		return result.ReproStep{}, false
	}
}
