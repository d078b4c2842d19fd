// Package normalize validates raw backend payloads and re-keys them into the
// canonical records in package result.
//
// Backends are not consistent about field naming, so every field that has
// been seen under more than one spelling is listed in fieldKeys. Lookups are
// explicit per field; there is no automatic case conversion.
//
// All functions are pure: the same input yields the same output or the same
// *ShapeError, and the input is never modified.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ShapeError reports a response that arrived intact but did not match the
// expected contract. MissingFields lists every missing or invalid field, not
// just the first one found.
type ShapeError struct {
	Kind          string // "analysis", "test", "run" or "patch"
	MissingFields []string
	Received      any
}

func newShapeError(kind string, missing []string, raw any) *ShapeError {
	return &ShapeError{
		Kind:          kind,
		MissingFields: append([]string(nil), missing...),
		Received:      raw,
	}
}

func (e *ShapeError) Error() string {
	if len(e.MissingFields) == 1 && e.MissingFields[0] == RootField {
		return fmt.Sprintf("%s response must be an object", e.Kind)
	}
	return fmt.Sprintf("%s response missing or invalid fields: %s", e.Kind, strings.Join(e.MissingFields, ", "))
}

// IsShape reports whether err is, or wraps, a *ShapeError.
func IsShape(err error) bool {
	var se *ShapeError
	return errors.As(err, &se)
}

// RootField is reported when the payload is not an object at all.
const RootField = "root"

// fieldKeys maps a canonical field name to every key it may arrive under, in
// lookup order. Fields with a single spelling are listed too so the table is
// the complete contract.
var fieldKeys = map[string][]string{
	"timeline":       {"timeline"},
	"reproSteps":     {"reproSteps", "repro_steps"},
	"expected":       {"expected"},
	"actual":         {"actual"},
	"targetUrl":      {"targetUrl", "target_url"},
	"playwrightSpec": {"playwrightSpec", "playwright_spec"},
	"filename":       {"filename", "file_name"},
	"status":         {"status"},
	"stdout":         {"stdout"},
	"stderr":         {"stderr"},
	"screenshotUrl":  {"screenshotUrl", "screenshot_url"},
	"diff":           {"diff"},
	"rationale":      {"rationale"},
	"risks":          {"risks"},

	// timeline elements: the backend sends {t, event}, older payloads
	// carry {timestamp, description}.
	"timestamp":   {"timestamp", "t"},
	"description": {"description", "event"},
}

// AlternateKeys returns the accepted spellings for a canonical field.
func AlternateKeys(field string) []string {
	return append([]string(nil), fieldKeys[field]...)
}

// lookup returns the first non-null value stored under any spelling of field,
// along with the key it was found under.
func lookup(obj map[string]any, field string) (any, string, bool) {
	keys, ok := fieldKeys[field]
	if !ok {
		keys = []string{field}
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// fields accumulates missing or invalid field names for one payload.
type fields struct {
	missing []string
}

func (f *fields) add(name string) {
	f.missing = append(f.missing, name)
}

func (f *fields) ok() bool {
	return len(f.missing) == 0
}

// requiredString returns a non-empty string stored under field.
func (f *fields) requiredString(obj map[string]any, field string) string {
	v, _, found := lookup(obj, field)
	s, isStr := v.(string)
	if !found || !isStr || s == "" {
		f.add(field)
		return ""
	}
	return s
}

// optionalString returns the string stored under field, or "" when absent.
// A present value of the wrong type is invalid.
func (f *fields) optionalString(obj map[string]any, field string) string {
	v, _, found := lookup(obj, field)
	if !found {
		return ""
	}
	s, isStr := v.(string)
	if !isStr {
		f.add(field)
		return ""
	}
	return s
}

// requiredArray returns the list stored under field.
func (f *fields) requiredArray(obj map[string]any, field string) []any {
	v, _, found := lookup(obj, field)
	arr, isArr := v.([]any)
	if !found || !isArr {
		f.add(field)
		return nil
	}
	return arr
}

func asObject(raw any) (map[string]any, bool) {
	obj, ok := raw.(map[string]any)
	return obj, ok
}

// asSeconds accepts the numeric types a decoded payload or a Go literal may
// carry and returns a non-negative second count.
func asSeconds(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// FormatTimestamp renders a second offset as MM:SS.
func FormatTimestamp(seconds float64) string {
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ParseTimestamp converts MM:SS (or a bare second count) back to seconds.
// Unparsable parts count as zero.
func ParseTimestamp(ts string) int {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	total := 0
	for _, p := range parts {
		n := 0
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil {
			n = 0
		}
		total = total*60 + n
	}
	return total
}
