// Package report renders the exported bug report from accumulated pipeline
// results.
package report

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	varRe      = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars maps template variable names to their values.
type Vars map[string]string

// Render expands tmpl with vars.
// {{name}} is replaced with its value; a variable absent from vars is an
// error. {{#if name}}...{{/if}} keeps its body only when name is non-empty.
// Conditionals nest.
func Render(tmpl string, vars Vars) (string, error) {
	out, err := expandConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(out, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// expandConditionals resolves the innermost block first: the last opening
// tag before the first closing tag.
func expandConditionals(tmpl string, vars Vars) (string, error) {
	out := tmpl
	for {
		closeIdx := strings.Index(out, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		prefix := out[:closeIdx]
		opens := ifOpenRe.FindAllStringSubmatchIndex(prefix, -1)
		if opens == nil {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		last := opens[len(opens)-1]
		openStart, openEnd := last[0], last[1]
		name := prefix[last[2]:last[3]]

		var body string
		if vars[name] != "" {
			body = out[openEnd:closeIdx]
		}
		out = out[:openStart] + body + out[closeIdx+len(ifCloseStr):]
	}

	if tag := ifOpenRe.FindString(out); tag != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", tag)
	}
	return out, nil
}

// LoadTemplate returns the template at path, or the built-in bug report
// template when path is empty.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return BugReportTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read report template: %w", err)
	}
	return string(data), nil
}
