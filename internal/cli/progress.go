package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/patchpilot/internal/backend"
	"github.com/lucasnoah/patchpilot/internal/pipeline"
)

var (
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	red    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	gray   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
)

// progress prints one line per stage transition.
type progress struct {
	mu sync.Mutex
	w  io.Writer
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

func (p *progress) transition(tr pipeline.Transition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	name := fmt.Sprintf("%-8s", tr.Stage)
	switch tr.To {
	case pipeline.StatusLoading:
		attempt := ""
		if tr.Attempt > 1 {
			attempt = gray.Render(fmt.Sprintf(" (attempt %d)", tr.Attempt))
		}
		fmt.Fprintln(p.w, cyan.Render("● ")+name+gray.Render(" running")+attempt)
	case pipeline.StatusSuccess:
		fmt.Fprintln(p.w, green.Render("✓ ")+name+gray.Render(" "+formatDuration(tr.Duration)))
	case pipeline.StatusError:
		fmt.Fprintln(p.w, red.Render("✗ ")+name+" "+red.Render(firstLine(tr.Error))+gray.Render(" "+formatDuration(tr.Duration)))
	case pipeline.StatusIdle:
		fmt.Fprintln(p.w, gray.Render("○ "+name+" reset"))
	}
}

func (p *progress) note(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, yellow.Render("! ")+msg)
}

func (p *progress) health(h backend.Health) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, healthLine(h))
}

func healthLine(h backend.Health) string {
	at := ""
	if !h.LastChecked.IsZero() {
		at = gray.Render(" " + h.LastChecked.Local().Format(time.TimeOnly))
	}
	switch h.Status {
	case backend.HealthConnected:
		return green.Render("● connected") + at
	case backend.HealthOffline:
		return red.Render("● offline") + " " + h.Error + at
	case backend.HealthChecking:
		return yellow.Render("● checking")
	default:
		return gray.Render("● unknown (sample mode)")
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
