package main

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"aidesk/internal/orchestration"
	"aidesk/internal/protocol"
)

const chartWidth = 30

// consolePresenter prints session updates as lines. Done is closed once the
// session is back to idle and any result has been printed.
type consolePresenter struct {
	out     io.Writer
	resolve func(string) string

	mu     sync.Mutex
	banner orchestration.Banner
	phase  orchestration.Phase
	taskID string
	err    error
	done   chan struct{}
	once   sync.Once
}

func newConsolePresenter(out io.Writer, resolve func(string) string) *consolePresenter {
	if resolve == nil {
		resolve = func(ref string) string { return ref }
	}
	return &consolePresenter{out: out, resolve: resolve, done: make(chan struct{})}
}

func (p *consolePresenter) Done() <-chan struct{} {
	return p.done
}

// Err is the remote failure reported for the task, if any.
func (p *consolePresenter) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *consolePresenter) finish() {
	p.once.Do(func() { close(p.done) })
}

func (p *consolePresenter) StateChanged(s orchestration.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.phase
	p.phase = s.Phase
	if s.TaskID != "" && s.TaskID != p.taskID {
		p.taskID = s.TaskID
		fmt.Fprintf(p.out, "%s task %s\n", gray("●"), s.TaskID)
	}
	if s.Banner != p.banner {
		p.banner = s.Banner
		if line := formatBanner(s.Banner); line != "" {
			fmt.Fprintln(p.out, line)
		}
	}

	// A completed task goes idle straight from running; PresentResult follows.
	if s.Phase == orchestration.PhaseIdle && previous != orchestration.PhaseIdle && previous != orchestration.PhaseRunning {
		p.finish()
	}
}

func (p *consolePresenter) PresentResult(taskID string, result *protocol.ReportResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.finish()

	fmt.Fprintf(p.out, "%s report %s is ready\n", green("✔"), taskID)
	if result == nil {
		return
	}
	fmt.Fprint(p.out, formatResult(result, p.resolve))
}

func (p *consolePresenter) PresentFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	fmt.Fprintln(p.out, red("✖ "+err.Error()))
}

func formatBanner(b orchestration.Banner) string {
	switch b.Kind {
	case orchestration.BannerCleanupRunning, orchestration.BannerCleanupDone:
		return yellow("⏳ " + b.Text)
	case orchestration.BannerInfo:
		return cyan("ℹ " + b.Text)
	case orchestration.BannerError:
		return red("✖ " + b.Text)
	default:
		return ""
	}
}

func formatResult(r *protocol.ReportResult, resolve func(string) string) string {
	var b strings.Builder
	if r.Title != "" {
		b.WriteString(bold(r.Title) + "\n")
	}
	if r.Summary != "" {
		b.WriteString(r.Summary + "\n")
	}
	if len(r.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, rec := range r.Recommendations {
			b.WriteString("  - " + rec + "\n")
		}
	}
	if len(r.Items) > 0 {
		b.WriteString("\nItems:\n")
		for _, item := range r.Items {
			b.WriteString("  - " + item + "\n")
		}
	}
	if r.Chart != nil && len(r.Chart.Values) > 0 {
		b.WriteString("\n" + formatChart(r.Chart))
	}
	if r.PDFURL != "" {
		b.WriteString("\nReport file: " + resolve(r.PDFURL) + "\n")
	}
	return b.String()
}

// formatChart draws the series as horizontal bars scaled to the largest value.
func formatChart(c *protocol.Chart) string {
	peak := 0.0
	labelWidth := 0
	for i, v := range c.Values {
		peak = math.Max(peak, math.Abs(v))
		labelWidth = max(labelWidth, len(chartLabel(c, i)))
	}

	var b strings.Builder
	for i, v := range c.Values {
		n := 0
		if peak > 0 {
			n = int(math.Round(math.Abs(v) / peak * chartWidth))
		}
		fmt.Fprintf(&b, "  %-*s %s %g\n", labelWidth, chartLabel(c, i), strings.Repeat("█", n), v)
	}
	return b.String()
}

func chartLabel(c *protocol.Chart, i int) string {
	if i < len(c.Labels) {
		return c.Labels[i]
	}
	return fmt.Sprintf("#%d", i+1)
}
