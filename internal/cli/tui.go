package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matzehuels/zion/pkg/project"
	"github.com/matzehuels/zion/pkg/scheduler"
)

var (
	barFullStyle  = lipgloss.NewStyle().Foreground(colorCyan)
	barEmptyStyle = lipgloss.NewStyle().Foreground(colorDim)
	listDimStyle  = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	barWidth  = 30
	maxRecent = 5
)

// =============================================================================
// batchModel - live download progress
// =============================================================================

type (
	progressMsg scheduler.Progress
	doneMsg     struct{}
)

// batchModel renders scheduler progress while a batch flow runs.
type batchModel struct {
	title     string
	completed int
	total     int
	failed    int
	rate      float64
	recent    []string
	done      bool
}

func newBatchModel(title string) batchModel {
	return batchModel{title: title}
}

func (m batchModel) Init() tea.Cmd {
	return nil
}

func (m batchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case progressMsg:
		m.completed = msg.Completed
		m.total = msg.Total
		m.rate = msg.Rate
		o := msg.Outcome
		var line string
		if o.OK {
			line = styleIconSuccess.Render(iconSuccess) + " " + o.Ref
		} else {
			m.failed++
			line = styleIconError.Render(iconError) + " " + o.Ref + " " + listDimStyle.Render(o.Message())
		}
		m.recent = append(m.recent, line)
		if len(m.recent) > maxRecent {
			m.recent = m.recent[len(m.recent)-maxRecent:]
		}
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m batchModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder
	b.WriteString(StyleTitle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(progressBar(m.completed, m.total, barWidth))
	b.WriteString(listDimStyle.Render(fmt.Sprintf("  %d/%d", m.completed, m.total)))
	if m.rate > 0 {
		b.WriteString(listDimStyle.Render(fmt.Sprintf("  %.1f/s", m.rate)))
	}
	if m.failed > 0 {
		b.WriteString("  " + StyleWarning.Render(fmt.Sprintf("%d failed", m.failed)))
	}
	b.WriteString("\n")
	for _, l := range m.recent {
		b.WriteString("  " + l + "\n")
	}
	return b.String()
}

func progressBar(completed, total, width int) string {
	filled := 0
	if total > 0 {
		filled = completed * width / total
	}
	if filled > width {
		filled = width
	}
	return barFullStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// runBatch opens the project and runs fn. On a terminal the scheduler's
// progress is rendered live while fn runs; info logging is held back
// until it finishes so the two don't interleave.
func (c *CLI) runBatch(ctx context.Context, title string, fn func(context.Context, *project.Project) (*project.Report, error)) (*project.Report, error) {
	if !c.showProgress() {
		s, err := c.openProject(ctx, nil)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		return fn(ctx, s.project)
	}

	prog := tea.NewProgram(newBatchModel(title),
		tea.WithOutput(os.Stderr), tea.WithInput(nil), tea.WithContext(ctx))

	s, err := c.openProject(ctx, func(p scheduler.Progress) { prog.Send(progressMsg(p)) })
	if err != nil {
		return nil, err
	}
	defer s.Close()

	defer c.quiet()()

	var (
		rep      *project.Report
		runErr   error
		finished = make(chan struct{})
	)
	go func() {
		defer close(finished)
		rep, runErr = fn(ctx, s.project)
		prog.Send(doneMsg{})
	}()
	if _, err := prog.Run(); err != nil {
		c.Logger.Debug("progress view stopped", "err", err)
	}
	<-finished
	return rep, runErr
}

// =============================================================================
// Helpers
// =============================================================================

func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "—"
	}

	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
