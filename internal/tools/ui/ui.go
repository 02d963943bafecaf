// Package ui renders long-running tool checks in the terminal.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("245"))
	frames      = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
)

// Task is the unit of work shown while the spinner runs.
type Task func(ctx context.Context) ([]string, error)

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	task    Task
	ctx     context.Context
	cancel  context.CancelFunc
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
}

func newModel(ctx context.Context, title string, task Task) *model {
	ctx, cancel := context.WithCancel(ctx)
	return &model{title: title, task: task, ctx: ctx, cancel: cancel, started: time.Now()}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(tick(), func() tea.Msg {
		details, err := m.task(m.ctx)
		return doneMsg{details: details, err: err}
	})
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
			m.done = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(frames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		m.cancel()
		return m, tea.Quit
	}
	return m, nil
}

func (m *model) View() string {
	if !m.done {
		return fmt.Sprintf("%s %s %s\n", frames[m.frame], titleStyle.Render(m.title), detailStyle.Render(time.Since(m.started).Truncate(time.Second).String()))
	}
	return Render(m.title, m.details, m.err)
}

// Render formats a finished check the same way the interactive view does.
func Render(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(failStyle.Render("✗ " + title))
	} else {
		b.WriteString(okStyle.Render("✓ " + title))
	}
	b.WriteString("\n")
	for _, d := range details {
		b.WriteString(detailStyle.Render(d))
		b.WriteString("\n")
	}
	if err != nil {
		b.WriteString(detailStyle.Render("error: " + err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

// Run shows a spinner while task runs and leaves the rendered result on screen.
func Run(title string, task Task) ([]string, error) {
	m := newModel(context.Background(), title, task)
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		m.cancel()
		return nil, err
	}
	fm := final.(*model)
	return fm.details, fm.err
}
