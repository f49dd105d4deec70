package tui

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/sokinpui/pin/internal/ui"
	"github.com/sokinpui/pin/model"
)

// Task is the work shown behind the spinner.
type Task func(ctx context.Context) (model.Summary, error)

// --- Messages ---
type summaryMsg struct {
	model.Summary
}

type errorMsg struct{ err error }

func (e errorMsg) Error() string { return e.err.Error() }

// --- Model ---
type Model struct {
	ctx         context.Context
	task        Task
	label       string
	spinner     spinner.Model
	state       state
	summary     model.Summary
	err         error
	interrupted bool
}

type state int

const (
	stateProcessing state = iota
	stateSummary
	stateError
)

// New creates a spinner model that runs task once started.
func New(ctx context.Context, label string, task Task) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		ctx:     ctx,
		task:    task,
		label:   label,
		spinner: s,
		state:   stateProcessing,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.runTask)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.interrupted = true
			return m, tea.Quit
		}

	case summaryMsg:
		m.state = stateSummary
		m.summary = msg.Summary
		return m, tea.Quit

	case errorMsg:
		m.state = stateError
		m.err = msg.err
		return m, tea.Quit

	default:
		var cmd tea.Cmd
		if m.state == stateProcessing {
			m.spinner, cmd = m.spinner.Update(msg)
		}
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	switch m.state {
	case stateProcessing:
		if m.interrupted {
			return ""
		}
		return fmt.Sprintf("%s %s...\n", m.spinner.View(), m.label)
	case stateError:
		// Run returns the error and the caller reports it.
		return ""
	case stateSummary:
		return ui.RenderSummary(m.summary)
	default:
		return ""
	}
}

func (m Model) runTask() tea.Msg {
	summary, err := m.task(m.ctx)
	if err != nil {
		return errorMsg{err}
	}
	return summaryMsg{Summary: summary}
}

// Run shows a spinner labelled label on stderr until task finishes, then
// leaves the rendered summary on screen. An interrupt cancels the task.
func Run(ctx context.Context, label string, task Task) (model.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(New(ctx, label, task), tea.WithOutput(os.Stderr), tea.WithInput(nil))
	final, err := p.Run()
	if errors.Is(err, tea.ErrInterrupted) {
		return model.Summary{}, context.Canceled
	}
	if err != nil {
		return model.Summary{}, fmt.Errorf("error running program: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return model.Summary{}, errors.New("unexpected program state")
	}
	switch {
	case m.interrupted:
		return model.Summary{}, context.Canceled
	case m.state == stateError:
		return model.Summary{}, m.err
	default:
		return m.summary, nil
	}
}
