// Package monitor renders a live terminal view of one orchestration run.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/codexd/internal/events"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	progressWidth   = 40
)

// StepState is the display state of one agent step.
type StepState int

const (
	StepPending StepState = iota
	StepRunning
	StepDone
	StepFailed
)

// Step is one row of the view.
type Step struct {
	Agent     string
	State     StepState
	ElapsedMs int64
	Error     string
}

// Model is the BubbleTea model for a run.
type Model struct {
	requestID string
	events    <-chan events.Event
	started   time.Time
	now       func() time.Time

	steps      []Step
	percentage int
	message    string
	final      *events.Event
	closed     bool
	quitting   bool

	spinner  spinner.Model
	progress progress.Model
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a model that renders the events read from ch.
func NewModel(requestID string, ch <-chan events.Event) Model {
	return Model{
		requestID: requestID,
		events:    ch,
		now:       time.Now,
		started:   time.Now(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(warningStyle)),
		progress: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(progressWidth),
		),
	}
}

// Final returns the terminal event, or nil when the run had not finished
// when the view closed.
func (m Model) Final() *events.Event {
	return m.final
}

// Steps returns the step rows seen so far.
func (m Model) Steps() []Step {
	return append([]Step(nil), m.steps...)
}

// Message types
type eventMsg events.Event
type closedMsg struct{}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// Init starts reading events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), m.spinner.Tick)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		ev := events.Event(msg)
		m.apply(ev)
		if ev.Kind.Terminal() {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case closedMsg:
		m.closed = true
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) apply(ev events.Event) {
	if ev.Message != "" {
		m.message = ev.Message
	}
	m.percentage = ev.Percentage

	switch ev.Kind {
	case events.KindStarted:
		if ev.Total > len(m.steps) {
			m.steps = append(m.steps, make([]Step, ev.Total-len(m.steps))...)
		}
	case events.KindStepStarted:
		s := m.step(ev.Step)
		s.Agent = ev.Agent
		s.State = StepRunning
	case events.KindStepCompleted:
		s := m.step(ev.Step)
		s.Agent = ev.Agent
		s.State = StepDone
		s.ElapsedMs = ev.ElapsedMs
	case events.KindStepFailed:
		s := m.step(ev.Step)
		s.Agent = ev.Agent
		s.State = StepFailed
		s.ElapsedMs = ev.ElapsedMs
		s.Error = ev.Error
	case events.KindCompleted, events.KindFailed:
		final := ev
		m.final = &final
	}
}

func (m *Model) step(i int) *Step {
	if i < 0 {
		i = 0
	}
	for len(m.steps) <= i {
		m.steps = append(m.steps, Step{})
	}
	return &m.steps[i]
}

// View renders the run
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" codexd run ") + "   " +
		m.statusBadge() + "   " +
		dimStyle.Render("Elapsed: ") + valueStyle.Render(FormatElapsed(m.elapsedMs())) + "\n")
	b.WriteString(dimStyle.Render("Request: ") + valueStyle.Render(m.requestID) + "\n")

	b.WriteString("\n" + sectionStyle.Render("┃ Agents") + "\n")
	if len(m.steps) == 0 {
		b.WriteString(dimStyle.Render("  waiting for the run to start") + "\n")
	}
	for i, s := range m.steps {
		b.WriteString(m.renderStep(i, s) + "\n")
	}

	b.WriteString(labelStyle.Render("  Progress: ") +
		m.progress.ViewAs(float64(m.percentage)/100) +
		" " + dimStyle.Render(fmt.Sprintf("%d%%", m.percentage)) + "\n")
	if m.message != "" {
		b.WriteString(labelStyle.Render("  ") + dimStyle.Render(m.message) + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Step durations") + "\n")
	b.WriteString("  " + createSparkline(m.durations()) + "\n")

	if m.final != nil && m.final.Error != "" {
		b.WriteString("\n" + errorStyle.Render("  "+m.final.Error) + "\n")
	}
	if m.closed && m.final == nil {
		b.WriteString("\n" + warningStyle.Render("  event stream closed before the run finished") + "\n")
	}

	b.WriteString("\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit"))
	return containerStyle.Render(b.String())
}

func (m Model) renderStep(i int, s Step) string {
	name := s.Agent
	if name == "" {
		name = "pending"
	}
	line := fmt.Sprintf("  %d. %s", i+1, name)
	switch s.State {
	case StepRunning:
		return m.spinner.View() + labelStyle.Render(line)
	case StepDone:
		return healthyStyle.Render("✓") + labelStyle.Render(line) + " " +
			dimStyle.Render(FormatElapsed(s.ElapsedMs))
	case StepFailed:
		return errorStyle.Render("✗") + labelStyle.Render(line) + " " +
			dimStyle.Render(FormatElapsed(s.ElapsedMs)) + " " + errorStyle.Render(s.Error)
	}
	return dimStyle.Render("·" + line)
}

func (m Model) statusBadge() string {
	switch {
	case m.final != nil && m.final.Kind == events.KindCompleted:
		return healthyStyle.Render("✓ COMPLETED")
	case m.final != nil:
		return errorStyle.Render("✗ FAILED")
	}
	return warningStyle.Render("⚠ RUNNING")
}

func (m Model) elapsedMs() int64 {
	if m.final != nil && m.final.ElapsedMs > 0 {
		return m.final.ElapsedMs
	}
	return m.now().Sub(m.started).Milliseconds()
}

func (m Model) durations() []float64 {
	var out []float64
	for _, s := range m.steps {
		if s.State == StepDone || s.State == StepFailed {
			out = append(out, float64(s.ElapsedMs))
		}
	}
	return out
}

// createSparkline creates a sparkline chart from step durations
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}
