package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"vintagemap/internal/ingest"
)

type loadPhase int

const (
	phaseIdle loadPhase = iota
	phaseConfirm
	phaseRunning
	phaseDone
)

// LoadModel confirms, runs and summarizes one ingestion batch
type LoadModel struct {
	ctx     context.Context
	queue   *ingest.Queue
	phase   loadPhase
	pending []int64

	spinner  spinner.Model
	bar      progress.Model
	progress ingest.Progress
	updates  chan ingest.Progress
	done     <-chan ingest.Summary
	summary  *ingest.Summary
	err      error
	aborting bool
}

// NewLoadModel creates a new load model
func NewLoadModel(ctx context.Context, q *ingest.Queue) LoadModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return LoadModel{
		ctx:     ctx,
		queue:   q,
		spinner: s,
		bar:     progress.New(progress.WithGradient(string(mutedColor), string(primaryColor)), progress.WithWidth(40)),
	}
}

// Init initializes the load screen
func (m LoadModel) Init() tea.Cmd {
	return nil
}

// Busy reports whether the screen owns the keyboard
func (m LoadModel) Busy() bool {
	return m.phase == phaseConfirm || m.phase == phaseRunning
}

type loadProgressMsg struct {
	progress ingest.Progress
}

// Begin takes a new batch, asking first when it is large
func (m LoadModel) Begin(ids []int64) (LoadModel, tea.Cmd) {
	if m.phase == phaseRunning {
		m.err = ingest.ErrBusy
		return m, nil
	}
	m.pending = ids
	m.summary = nil
	m.err = nil
	if m.queue.NeedsConfirmation(len(ids)) {
		m.phase = phaseConfirm
		return m, nil
	}
	return m.start()
}

func (m LoadModel) start() (LoadModel, tea.Cmd) {
	updates := make(chan ingest.Progress, 8)
	done, err := m.queue.Start(m.ctx, m.pending, func(p ingest.Progress) {
		select {
		case updates <- p:
		default:
		}
	})
	if err != nil {
		m.phase = phaseIdle
		m.err = err
		return m, nil
	}

	m.phase = phaseRunning
	m.aborting = false
	m.progress = ingest.Progress{Total: len(m.pending)}
	m.updates = updates
	m.done = done
	return m, tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next progress update or the final summary
func (m LoadModel) listen() tea.Cmd {
	updates, done := m.updates, m.done
	return func() tea.Msg {
		select {
		case p := <-updates:
			return loadProgressMsg{progress: p}
		case s := <-done:
			return LoadCompleteMsg{Summary: s}
		}
	}
}

// Update handles messages
func (m LoadModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadProgressMsg:
		m.progress = msg.progress
		return m, m.listen()

	case LoadCompleteMsg:
		m.phase = phaseDone
		s := msg.Summary
		m.summary = &s
		return m, nil

	case spinner.TickMsg:
		if m.phase != phaseRunning {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.phase {
		case phaseConfirm:
			switch msg.String() {
			case "y", "enter":
				return m.start()
			case "n", "esc":
				m.phase = phaseIdle
				m.pending = nil
			}
		case phaseRunning:
			if msg.String() == "x" {
				m.queue.Abort()
				m.aborting = true
			}
		}
	}
	return m, nil
}

// View renders the load screen
func (m LoadModel) View() string {
	var sections []string

	sections = append(sections, cardTitleStyle.Render("Load Activities"))

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("\n  Error: %v", m.err)))
	}

	switch m.phase {
	case phaseIdle:
		sections = append(sections, "\n  Select activities on the Activities screen, then press enter.")
	case phaseConfirm:
		sections = append(sections, "\n  "+warningStyle.Render(m.queue.ConfirmPrompt(len(m.pending))))
		sections = append(sections, statusStyle.Render("  y: load them  n: cancel"))
	case phaseRunning:
		sections = append(sections, m.renderProgress())
	case phaseDone:
		sections = append(sections, m.renderSummary())
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m LoadModel) renderProgress() string {
	var lines []string

	msg := m.progress.Message
	if msg == "" {
		msg = "Starting..."
	}
	lines = append(lines, "")
	lines = append(lines, "  "+m.spinner.View()+" "+msg)

	pct := 0.0
	if m.progress.Total > 0 {
		pct = float64(m.progress.Processed) / float64(m.progress.Total)
	}
	lines = append(lines, "  "+m.bar.ViewAs(pct))
	lines = append(lines, "")

	if m.aborting {
		lines = append(lines, warningStyle.Render("  Stopping after the current activity..."))
	} else {
		est := m.queue.EstimatedSeconds(m.progress.Total - m.progress.Processed)
		lines = append(lines, statusStyle.Render(fmt.Sprintf("  About %d seconds left  x: stop", est)))
	}

	return strings.Join(lines, "\n")
}

func (m LoadModel) renderSummary() string {
	var lines []string

	if m.summary == nil {
		return ""
	}

	s := m.summary
	lines = append(lines, "")
	if s.Failed == 0 && !s.Aborted {
		lines = append(lines, successStyle.Render("  "+s.Message))
	} else {
		lines = append(lines, warningStyle.Render("  "+s.Message))
	}
	lines = append(lines, statusStyle.Render(fmt.Sprintf("  %s of %s processed",
		humanize.Comma(int64(s.Succeeded+s.Failed)), humanize.Comma(int64(s.Total)))))

	if len(s.Errors) > 0 {
		lines = append(lines, "")
		for _, e := range s.Errors {
			lines = append(lines, errorStyle.Render(fmt.Sprintf("  %d: %s", e.ActivityID, e.Error)))
		}
	}

	lines = append(lines, "")
	lines = append(lines, statusStyle.Render("  Press '3' to see the map"))

	return strings.Join(lines, "\n")
}
