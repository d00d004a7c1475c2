package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// HelpModel is the help screen model
type HelpModel struct{}

// NewHelpModel creates a new help model
func NewHelpModel() HelpModel {
	return HelpModel{}
}

// Init initializes the help screen
func (m HelpModel) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m HelpModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

// View renders the help screen
func (m HelpModel) View() string {
	var sections []string

	title := cardTitleStyle.Render("Keyboard Shortcuts")
	sections = append(sections, title)

	sections = append(sections, m.renderSection("Navigation", []keyHelp{
		{"1", "Activities"},
		{"2", "Loading progress"},
		{"3 or m", "Tracks on the map"},
		{"?", "Help (this screen)"},
		{"q", "Quit"},
		{"esc", "Back / close help"},
	}))

	sections = append(sections, m.renderSection("Activities", []keyHelp{
		{"space / x", "Select or unselect"},
		{"a", "Select the whole page"},
		{"enter", "Load the selection onto the map"},
		{"j / k", "Move cursor"},
		{"pgdn / pgup", "Next / previous page"},
		{"r", "Refresh list"},
	}))

	sections = append(sections, m.renderSection("Loading", []keyHelp{
		{"y / n", "Answer the confirmation for large batches"},
		{"x", "Stop after the current activity"},
	}))

	sections = append(sections, m.renderSection("Map", []keyHelp{
		{"j / k", "Select track"},
		{"g", "Save the selected track as GPX"},
		{"c", "Clear the map"},
	}))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

type keyHelp struct {
	key  string
	desc string
}

func (m HelpModel) renderSection(title string, keys []keyHelp) string {
	var lines []string

	lines = append(lines, "")
	lines = append(lines, sectionTitleStyle.Render(title))

	for _, k := range keys {
		lines = append(lines, "  "+RenderKeyHelp(k.key, k.desc))
	}

	return strings.Join(lines, "\n")
}
