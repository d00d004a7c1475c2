package tui

import (
	"github.com/charmbracelet/lipgloss"

	"vintagemap/internal/ingest"
)

// The chrome borrows the map's line palette so a track's swatch matches its row
var (
	primaryColor   = lipgloss.Color(ingest.Palette[0]) // saddle brown, first track
	secondaryColor = lipgloss.Color(ingest.Palette[3]) // olive
	errorColor     = lipgloss.Color(ingest.Palette[2]) // dark red
	warningColor   = lipgloss.Color("#d4a017")         // mustard
	mutedColor     = lipgloss.Color("#8a7f72")         // faded ink
	paperColor     = lipgloss.Color("#f4ecd8")         // parchment
)

const swatchGlyph = "━━"

// layerSwatch draws a short stroke in a track's line colour
func layerSwatch(hex string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(hex)).Render(swatchGlyph)
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(paperColor).
			Background(primaryColor).
			Padding(0, 1).
			MarginBottom(1)

	// screen tabs
	navStyle         = lipgloss.NewStyle().Foreground(mutedColor).MarginBottom(1)
	navActiveStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	navInactiveStyle = lipgloss.NewStyle().Foreground(mutedColor)

	cardTitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).MarginBottom(1)
	sectionTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(secondaryColor)
	profileTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)

	// activity and layer lists
	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(primaryColor).
				BorderBottom(true).
				BorderForeground(mutedColor).
				Padding(0, 1)
	tableRowStyle      = lipgloss.NewStyle().Padding(0, 1)
	tableSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Background(primaryColor).
				Foreground(paperColor).
				Padding(0, 1)
	onMapStyle = lipgloss.NewStyle().Foreground(secondaryColor).Italic(true)

	spinnerStyle = lipgloss.NewStyle().Foreground(primaryColor)
	statusStyle  = lipgloss.NewStyle().Foreground(mutedColor).MarginTop(1)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	successStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)

	helpKeyStyle  = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	helpDescStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// RenderKeyHelp renders a key binding help item
func RenderKeyHelp(key, desc string) string {
	return helpKeyStyle.Render(key) + " " + helpDescStyle.Render(desc)
}
