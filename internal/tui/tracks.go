package tui

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"

	"vintagemap/internal/ingest"
	"vintagemap/internal/strava"
	"vintagemap/internal/track"
)

// TracksModel lists the tracks on the map with an elevation profile of the selected one
type TracksModel struct {
	ctx     context.Context
	gateway *strava.Gateway
	queue   *ingest.Queue
	sink    *ingest.MemorySink
	units   Units
	layers  []ingest.Layer
	cursor  int
	profile viewport.Model
	notice  string
	err     error
}

// NewTracksModel creates a new tracks model
func NewTracksModel(ctx context.Context, gw *strava.Gateway, q *ingest.Queue, sink *ingest.MemorySink, units Units) TracksModel {
	return TracksModel{
		ctx:     ctx,
		gateway: gw,
		queue:   q,
		sink:    sink,
		units:   units,
		profile: viewport.New(72, 12),
	}
}

// Init initializes the tracks screen
func (m TracksModel) Init() tea.Cmd {
	return nil
}

// Refresh rereads the sink's layers
func (m TracksModel) Refresh() TracksModel {
	m.layers = m.sink.Layers()
	if m.cursor >= len(m.layers) {
		m.cursor = max(len(m.layers)-1, 0)
	}
	m.profile.SetContent(m.renderProfile())
	return m
}

type exportDoneMsg struct {
	path string
	err  error
}

func (m TracksModel) export(id int64) tea.Cmd {
	return func() tea.Msg {
		tel, err := m.gateway.FetchTelemetry(m.ctx, id)
		if err != nil {
			return exportDoneMsg{err: err}
		}
		doc, err := track.ToInterchangeDocument(tel.Detail, tel.Streams)
		if err != nil {
			return exportDoneMsg{err: err}
		}
		path := track.Filename(id)
		if err := os.WriteFile(path, doc, 0644); err != nil {
			return exportDoneMsg{err: fmt.Errorf("writing %s: %w", path, err)}
		}
		return exportDoneMsg{path: path}
	}
}

// Update handles messages
func (m TracksModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case exportDoneMsg:
		m.err = msg.err
		if msg.err == nil {
			m.notice = "Saved " + msg.path
		}

	case tea.WindowSizeMsg:
		m.profile.Width = min(msg.Width-4, 100)
		m.profile.SetContent(m.renderProfile())

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				m.profile.SetContent(m.renderProfile())
			}
		case "down", "j":
			if m.cursor < len(m.layers)-1 {
				m.cursor++
				m.profile.SetContent(m.renderProfile())
			}
		case "c":
			m.queue.Clear()
			m.notice = "Map cleared"
			return m.Refresh(), nil
		case "g":
			if m.cursor < len(m.layers) && m.layers[m.cursor].ID != 0 {
				m.notice = "Exporting..."
				m.err = nil
				return m, m.export(m.layers[m.cursor].ID)
			}
		default:
			var cmd tea.Cmd
			m.profile, cmd = m.profile.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// View renders the tracks screen
func (m TracksModel) View() string {
	if len(m.layers) == 0 {
		return "\n  No tracks on the map yet. Select activities and press enter to load them."
	}

	var sections []string

	title := cardTitleStyle.Render(fmt.Sprintf("On the map (%s tracks)", humanize.Comma(int64(len(m.layers)))))
	if bound, ok := m.sink.Viewport(); ok {
		title += statusStyle.UnsetMarginTop().Render(fmt.Sprintf("  view %.4f,%.4f to %.4f,%.4f",
			bound.Min.Lat(), bound.Min.Lon(), bound.Max.Lat(), bound.Max.Lon()))
	}
	sections = append(sections, title)

	header := tableHeaderStyle.Render(fmt.Sprintf("   %-30s  %10s  %8s  %8s", "Name", "Distance", "Gain", "Points"))
	sections = append(sections, header)

	for i, l := range m.layers {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		swatch := layerSwatch(l.Color)
		row := fmt.Sprintf("%s%-30s  %10s  %7.0fm  %8s",
			cursor,
			truncateName(l.Name, 30),
			m.units.FormatKm(l.Stats.DistanceKm),
			l.Stats.ElevationGainM,
			humanize.Comma(int64(l.Stats.PointCount)),
		)
		if i == m.cursor {
			row = tableSelectedStyle.Render(row)
		} else {
			row = tableRowStyle.Render(row)
		}
		sections = append(sections, swatch+row)
	}

	sections = append(sections, "", m.profile.View())

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)))
	} else if m.notice != "" {
		sections = append(sections, successStyle.Render("  "+m.notice))
	}

	help := statusStyle.Render("  j/k: select  g: save GPX  c: clear map")
	sections = append(sections, help)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m TracksModel) renderProfile() string {
	if m.cursor >= len(m.layers) {
		return ""
	}
	l := m.layers[m.cursor]

	var lines []string
	lines = append(lines, profileTitleStyle.Render("Elevation (m)"))

	t, ok := m.queue.Track(l.ID)
	if !ok {
		lines = append(lines, statusStyle.Render("  No profile for imported tracks"))
		return strings.Join(lines, "\n")
	}
	data := t.Elevations()
	if len(data) < 2 {
		lines = append(lines, statusStyle.Render("  No elevation data"))
		return strings.Join(lines, "\n")
	}

	width := m.profile.Width - 10
	if width < 20 {
		width = 20
	}
	lines = append(lines, asciigraph.Plot(data,
		asciigraph.Height(8),
		asciigraph.Width(width),
	))
	lines = append(lines, statusStyle.UnsetMarginTop().Render(fmt.Sprintf("  %s  ·  %s",
		m.units.FormatKm(l.Stats.DistanceKm), strings.ReplaceAll(ingest.PopupText(t), "\n", "  ·  "))))
	return strings.Join(lines, "\n")
}
