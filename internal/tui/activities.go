package tui

import (
	"context"
	"fmt"
	"sort"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vintagemap/internal/ingest"
	"vintagemap/internal/strava"
)

// ActivitiesModel is the activity picker
type ActivitiesModel struct {
	ctx        context.Context
	gateway    *strava.Gateway
	queue      *ingest.Queue
	units      Units
	activities []strava.ActivitySummary
	selected   map[int64]bool
	cursor     int
	page       int
	pageSize   int
	loading    bool
	err        error
}

// NewActivitiesModel creates a new activities model
func NewActivitiesModel(ctx context.Context, gw *strava.Gateway, q *ingest.Queue, units Units) ActivitiesModel {
	return ActivitiesModel{
		ctx:      ctx,
		gateway:  gw,
		queue:    q,
		units:    units,
		selected: make(map[int64]bool),
		page:     1,
		pageSize: 15,
		loading:  true,
	}
}

// Init initializes the activities screen
func (m ActivitiesModel) Init() tea.Cmd {
	return m.loadPage
}

type activitiesLoadedMsg struct {
	activities []strava.ActivitySummary
	page       int
	err        error
}

func (m ActivitiesModel) loadPage() tea.Msg {
	activities, err := m.gateway.ListActivitySummaries(m.ctx, strava.ListParams{
		Page:    m.page,
		PerPage: m.pageSize,
	})
	return activitiesLoadedMsg{activities: activities, page: m.page, err: err}
}

// Selected returns the chosen activity IDs in ascending order
func (m ActivitiesModel) Selected() []int64 {
	ids := make([]int64, 0, len(m.selected))
	for id := range m.selected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ClearSelection empties the selection
func (m ActivitiesModel) ClearSelection() ActivitiesModel {
	m.selected = make(map[int64]bool)
	return m
}

// Update handles messages
func (m ActivitiesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case activitiesLoadedMsg:
		if msg.page != m.page {
			return m, nil // stale
		}
		m.loading = false
		m.err = msg.err
		m.activities = msg.activities
		if m.cursor >= len(m.activities) {
			m.cursor = max(len(m.activities)-1, 0)
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.activities)-1 {
				m.cursor++
			}
		case "pgup", "left", "h":
			if m.page > 1 {
				m.page--
				m.cursor = 0
				m.loading = true
				return m, m.loadPage
			}
		case "pgdown", "right", "l":
			// a short page is the last one
			if len(m.activities) == m.pageSize {
				m.page++
				m.cursor = 0
				m.loading = true
				return m, m.loadPage
			}
		case "r":
			m.loading = true
			return m, m.loadPage
		case " ", "x":
			if m.cursor < len(m.activities) {
				id := m.activities[m.cursor].ID
				if m.selected[id] {
					delete(m.selected, id)
				} else {
					m.selected[id] = true
				}
			}
		case "a":
			for _, a := range m.activities {
				m.selected[a.ID] = true
			}
		case "enter":
			ids := m.Selected()
			if len(ids) == 0 && m.cursor < len(m.activities) {
				ids = []int64{m.activities[m.cursor].ID}
			}
			if len(ids) > 0 {
				return m, func() tea.Msg { return StartLoadMsg{IDs: ids} }
			}
		}
	}
	return m, nil
}

// View renders the activities list
func (m ActivitiesModel) View() string {
	if m.loading {
		return "\n  Loading activities..."
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("\n  Error: %v", m.err)) +
			statusStyle.Render("\n  r: retry")
	}

	if len(m.activities) == 0 {
		if m.page > 1 {
			return "\n  No more activities. Press pgup to go back."
		}
		return "\n  No activities found on Strava."
	}

	var sections []string

	title := cardTitleStyle.Render(fmt.Sprintf("Activities (page %d, %d selected)", m.page, len(m.selected)))
	sections = append(sections, title)

	header := tableHeaderStyle.Render(fmt.Sprintf("     %-10s  %-30s  %-10s  %10s  %s",
		"Date", "Name", "Type", "Distance", ""))
	sections = append(sections, header)

	for i, a := range m.activities {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		mark := "[ ]"
		if m.selected[a.ID] {
			mark = "[x]"
		}
		onMap := ""
		if m.queue.Loaded(a.ID) {
			onMap = onMapStyle.Render("on map")
		}

		row := fmt.Sprintf("%s%s %-10s  %-30s  %-10s  %10s  %s",
			cursor,
			mark,
			a.StartDate.Format("Jan 02"),
			truncateName(a.Name, 30),
			truncateName(a.Type, 10),
			m.units.FormatDistance(a.Distance),
			onMap,
		)

		if i == m.cursor {
			sections = append(sections, tableSelectedStyle.Render(row))
		} else {
			sections = append(sections, tableRowStyle.Render(row))
		}
	}

	help := statusStyle.Render("\n  space: select  a: select page  enter: load  j/k: navigate  pgup/pgdn: page  r: refresh")
	sections = append(sections, help)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func truncateName(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
