package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"vintagemap/internal/auth"
	"vintagemap/internal/config"
	"vintagemap/internal/ingest"
	"vintagemap/internal/strava"
)

// Screen identifiers
type Screen int

const (
	ScreenActivities Screen = iota
	ScreenLoad
	ScreenTracks
	ScreenHelp
)

// App is the root Bubble Tea model
type App struct {
	screen     Screen
	prevScreen Screen

	// Screen models
	activities ActivitiesModel
	load       LoadModel
	tracks     TracksModel
	help       HelpModel

	tokens *auth.TokenStore

	// Window dimensions
	width  int
	height int

	// Status message
	status string
}

// NewApp creates a new App with all dependencies
func NewApp(ctx context.Context, gw *strava.Gateway, tokens *auth.TokenStore, queue *ingest.Queue, sink *ingest.MemorySink, display config.DisplayConfig) *App {
	units := NewUnits(display)
	return &App{
		screen:     ScreenActivities,
		tokens:     tokens,
		activities: NewActivitiesModel(ctx, gw, queue, units),
		load:       NewLoadModel(ctx, queue),
		tracks:     NewTracksModel(ctx, gw, queue, sink, units),
		help:       NewHelpModel(),
	}
}

// Init initializes the app
func (a *App) Init() tea.Cmd {
	return a.activities.Init()
}

// Update handles messages
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Global keybindings, held back while a batch is loading or awaiting an answer
		if !a.load.Busy() {
			switch msg.String() {
			case "q", "ctrl+c":
				return a, tea.Quit
			case "1":
				a.screen = ScreenActivities
				return a, nil
			case "2":
				a.screen = ScreenLoad
				return a, nil
			case "3", "m":
				a.screen = ScreenTracks
				a.tracks = a.tracks.Refresh()
				return a, nil
			case "?":
				a.prevScreen = a.screen
				a.screen = ScreenHelp
				return a, nil
			case "esc":
				if a.screen == ScreenHelp {
					a.screen = a.prevScreen
					return a, nil
				}
			}
		} else if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case StartLoadMsg:
		a.screen = ScreenLoad
		var cmd tea.Cmd
		a.load, cmd = a.load.Begin(msg.IDs)
		return a, cmd

	case LoadCompleteMsg:
		a.tracks = a.tracks.Refresh()
		a.activities = a.activities.ClearSelection()
		a.status = msg.Summary.Message
	}

	// Delegate to current screen
	var cmd tea.Cmd
	switch a.screen {
	case ScreenActivities:
		var m tea.Model
		m, cmd = a.activities.Update(msg)
		a.activities = m.(ActivitiesModel)
	case ScreenLoad:
		var m tea.Model
		m, cmd = a.load.Update(msg)
		a.load = m.(LoadModel)
	case ScreenTracks:
		var m tea.Model
		m, cmd = a.tracks.Update(msg)
		a.tracks = m.(TracksModel)
	case ScreenHelp:
		var m tea.Model
		m, cmd = a.help.Update(msg)
		a.help = m.(HelpModel)
	}

	// the load screen keeps listening for progress even when hidden
	if a.screen != ScreenLoad {
		switch msg.(type) {
		case loadProgressMsg, LoadCompleteMsg, spinner.TickMsg:
			var m tea.Model
			var loadCmd tea.Cmd
			m, loadCmd = a.load.Update(msg)
			a.load = m.(LoadModel)
			cmd = tea.Batch(cmd, loadCmd)
		}
	}

	return a, cmd
}

// View renders the app
func (a *App) View() string {
	header := a.renderHeader()
	nav := a.renderNav()

	var content string
	switch a.screen {
	case ScreenActivities:
		content = a.activities.View()
	case ScreenLoad:
		content = a.load.View()
	case ScreenTracks:
		content = a.tracks.View()
	case ScreenHelp:
		content = a.help.View()
	}

	footer := a.renderFooter()

	return lipgloss.JoinVertical(lipgloss.Left, header, nav, content, footer)
}

func (a *App) renderHeader() string {
	title := headerStyle.Render("Vintage Strava Maps")
	if a.tokens == nil {
		return title
	}
	cred, ok := a.tokens.Credential()
	if !ok {
		return title + " " + errorStyle.Render("not connected")
	}
	who := cred.Athlete.String()
	expiry := "token expires " + humanize.Time(cred.ExpiresAt)
	if !cred.ExpiresAt.After(time.Now()) {
		expiry = "token expired, refreshes on next request"
	}
	return title + " " + statusStyle.UnsetMarginTop().Render(fmt.Sprintf("%s  ·  %s", who, expiry))
}

func (a *App) renderNav() string {
	items := []struct {
		key    string
		label  string
		screen Screen
	}{
		{"1", "Activities", ScreenActivities},
		{"2", "Loading", ScreenLoad},
		{"3", "Map", ScreenTracks},
		{"?", "Help", ScreenHelp},
	}

	var nav string
	for i, item := range items {
		if i > 0 {
			nav += "  "
		}

		label := "[" + item.key + "] " + item.label
		if a.screen == item.screen {
			nav += navActiveStyle.Render(label)
		} else {
			nav += navInactiveStyle.Render(label)
		}
	}

	nav += "  " + navInactiveStyle.Render("[q] Quit")

	return navStyle.Render(nav)
}

func (a *App) renderFooter() string {
	if a.status != "" {
		return statusStyle.Render(a.status)
	}
	return ""
}

// StartLoadMsg asks the load screen to ingest a batch
type StartLoadMsg struct {
	IDs []int64
}

// LoadCompleteMsg is sent when a batch finishes
type LoadCompleteMsg struct {
	Summary ingest.Summary
}
