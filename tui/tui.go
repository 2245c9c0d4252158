// Package tui is the consolectl terminal UI: a live transcript of the
// managed server's console with a command line underneath.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/emberworks/consoled/console"
	"github.com/emberworks/consoled/favorites"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Messages bridged from the session controller's callbacks.

// TranscriptMsg carries the full transcript snapshot after an append.
type TranscriptMsg struct{ Lines []string }

// SettledMsg is sent when the session settles; Code is nil for a
// transport failure.
type SettledMsg struct{ Code *int }

// NoteMsg shows a transient message in the status line.
type NoteMsg struct{ Text string }

// Model is the root Bubble Tea model.
type Model struct {
	client *console.Client
	ctrl   *console.Controller
	favs   favorites.Store

	// updates is fed by the controller's observers; listen re-arms
	// after every delivered message.
	updates chan tea.Msg

	keys     KeyMap
	viewport viewport.Model
	input    textinput.Model

	width  int
	height int
	ready  bool

	note     string
	favList  []string
	favIndex int
}

// New creates the root model. The controller must have been built with
// Observers(updates) so its callbacks land in the update channel.
func New(client *console.Client, ctrl *console.Controller, favs favorites.Store, updates chan tea.Msg) Model {
	input := textinput.New()
	input.Placeholder = "command (enter to send)"
	input.Focus()
	return Model{
		client:  client,
		ctrl:    ctrl,
		favs:    favs,
		updates: updates,
		keys:    DefaultKeyMap(),
		input:   input,
	}
}

// Observers returns controller options that forward session activity
// into the given update channel.
func Observers(updates chan tea.Msg) []console.ControllerOption {
	return []console.ControllerOption{
		console.WithTranscriptObserver(func(lines []string) {
			updates <- TranscriptMsg{Lines: lines}
		}),
		console.WithSettledObserver(func(code *int) {
			updates <- SettledMsg{Code: code}
		}),
	}
}

func (m Model) listen() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), m.observeConsole())
}

// observeConsole starts a session on the live console stream.
func (m Model) observeConsole() tea.Cmd {
	ctrl, client := m.ctrl, m.client
	return func() tea.Msg {
		if err := ctrl.Start(context.Background(), func(ctx context.Context) (console.EventStream, error) {
			return client.OpenConsole(ctx)
		}); err != nil {
			return NoteMsg{Text: fmt.Sprintf("console: %s", err)}
		}
		return NoteMsg{Text: "observing console"}
	}
}

// refreshAuth starts a session on the auth refresh stream.
func (m Model) refreshAuth() tea.Cmd {
	ctrl, client := m.ctrl, m.client
	return func() tea.Msg {
		if err := ctrl.Start(context.Background(), func(ctx context.Context) (console.EventStream, error) {
			return client.OpenAuthRefresh(ctx)
		}); err != nil {
			return NoteMsg{Text: fmt.Sprintf("auth refresh: %s", err)}
		}
		return NoteMsg{Text: "refreshing auth"}
	}
}

func (m Model) startServer() tea.Cmd {
	client := m.client
	start := func() tea.Msg {
		if err := client.StartServer(context.Background()); err != nil {
			return NoteMsg{Text: fmt.Sprintf("start: %s", err)}
		}
		return NoteMsg{Text: "server starting"}
	}
	// observe the fresh run; the old session is superseded either way
	return tea.Sequence(start, m.observeConsole())
}

func (m Model) stopServer() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		if err := client.StopServer(context.Background()); err != nil {
			return NoteMsg{Text: fmt.Sprintf("stop: %s", err)}
		}
		return NoteMsg{Text: "stop requested"}
	}
}

func (m *Model) sendCommand() tea.Cmd {
	text := m.input.Value()
	err := m.ctrl.SendCommand(context.Background(), text)
	switch {
	case err == nil:
		m.input.SetValue("")
		m.note = ""
	case errors.Is(err, console.ErrEmptyCommand):
		// nothing to say
	case errors.Is(err, console.ErrCommandInFlight):
		m.note = "previous command still in flight"
	case errors.Is(err, console.ErrNotRunning):
		m.note = "not connected to a running session"
	default:
		m.note = err.Error()
	}
	return nil
}

func (m *Model) toggleFavorite() {
	text := strings.TrimSpace(m.input.Value())
	if text == "" || m.favs == nil {
		return
	}
	nowFav, err := m.favs.Toggle(text)
	if err != nil {
		m.note = fmt.Sprintf("favorites: %s", err)
		return
	}
	if nowFav {
		m.note = fmt.Sprintf("favorited %q", text)
	} else {
		m.note = fmt.Sprintf("unfavorited %q", text)
	}
	m.reloadFavorites()
}

func (m *Model) reloadFavorites() {
	if m.favs == nil {
		return
	}
	if list, err := m.favs.All(); err == nil {
		m.favList = list
		m.favIndex = 0
	}
}

func (m *Model) cycleFavorite() {
	if len(m.favList) == 0 {
		m.reloadFavorites()
	}
	if len(m.favList) == 0 {
		m.note = "no favorites yet"
		return
	}
	m.input.SetValue(m.favList[m.favIndex])
	m.input.CursorEnd()
	m.favIndex = (m.favIndex + 1) % len(m.favList)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 4
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case TranscriptMsg:
		m.viewport.SetContent(strings.Join(msg.Lines, "\n"))
		m.viewport.GotoBottom()
		return m, m.listen()

	case SettledMsg:
		if msg.Code == nil {
			m.note = "stream disconnected"
		} else if *msg.Code == 0 {
			m.note = "session completed"
		} else {
			m.note = fmt.Sprintf("session failed (exit code %d)", *msg.Code)
		}
		return m, m.listen()

	case NoteMsg:
		m.note = msg.Text
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Send):
			return m, m.sendCommand()
		case key.Matches(msg, m.keys.StartServer):
			return m, m.startServer()
		case key.Matches(msg, m.keys.StopServer):
			return m, m.stopServer()
		case key.Matches(msg, m.keys.RefreshAuth):
			return m, m.refreshAuth()
		case key.Matches(msg, m.keys.ToggleFav):
			m.toggleFavorite()
			return m, nil
		case key.Matches(msg, m.keys.NextFav):
			m.cycleFavorite()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}
	title := titleStyle.Render("consoled")
	status := statusStyle.Render(fmt.Sprintf("session: %s", m.ctrl.State()))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", status)

	note := ""
	if m.note != "" {
		note = noteStyle.Render(m.note)
	}

	return fmt.Sprintf("%s\n%s\n%s\n%s", header, m.viewport.View(), note, m.input.View())
}
