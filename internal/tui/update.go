package tui

import (
	"fmt"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/hopctl/internal/events"
)

const (
	// maxEventLines is the maximum number of event lines to keep in the buffer.
	maxEventLines = 200
	// trimEventLines is the number of lines to remove when buffer exceeds max.
	trimEventLines = 50
)

// channelClosedMsg signals that the event channel was closed.
type channelClosedMsg struct{}

// snapshotMsg signals that the controller published new state.
type snapshotMsg struct{}

// controllerDoneMsg signals that the controller loop has exited.
type controllerDoneMsg struct{}

// actionMsg reports the outcome of an intent sent to the controller.
type actionMsg struct {
	action string
	err    error
}

// waitForEvent creates a command that waits for the next event from the channel.
// Returns channelClosedMsg if the channel is closed.
func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return channelClosedMsg{}
		}
		return eventMsg(event)
	}
}

// waitForUpdate creates a command that waits for the next snapshot.
func waitForUpdate(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctrl.Updates():
			return snapshotMsg{}
		case <-ctrl.Done():
			return controllerDoneMsg{}
		}
	}
}

// intent runs fn against the controller off the UI goroutine.
func intent(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionMsg{action: action, err: fn()}
	}
}

// Update implements tea.Model. It handles all message types and updates the model.
func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case snapshotMsg:
		m.applySnapshot(m.ctrl.Snapshot())
		return m, waitForUpdate(m.ctrl)

	case controllerDoneMsg:
		slog.Info("controller stopped, exiting TUI")
		return m, tea.Quit

	case actionMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.notice = ""
		}
		return m, nil

	case eventMsg:
		m.handleEvent(events.Event(msg))
		return m, waitForEvent(m.eventChan)

	case channelClosedMsg:
		m.eventChan = nil
		return m, nil

	default:
		var cmds []tea.Cmd
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.focusedPane == FocusURL {
			m.input, cmd = m.input.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}
}

// handleKey processes keyboard input and returns the updated model and command.
func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys: always work regardless of focus
	switch key {
	case "ctrl+c":
		return m.quit()

	case "tab":
		if m.focusedPane == FocusURL {
			m.focusPage()
			return m, nil
		}
		return m, m.focusURL()
	}

	if m.focusedPane == FocusURL {
		return m.handleURLKey(msg)
	}

	switch key {
	case "q":
		return m.quit()

	case "c":
		return m, intent("connect", m.ctrl.StartProxy)

	case "/", "o":
		m.input.SetValue("")
		return m, m.focusURL()

	case "r":
		url := m.snap.CurrentURL()
		if url == "" {
			return m, nil
		}
		return m, m.load(url)

	case "b", "left":
		return m, m.navigate(-1)

	case "f", "right":
		return m, m.navigate(1)

	case "+", "=":
		return m, m.setNodes(m.snap.NodeCount + 1)

	case "-":
		if m.snap.NodeCount <= 1 {
			return m, nil
		}
		return m, m.setNodes(m.snap.NodeCount - 1)

	case "up", "k", "down", "j", "pgup", "pgdown":
		var cmd tea.Cmd
		m.page, cmd = m.page.Update(msg)
		return m, cmd

	case "home", "g":
		m.page.GotoTop()
		return m, nil

	case "end", "G":
		m.page.GotoBottom()
		return m, nil

	default:
		return m, nil
	}
}

// handleURLKey processes keys while the address bar has focus.
func (m model) handleURLKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		resource := m.input.Value()
		m.focusedPane = FocusPage
		m.input.Blur()
		return m, m.load(resource)

	case "esc":
		m.focusPage()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) quit() (tea.Model, tea.Cmd) {
	if m.onQuit != nil {
		m.onQuit()
	}
	return m, tea.Quit
}

func (m model) load(resource string) tea.Cmd {
	ctrl := m.ctrl
	return intent("load", func() error {
		_, err := ctrl.Load(resource)
		return err
	})
}

func (m model) navigate(diff int) tea.Cmd {
	ctrl := m.ctrl
	action := "forward"
	if diff < 0 {
		action = "back"
	}
	return intent(action, func() error {
		_, err := ctrl.NavigateHistory(diff)
		return err
	})
}

func (m model) setNodes(n int) tea.Cmd {
	ctrl := m.ctrl
	return intent("nodes", func() error {
		return ctrl.SetNodeCount(n)
	})
}

// handleEvent adds an event to the activity log.
func (m *model) handleEvent(event events.Event) {
	// The header already shows the status line.
	if _, ok := event.(*events.StatusEvent); ok {
		return
	}

	text := events.Format(event)
	if text == "" {
		return
	}
	m.eventLines = append(m.eventLines, eventLine{
		Time:  event.Timestamp(),
		Text:  text,
		Style: StyleForEvent(event),
	})

	// Trim buffer if over max lines
	if len(m.eventLines) > maxEventLines {
		m.eventLines = m.eventLines[trimEventLines:]
	}
}
