package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/hopctl/internal/controller"
	"github.com/npratt/hopctl/internal/events"
)

// FocusedPane represents which pane currently has keyboard focus.
type FocusedPane int

const (
	// FocusPage means the page view has focus (default).
	FocusPage FocusedPane = iota
	// FocusURL means the address bar has focus.
	FocusURL
)

// Layout size constants.
const (
	// rosterWidth is the width of the relay column.
	rosterWidth = 24
	// activityRows is the number of recent events shown.
	activityRows = 4
	// chromeRows counts every row that is not page body: borders (2),
	// header (2), dividers (3), activity, footer (1).
	chromeRows = 2 + 2 + 3 + activityRows + 1
)

// eventLine represents a formatted event for display.
type eventLine struct {
	Time  time.Time
	Text  string
	Style lipgloss.Style
}

// model is the bubbletea model for the TUI.
type model struct {
	ctrl      Controller
	eventChan <-chan events.Event
	onQuit    func()

	// Latest published controller state.
	snap controller.Snapshot

	// Page view
	page     viewport.Model
	pageID   string // request ID of the page in the viewport
	pageText string

	input   textinput.Model
	spinner spinner.Model

	eventLines []eventLine
	notice     string // last rejected action

	width       int
	height      int
	focusedPane FocusedPane
}

// eventMsg wraps an event for the bubbletea message system.
type eventMsg events.Event

// newModel creates a new model reading from ctrl.
func newModel(ctrl Controller, eventChan <-chan events.Event, onQuit func()) model {
	input := textinput.New()
	input.Prompt = "url> "
	input.Placeholder = "address"
	input.PromptStyle = styles.Prompt
	input.CharLimit = 2048

	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(styles.StatusConnecting),
	)

	m := model{
		ctrl:      ctrl,
		eventChan: eventChan,
		onQuit:    onQuit,
		page:      viewport.New(0, 0),
		input:     input,
		spinner:   sp,
	}
	m.applySnapshot(ctrl.Snapshot())
	return m
}

// Init implements tea.Model.
func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForUpdate(m.ctrl),
		m.spinner.Tick,
	}
	if m.eventChan != nil {
		cmds = append(cmds, waitForEvent(m.eventChan))
	}
	return tea.Batch(cmds...)
}

// applySnapshot adopts new controller state and refreshes the page view
// when a different page arrived.
func (m *model) applySnapshot(s controller.Snapshot) {
	m.snap = s

	switch {
	case s.Page != nil && s.Page.RequestID != m.pageID:
		m.pageID = s.Page.RequestID
		m.pageText = events.StripANSI(s.Page.Content)
		m.wrapPage()
		m.page.GotoTop()
		if m.focusedPane != FocusURL {
			m.input.SetValue(s.Page.URL)
		}
	case s.Page == nil && m.pageID != "":
		m.pageID = ""
		m.pageText = ""
		m.page.SetContent("")
	}
}

// wrapPage sets the viewport content wrapped to its width.
func (m *model) wrapPage() {
	if m.page.Width <= 0 {
		m.page.SetContent(m.pageText)
		return
	}
	m.page.SetContent(lipgloss.NewStyle().Width(m.page.Width).Render(m.pageText))
}

// resize recalculates pane dimensions for the terminal size.
func (m *model) resize() {
	w := m.contentWidth()
	m.page.Width = safeWidth(w - rosterWidth - 3)
	m.page.Height = m.bodyHeight()
	m.input.Width = safeWidth(m.urlWidth() - lipgloss.Width(m.input.Prompt) - 1)
	m.wrapPage()
}

// contentWidth is the usable width inside the container border.
func (m model) contentWidth() int {
	return safeWidth(m.width - 4)
}

// urlWidth is the share of the header line given to the address bar.
func (m model) urlWidth() int {
	return m.contentWidth() * 3 / 5
}

// bodyHeight is the number of rows for the roster and page.
func (m model) bodyHeight() int {
	return max(1, m.height-chromeRows)
}

func (m *model) focusURL() tea.Cmd {
	m.focusedPane = FocusURL
	return m.input.Focus()
}

func (m *model) focusPage() {
	m.focusedPane = FocusPage
	m.input.Blur()
	if m.snap.Page != nil {
		m.input.SetValue(m.snap.Page.URL)
	}
}

// busy reports whether the spinner should be shown.
func (m model) busy() bool {
	return m.snap.State == controller.StateConnecting || m.snap.Loading != ""
}
