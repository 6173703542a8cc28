// Package tui provides a terminal UI for hopctl using bubbletea.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/hopctl/internal/controller"
	"github.com/npratt/hopctl/internal/events"
)

// Controller is the part of the connection controller the UI drives.
type Controller interface {
	StartProxy() error
	Load(resource string) (string, error)
	NavigateHistory(diff int) (string, error)
	SetNodeCount(n int) error
	Snapshot() controller.Snapshot
	Updates() <-chan struct{}
	Done() <-chan struct{}
}

// TUI is the terminal UI for the relay network.
type TUI struct {
	ctrl      Controller
	eventChan <-chan events.Event
	onQuit    func()
}

// Option configures the TUI.
type Option func(*TUI)

// New creates a new TUI driving ctrl.
func New(ctrl Controller, opts ...Option) *TUI {
	t := &TUI{ctrl: ctrl}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithEvents sets the channel feeding the activity pane.
func WithEvents(ch <-chan events.Event) Option {
	return func(t *TUI) {
		t.eventChan = ch
	}
}

// WithOnQuit sets the callback invoked when the user quits.
func WithOnQuit(fn func()) Option {
	return func(t *TUI) {
		t.onQuit = fn
	}
}

// Run starts the TUI and blocks until it exits. Without a usable
// terminal it falls back to line-by-line output.
func (t *TUI) Run() error {
	if !interactive() {
		return t.runSimple()
	}

	m := newModel(t.ctrl, t.eventChan, t.onQuit)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
