package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/npratt/hopctl/internal/controller"
)

// fakeController records intents and serves a settable snapshot.
type fakeController struct {
	mu      sync.Mutex
	snap    controller.Snapshot
	updates chan struct{}
	done    chan struct{}

	started int
	loads   []string
	moves   []int
	nodes   []int
	err     error
}

func newFakeController() *fakeController {
	return &fakeController{
		snap:    idleSnapshot(),
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func idleSnapshot() controller.Snapshot {
	return controller.Snapshot{
		State:        controller.StateNotConnected,
		Message:      controller.StatusMessage(controller.StateNotConnected, "", 0, ""),
		HistoryIndex: -1,
		NodeCount:    3,
	}
}

func (f *fakeController) StartProxy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.err
}

func (f *fakeController) Load(resource string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, resource)
	return resource, f.err
}

func (f *fakeController) NavigateHistory(diff int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, diff)
	return "", f.err
}

func (f *fakeController) SetNodeCount(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, n)
	return f.err
}

func (f *fakeController) Snapshot() controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Updates() <-chan struct{} { return f.updates }

func (f *fakeController) Done() <-chan struct{} { return f.done }

func (f *fakeController) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// publish swaps the snapshot and notifies watchers.
func (f *fakeController) publish(s controller.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
	select {
	case f.updates <- struct{}{}:
	default:
	}
}

func keyMsg(key string) tea.KeyMsg {
	switch key {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
}

// sized returns a model that has received a window size.
func sized(f *fakeController, w, h int) model {
	m := newModel(f, nil, nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: w, Height: h})
	return updated.(model)
}

func press(m model, key string) (model, tea.Cmd) {
	updated, cmd := m.Update(keyMsg(key))
	return updated.(model), cmd
}
