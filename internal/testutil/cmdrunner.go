package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/npratt/hopctl/internal/exec"
)

// CommandCall records a command invocation for assertion purposes.
type CommandCall struct {
	Name string
	Args []string
}

// RunFunc answers a command ahead of the canned results. Returning
// handled=false falls through to them.
type RunFunc func(ctx context.Context, name string, args []string) (out []byte, err error, handled bool)

type cannedResult struct {
	out []byte
	err error
}

// MockRunner implements exec.CommandRunner with canned results keyed by
// command line ("name arg1 arg2"). An exact key wins; otherwise the
// longest key that prefixes the command line answers.
type MockRunner struct {
	mu      sync.Mutex
	results map[string]cannedResult
	calls   []CommandCall

	// OnRun, when set, is consulted before the canned results.
	OnRun RunFunc
}

// NewMockRunner creates an empty MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{results: make(map[string]cannedResult)}
}

// Run records the call and returns the matching canned result. A
// cancelled context fails the call the way a killed process would.
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, CommandCall{Name: name, Args: append([]string(nil), args...)})
	onRun := m.OnRun
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if onRun != nil {
		if out, err, handled := onRun(ctx, name, args); handled {
			return out, err
		}
	}

	key := commandLine(name, args)

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.results[key]; ok {
		return r.out, r.err
	}
	best := ""
	for k := range m.results {
		if len(k) > len(best) && strings.HasPrefix(key, k+" ") {
			best = k
		}
	}
	if best != "" {
		r := m.results[best]
		return r.out, r.err
	}
	return nil, fmt.Errorf("unexpected command: %s", key)
}

// SetResponse makes the command print out and succeed.
func (m *MockRunner) SetResponse(name string, args []string, out []byte) {
	m.set(name, args, cannedResult{out: out})
}

// SetError makes the command fail with err.
func (m *MockRunner) SetError(name string, args []string, err error) {
	m.set(name, args, cannedResult{err: err})
}

// SetStderr makes the command fail the way a command that writes to
// stderr does under exec.ExecRunner.
func (m *MockRunner) SetStderr(name string, args []string, stderr string) {
	m.SetError(name, args, &exec.CommandError{Name: name, Stderr: stderr, Err: exec.ErrStderr})
}

func (m *MockRunner) set(name string, args []string, r cannedResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[commandLine(name, args)] = r
}

// GetCalls returns a copy of all recorded calls.
func (m *MockRunner) GetCalls() []CommandCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandCall(nil), m.calls...)
}

// Reset clears recorded calls and canned results.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.results = make(map[string]cannedResult)
}

func commandLine(name string, args []string) string {
	return strings.Join(append([]string{name}, args...), " ")
}
