package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/npratt/hopctl/internal/runner"
)

// ErrStartRefused is a convenient start error for scripted failures.
var ErrStartRefused = errors.New("start refused")

// Script describes what a fake process does as soon as it starts.
type Script struct {
	Stdout   []string
	Stderr   []string
	ExitCode int
	// Hold keeps the process running after the scripted output. The test
	// ends it later with FakeProcess.Exit.
	Hold bool
}

// StartCallback is called on each Start invocation.
// attempt counts starts of the same command name, from 1.
// Returning an error simulates a spawn failure.
type StartCallback func(attempt int, spec runner.Spec) (Script, error)

// FakeProcess is a scripted runner.Process.
type FakeProcess struct {
	Spec runner.Spec

	mu     sync.Mutex
	events chan runner.Event
	closed bool
	killed bool
}

// NewFakeProcess creates a running fake with no output yet.
func NewFakeProcess(spec runner.Spec) *FakeProcess {
	return &FakeProcess{
		Spec:   spec,
		events: make(chan runner.Event, 256),
	}
}

// Events implements runner.Process.
func (p *FakeProcess) Events() <-chan runner.Event {
	return p.events
}

// Kill implements runner.Process. Pending events are discarded.
func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.closeLocked()
	return nil
}

// Stdout emits one standard output line.
func (p *FakeProcess) Stdout(line string) {
	p.send(runner.Event{Kind: runner.EventStdout, Line: line})
}

// Stderr emits one standard error line.
func (p *FakeProcess) Stderr(line string) {
	p.send(runner.Event{Kind: runner.EventStderr, Line: line})
}

// Fail emits a runner failure.
func (p *FakeProcess) Fail(err error) {
	p.send(runner.Event{Kind: runner.EventFailed, Err: err})
}

// Exit emits the exit event and closes the channel.
func (p *FakeProcess) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.events <- runner.Event{Kind: runner.EventExited, Code: code}
	p.closeLocked()
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Done reports whether the process has exited or been killed.
func (p *FakeProcess) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *FakeProcess) send(ev runner.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.events <- ev
}

func (p *FakeProcess) closeLocked() {
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

func (p *FakeProcess) play(s Script) {
	for _, line := range s.Stdout {
		p.Stdout(line)
	}
	for _, line := range s.Stderr {
		p.Stderr(line)
	}
	if !s.Hold {
		p.Exit(s.ExitCode)
	}
}

// FakeProcessRunner implements runner.ProcessRunner for testing.
// It records every start and plays the script chosen by the callback.
type FakeProcessRunner struct {
	mu        sync.Mutex
	onStart   StartCallback
	attempts  map[string]int
	processes []*FakeProcess
}

// NewFakeProcessRunner creates a runner whose processes hold forever
// until a callback is set with OnStart.
func NewFakeProcessRunner() *FakeProcessRunner {
	return &FakeProcessRunner{attempts: make(map[string]int)}
}

// OnStart sets the callback for dynamic start behavior.
func (r *FakeProcessRunner) OnStart(fn StartCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStart = fn
}

// Start implements runner.ProcessRunner.
func (r *FakeProcessRunner) Start(ctx context.Context, spec runner.Spec) (runner.Process, error) {
	r.mu.Lock()
	r.attempts[spec.Name]++
	attempt := r.attempts[spec.Name]
	fn := r.onStart
	r.mu.Unlock()

	script := Script{Hold: true}
	if fn != nil {
		var err error
		script, err = fn(attempt, spec)
		if err != nil {
			return nil, err
		}
	}

	p := NewFakeProcess(spec)
	r.mu.Lock()
	r.processes = append(r.processes, p)
	r.mu.Unlock()

	p.play(script)
	return p, nil
}

// StartCount returns how many processes were started with the given
// command name. An empty name counts every start.
func (r *FakeProcessRunner) StartCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return len(r.processes)
	}
	n := 0
	for _, p := range r.processes {
		if p.Spec.Name == name {
			n++
		}
	}
	return n
}

// Processes returns every started process with the given command name,
// in start order. An empty name returns all of them.
func (r *FakeProcessRunner) Processes(name string) []*FakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*FakeProcess
	for _, p := range r.processes {
		if name == "" || p.Spec.Name == name {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the most recent process started with the given name, or nil.
func (r *FakeProcessRunner) Last(name string) *FakeProcess {
	procs := r.Processes(name)
	if len(procs) == 0 {
		return nil
	}
	return procs[len(procs)-1]
}
