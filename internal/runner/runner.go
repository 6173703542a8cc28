// Package runner supervises child processes. Each started process reports
// what it does through a single event channel: output lines, runner
// failures, and a final exit event.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// DefaultMaxLineBytes bounds a single line read from a child process.
// Client responses arrive as one JSON line, so this is generous.
const DefaultMaxLineBytes = 8 * 1024 * 1024

// EventKind identifies what a process reported.
type EventKind int

const (
	// EventStdout carries one line written to standard output.
	EventStdout EventKind = iota
	// EventStderr carries one line written to standard error.
	EventStderr
	// EventFailed reports that the runner lost track of a stream.
	EventFailed
	// EventExited is always the last event. Code is the exit status,
	// -1 when the process was killed or its status is unknown.
	EventExited
)

// String returns a short name for the kind.
func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventFailed:
		return "failed"
	case EventExited:
		return "exited"
	default:
		return "unknown"
	}
}

// Event is one observation of a running process.
type Event struct {
	Kind EventKind
	Line string // EventStdout, EventStderr
	Code int    // EventExited
	Err  error  // EventFailed, and EventExited when Wait failed oddly
}

// Spec describes a process to start.
type Spec struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

// String renders the spec as a command line for logs.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + " " + strings.Join(s.Args, " ")
}

// Process is a started child process.
type Process interface {
	// Events yields output and failure events followed by exactly one
	// EventExited, then closes.
	Events() <-chan Event

	// Kill terminates the process. Events still pending are dropped and
	// the channel is closed once the process is reaped. Safe to call
	// more than once or after exit.
	Kill() error
}

// ProcessRunner starts child processes.
type ProcessRunner interface {
	Start(ctx context.Context, spec Spec) (Process, error)
}

// ExecProcessRunner implements ProcessRunner using os/exec.
type ExecProcessRunner struct {
	maxLine int
}

// NewExecProcessRunner creates a new ExecProcessRunner.
func NewExecProcessRunner() *ExecProcessRunner {
	return &ExecProcessRunner{maxLine: DefaultMaxLineBytes}
}

// Start spawns the process described by spec and begins streaming its
// output. A returned error means nothing was started.
func (r *ExecProcessRunner) Start(ctx context.Context, spec Spec) (Process, error) {
	if spec.Name == "" {
		return nil, errors.New("start process: empty command")
	}

	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Name, err)
	}

	p := &execProcess{
		cmd:     cmd,
		pipes:   []io.Closer{stdout, stderr},
		events:  make(chan Event, 64),
		dropped: make(chan struct{}),
	}
	go p.supervise(stdout, stderr, r.maxLine)
	return p, nil
}

// execProcess is a running os/exec command.
type execProcess struct {
	cmd     *exec.Cmd
	pipes   []io.Closer
	events  chan Event
	dropped chan struct{} // closed by Kill; senders stop blocking
	once    sync.Once
}

func (p *execProcess) Events() <-chan Event {
	return p.events
}

func (p *execProcess) Kill() error {
	p.once.Do(func() {
		close(p.dropped)
		// Grandchildren may hold the pipes open; stop reading them.
		for _, c := range p.pipes {
			_ = c.Close()
		}
	})
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// send delivers ev unless the process has been killed.
func (p *execProcess) send(ev Event) {
	select {
	case p.events <- ev:
	case <-p.dropped:
	}
}

// supervise drains both pipes, reaps the process, and closes the channel.
// Exit is reported only after every line has been delivered.
func (p *execProcess) supervise(stdout, stderr io.Reader, maxLine int) {
	defer close(p.events)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.scan(stdout, EventStdout, maxLine)
	}()
	go func() {
		defer wg.Done()
		p.scan(stderr, EventStderr, maxLine)
	}()
	wg.Wait()

	p.send(exitEvent(p.cmd.Wait()))
}

func (p *execProcess) scan(r io.Reader, kind EventKind, maxLine int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		p.send(Event{Kind: kind, Line: scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		p.send(Event{Kind: EventFailed, Err: fmt.Errorf("read %s: %w", kind, err)})
		// Keep the pipe drained so the child does not block on write.
		_, _ = io.Copy(io.Discard, r)
	}
}

// exitEvent converts the result of cmd.Wait into the final event.
func exitEvent(err error) Event {
	if err == nil {
		return Event{Kind: EventExited, Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Event{Kind: EventExited, Code: exitErr.ExitCode()}
	}
	return Event{Kind: EventExited, Code: -1, Err: err}
}
