// Package exec provides one-shot command execution for production use.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrStderr reports that a command wrote to standard error. Tools in
// this network signal failure that way even when they exit 0.
var ErrStderr = errors.New("command wrote to stderr")

// CommandRunner abstracts command execution for dependency injection.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError carries the first stderr line of a failed command.
type CommandError struct {
	Name   string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner executes real commands using os/exec.
type ExecRunner struct {
	// Dir is the working directory for every command. Empty means the
	// current directory.
	Dir string
}

// NewExecRunner creates a new ExecRunner for production use.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns its standard output. Any stderr
// output or a non-zero exit yields a *CommandError.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := execCommand(ctx, r.Dir, name, args...)
	stdout, stderr, err := cmd.Output()

	msg := firstLine(stderr)
	switch {
	case err != nil:
		return stdout, &CommandError{Name: name, Stderr: msg, Err: err}
	case msg != "":
		return stdout, &CommandError{Name: name, Stderr: msg, Err: ErrStderr}
	}
	return stdout, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	return s
}

// execCommand is a variable to allow testing.
var execCommand = execCommandImpl

func execCommandImpl(ctx context.Context, dir, name string, args ...string) execCmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	return realExecCmd{cmd: cmd}
}

// execCmd abstracts exec.Cmd for testing.
type execCmd interface {
	Output() (stdout, stderr []byte, err error)
}

type realExecCmd struct {
	cmd *exec.Cmd
}

func (c realExecCmd) Output() ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	c.cmd.Stdout = &stdout
	c.cmd.Stderr = &stderr
	err := c.cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
