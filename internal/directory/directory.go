// Package directory queries the directory service for the relay roster.
//
// A query is a short-lived process: every stdout line names a relay, and
// any stderr output or a non-zero exit means the directory is unavailable.
// The stderr line is kept verbatim as the failure reason.
package directory

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/npratt/hopctl/internal/config"
	"github.com/npratt/hopctl/internal/exec"
	"github.com/npratt/hopctl/internal/roster"
	"github.com/npratt/hopctl/internal/runner"
)

// ErrUnavailable is wrapped by every query failure.
var ErrUnavailable = errors.New("directory unavailable")

// Failure describes why a query failed.
type Failure struct {
	Reason string
	Err    error // underlying cause, if any
}

func (f *Failure) Error() string {
	return f.Reason
}

// Unwrap returns ErrUnavailable together with the underlying cause.
func (f *Failure) Unwrap() []error {
	if f.Err != nil {
		return []error{ErrUnavailable, f.Err}
	}
	return []error{ErrUnavailable}
}

// Query is the command that asks the directory for its roster.
type Query struct {
	cmd config.Command
	dir string
	env []string
}

// NewQuery builds a Query from the directory section of cfg.
func NewQuery(cfg *config.Config) (*Query, error) {
	cmd, err := config.ParseCommand(cfg.Directory.Command)
	if err != nil {
		return nil, fmt.Errorf("directory command: %w", err)
	}
	return &Query{cmd: cmd, dir: cfg.WorkDir, env: cfg.Env}, nil
}

// Spec returns the process spec for a streamed query.
func (q *Query) Spec() runner.Spec {
	return runner.Spec{
		Name: q.cmd.Name,
		Args: append([]string(nil), q.cmd.Args...),
		Dir:  q.dir,
		Env:  q.env,
	}
}

// String renders the query command line.
func (q *Query) String() string {
	return q.Spec().String()
}

// Dir returns the working directory the query runs in.
func (q *Query) Dir() string {
	return q.dir
}

// Lookup runs the query to completion and returns the reported addresses.
// The runner is expected to run commands in Dir.
func (q *Query) Lookup(ctx context.Context, r exec.CommandRunner) ([]string, error) {
	out, err := r.Run(ctx, q.cmd.Name, q.cmd.Args...)
	if err != nil {
		var cmdErr *exec.CommandError
		if errors.As(err, &cmdErr) && cmdErr.Stderr != "" {
			return nil, &Failure{Reason: cmdErr.Stderr, Err: err}
		}
		return nil, &Failure{Reason: err.Error(), Err: err}
	}
	addrs, err := roster.ParseReport(bytes.NewReader(out))
	if err != nil {
		return nil, &Failure{Reason: err.Error(), Err: err}
	}
	return addrs, nil
}

// Collector accumulates the events of a streamed query.
// Feed it events until Observe reports done, then read Result.
type Collector struct {
	addrs []string
	err   error
	done  bool
}

// Observe records one process event and reports whether the query has
// reached an outcome. The first stderr line ends the query as a failure
// even though the process may still be running.
func (c *Collector) Observe(ev runner.Event) bool {
	if c.done {
		return true
	}
	switch ev.Kind {
	case runner.EventStdout:
		addr, err := roster.ParseLine(ev.Line)
		if err != nil {
			c.fail(&Failure{Reason: err.Error(), Err: err})
		} else if addr != "" {
			c.addrs = append(c.addrs, addr)
		}
	case runner.EventStderr:
		c.fail(&Failure{Reason: ev.Line})
	case runner.EventFailed:
		c.fail(&Failure{Reason: ev.Err.Error(), Err: ev.Err})
	case runner.EventExited:
		if ev.Code != 0 {
			c.fail(&Failure{Reason: fmt.Sprintf("directory exited with code %d", ev.Code), Err: ev.Err})
		}
		c.done = true
	}
	return c.done
}

func (c *Collector) fail(err error) {
	c.err = err
	c.done = true
}

// Done reports whether an outcome has been reached.
func (c *Collector) Done() bool {
	return c.done
}

// Result returns the reported addresses, or the failure. Calling it
// before Done is true returns ErrUnavailable.
func (c *Collector) Result() ([]string, error) {
	if !c.done {
		return nil, &Failure{Reason: "directory query did not finish"}
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.addrs, nil
}
