package controller

import (
	"fmt"

	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/runner"
)

// role is what a tracked process does for the network.
type role int

const (
	roleDirectory role = iota
	roleRelay
	roleClient
	roleFetch
)

func (r role) source() string {
	switch r {
	case roleDirectory:
		return events.SourceDirectory
	case roleRelay:
		return events.SourceRelay
	default:
		return events.SourceClient
	}
}

// tracked is a process started by the controller.
type tracked struct {
	id       int
	role     role
	instance string
	proc     runner.Process
	ready    bool
}

// procEvent is a process event tagged with the process it came from.
type procEvent struct {
	id int
	ev runner.Event
}

// spawn starts a process and begins forwarding its events to the loop.
func (c *Controller) spawn(r role, instance string, spec runner.Spec) (*tracked, error) {
	proc, err := c.runner.Start(c.ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, spec.Name, err)
	}

	c.nextID++
	t := &tracked{id: c.nextID, role: r, instance: instance, proc: proc}
	c.procs[t.id] = t
	c.logger.Debug("process started", "role", r.source(), "instance", instance, "command", spec.String())

	go c.forward(t.id, proc)
	return t, nil
}

// forward copies a process's events onto the loop's channel until the
// process closes its channel or the loop exits.
func (c *Controller) forward(id int, proc runner.Process) {
	for ev := range proc.Events() {
		select {
		case c.procEvents <- procEvent{id: id, ev: ev}:
		case <-c.done:
			return
		}
	}
}

// kill stops a tracked process and forgets it. Events it still has in
// flight are ignored.
func (c *Controller) kill(t *tracked) {
	if t == nil {
		return
	}
	delete(c.procs, t.id)
	if err := t.proc.Kill(); err != nil {
		c.logger.Warn("kill failed", "role", t.role.source(), "instance", t.instance, "error", err)
	}
}

// handleProcEvent routes an event to the handler for its process.
func (c *Controller) handleProcEvent(pe procEvent) {
	t, ok := c.procs[pe.id]
	if !ok {
		return
	}
	if pe.ev.Kind == runner.EventExited {
		delete(c.procs, pe.id)
	}

	switch t.role {
	case roleDirectory:
		c.onQueryEvent(t, pe.ev)
	case roleRelay, roleClient:
		c.onParticipantEvent(t, pe.ev)
	case roleFetch:
		c.onFetchEvent(t, pe.ev)
	}
}

// stopAll kills every process and clears the timers tied to them.
func (c *Controller) stopAll() {
	if c.lookup != nil {
		c.kill(c.lookup.proc)
		c.lookup = nil
	}
	c.stopParticipants()
	c.cancelFetch()
	c.stopPoll()
}
