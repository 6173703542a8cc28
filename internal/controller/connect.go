package controller

import (
	"fmt"
	"time"

	"github.com/npratt/hopctl/internal/config"
	"github.com/npratt/hopctl/internal/directory"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/roster"
	"github.com/npratt/hopctl/internal/runner"
)

// queryRun is the directory query in flight. Only one runs at a time.
type queryRun struct {
	proc      *tracked
	collector directory.Collector
	poll      bool
}

// startProxy moves to connecting and queries the directory.
func (c *Controller) startProxy(retry bool) error {
	switch c.state {
	case StateConnecting:
		return ErrAlreadyConnecting
	case StateConnected:
		return ErrAlreadyConnected
	}

	c.attempts++
	c.setState(StateConnecting)
	c.logger.Info("querying directory", "attempt", c.attempts, "retry", retry)
	c.emit(&events.DirectoryQueryEvent{
		BaseEvent: events.NewEvent(events.EventDirectoryQuery, events.SourceDirectory),
		Attempt:   c.attempts,
	})

	if err := c.startQuery(false); err != nil {
		c.fail(err.Error(), err)
		return fmt.Errorf("%w: %w", ErrDirectoryUnavailable, err)
	}
	return nil
}

func (c *Controller) startQuery(poll bool) error {
	t, err := c.spawn(roleDirectory, "directory", c.query.Spec())
	if err != nil {
		return err
	}
	c.lookup = &queryRun{proc: t, poll: poll}
	return nil
}

func (c *Controller) onQueryEvent(t *tracked, ev runner.Event) {
	q := c.lookup
	if q == nil || q.proc != t {
		return
	}
	if !q.collector.Observe(ev) {
		return
	}

	c.lookup = nil
	if ev.Kind != runner.EventExited {
		// Failed on stderr while still running.
		c.kill(t)
	}

	addrs, err := q.collector.Result()
	if q.poll {
		c.onPollResult(addrs, err)
		return
	}
	if err != nil {
		c.fail(err.Error(), err)
		return
	}

	c.reconcile(addrs)
	if err := c.spawnParticipants(); err != nil {
		c.fail(err.Error(), err)
	}
}

// reconcile folds a directory report into the roster and reports changes.
func (c *Controller) reconcile(addrs []string) {
	before := c.roster
	if c.seeded {
		c.roster = roster.Reconcile(before, addrs, c.now())
	} else {
		c.roster = roster.Seed(addrs, c.now())
		c.seeded = true
	}

	for _, ch := range roster.Diff(before, c.roster) {
		c.emit(&events.RelayChangedEvent{
			BaseEvent: events.NewEvent(events.EventRelayChanged, events.SourceDirectory),
			Address:   ch.Address,
			Change:    string(ch.Kind),
		})
	}

	online := len(c.roster.Online())
	c.logger.Debug("roster reconciled", "reported", len(addrs), "online", online, "total", len(c.roster))
	c.emit(&events.RosterUpdatedEvent{
		BaseEvent: events.NewEvent(events.EventRosterUpdated, events.SourceDirectory),
		Total:     len(c.roster),
		Online:    online,
		Offline:   len(c.roster) - online,
	})
}

// spawnParticipants launches the relays and, when configured, the client,
// then waits for all of them to report ready.
func (c *Controller) spawnParticipants() error {
	c.stopParticipants()

	for i := 0; i < c.nodeCount; i++ {
		cmd := c.relayCmd.Expand(config.CommandVars{Index: i})
		if err := c.startParticipant(roleRelay, config.InstanceName(i), cmd); err != nil {
			return err
		}
	}
	if c.clientCmd != nil {
		cmd := c.clientCmd.Expand(config.CommandVars{})
		if err := c.startParticipant(roleClient, "client", cmd); err != nil {
			return err
		}
	}

	c.pending = len(c.participants)
	c.readyTimer = time.NewTimer(c.cfg.ReadyTimeout)
	c.readyC = c.readyTimer.C
	return nil
}

func (c *Controller) startParticipant(r role, instance string, cmd config.Command) error {
	spec := runner.Spec{Name: cmd.Name, Args: cmd.Args, Dir: c.cfg.WorkDir, Env: c.cfg.Env}
	t, err := c.spawn(r, instance, spec)
	if err != nil {
		return err
	}
	c.participants = append(c.participants, t)
	c.emit(&events.ParticipantStartEvent{
		BaseEvent: events.NewEvent(events.EventParticipantStart, r.source()),
		Instance:  instance,
		Command:   spec.String(),
	})
	return nil
}

func (c *Controller) onParticipantEvent(t *tracked, ev runner.Event) {
	switch ev.Kind {
	case runner.EventStdout:
		if t.ready {
			return
		}
		pattern := c.relayReady
		if t.role == roleClient {
			pattern = c.clientRdy
		}
		if !pattern.MatchString(ev.Line) {
			return
		}
		t.ready = true
		c.pending--
		c.logger.Info("participant ready", "role", t.role.source(), "instance", t.instance)
		c.emit(&events.ParticipantReadyEvent{
			BaseEvent: events.NewEvent(events.EventParticipantReady, t.role.source()),
			Instance:  t.instance,
			Line:      events.Truncate(ev.Line, 200),
		})
		if c.pending == 0 && c.state == StateConnecting {
			c.becomeConnected()
		}

	case runner.EventStderr:
		c.logger.Debug("participant stderr", "role", t.role.source(), "instance", t.instance, "line", ev.Line)

	case runner.EventFailed:
		c.logger.Warn("participant output lost", "role", t.role.source(), "instance", t.instance, "error", ev.Err)

	case runner.EventExited:
		c.emit(&events.ParticipantExitEvent{
			BaseEvent: events.NewEvent(events.EventParticipantExit, t.role.source()),
			Instance:  t.instance,
			Code:      ev.Code,
			Ready:     t.ready,
		})
		when := "exited"
		if c.state == StateConnecting {
			when = "exited before ready"
		}
		c.fail(fmt.Sprintf("%s %s %s (code %d)", t.role.source(), t.instance, when, ev.Code), nil)
	}
}

func (c *Controller) becomeConnected() {
	c.stopReadyTimer()
	c.backoff.Reset()
	c.lastFailure = ""
	c.setState(StateConnected)
	c.startPoll()
	c.logger.Info("connected", "relays", c.nodeCount, "roster", len(c.roster))
}

// fail tears everything down, records the reason, and schedules a retry.
func (c *Controller) fail(reason string, err error) {
	c.stopAll()
	c.lastFailure = reason
	c.backoff.OnFailure()
	c.setState(StateNotConnected)

	c.logger.Warn("connection failed",
		"reason", reason,
		"error", err,
		"failures", c.backoff.Failures(),
		"retry_in", c.backoff.Counter(),
	)
	c.emit(&events.DirectoryFailedEvent{
		BaseEvent: events.NewEvent(events.EventDirectoryFailed, events.SourceDirectory),
		Reason:    reason,
		Failures:  c.backoff.Failures(),
		RetryIn:   c.backoff.Counter(),
	})
}

func (c *Controller) stopParticipants() {
	for _, t := range c.participants {
		c.kill(t)
	}
	c.participants = nil
	c.pending = 0
	c.stopReadyTimer()
}

func (c *Controller) stopReadyTimer() {
	if c.readyTimer != nil {
		c.readyTimer.Stop()
		c.readyTimer = nil
	}
	c.readyC = nil
}

func (c *Controller) onReadyTimeout() {
	c.readyTimer = nil
	c.readyC = nil
	if c.state != StateConnecting {
		return
	}
	c.fail(fmt.Sprintf("%d of %d participants not ready after %s",
		c.pending, len(c.participants), c.cfg.ReadyTimeout), nil)
}

// onTick advances the backoff countdown and retries when it runs out.
func (c *Controller) onTick() {
	if !c.backoff.Pending() {
		return
	}
	if !c.backoff.Tick() {
		return
	}
	if err := c.startProxy(true); err != nil {
		c.logger.Debug("retry not started", "error", err)
	}
}

func (c *Controller) startPoll() {
	if c.cfg.Directory.PollInterval <= 0 {
		return
	}
	c.pollTicker = time.NewTicker(c.cfg.Directory.PollInterval)
	c.pollC = c.pollTicker.C
}

func (c *Controller) stopPoll() {
	if c.pollTicker != nil {
		c.pollTicker.Stop()
		c.pollTicker = nil
	}
	c.pollC = nil
}

// onPoll re-queries the directory while connected.
func (c *Controller) onPoll() {
	if c.state != StateConnected || c.lookup != nil {
		return
	}
	c.emit(&events.DirectoryQueryEvent{
		BaseEvent: events.NewEvent(events.EventDirectoryQuery, events.SourceDirectory),
		Attempt:   c.attempts,
		Poll:      true,
	})
	if err := c.startQuery(true); err != nil {
		c.onPollResult(nil, err)
	}
}

// onPollResult applies a roster refresh. A failed refresh leaves the
// roster and the connection alone.
func (c *Controller) onPollResult(addrs []string, err error) {
	if err != nil {
		c.logger.Warn("roster refresh failed", "error", err)
		c.emit(&events.DirectoryFailedEvent{
			BaseEvent: events.NewEvent(events.EventDirectoryFailed, events.SourceDirectory),
			Reason:    err.Error(),
			Poll:      true,
		})
		return
	}
	c.reconcile(addrs)
}
