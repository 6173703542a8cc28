// Package backoff implements the retry countdown used between failed
// directory connection attempts.
package backoff

import "time"

// Step is the amount the countdown drops on every Tick.
const Step = time.Second

// DefaultInitial is the delay before any failure has been recorded.
const DefaultInitial = time.Second

// Scheduler tracks the current retry delay and the countdown toward the
// next attempt. It only signals when a retry is due; it never decides
// connection state on its own.
//
// Scheduler is not safe for concurrent use. The controller drives it from
// its single control loop.
type Scheduler struct {
	initial  time.Duration
	max      time.Duration
	delay    time.Duration
	counter  time.Duration
	failures int
}

// New creates a Scheduler. An initial delay below Step is raised to
// DefaultInitial. A max of 0 leaves the delay uncapped.
func New(initial, max time.Duration) *Scheduler {
	if initial < Step {
		initial = DefaultInitial
	}
	// Keep the countdown on whole steps.
	initial = initial.Truncate(Step)
	if max > 0 {
		max = max.Truncate(Step)
		if max < initial {
			max = initial
		}
	}
	return &Scheduler{
		initial: initial,
		max:     max,
		delay:   initial,
	}
}

// OnFailure doubles the delay and restarts the countdown from it.
func (s *Scheduler) OnFailure() {
	s.failures++
	s.delay *= 2
	if s.max > 0 && s.delay > s.max {
		s.delay = s.max
	}
	s.counter = s.delay
}

// Tick advances the countdown by one Step. It returns true exactly once per
// countdown: on the tick that brings the counter to zero.
func (s *Scheduler) Tick() bool {
	if s.counter <= 0 {
		return false
	}
	s.counter -= Step
	if s.counter < 0 {
		s.counter = 0
	}
	return s.counter == 0
}

// Reset forgets all recorded failures. Called once a connection succeeds.
func (s *Scheduler) Reset() {
	s.delay = s.initial
	s.counter = 0
	s.failures = 0
}

// Pending reports whether a countdown is running.
func (s *Scheduler) Pending() bool {
	return s.counter > 0
}

// Delay returns the current retry delay.
func (s *Scheduler) Delay() time.Duration {
	return s.delay
}

// Counter returns the time left before the next retry.
func (s *Scheduler) Counter() time.Duration {
	return s.counter
}

// Failures returns the number of consecutive failures since the last Reset.
func (s *Scheduler) Failures() int {
	return s.failures
}
