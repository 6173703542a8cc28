package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/roster"
)

// Participant describes a running relay or client process.
type Participant struct {
	Role     string
	Instance string
	Ready    bool
}

// Snapshot is an immutable view of the controller state.
type Snapshot struct {
	State        State
	Message      string
	Roster       roster.Roster
	History      []string
	HistoryIndex int // -1 when the history is empty
	NodeCount    int
	Participants []Participant

	RetryDelay  time.Duration
	RetryIn     time.Duration // countdown to the next automatic attempt
	Failures    int
	LastFailure string // verbatim reason of the last failed attempt

	Loading   string // URL being fetched
	Page      *Page
	LoadError string
}

// Connected reports whether the network is up.
func (s Snapshot) Connected() bool {
	return s.State == StateConnected
}

// CurrentURL returns the history entry at the cursor, or "".
func (s Snapshot) CurrentURL() string {
	if s.HistoryIndex < 0 || s.HistoryIndex >= len(s.History) {
		return ""
	}
	return s.History[s.HistoryIndex]
}

// CanBack reports whether there is an entry before the cursor.
func (s Snapshot) CanBack() bool {
	return s.HistoryIndex > 0
}

// CanForward reports whether there is an entry after the cursor.
func (s Snapshot) CanForward() bool {
	return s.HistoryIndex >= 0 && s.HistoryIndex < len(s.History)-1
}

// StatusMessage renders the user-facing status line.
func StatusMessage(state State, lastFailure string, retryIn time.Duration, loading string) string {
	switch state {
	case StateConnecting:
		return "Connecting.."
	case StateConnected:
		if loading != "" {
			return fmt.Sprintf("Loading %s..", loading)
		}
		return "Connected to network."
	default:
		if lastFailure == "" {
			return "You are not connected to the network."
		}
		reason := strings.TrimRight(strings.TrimSpace(lastFailure), ".")
		return fmt.Sprintf("Failed to connect to Directory: %s. Retry in %ds..", reason, int(retryIn/time.Second))
	}
}

// publish stores a new snapshot and notifies watchers.
func (c *Controller) publish() {
	loading := ""
	if c.fetch != nil {
		loading = c.fetch.url
	}

	participants := make([]Participant, 0, len(c.participants))
	for _, t := range c.participants {
		participants = append(participants, Participant{
			Role:     t.role.source(),
			Instance: t.instance,
			Ready:    t.ready,
		})
	}

	s := &Snapshot{
		State:        c.state,
		Message:      StatusMessage(c.state, c.lastFailure, c.backoff.Counter(), loading),
		Roster:       c.roster.Clone(),
		History:      c.history.Entries(),
		HistoryIndex: c.history.Index(),
		NodeCount:    c.nodeCount,
		Participants: participants,
		RetryDelay:   c.backoff.Delay(),
		RetryIn:      c.backoff.Counter(),
		Failures:     c.backoff.Failures(),
		LastFailure:  c.lastFailure,
		Loading:      loading,
		Page:         c.page,
		LoadError:    c.loadErr,
	}
	c.snap.Store(s)

	if s.Message != c.lastStatus {
		c.lastStatus = s.Message
		c.emit(&events.StatusEvent{
			BaseEvent: events.NewControllerEvent(events.EventStatus),
			Message:   s.Message,
		})
	}

	select {
	case c.updates <- struct{}{}:
	default:
	}
}
