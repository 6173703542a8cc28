// Package events defines the event taxonomy shared by the controller, the
// TUI, and the JSONL event log.
package events

import "time"

// EventType identifies the category and nature of an event.
type EventType string

const (
	// Controller lifecycle
	EventNetworkStart EventType = "network.start"
	EventNetworkStop  EventType = "network.stop"
	EventStateChanged EventType = "state.changed"
	EventStatus       EventType = "status"

	// Directory service
	EventDirectoryQuery  EventType = "directory.query"
	EventDirectoryFailed EventType = "directory.failed"
	EventRosterUpdated   EventType = "roster.updated"
	EventRelayChanged    EventType = "relay.changed"

	// Participant processes (relays and the client)
	EventParticipantStart EventType = "participant.start"
	EventParticipantReady EventType = "participant.ready"
	EventParticipantExit  EventType = "participant.exit"

	// Resource loads
	EventLoadStart  EventType = "load.start"
	EventLoadDone   EventType = "load.done"
	EventLoadFailed EventType = "load.failed"

	EventError EventType = "error"
)

// Source constants identify the origin of events.
const (
	SourceController = "controller"
	SourceDirectory  = "directory"
	SourceRelay      = "relay"
	SourceClient     = "client"
)

// Event is the base interface for all events in the system.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	Source() string
}

// BaseEvent provides the common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"type"`
	Time      time.Time `json:"timestamp"`
	Src       string    `json:"source"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.Time
}

// Source returns the origin of the event.
func (e BaseEvent) Source() string {
	return e.Src
}

// NetworkStartEvent is emitted when the controller loop starts.
type NetworkStartEvent struct {
	BaseEvent
	WorkDir   string `json:"work_dir"`
	NodeCount int    `json:"node_count"`
}

// NetworkStopEvent is emitted when the controller loop exits.
type NetworkStopEvent struct {
	BaseEvent
	Reason string `json:"reason,omitempty"`
}

// StateChangedEvent is emitted on every connection state transition.
type StateChangedEvent struct {
	BaseEvent
	From string `json:"from"`
	To   string `json:"to"`
}

// StatusEvent carries the user-facing status line whenever it changes.
type StatusEvent struct {
	BaseEvent
	Message string `json:"message"`
}

// DirectoryQueryEvent is emitted when a directory query is spawned.
type DirectoryQueryEvent struct {
	BaseEvent
	Attempt int  `json:"attempt"`
	Poll    bool `json:"poll,omitempty"` // roster refresh while connected
}

// DirectoryFailedEvent is emitted when a directory query fails.
// RetryIn is zero for poll failures, which are not retried by backoff.
type DirectoryFailedEvent struct {
	BaseEvent
	Reason   string        `json:"reason"`
	Failures int           `json:"failures"`
	RetryIn  time.Duration `json:"retry_in"`
	Poll     bool          `json:"poll,omitempty"`
}

// RosterUpdatedEvent summarizes the roster after a reconciliation pass.
type RosterUpdatedEvent struct {
	BaseEvent
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

// RelayChangedEvent is emitted for each relay whose status changed.
// Change is one of "added", "online", "offline".
type RelayChangedEvent struct {
	BaseEvent
	Address string `json:"address"`
	Change  string `json:"change"`
}

// ParticipantStartEvent is emitted when a relay or client process starts.
type ParticipantStartEvent struct {
	BaseEvent
	Instance string `json:"instance"`
	Command  string `json:"command"`
}

// ParticipantReadyEvent is emitted when a participant reports ready.
type ParticipantReadyEvent struct {
	BaseEvent
	Instance string `json:"instance"`
	Line     string `json:"line,omitempty"`
}

// ParticipantExitEvent is emitted when a participant process exits.
type ParticipantExitEvent struct {
	BaseEvent
	Instance string `json:"instance"`
	Code     int    `json:"code"`
	Ready    bool   `json:"ready"` // had reported ready before exiting
}

// LoadStartEvent is emitted when a fetch is dispatched.
type LoadStartEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	URL       string `json:"url"`
}

// LoadDoneEvent is emitted when a fetch completes successfully.
type LoadDoneEvent struct {
	BaseEvent
	RequestID  string `json:"request_id"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code,omitempty"`
	Bytes      int    `json:"bytes"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// LoadFailedEvent is emitted when a fetch fails.
type LoadFailedEvent struct {
	BaseEvent
	RequestID string `json:"request_id"`
	URL       string `json:"url"`
	Error     string `json:"error"`
}

// Severity constants for error events.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
	SeverityFatal   = "fatal"
)

// ErrorEvent is emitted for any error condition.
type ErrorEvent struct {
	BaseEvent
	Message  string            `json:"message"`
	Severity string            `json:"severity"`
	Context  map[string]string `json:"context,omitempty"`
}

// NewEvent creates a BaseEvent with the given type and source.
func NewEvent(eventType EventType, source string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		Time:      time.Now(),
		Src:       source,
	}
}

// NewControllerEvent creates a BaseEvent with the controller as the source.
func NewControllerEvent(eventType EventType) BaseEvent {
	return NewEvent(eventType, SourceController)
}
