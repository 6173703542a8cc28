package events

import (
	"encoding/json"
	"log/slog"
)

// eventEnvelope is used for initial JSON parsing to determine event type.
type eventEnvelope struct {
	Type EventType `json:"type"`
}

// ParseEvent parses a JSON line from the event log into a typed Event.
// Returns nil with no error for unknown event types (for forward compatibility).
func ParseEvent(line []byte) (Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, err
	}

	var ev Event
	switch envelope.Type {
	case EventNetworkStart:
		ev = &NetworkStartEvent{}
	case EventNetworkStop:
		ev = &NetworkStopEvent{}
	case EventStateChanged:
		ev = &StateChangedEvent{}
	case EventStatus:
		ev = &StatusEvent{}
	case EventDirectoryQuery:
		ev = &DirectoryQueryEvent{}
	case EventDirectoryFailed:
		ev = &DirectoryFailedEvent{}
	case EventRosterUpdated:
		ev = &RosterUpdatedEvent{}
	case EventRelayChanged:
		ev = &RelayChangedEvent{}
	case EventParticipantStart:
		ev = &ParticipantStartEvent{}
	case EventParticipantReady:
		ev = &ParticipantReadyEvent{}
	case EventParticipantExit:
		ev = &ParticipantExitEvent{}
	case EventLoadStart:
		ev = &LoadStartEvent{}
	case EventLoadDone:
		ev = &LoadDoneEvent{}
	case EventLoadFailed:
		ev = &LoadFailedEvent{}
	case EventError:
		ev = &ErrorEvent{}
	default:
		slog.Debug("unknown event type", "type", envelope.Type)
		return nil, nil
	}

	if err := json.Unmarshal(line, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
