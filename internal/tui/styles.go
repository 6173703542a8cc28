package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/npratt/hopctl/internal/controller"
	"github.com/npratt/hopctl/internal/events"
	"github.com/npratt/hopctl/internal/roster"
)

// styles contains all lipgloss styles used by the TUI.
var styles = struct {
	// Layout styles
	Container lipgloss.Style
	Divider   lipgloss.Style

	// Header styles
	Nodes  lipgloss.Style
	Prompt lipgloss.Style
	Code   lipgloss.Style
	Notice lipgloss.Style

	// Footer style
	Footer lipgloss.Style

	// Pane styles
	Title       lipgloss.Style
	Placeholder lipgloss.Style
	Timestamp   lipgloss.Style

	// Event styles
	Event      lipgloss.Style
	EventGood  lipgloss.Style
	EventState lipgloss.Style
	Error      lipgloss.Style

	// Status colors
	StatusIdle       lipgloss.Style
	StatusConnecting lipgloss.Style
	StatusConnected  lipgloss.Style
	StatusFailed     lipgloss.Style

	// Relay colors
	RelayAdded   lipgloss.Style
	RelayOnline  lipgloss.Style
	RelayOffline lipgloss.Style
}{
	Container: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")),

	Divider: lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")),

	Nodes: lipgloss.NewStyle().
		Foreground(lipgloss.Color("220")),

	Prompt: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	Code: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Notice: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	Footer: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")),

	Placeholder: lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")),

	Timestamp: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	Event: lipgloss.NewStyle().
		Foreground(lipgloss.Color("250")),

	EventGood: lipgloss.NewStyle().
		Foreground(lipgloss.Color("114")),

	EventState: lipgloss.NewStyle().
		Foreground(lipgloss.Color("177")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	StatusIdle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("245")),

	StatusConnecting: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("214")),

	StatusConnected: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("82")),

	StatusFailed: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),

	RelayAdded: lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")),

	RelayOnline: lipgloss.NewStyle().
		Foreground(lipgloss.Color("82")),

	RelayOffline: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")),
}

// StyleForEvent returns the appropriate style for an event type.
func StyleForEvent(event events.Event) lipgloss.Style {
	switch event.(type) {
	case *events.DirectoryFailedEvent, *events.LoadFailedEvent, *events.ErrorEvent:
		return styles.Error
	case *events.ParticipantReadyEvent, *events.LoadDoneEvent, *events.RosterUpdatedEvent:
		return styles.EventGood
	case *events.StateChangedEvent, *events.NetworkStartEvent, *events.NetworkStopEvent:
		return styles.EventState
	case *events.ParticipantExitEvent:
		return styles.Notice
	default:
		return styles.Event
	}
}

// styleForStatus picks the header color for the connection state.
func styleForStatus(s controller.Snapshot) lipgloss.Style {
	switch s.State {
	case controller.StateConnecting:
		return styles.StatusConnecting
	case controller.StateConnected:
		return styles.StatusConnected
	default:
		if s.LastFailure != "" {
			return styles.StatusFailed
		}
		return styles.StatusIdle
	}
}

// styleForRelay picks the roster color for a relay status.
func styleForRelay(status roster.Status) lipgloss.Style {
	switch status {
	case roster.StatusOnline:
		return styles.RelayOnline
	case roster.StatusOffline:
		return styles.RelayOffline
	default:
		return styles.RelayAdded
	}
}
