package events

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

const (
	maxMessageLength  = 200
	maxURLLength      = 80
	truncateIndicator = "..."
)

// Format converts an event to a human-readable string for display.
// Returns empty string for nil or unknown event types.
func Format(event Event) string {
	if event == nil {
		return ""
	}

	switch e := event.(type) {
	case *NetworkStartEvent:
		return fmt.Sprintf("network started: %d relays in %s", e.NodeCount, workDirLabel(e.WorkDir))
	case *NetworkStopEvent:
		if reason := SafeString(e.Reason); reason != "" {
			return fmt.Sprintf("network stopped: %s", reason)
		}
		return "network stopped"
	case *StateChangedEvent:
		return fmt.Sprintf("state: %s -> %s", SafeString(e.From), SafeString(e.To))
	case *StatusEvent:
		return Truncate(e.Message, maxMessageLength)
	case *DirectoryQueryEvent:
		if e.Poll {
			return "directory: refreshing roster"
		}
		return fmt.Sprintf("directory: query attempt %d", e.Attempt)
	case *DirectoryFailedEvent:
		return formatDirectoryFailed(e)
	case *RosterUpdatedEvent:
		return fmt.Sprintf("roster: %d relays (%d online, %d offline)", e.Total, e.Online, e.Offline)
	case *RelayChangedEvent:
		return fmt.Sprintf("[%s] relay %s %s", StatusSymbol(e.Change), SafeString(e.Address), SafeString(e.Change))
	case *ParticipantStartEvent:
		return fmt.Sprintf("%s %s started: %s", e.Source(), SafeString(e.Instance), Truncate(e.Command, maxMessageLength))
	case *ParticipantReadyEvent:
		return fmt.Sprintf("[+] %s %s ready", e.Source(), SafeString(e.Instance))
	case *ParticipantExitEvent:
		return formatParticipantExit(e)
	case *LoadStartEvent:
		return fmt.Sprintf("loading %s", Truncate(e.URL, maxURLLength))
	case *LoadDoneEvent:
		return formatLoadDone(e)
	case *LoadFailedEvent:
		return fmt.Sprintf("[x] load %s failed: %s", Truncate(e.URL, maxURLLength), Truncate(e.Error, 100))
	case *ErrorEvent:
		return formatError(e)
	default:
		return ""
	}
}

// FormatWithTimestamp formats an event with a timestamp prefix.
// Used for the event tail and the TUI activity line.
func FormatWithTimestamp(event Event) string {
	if event == nil {
		return ""
	}
	ts := event.Timestamp().Format("15:04:05")
	detail := Format(event)
	if detail == "" {
		return fmt.Sprintf("[%s] %s", ts, event.Type())
	}
	return fmt.Sprintf("[%s] %s", ts, detail)
}

func workDirLabel(dir string) string {
	if dir = SafeString(dir); dir == "" {
		return "."
	}
	return dir
}

func formatDirectoryFailed(e *DirectoryFailedEvent) string {
	reason := Truncate(e.Reason, 100)
	if e.Poll {
		return fmt.Sprintf("[!] roster refresh failed: %s", reason)
	}
	return fmt.Sprintf("[x] directory failed (%d): %s, retry in %s", e.Failures, reason, e.RetryIn.Round(time.Second))
}

func formatParticipantExit(e *ParticipantExitEvent) string {
	symbol := "x"
	if e.Code == 0 {
		symbol = "-"
	}
	when := "before ready"
	if e.Ready {
		when = "after ready"
	}
	return fmt.Sprintf("[%s] %s %s exited %s (code %d)", symbol, e.Source(), SafeString(e.Instance), when, e.Code)
}

func formatLoadDone(e *LoadDoneEvent) string {
	url := Truncate(e.URL, maxURLLength)
	size := fmt.Sprintf("%d bytes", e.Bytes)
	if e.Truncated {
		size += ", truncated"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("[+] %s %d (%s, %dms)", url, e.StatusCode, size, e.DurationMs)
	}
	return fmt.Sprintf("[+] %s (%s, %dms)", url, size, e.DurationMs)
}

func formatError(e *ErrorEvent) string {
	msg := SafeString(e.Message)
	severity := SafeString(e.Severity)
	if severity == "" {
		severity = "error"
	}
	return fmt.Sprintf("%s: %s", strings.ToUpper(severity), Truncate(msg, 100))
}

// Truncate shortens text to maxLen, adding indicator if truncated.
func Truncate(s string, maxLen int) string {
	s = SafeString(s)
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= len(truncateIndicator) {
		return truncateIndicator
	}
	return s[:maxLen-len(truncateIndicator)] + truncateIndicator
}

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

// SafeString sanitizes a string for display by removing control characters
// and limiting newlines.
func SafeString(s string) string {
	s = StripANSI(s)

	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if r == ' ' || !unicode.IsControl(r) {
			sb.WriteRune(r)
		}
	}

	result := sb.String()
	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}

	return strings.TrimSpace(result)
}

// StatusSymbol returns a symbol for a relay change or connection state.
func StatusSymbol(status string) string {
	switch status {
	case "added", "connecting":
		return ">"
	case "online", "connected":
		return "+"
	case "offline", "not_connected":
		return "!"
	default:
		return "-"
	}
}
