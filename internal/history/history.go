// Package history keeps the back/forward log of resources requested
// through the network.
package history

import (
	"errors"
	"fmt"
)

// ErrInvalidNavigation is returned when a move would leave the recorded
// entries. Moves are never clamped.
var ErrInvalidNavigation = errors.New("invalid navigation")

// NavigationError describes a rejected move.
type NavigationError struct {
	Index int // current index when the move was attempted
	Diff  int
	Len   int
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("%v: index %d%+d outside [0, %d)", ErrInvalidNavigation, e.Index, e.Diff, e.Len)
}

// Unwrap lets errors.Is match ErrInvalidNavigation.
func (e *NavigationError) Unwrap() error {
	return ErrInvalidNavigation
}

// DuplicatePolicy controls what Append does with a repeat of the current entry.
type DuplicatePolicy int

const (
	// AppendAlways records every request, including consecutive repeats.
	AppendAlways DuplicatePolicy = iota
	// SuppressDuplicates ignores a request equal to the current entry.
	SuppressDuplicates
)

// History is a linear navigation log with a movable cursor.
// Use New; the zero value is not ready for use.
//
// History is not safe for concurrent use.
type History struct {
	entries []string
	current int
	policy  DuplicatePolicy
}

// New creates an empty History with the given duplicate policy.
func New(policy DuplicatePolicy) *History {
	return &History{current: -1, policy: policy}
}

// Append records entry after the cursor, discarding any forward entries,
// and moves the cursor onto it. It returns false when the entry was
// suppressed as a duplicate.
func (h *History) Append(entry string) bool {
	if h.policy == SuppressDuplicates && h.current >= 0 && h.entries[h.current] == entry {
		return false
	}

	if h.current != len(h.entries)-1 {
		h.entries = h.entries[:h.current+1]
	}
	h.entries = append(h.entries, entry)
	h.current++
	return true
}

// Seek returns the entry diff steps away from the cursor without moving it.
func (h *History) Seek(diff int) (string, error) {
	target, err := h.target(diff)
	if err != nil {
		return "", err
	}
	return h.entries[target], nil
}

// Commit moves the cursor diff steps. Callers commit once the navigation
// Seek returned has actually completed.
func (h *History) Commit(diff int) error {
	target, err := h.target(diff)
	if err != nil {
		return err
	}
	h.current = target
	return nil
}

func (h *History) target(diff int) (int, error) {
	target := h.current + diff
	if target < 0 || target >= len(h.entries) {
		return 0, &NavigationError{Index: h.current, Diff: diff, Len: len(h.entries)}
	}
	return target, nil
}

// Current returns the entry under the cursor, or "" when empty.
func (h *History) Current() string {
	if h.current < 0 {
		return ""
	}
	return h.entries[h.current]
}

// Index returns the cursor position, -1 when empty.
func (h *History) Index() int {
	return h.current
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	return len(h.entries)
}

// CanBack reports whether Seek(-1) would succeed.
func (h *History) CanBack() bool {
	return h.current > 0
}

// CanForward reports whether Seek(1) would succeed.
func (h *History) CanForward() bool {
	return h.current >= 0 && h.current < len(h.entries)-1
}

// Entries returns a copy of the recorded entries.
func (h *History) Entries() []string {
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}
