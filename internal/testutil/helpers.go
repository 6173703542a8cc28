// Package testutil provides fakes for the process and command runners,
// plus small polling and assertion helpers shared by package tests.
package testutil

import (
	"slices"
	"strings"
	"testing"
	"time"
)

// Report renders addrs as a directory roster report, one per line.
func Report(addrs ...string) []byte {
	if len(addrs) == 0 {
		return nil
	}
	return []byte(strings.Join(addrs, "\n") + "\n")
}

// Eventually polls cond until it returns true or timeout elapses.
// It fails the test with msg on timeout.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}

// AssertCalled verifies that a command ran with exactly args.
func AssertCalled(t *testing.T, mock *MockRunner, name string, args ...string) {
	t.Helper()
	calls := mock.GetCalls()
	for _, call := range calls {
		if call.Name == name && slices.Equal(call.Args, args) {
			return
		}
	}
	t.Errorf("expected call to %s %v not found in %v", name, args, calls)
}

// AssertNotCalled verifies that name never ran.
func AssertNotCalled(t *testing.T, mock *MockRunner, name string) {
	t.Helper()
	for _, call := range mock.GetCalls() {
		if call.Name == name {
			t.Errorf("unexpected call to %s %v", name, call.Args)
			return
		}
	}
}
