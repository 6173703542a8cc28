// Package roster tracks the relays reported by the directory service.
//
// A Roster is a value: Seed and Reconcile return new rosters and never
// modify their inputs, so snapshots handed to the UI stay stable.
package roster

import (
	"time"
)

// Status is the derived liveness of a relay.
type Status string

// Relay statuses.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Relay is a network participant known to the controller.
// Address is the identity key.
type Relay struct {
	Address   string    `json:"address" yaml:"address"`
	Status    Status    `json:"status" yaml:"status"`
	FirstSeen time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time `json:"last_seen" yaml:"last_seen"`
}

// Online reports whether the relay was present in the latest report.
func (r Relay) Online() bool {
	return r.Status == StatusOnline
}

// Roster is the ordered-by-discovery set of known relays.
// Addresses are unique.
type Roster []Relay

// Seed builds the initial roster from the first successful report.
// Every reported address is online; duplicates are collapsed.
func Seed(reported []string, now time.Time) Roster {
	return Reconcile(nil, reported, now)
}

// Reconcile merges a fresh report into current and returns the result.
// Relays missing from the report go offline but are kept. New addresses
// are appended as online. Reconciling twice with the same report yields
// the same roster.
func Reconcile(current Roster, reported []string, now time.Time) Roster {
	seen := make(map[string]bool, len(reported))
	for _, addr := range reported {
		seen[addr] = true
	}

	next := make(Roster, 0, len(current)+len(reported))
	known := make(map[string]bool, len(current))
	for _, r := range current {
		known[r.Address] = true
		if seen[r.Address] {
			r.Status = StatusOnline
			r.LastSeen = now
		} else {
			r.Status = StatusOffline
		}
		next = append(next, r)
	}

	for _, addr := range reported {
		if known[addr] {
			continue
		}
		known[addr] = true
		next = append(next, Relay{
			Address:   addr,
			Status:    StatusOnline,
			FirstSeen: now,
			LastSeen:  now,
		})
	}
	return next
}

// Get returns the relay with the given address.
func (r Roster) Get(addr string) (Relay, bool) {
	for _, relay := range r {
		if relay.Address == addr {
			return relay, true
		}
	}
	return Relay{}, false
}

// Addresses returns every tracked address in discovery order.
func (r Roster) Addresses() []string {
	out := make([]string, len(r))
	for i, relay := range r {
		out[i] = relay.Address
	}
	return out
}

// Online returns the relays currently marked online.
func (r Roster) Online() Roster {
	return r.filter(StatusOnline)
}

// Offline returns the relays currently marked offline.
func (r Roster) Offline() Roster {
	return r.filter(StatusOffline)
}

func (r Roster) filter(s Status) Roster {
	var out Roster
	for _, relay := range r {
		if relay.Status == s {
			out = append(out, relay)
		}
	}
	return out
}

// Clone returns a copy that shares no backing array with r.
func (r Roster) Clone() Roster {
	if r == nil {
		return nil
	}
	out := make(Roster, len(r))
	copy(out, r)
	return out
}
