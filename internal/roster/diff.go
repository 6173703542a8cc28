package roster

// ChangeKind describes how a relay moved between two rosters.
type ChangeKind string

// Change kinds.
const (
	ChangeAdded   ChangeKind = "added"
	ChangeOnline  ChangeKind = "online"
	ChangeOffline ChangeKind = "offline"
)

// Change is a single relay transition between two rosters.
type Change struct {
	Address string
	Kind    ChangeKind
}

// Diff lists the transitions that turn before into after.
// Relays whose status did not change are omitted.
func Diff(before, after Roster) []Change {
	prev := make(map[string]Status, len(before))
	for _, r := range before {
		prev[r.Address] = r.Status
	}

	var changes []Change
	for _, r := range after {
		old, ok := prev[r.Address]
		switch {
		case !ok:
			changes = append(changes, Change{Address: r.Address, Kind: ChangeAdded})
		case old != r.Status && r.Status == StatusOnline:
			changes = append(changes, Change{Address: r.Address, Kind: ChangeOnline})
		case old != r.Status && r.Status == StatusOffline:
			changes = append(changes, Change{Address: r.Address, Kind: ChangeOffline})
		}
	}
	return changes
}
