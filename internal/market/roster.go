package market

import "sort"

// Roster is an optional list of identities; nil means none
type Roster []Identity

func (r Roster) Contains(id Identity) bool {
	for _, candidate := range r {
		if candidate == id {
			return true
		}
	}
	return false
}

// With returns the roster with id appended if absent
func (r Roster) With(id Identity) Roster {
	if r.Contains(id) {
		return r
	}
	return append(r, id)
}

func (r Roster) Clone() Roster {
	if r == nil {
		return nil
	}
	return append(Roster(nil), r...)
}

// SetEqual compares two rosters as sets by sorting copies
func (r Roster) SetEqual(other Roster) bool {
	if len(r) != len(other) {
		return false
	}
	a := sortedCopy(r)
	b := sortedCopy(other)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedCopy(r Roster) []Identity {
	out := make([]Identity, len(r))
	copy(out, r)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
