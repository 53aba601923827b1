// Package diff computes which flattened configuration records are new.
package diff

import "github.com/macfound/configaudit/pkg/flatten"

// Diff returns every record of current that has no structurally equal record anywhere
// in previous, in current's order.
//
// A nil previous means there is no earlier snapshot and yields an empty result: a
// baseline never reports changes. Removed records are never reported, and a changed
// record is reported once, with its new value.
func Diff(current, previous []flatten.Record) []flatten.Record {
	out := []flatten.Record{}
	if previous == nil {
		return out
	}

	seen := make(map[flatten.Record]struct{}, len(previous))
	for _, r := range previous {
		seen[r] = struct{}{}
	}
	for _, r := range current {
		if _, ok := seen[r]; !ok {
			out = append(out, r)
		}
	}
	return out
}
