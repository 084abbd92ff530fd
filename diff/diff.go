// Package diff compares two field snapshots of a study and reports the
// fields that actually changed.
package diff

import "sort"

// FieldChange represents a change between two snapshots of a field.
type FieldChange struct {
	Name string
	Old  string
	New  string
}

// FindChanges compares two field snapshots and returns a list of changes.
// A field present in only one snapshot compares against the empty string;
// fields with equal values on both sides are never reported. Results are
// ordered by field name so callers see a stable change list.
func FindChanges(prev, curr map[string]string) []FieldChange {
	var changes []FieldChange

	// Detect changed or added fields
	for name, newVal := range curr {
		oldVal := prev[name]
		if oldVal != newVal {
			changes = append(changes, FieldChange{
				Name: name,
				Old:  oldVal,
				New:  newVal,
			})
		}
	}

	// Detect removed fields
	for name, oldVal := range prev {
		if _, exists := curr[name]; !exists && oldVal != "" {
			changes = append(changes, FieldChange{
				Name: name,
				Old:  oldVal,
				New:  "",
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Name < changes[j].Name
	})
	return changes
}
