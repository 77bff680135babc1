package snapshot

import "sort"

// RecordDiff classifies every identifier present in either snapshot
// into exactly one class. Slices are sorted for stable iteration.
type RecordDiff struct {
	Added     []string
	Changed   []string
	Removed   []string
	Unchanged []string
}

// ChangeCount is the number of identifiers requiring a publish call.
func (d RecordDiff) ChangeCount() int {
	return len(d.Added) + len(d.Changed) + len(d.Removed)
}

// Diff compares two snapshots by per-record content hash. It is a pure
// function: identical inputs yield identical output, and attribute-only
// changes are detected because comparison is by content, not identity.
func Diff(old, new *Snapshot) RecordDiff {
	var d RecordDiff

	for id, newRec := range new.Records {
		oldRec, exists := old.Records[id]
		switch {
		case !exists:
			d.Added = append(d.Added, id)
		case ContentHash(oldRec) != ContentHash(newRec):
			d.Changed = append(d.Changed, id)
		default:
			d.Unchanged = append(d.Unchanged, id)
		}
	}

	for id := range old.Records {
		if _, exists := new.Records[id]; !exists {
			d.Removed = append(d.Removed, id)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	sort.Strings(d.Removed)
	sort.Strings(d.Unchanged)
	return d
}
