package status

// Change is one row of the status table together with the flag the front
// end uses to highlight it.
type Change struct {
	Key   string
	Value string
	// Changed is set when the value differs from the previous snapshot or the
	// key did not exist before.
	Changed bool
	// Added is set when the key did not exist in the previous snapshot.
	Added bool
}

// Diff lists every key of next in order, flagged against previous. A nil
// previous marks nothing as changed.
func Diff(previous, next *Snapshot) []Change {
	changes := make([]Change, 0, next.Len())
	next.Each(func(key, value string) bool {
		change := Change{Key: key, Value: value}
		if previous != nil {
			old, ok := previous.Get(key)
			change.Added = !ok
			change.Changed = !ok || old != value
		}
		changes = append(changes, change)
		return true
	})
	return changes
}

// Unchanged lists the rows of s without any highlight.
func Unchanged(s *Snapshot) []Change {
	return Diff(nil, s)
}

func AnyChanged(changes []Change) bool {
	for _, change := range changes {
		if change.Changed {
			return true
		}
	}
	return false
}
