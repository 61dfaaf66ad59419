package core

// Timeline records named activity intervals per tensor. Implementations must
// tolerate concurrent calls for distinct tensors; for one tensor the core
// guarantees causally ordered, non-overlapping intervals.
type Timeline interface {
	// Initialized reports whether interval recording is active. When false
	// the core skips per-phase bookkeeping entirely.
	Initialized() bool
	// ActivityStart opens a named interval for one tensor.
	ActivityStart(tensorName, activity string)
	// ActivityEnd closes the most recently opened interval for one tensor.
	ActivityEnd(tensorName string)
	// End marks the whole operation finished for one tensor.
	End(tensorName string)
}

// ActivityStartAll opens the same interval for every entry in the batch.
func ActivityStartAll(t Timeline, entries []TensorEntry, activity string) {
	if t == nil || !t.Initialized() {
		return
	}
	for i := range entries {
		t.ActivityStart(entries[i].Name, activity)
	}
}

// ActivityEndAll closes the current interval for every entry in the batch.
func ActivityEndAll(t Timeline, entries []TensorEntry) {
	if t == nil || !t.Initialized() {
		return
	}
	for i := range entries {
		t.ActivityEnd(entries[i].Name)
	}
}

// EndAll marks the operation finished for every entry in the batch.
func EndAll(t Timeline, entries []TensorEntry) {
	if t == nil {
		return
	}
	for i := range entries {
		t.End(entries[i].Name)
	}
}
