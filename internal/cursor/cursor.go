// Package cursor walks a registry of changing size in bounded, circular batches.
//
// A single persisted integer records where the next invocation resumes. Each
// invocation takes up to limit consecutive indices from there, wrapping at the
// end of the registry, so every index is visited at least once every
// ceil(size/limit) invocations while the size is stable.
//
// The registry may grow or shrink between invocations. A cursor that no longer
// points inside the registry is reset to zero before use.
package cursor

// Clamp returns cursor, or zero if cursor is outside [0, size).
func Clamp(cursor, size uint64) uint64 {
	if cursor >= size {
		return 0
	}
	return cursor
}

// NextBatch returns up to limit ordinal indices starting at cursor and
// wrapping modulo size, together with the cursor for the next invocation.
//
// The batch never holds more than size indices, so no index repeats within one
// batch. For size == 0 the batch is empty and cursor is returned unchanged.
// An out-of-range cursor is clamped first.
func NextBatch(cursor, size, limit uint64) ([]uint64, uint64) {
	if size == 0 {
		return nil, cursor
	}
	cursor = Clamp(cursor, size)

	n := min(limit, size)
	indices := make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		indices[i] = (cursor + i) % size
	}
	return indices, (cursor + n) % size
}

// FirstDue searches circularly from cursor for the first index for which due
// returns true. It examines each index at most once.
func FirstDue(cursor, size uint64, due func(index uint64) bool) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	cursor = Clamp(cursor, size)
	for i := uint64(0); i < size; i++ {
		idx := (cursor + i) % size
		if due(idx) {
			return idx, true
		}
	}
	return 0, false
}

// CompletesSweep reports whether a batch reached the last index of the
// registry, meaning every index has been offered once since the cursor was
// last at zero.
func CompletesSweep(indices []uint64, size uint64) bool {
	for _, idx := range indices {
		if idx == size-1 {
			return true
		}
	}
	return false
}
