// Package gate decides whether enough height has elapsed to run maintenance.
//
// Two comparisons are provided. IsDue works on full-width heights and is used
// for the keeper's global sweep reference. IsDueWrapped works in the truncated
// domain of a packed field, where both heights are reduced modulo 2^bits
// before subtracting.
//
// # Underflow
//
// A current height below the reference (a reorganized ledger, or a
// misconfigured height source) is treated as due. In the wrapped domain the
// same situation yields a very large elapsed value, so both comparisons agree.
package gate

// IsDue reports whether current - reference >= interval.
// An interval of zero is always due; current < reference is due.
func IsDue(current, reference, interval uint64) bool {
	if interval == 0 || current < reference {
		return true
	}
	return current-reference >= interval
}

// Elapsed returns (current - reference) modulo 2^bits.
// bits must be in [1, 64].
func Elapsed(current, reference uint64, bits uint) uint64 {
	return (current - reference) & mask(bits)
}

// IsDueWrapped reports whether the elapsed height in the bits-wide truncated
// domain is at least interval. reference is expected to already be truncated;
// current is truncated here. An interval that does not fit in bits can never
// be satisfied by a nonzero gap and is rejected by keeper config validation.
func IsDueWrapped(current, reference, interval uint64, bits uint) bool {
	if interval == 0 {
		return true
	}
	return Elapsed(current&mask(bits), reference&mask(bits), bits) >= interval
}

// Remaining returns how many heights remain until IsDue becomes true, zero if
// already due.
func Remaining(current, reference, interval uint64) uint64 {
	if IsDue(current, reference, interval) {
		return 0
	}
	return interval - (current - reference)
}

// RemainingWrapped is Remaining in the bits-wide truncated domain.
func RemainingWrapped(current, reference, interval uint64, bits uint) uint64 {
	if IsDueWrapped(current, reference, interval, bits) {
		return 0
	}
	return interval - Elapsed(current&mask(bits), reference&mask(bits), bits)
}

func mask(bits uint) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}
