package engine

// QuotaEnforcer counts performs within one tick and enforces the
// per-tick maximum.
//
// Each tick gets its own QuotaEnforcer. The quota is checked before every
// perform, after CheckDue has reported work due.
type QuotaEnforcer struct {
	maxPerforms int
	current     int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxPerforms int) *QuotaEnforcer {
	return &QuotaEnforcer{maxPerforms: maxPerforms}
}

// Check increments the perform counter and validates it against the limit.
// Returns a RuntimeError with ErrCodeQuotaExceeded once the limit is passed.
func (q *QuotaEnforcer) Check(runID string) error {
	q.current++
	if q.current > q.maxPerforms {
		return NewQuotaError(runID, q.current, q.maxPerforms)
	}
	return nil
}

// Current returns the number of checks made so far.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxPerforms returns the limit.
func (q *QuotaEnforcer) MaxPerforms() int {
	return q.maxPerforms
}
