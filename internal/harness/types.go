package harness

// TraceEvent records the outcome of one scenario step.
type TraceEvent struct {
	Step    int    `json:"step"`
	Action  string `json:"action"`
	Height  uint64 `json:"height"`
	Outcome string `json:"outcome"` // OutcomeOK or a keeper error code

	// Due is set by check.
	Due *bool `json:"due,omitempty"`

	// Indices are the planned indices (check) or serviced indices
	// (perform, drain).
	Indices []uint64 `json:"indices,omitempty"`

	// Cursor is the cursor after the batch.
	Cursor *uint64 `json:"cursor,omitempty"`

	// Run is the engine run ID (drain).
	Run string `json:"run,omitempty"`

	// Notification is the kind of the last notification the step emitted.
	Notification string `json:"notification,omitempty"`
}

// OutcomeOK is the outcome of a step that did not fail.
const OutcomeOK = "ok"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event to the trace.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
