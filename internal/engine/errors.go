package engine

import (
	"errors"
	"fmt"
	"strconv"
)

// RuntimeError represents an error detected while processing a tick.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the tick.
	RunID string

	// Height is the clock height when the error occurred.
	Height uint64

	// Details contains additional context.
	Details map[string]string

	// Err is the keeper error, if any.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeQuotaExceeded indicates the tick reached its perform quota while
	// the keeper was still due.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeCheckFailed indicates CheckDue returned an error.
	ErrCodeCheckFailed RuntimeErrorCode = "CHECK_FAILED"

	// ErrCodePerformFailed indicates PerformUpkeep returned an error.
	ErrCodePerformFailed RuntimeErrorCode = "PERFORM_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" {
		msg = fmt.Sprintf("%s (run=%s, height=%d)", msg, e.RunID, e.Height)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the keeper error.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Uses errors.As to handle wrapped errors.
func IsQuotaError(err error) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == ErrCodeQuotaExceeded
	}
	return false
}

// NewQuotaError creates a RuntimeError for an exhausted perform quota.
func NewQuotaError(runID string, performs, limit int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("perform quota reached: %d > %d", performs, limit),
		RunID:   runID,
		Details: map[string]string{
			"performs": strconv.Itoa(performs),
			"limit":    strconv.Itoa(limit),
		},
	}
}
