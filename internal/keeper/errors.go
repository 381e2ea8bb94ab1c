package keeper

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorCode categorizes keeper errors.
type ErrorCode string

const (
	// CodeUnauthorized: a non-owner called an admin operation.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodePaused: the keeper is paused (perform, or pause when already paused).
	CodePaused ErrorCode = "PAUSED"

	// CodeNotPaused: unpause was called while not paused.
	CodeNotPaused ErrorCode = "NOT_PAUSED"

	// CodeNotDue: perform was called while the interval gate is closed.
	CodeNotDue ErrorCode = "NOT_DUE"

	// CodeInvalidConfig: a configuration value failed validation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// CodeMalformedPayload: perform data could not be decoded.
	CodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// CodeResourceFailed: a resource's maintenance call failed.
	CodeResourceFailed ErrorCode = "RESOURCE_FAILED"

	// CodeDirectory: the resource directory could not be read.
	CodeDirectory ErrorCode = "DIRECTORY"

	// CodePersist: the state commit failed.
	CodePersist ErrorCode = "PERSIST"

	// CodeConflict: another writer committed since this controller loaded
	// its state. Reload and retry.
	CodeConflict ErrorCode = "CONFLICT"
)

// ErrStale is returned by a Persister whose stored nonce no longer matches
// Commit.Base.
var ErrStale = errors.New("keeper state changed since it was loaded")

// Error is returned by every failing Controller operation. No state changes
// survive an operation that returns an Error.
type Error struct {
	Code    ErrorCode
	Message string

	// Index and Resource identify the failing resource for CodeResourceFailed.
	Index    uint64
	Resource common.Address

	// Err is the underlying cause, unmodified.
	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Code == CodeResourceFailed {
		msg = fmt.Sprintf("%s (index=%d, resource=%s)", msg, e.Index, e.Resource.Hex())
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a keeper error, or "" if err is not one.
func CodeOf(err error) ErrorCode {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Code
	}
	return ""
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool { return CodeOf(err) == CodeUnauthorized }

// IsPaused reports whether err was caused by the keeper being paused.
func IsPaused(err error) bool { return CodeOf(err) == CodePaused }

// IsNotDue reports whether err was caused by a closed interval gate.
func IsNotDue(err error) bool { return CodeOf(err) == CodeNotDue }

// IsInvalidConfig reports whether err is a configuration validation failure.
func IsInvalidConfig(err error) bool { return CodeOf(err) == CodeInvalidConfig }

// IsConflict reports whether err lost a race with another writer.
func IsConflict(err error) bool { return CodeOf(err) == CodeConflict }

// IsResourceFailure reports whether err came from a resource's maintenance call.
func IsResourceFailure(err error) bool { return CodeOf(err) == CodeResourceFailed }

func invalidConfig(msg string) *Error {
	return &Error{Code: CodeInvalidConfig, Message: msg}
}

func unauthorized() *Error {
	return &Error{Code: CodeUnauthorized, Message: "caller is not the owner"}
}

func directoryError(op string, err error) *Error {
	return &Error{Code: CodeDirectory, Message: op, Err: err}
}
