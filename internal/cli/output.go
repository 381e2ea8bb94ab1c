package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/roach88/upkeep/internal/config"
	"github.com/roach88/upkeep/internal/keeper"
	"github.com/roach88/upkeep/internal/store"
)

// Exit codes.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the keeper or a scenario refused: not due, paused, resource failed, conflict
	ExitCommandError = 2 // bad flags, unreadable database, unknown keeper or registry
)

// Envelope codes for failures that are not keeper errors. Keeper errors are
// reported under their own code (NOT_DUE, PAUSED, CONFLICT, ...).
const (
	ErrCodeGeneric      = "E001"
	ErrCodeNotFound     = "E005" // keeper, registry or file
	ErrCodeDatabase     = "E008"
	ErrCodeInvalidArgs  = "E009"
	ErrCodeConfig       = "E010" // config file failed validation
	ErrCodeUnauthorized = "E011" // registry mutation by a non-owner
	ErrCodeExists       = "E012"
	ErrCodeTestFailed   = "E013"
)

// ExitError ends a command with a process exit code. Reason is the envelope
// code the failure was reported under, empty if it was not reported.
type ExitError struct {
	Code    int
	Reason  string
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError ends a command without an underlying cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// GetExitCode returns the exit code for err. Errors that never went through
// fail are classified the same way fail would.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	_, exit, _ := classify(err)
	return exit
}

// OutputFormatter writes command results as a JSON envelope or text.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; Writer if nil
	Verbose   bool
}

// CLIResponse is the JSON envelope.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the envelope's error member.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ResourceDetails locates the resource whose maintenance call failed.
type ResourceDetails struct {
	Index    uint64 `json:"index"`
	Resource string `json:"resource"`
}

func (d ResourceDetails) String() string {
	return fmt.Sprintf("resource %s (index %d)", d.Resource, d.Index)
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

// Success writes data. Text output relies on data's String method or %v.
func (f *OutputFormatter) Success(data any) error {
	if f.json() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a failure. In text mode, details that describe themselves
// (ResourceDetails) are always printed; other details only with --verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message); err != nil {
		return err
	}
	switch d := details.(type) {
	case nil:
	case fmt.Stringer:
		fmt.Fprintf(f.Writer, "  at %s\n", d)
	default:
		if f.Verbose {
			fmt.Fprintf(f.Writer, "Details: %v\n", d)
		}
	}
	return nil
}

// Verbosef writes a diagnostic line with --verbose.
func (f *OutputFormatter) Verbosef(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.diag(), format+"\n", args...)
	}
}

// diag is where diagnostics go, so they never interleave with JSON output.
func (f *OutputFormatter) diag() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// classify maps an error to an envelope code, exit code and details.
func classify(err error) (string, int, any) {
	var (
		ke      *keeper.Error
		invalid *config.InvalidError
		dbErr   *dbError
	)
	switch {
	case errors.As(err, &ke):
		return string(ke.Code), ExitFailure, keeperDetails(ke)
	case errors.As(err, &invalid):
		return ErrCodeConfig, ExitFailure, invalid.Errors
	case errors.As(err, &dbErr):
		return ErrCodeDatabase, ExitCommandError, nil
	case errors.Is(err, store.ErrUnauthorized):
		return ErrCodeUnauthorized, ExitFailure, nil
	case errors.Is(err, store.ErrExists):
		return ErrCodeExists, ExitCommandError, nil
	case errors.Is(err, errNoKeeper), errors.Is(err, fs.ErrNotExist), store.IsNotFound(err):
		return ErrCodeNotFound, ExitCommandError, nil
	}
	return ErrCodeGeneric, ExitCommandError, nil
}

func keeperDetails(ke *keeper.Error) any {
	if ke.Code != keeper.CodeResourceFailed {
		return nil
	}
	return ResourceDetails{Index: ke.Index, Resource: ke.Resource.Hex()}
}

// fail reports err through the formatter and returns the matching ExitError.
func fail(f *OutputFormatter, message string, err error) error {
	code, exit, details := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)
	return &ExitError{Code: exit, Reason: code, Message: message, Err: err}
}

// invalidArgs reports a bad flag or argument.
func invalidArgs(f *OutputFormatter, err error) error {
	_ = f.Error(ErrCodeInvalidArgs, err.Error(), nil)
	return &ExitError{Code: ExitCommandError, Reason: ErrCodeInvalidArgs, Message: "invalid arguments", Err: err}
}
