// Package maintain provides keeper.Maintainer implementations for the CLI.
package maintain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/upkeep/internal/keeper"
)

// Placeholder is replaced by the resource address in Exec arguments.
const Placeholder = "{resource}"

// EnvResource names the environment variable that carries the resource
// address to Exec commands.
const EnvResource = "UPKEEP_RESOURCE"

const waitDelay = time.Second

// Nop is a Maintainer that does nothing and always succeeds.
type Nop struct{}

var _ keeper.Maintainer = Nop{}

// Maintain returns nil.
func (Nop) Maintain(context.Context, common.Address) error { return nil }

// Exec runs a command once per resource. A non-zero exit status fails the
// resource.
//
// Every argument containing Placeholder has it replaced by the checksummed
// address. If no argument contains it, the address is appended as the last
// argument. The address is also exported as EnvResource.
type Exec struct {
	Command []string
	Timeout time.Duration
}

var _ keeper.Maintainer = (*Exec)(nil)

// ExitError reports a command that ran but failed.
type ExitError struct {
	Resource common.Address
	Code     int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("maintain %s: exit status %d", e.Resource.Hex(), e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// NewExec returns an Exec for command. Fails if command is empty.
func NewExec(command []string, timeout time.Duration) (*Exec, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("maintain command is empty")
	}
	return &Exec{Command: command, Timeout: timeout}, nil
}

// Maintain runs the command for resource.
func (e *Exec) Maintain(ctx context.Context, resource common.Address) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := e.args(resource)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Env = append(os.Environ(), EnvResource+"="+resource.Hex())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding the output pipes must not outlive a cancelled call.
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	slog.Debug("maintain command finished",
		"resource", resource.Hex(),
		"command", args[0],
		"stdout", strings.TrimSpace(stdout.String()),
	)
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return &ExitError{
			Resource: resource,
			Code:     exitErr.ExitCode(),
			Stderr:   strings.TrimSpace(stderr.String()),
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("maintain %s: %w", resource.Hex(), ctx.Err())
	}
	return fmt.Errorf("maintain %s: %w", resource.Hex(), err)
}

func (e *Exec) args(resource common.Address) []string {
	hex := resource.Hex()
	out := make([]string, 0, len(e.Command)+1)
	substituted := false
	for _, a := range e.Command {
		if strings.Contains(a, Placeholder) {
			a = strings.ReplaceAll(a, Placeholder, hex)
			substituted = true
		}
		out = append(out, a)
	}
	if !substituted {
		out = append(out, hex)
	}
	return out
}
