package remote

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConnectionError means the transport never reached the target, as opposed to
// the remote command running and failing.
type ConnectionError struct {
	Target Target
	Stderr string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("connecting to %s: connection failed", e.Target.Address())
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CommandError means the remote command ran and exited non-zero. It carries
// the captured output so callers can surface diagnostics without re-running
// anything.
type CommandError struct {
	Args       []string
	ExitStatus int
	Stdout     string
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("remote command %q exited with status %d", strings.Join(e.Args, " "), e.ExitStatus)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// Mixed returns stdout and stderr concatenated, mirroring Result.Mixed.
func (e *CommandError) Mixed() string {
	return strings.TrimSpace(strings.TrimSpace(e.Stdout) + "\n" + strings.TrimSpace(e.Stderr))
}

type CommandTimeoutError struct {
	Args    []string
	Timeout time.Duration
}

func (e *CommandTimeoutError) Error() string {
	return fmt.Sprintf("remote command %q did not finish within %s", strings.Join(e.Args, " "), e.Timeout)
}

func AsCommandError(err error) (*CommandError, bool) {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
