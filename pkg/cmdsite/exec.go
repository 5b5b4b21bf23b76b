package cmdsite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// ExitError reports a command that started but exited with a non-zero status.
type ExitError struct {
	Status int
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Status)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitStatus extracts the exit status out of an error returned by a
// RunCommand. The second return is false when the command never ran or the
// status is unknown.
func ExitStatus(err error) (int, bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Status, true
	}
	return 0, false
}

func DefaultRunCommand(ctx context.Context, c *Command) error {
	if _, err := exec.LookPath(c.Name); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	if len(c.Env) > 0 {
		env := os.Environ()
		for n, v := range c.Env {
			env = append(env, fmt.Sprintf("%s=%s", n, v))
		}
		cmd.Env = env
	}
	cmd.Dir = c.Dir
	if c.Stdin != nil {
		cmd.Stdin = c.Stdin
	}
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			waitStatus := exitError.Sys().(syscall.WaitStatus)
			return &ExitError{Status: waitStatus.ExitStatus(), Err: exitError}
		}
		return err
	}
	return nil
}
