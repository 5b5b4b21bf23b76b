package deploy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/variantdev/ship/pkg/remote"
)

// Lock is a remote advisory lock keeping two deployments of the same
// app/environment pair from interleaving their directory and unit writes.
// mkdir without -p is atomic on the far side, so whoever creates the lock
// directory holds the lock.
type Lock struct {
	Logger logr.Logger
	Exec   *remote.Executor

	// Name scopes the lock, app-environment.
	Name string
	// Owner identifies the holder in the owner file, usually host:pid.
	Owner string

	Clock func() time.Time
}

func (l *Lock) Path() string {
	return "/tmp/ship-" + l.Name + ".lock"
}

func (l *Lock) ownerPath() string {
	return l.Path() + "/owner"
}

// Acquire takes the lock or fails with LockHeldError naming the current
// holder. Transport errors pass through untouched.
func (l *Lock) Acquire(ctx context.Context) error {
	_, err := l.Exec.Execute(ctx, remote.Command{Args: []string{"mkdir", l.Path()}})
	if err == nil {
		owner := fmt.Sprintf("%s %s\n", l.Owner, l.Clock().UTC().Format(time.RFC3339))
		if _, err := l.Exec.Execute(ctx, remote.Command{Args: []string{"tee", l.ownerPath()}, Stdin: strings.NewReader(owner)}); err != nil {
			l.Release(ctx)
			return fmt.Errorf("writing lock owner: %v", err)
		}

		l.Logger.V(1).Info("acquired deployment lock", "path", l.Path())

		return nil
	}

	if _, ok := remote.AsCommandError(err); !ok {
		return err
	}

	held := &LockHeldError{Name: l.Name, Path: l.Path()}
	if res, err := l.Exec.Execute(ctx, remote.Command{Args: []string{"cat", l.ownerPath()}}); err == nil {
		held.Owner = strings.TrimSpace(res.Stdout)
	}

	return held
}

// Release drops the lock. Failures are logged, not returned; a leftover lock
// directory surfaces as the next run's LockHeldError.
func (l *Lock) Release(ctx context.Context) {
	if _, err := l.Exec.Execute(ctx, remote.Command{Args: []string{"rm", "-rf", l.Path()}}); err != nil {
		l.Logger.Error(err, "releasing deployment lock", "path", l.Path())
		return
	}

	l.Logger.V(1).Info("released deployment lock", "path", l.Path())
}

// LockHeldError means another deployment of the same app/environment pair is
// in flight, or a previous one died without releasing the lock.
type LockHeldError struct {
	Name  string
	Path  string
	Owner string
}

func (e *LockHeldError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("deployment lock %s is held by %s", e.Path, e.Owner)
	}
	return fmt.Sprintf("deployment lock %s is held", e.Path)
}
