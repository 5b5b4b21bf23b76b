package sysunit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/remote"
)

// State is how far the lifecycle got, in the order the steps run.
type State string

const (
	StateUnknown  State = "unknown"
	StateReloaded State = "reloaded"
	StateEnabled  State = "enabled"
	StateStopped  State = "stopped"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

const DefaultSettleDelay = 2 * time.Second

// Lifecycle restarts the managed service in a fixed order: daemon-reload,
// enable, stop, settle, start, then an activation query. A failing stop is
// tolerated because the unit may simply not be running yet; every other
// failure aborts.
type Lifecycle struct {
	Logger logr.Logger
	Exec   *remote.Executor

	Service     string
	SettleDelay time.Duration

	// Sleep waits between stop and start. Overridden in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewLifecycle(exec *remote.Executor, service string) *Lifecycle {
	return &Lifecycle{
		Logger:      klogr.New(),
		Exec:        exec,
		Service:     service,
		SettleDelay: DefaultSettleDelay,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (l *Lifecycle) Restart(ctx context.Context) (State, error) {
	state := StateUnknown

	if err := l.systemctl(ctx, "daemon-reload"); err != nil {
		return state, err
	}
	state = StateReloaded

	if err := l.systemctl(ctx, "enable", l.Service); err != nil {
		return state, err
	}
	state = StateEnabled

	if err := l.systemctl(ctx, "stop", l.Service); err != nil {
		if _, ok := remote.AsCommandError(err); !ok {
			return state, err
		}
		l.Logger.Info("stop failed, assuming the service was not running", "service", l.Service)
	}
	state = StateStopped

	if err := l.Sleep(ctx, l.SettleDelay); err != nil {
		return state, err
	}

	if err := l.systemctl(ctx, "start", l.Service); err != nil {
		if ce, ok := remote.AsCommandError(err); ok {
			return StateFailed, &ServiceStartError{Service: l.Service, Status: "failed", Output: ce.Mixed()}
		}
		return state, err
	}

	active, out, err := l.IsActive(ctx)
	if err != nil {
		return state, err
	}
	if !active {
		return StateFailed, &ServiceStartError{Service: l.Service, Status: out, Output: out}
	}

	return StateRunning, nil
}

// IsActive asks systemd whether the unit is active. A negative answer is not
// an error; out carries whatever systemctl printed, like "inactive" or
// "activating".
func (l *Lifecycle) IsActive(ctx context.Context) (bool, string, error) {
	res, err := l.Exec.Execute(ctx, remote.Command{Args: []string{"systemctl", "is-active", l.Service}})
	if err != nil {
		if ce, ok := remote.AsCommandError(err); ok {
			return false, strings.TrimSpace(ce.Stdout), nil
		}
		return false, "", err
	}
	return true, strings.TrimSpace(res.Stdout), nil
}

func (l *Lifecycle) systemctl(ctx context.Context, args ...string) error {
	_, err := l.Exec.Execute(ctx, remote.Command{Args: append([]string{"systemctl"}, args...), Privileged: true})
	return err
}

// ServiceStartError means the service did not reach the active state after
// start, as opposed to an earlier lifecycle step failing.
type ServiceStartError struct {
	Service string
	Status  string
	Output  string
}

func (e *ServiceStartError) Error() string {
	msg := fmt.Sprintf("service %s failed to start", e.Service)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status %s)", e.Status)
	}
	return msg
}
