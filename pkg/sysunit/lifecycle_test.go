package sysunit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/variantdev/ship/pkg/cmdsite"
)

func newTestLifecycle(t *testing.T, run cmdsite.RunCommand) *Lifecycle {
	t.Helper()
	l := NewLifecycle(newTestExecutor(t, run), "payment-api-staging")
	l.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return l
}

func TestLifecycleRestart(t *testing.T) {
	rec := &cmdsite.Recorder{}
	l := newTestLifecycle(t, rec.Record(cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "sudo systemctl daemon-reload"}:              {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl enable payment-api-staging"}: {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl stop payment-api-staging"}:   {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl start payment-api-staging"}:  {},
		{Name: "ssh", Args: sshPrefix + "systemctl is-active payment-api-staging"}:   {Stdout: "active\n"},
	})))

	state, err := l.Restart(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	{
		if state != StateRunning {
			t.Errorf("unexpected state: %s", state)
		}
	}

	want := []string{
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo systemctl daemon-reload",
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo systemctl enable payment-api-staging",
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo systemctl stop payment-api-staging",
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo systemctl start payment-api-staging",
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- systemctl is-active payment-api-staging",
	}
	if diff := cmp.Diff(want, rec.Commands()); diff != "" {
		t.Errorf("unexpected command order:\n%s", diff)
	}
}

func TestLifecycleToleratesStopFailure(t *testing.T) {
	l := newTestLifecycle(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "sudo systemctl daemon-reload"}:              {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl enable payment-api-staging"}: {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl stop payment-api-staging"}: {
			Stderr:     "Failed to stop payment-api-staging.service: Unit not loaded.",
			ExitStatus: 5,
		},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl start payment-api-staging"}: {},
		{Name: "ssh", Args: sshPrefix + "systemctl is-active payment-api-staging"}:  {Stdout: "active\n"},
	}))

	state, err := l.Restart(context.Background())
	if err != nil {
		t.Fatalf("a failing stop must not abort the restart: %v", err)
	}

	if state != StateRunning {
		t.Errorf("unexpected state: %s", state)
	}
}

func TestLifecycleStartFailure(t *testing.T) {
	l := newTestLifecycle(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "sudo systemctl daemon-reload"}:              {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl enable payment-api-staging"}: {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl stop payment-api-staging"}:   {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl start payment-api-staging"}: {
			Stderr:     "Job for payment-api-staging.service failed because the control process exited with error code.",
			ExitStatus: 1,
		},
	}))

	state, err := l.Restart(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var se *ServiceStartError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceStartError, got %T: %v", err, err)
	}

	{
		if state != StateFailed {
			t.Errorf("unexpected state: %s", state)
		}
	}

	{
		if se.Output == "" {
			t.Error("expected captured output for diagnostics")
		}
	}
}

func TestLifecycleStartedButNotActive(t *testing.T) {
	l := newTestLifecycle(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "sudo systemctl daemon-reload"}:              {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl enable payment-api-staging"}: {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl stop payment-api-staging"}:   {},
		{Name: "ssh", Args: sshPrefix + "sudo systemctl start payment-api-staging"}:  {},
		{Name: "ssh", Args: sshPrefix + "systemctl is-active payment-api-staging"}: {
			Stdout:     "failed\n",
			ExitStatus: 3,
		},
	}))

	state, err := l.Restart(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var se *ServiceStartError
	if !errors.As(err, &se) {
		t.Fatalf("expected ServiceStartError, got %T: %v", err, err)
	}

	{
		if state != StateFailed {
			t.Errorf("unexpected state: %s", state)
		}
		if se.Status != "failed" {
			t.Errorf("unexpected status: %s", se.Status)
		}
	}
}
