package venv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/remote"
)

const sshPrefix = "-o,BatchMode=yes,-o,ConnectTimeout=10,-p,22,deploy@web1,--,"

func newTestProvisioner(t *testing.T, run cmdsite.RunCommand) *Provisioner {
	t.Helper()
	exec, err := remote.New(
		remote.Target{Host: "web1", User: "deploy", Port: 22},
		remote.Commander(cmdsite.NewWith(run)),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(exec, "/srv/payment-api")
}

func TestProvisionFresh(t *testing.T) {
	p := newTestProvisioner(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -x /srv/payment-api/.venv/bin/python"}: {ExitStatus: 1},
		{Name: "ssh", Args: sshPrefix + "python3.9 -m venv /srv/payment-api/.venv"}:  {},
		{Name: "ssh", Args: sshPrefix + "/srv/payment-api/.venv/bin/pip install --upgrade -r /srv/payment-api/requirements.txt"}: {
			Stdout: "Successfully installed flask-2.0.1\n",
		},
	}))

	if err := p.Provision(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProvisionExistingSandbox(t *testing.T) {
	rec := &cmdsite.Recorder{}
	p := newTestProvisioner(t, rec.Record(cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -x /srv/payment-api/.venv/bin/python"}: {},
		{Name: "ssh", Args: sshPrefix + "/srv/payment-api/.venv/bin/pip install --upgrade -r /srv/payment-api/requirements.txt"}: {},
	})))

	if err := p.Provision(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, cmd := range rec.Commands() {
		if strings.Contains(cmd, "-m venv") {
			t.Errorf("sandbox was recreated although it exists: %s", cmd)
		}
	}
}

func TestProvisionDependencyFailure(t *testing.T) {
	p := newTestProvisioner(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -x /srv/payment-api/.venv/bin/python"}: {},
		{Name: "ssh", Args: sshPrefix + "/srv/payment-api/.venv/bin/pip install --upgrade -r /srv/payment-api/requirements.txt"}: {
			Stdout:     "Collecting flask\n",
			Stderr:     "ERROR: No matching distribution found for flask==99.0",
			ExitStatus: 1,
		},
	}))

	err := p.Provision(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var pe *ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProvisioningError, got %T: %v", err, err)
	}

	{
		if pe.Stage != "dependencies" {
			t.Errorf("unexpected stage: %s", pe.Stage)
		}
	}

	{
		if !strings.Contains(pe.Output, "No matching distribution") {
			t.Errorf("expected installer output in error, got: %s", pe.Output)
		}
	}
}

func TestProvisionInterpreterMismatch(t *testing.T) {
	p := newTestProvisioner(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "python3.9 --version"}: {Stdout: "Python 3.11.2\n"},
	}))
	p.Constraint = "~3.9"

	err := p.Provision(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var pe *ProvisioningError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProvisioningError, got %T: %v", err, err)
	}

	{
		if pe.Stage != "interpreter" {
			t.Errorf("unexpected stage: %s", pe.Stage)
		}
	}
}

func TestProvisionConnectionErrorPassesThrough(t *testing.T) {
	p := newTestProvisioner(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -x /srv/payment-api/.venv/bin/python"}: {
			Stderr:     "ssh: Could not resolve hostname web1",
			ExitStatus: 255,
		},
	}))

	err := p.Provision(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	{
		if !remote.IsConnectionError(err) {
			t.Errorf("expected connection error, got %T: %v", err, err)
		}
	}

	{
		var pe *ProvisioningError
		if errors.As(err, &pe) {
			t.Error("a transport failure must not be retyped as a provisioning failure")
		}
	}
}
