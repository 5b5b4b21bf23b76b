package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/remote"
)

const sshPrefix = "-o,BatchMode=yes,-o,ConnectTimeout=10,-p,22,deploy@web1,--,"

func newTestExecutor(t *testing.T, run cmdsite.RunCommand) *remote.Executor {
	t.Helper()
	e, err := remote.New(
		remote.Target{Host: "web1", User: "deploy", Port: 22},
		remote.Commander(cmdsite.NewWith(run)),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return e
}

func TestGitTransferUpdate(t *testing.T) {
	exec := newTestExecutor(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -e /srv/payment-api/.git"}:                    {},
		{Name: "ssh", Args: sshPrefix + "git -C /srv/payment-api fetch origin main"}:        {},
		{Name: "ssh", Args: sshPrefix + "git -C /srv/payment-api checkout main"}:            {},
		{Name: "ssh", Args: sshPrefix + "git -C /srv/payment-api reset --hard origin/main"}: {},
		{Name: "ssh", Args: sshPrefix + "git -C /srv/payment-api clean -fd"}:                {},
	}))

	g := NewGit(exec, "https://github.com/acme/payment-api.git", "main", "/srv/payment-api")

	if err := g.Transfer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGitTransferClone(t *testing.T) {
	exec := newTestExecutor(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -e /srv/payment-api/.git"}: {ExitStatus: 1},
		{Name: "ssh", Args: sshPrefix + "rm -rf /srv/payment-api"}:       {},
		{Name: "ssh", Args: sshPrefix + "git clone --branch main https://github.com/acme/payment-api.git /srv/payment-api"}: {},
	}))

	g := NewGit(exec, "https://github.com/acme/payment-api.git", "main", "/srv/payment-api")

	if err := g.Transfer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGitTransferUnavailable(t *testing.T) {
	exec := newTestExecutor(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -e /srv/payment-api/.git"}: {ExitStatus: 1},
		{Name: "ssh", Args: sshPrefix + "rm -rf /srv/payment-api"}:       {},
		{Name: "ssh", Args: sshPrefix + "git clone --branch main https://github.com/acme/payment-api.git /srv/payment-api"}: {
			Stderr:     "fatal: repository 'https://github.com/acme/payment-api.git' not found",
			ExitStatus: 128,
		},
	}))

	g := NewGit(exec, "https://github.com/acme/payment-api.git", "main", "/srv/payment-api")

	err := g.Transfer(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var sue *SourceUnavailableError
	if !errors.As(err, &sue) {
		t.Fatalf("expected SourceUnavailableError, got %T: %v", err, err)
	}

	{
		if sue.Stderr == "" {
			t.Error("expected captured stderr for diagnostics")
		}
	}
}

func TestGitTransferConnectionError(t *testing.T) {
	exec := newTestExecutor(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "test -e /srv/payment-api/.git"}: {
			Stderr:     "ssh: connect to host web1 port 22: Connection timed out",
			ExitStatus: 255,
		},
	}))

	g := NewGit(exec, "https://github.com/acme/payment-api.git", "main", "/srv/payment-api")

	err := g.Transfer(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	{
		if !remote.IsConnectionError(err) {
			t.Errorf("expected connection error, got %T: %v", err, err)
		}
	}

	{
		var sue *SourceUnavailableError
		if errors.As(err, &sue) {
			t.Error("an unreachable host must not be reported as an unavailable source")
		}
	}
}
