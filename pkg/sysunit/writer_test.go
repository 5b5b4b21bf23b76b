package sysunit

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

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

func TestWriterInstall(t *testing.T) {
	d := NewDescriptor("payment-api", "staging", "/srv/payment-api")

	w := NewWriter(newTestExecutor(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		// No unit installed yet.
		{Name: "ssh", Args: sshPrefix + "cat /etc/systemd/system/payment-api-staging.service"}: {
			Stderr:     "cat: /etc/systemd/system/payment-api-staging.service: No such file or directory",
			ExitStatus: 1,
		},
		// The whole rendered unit arrives on stdin of a privileged tee.
		{
			Name:  "ssh",
			Args:  sshPrefix + "sudo tee /etc/systemd/system/payment-api-staging.service",
			Stdin: wantUnit,
		}: {Stdout: wantUnit},
	})))

	if err := w.Install(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriterInstallOverwrite(t *testing.T) {
	d := NewDescriptor("payment-api", "staging", "/srv/payment-api")

	w := NewWriter(newTestExecutor(t, cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "cat /etc/systemd/system/payment-api-staging.service"}: {
			Stdout: "[Unit]\nDescription=stale\n",
		},
		{
			Name:  "ssh",
			Args:  sshPrefix + "sudo tee /etc/systemd/system/payment-api-staging.service",
			Stdin: wantUnit,
		}: {Stdout: wantUnit},
	})))

	if err := w.Install(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWriterEnsureLogDir(t *testing.T) {
	d := NewDescriptor("payment-api", "staging", "/srv/payment-api")

	rec := &cmdsite.Recorder{}
	w := NewWriter(newTestExecutor(t, rec.Record(cmdsite.NewTester(map[cmdsite.CommandInput]cmdsite.CommandOutput{
		{Name: "ssh", Args: sshPrefix + "sudo mkdir -p /var/log/payment-api-staging"}:       {},
		{Name: "ssh", Args: sshPrefix + "sudo chgrp www-data /var/log/payment-api-staging"}: {},
		{Name: "ssh", Args: sshPrefix + "sudo chmod 775 /var/log/payment-api-staging"}:      {},
	}))))

	if err := w.EnsureLogDir(context.Background(), d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo mkdir -p /var/log/payment-api-staging",
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo chgrp www-data /var/log/payment-api-staging",
		"ssh -o BatchMode=yes -o ConnectTimeout=10 -p 22 deploy@web1 -- sudo chmod 775 /var/log/payment-api-staging",
	}
	if diff := cmp.Diff(want, rec.Commands()); diff != "" {
		t.Errorf("unexpected commands:\n%s", diff)
	}
}
