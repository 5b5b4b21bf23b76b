package cmdsite

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCaptureStrings(t *testing.T) {
	site := NewWith(NewTester(map[CommandInput]CommandOutput{
		{Name: "ssh", Args: "host,--,uptime"}: {Stdout: "up 3 days", Stderr: "motd"},
	}))

	stdout, stderr, err := site.CaptureStrings(context.Background(), "ssh", []string{"host", "--", "uptime"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	{
		if stdout != "up 3 days" {
			t.Errorf("unexpected stdout: %s", stdout)
		}
	}

	{
		if stderr != "motd" {
			t.Errorf("unexpected stderr: %s", stderr)
		}
	}
}

func TestCaptureStringsExitStatus(t *testing.T) {
	site := NewWith(NewTester(map[CommandInput]CommandOutput{
		{Name: "ssh", Args: "host,--,false"}: {Stderr: "boom", ExitStatus: 255},
	}))

	_, stderr, err := site.CaptureStrings(context.Background(), "ssh", []string{"host", "--", "false"})
	if err == nil {
		t.Fatal("expected error")
	}

	{
		status, ok := ExitStatus(err)
		if !ok {
			t.Fatalf("expected exit status in error: %v", err)
		}
		if status != 255 {
			t.Errorf("unexpected status: %d", status)
		}
	}

	{
		if stderr != "boom" {
			t.Errorf("unexpected stderr: %s", stderr)
		}
	}
}

func TestTesterStdin(t *testing.T) {
	site := NewWith(NewTester(map[CommandInput]CommandOutput{
		{Name: "tee", Args: "/tmp/unit", Stdin: "[Unit]\n"}: {},
	}))

	err := site.RunCommand(context.Background(), &Command{
		Name:  "tee",
		Args:  []string{"/tmp/unit"},
		Stdin: strings.NewReader("[Unit]\n"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSequenceTester(t *testing.T) {
	run := NewSequenceTester(map[CommandInput][]CommandOutput{
		{Name: "systemctl", Args: "is-active,app-staging"}: {
			{Stdout: "activating\n", ExitStatus: 3},
			{Stdout: "active\n"},
		},
	})
	site := NewWith(run)

	{
		stdout, _, err := site.CaptureStrings(context.Background(), "systemctl", []string{"is-active", "app-staging"})
		if err == nil {
			t.Fatal("expected first probe to fail")
		}
		if stdout != "activating\n" {
			t.Errorf("unexpected stdout: %s", stdout)
		}
	}

	{
		stdout, _, err := site.CaptureStrings(context.Background(), "systemctl", []string{"is-active", "app-staging"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stdout != "active\n" {
			t.Errorf("unexpected stdout: %s", stdout)
		}
	}

	{
		_, _, err := site.CaptureStrings(context.Background(), "systemctl", []string{"is-active", "app-staging"})
		if err == nil {
			t.Fatal("expected exhausted expectations to fail")
		}
	}
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	site := NewWith(rec.Record(NewTester(map[CommandInput]CommandOutput{
		{Name: "systemctl", Args: "daemon-reload"}:     {},
		{Name: "systemctl", Args: "start,app-staging"}: {},
	})))

	ctx := context.Background()
	if err := site.RunCommand(ctx, &Command{Name: "systemctl", Args: []string{"daemon-reload"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := site.RunCommand(ctx, &Command{Name: "systemctl", Args: []string{"start", "app-staging"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"systemctl daemon-reload",
		"systemctl start app-staging",
	}
	if diff := cmp.Diff(want, rec.Commands()); diff != "" {
		t.Errorf("unexpected commands:\n%s", diff)
	}
}
