package cmdsite

import (
	"bytes"
	"context"
	"io"
	"strings"

	"k8s.io/klog"
)

// Command describes a single process invocation.
type Command struct {
	Name           string
	Args           []string
	Stdin          io.Reader
	Stdout, Stderr io.Writer
	Env            map[string]string

	// Dir is the working directory of this command
	Dir string
}

type RunCommand func(ctx context.Context, cmd *Command) error

type CommandSite struct {
	RunCmd RunCommand

	Env map[string]string
}

func New() *CommandSite {
	return &CommandSite{
		RunCmd: DefaultRunCommand,
		Env:    map[string]string{},
	}
}

func NewWith(run RunCommand) *CommandSite {
	s := New()
	if run != nil {
		s.RunCmd = run
	}
	return s
}

func (s *CommandSite) RunCommand(ctx context.Context, cmd *Command) error {
	merged := map[string]string{}
	for k, v := range s.Env {
		merged[k] = v
	}
	for k, v := range cmd.Env {
		merged[k] = v
	}
	c := *cmd
	c.Env = merged
	return s.RunCmd(ctx, &c)
}

func (s *CommandSite) CaptureStrings(ctx context.Context, binary string, args []string) (string, string, error) {
	stdout, stderr, err := s.CaptureBytes(ctx, &Command{Name: binary, Args: args})

	var so, se string

	if stdout != nil {
		so = string(stdout)
	}

	if stderr != nil {
		se = string(stderr)
	}

	return so, se, err
}

func (s *CommandSite) CaptureBytes(ctx context.Context, cmd *Command) ([]byte, []byte, error) {
	klog.V(1).Infof("running %s %s", cmd.Name, strings.Join(cmd.Args, " "))

	var stdout, stderr bytes.Buffer
	c := *cmd
	c.Stdout = &stdout
	c.Stderr = &stderr
	err := s.RunCommand(ctx, &c)
	if err != nil {
		klog.V(1).Info(stderr.String())
	}
	return stdout.Bytes(), stderr.Bytes(), err
}
