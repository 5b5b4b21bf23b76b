package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/kballard/go-shellquote"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/cmdsite"
)

// Target identifies the single host a deployment operates on.
type Target struct {
	Host string
	User string
	Port int
}

func (t Target) Address() string {
	if t.User == "" {
		return t.Host
	}
	return t.User + "@" + t.Host
}

// Command is one invocation on the target. Args is a structured argv; the
// elements are individually quoted before ssh joins them into the remote
// shell command, so values containing spaces or metacharacters stay single
// arguments on the far side.
type Command struct {
	Args       []string
	Privileged bool
	Stdin      io.Reader
}

type Result struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// Mixed returns stdout and stderr concatenated, for diagnostics that only
// care what the command printed, not where.
func (r *Result) Mixed() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Executor runs commands on a Target through the local ssh and scp binaries.
// It never retries; callers that want retries loop themselves.
type Executor struct {
	Logger logr.Logger
	Site   *cmdsite.CommandSite

	Target Target

	SSH  string
	SCP  string
	Sudo string

	// ConnectTimeout caps connection establishment (ssh -o ConnectTimeout).
	ConnectTimeout time.Duration
	// CommandTimeout caps each whole command run. Zero means no limit.
	CommandTimeout time.Duration
}

func New(target Target, opts ...Option) (*Executor, error) {
	if target.Host == "" {
		return nil, errors.New("target host is required")
	}

	e := &Executor{
		Target:         target,
		SSH:            "ssh",
		SCP:            "scp",
		Sudo:           "sudo",
		ConnectTimeout: 10 * time.Second,
	}

	for _, o := range opts {
		if err := o.SetOption(e); err != nil {
			return nil, err
		}
	}

	if e.Logger == nil {
		e.Logger = klogr.New()
	}

	if e.Site == nil {
		e.Site = cmdsite.New()
	}

	return e, nil
}

func (e *Executor) sshOptions() []string {
	return []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(e.ConnectTimeout.Seconds())),
	}
}

// Execute runs cmd on the target and captures its output. Failures come back
// typed: ConnectionError when the transport could not reach the host,
// CommandError when the command itself exited non-zero, CommandTimeoutError
// when CommandTimeout elapsed first.
func (e *Executor) Execute(ctx context.Context, cmd Command) (*Result, error) {
	remoteArgs := cmd.Args
	if cmd.Privileged {
		remoteArgs = append([]string{e.Sudo}, remoteArgs...)
	}

	args := e.sshOptions()
	if e.Target.Port > 0 {
		args = append(args, "-p", strconv.Itoa(e.Target.Port))
	}
	args = append(args, e.Target.Address(), "--", shellquote.Join(remoteArgs...))

	e.Logger.V(1).Info("executing", "host", e.Target.Host, "command", remoteArgs)

	stdout, stderr, err := e.run(ctx, &cmdsite.Command{Name: e.SSH, Args: args, Stdin: cmd.Stdin})
	if err != nil {
		return nil, e.classify(remoteArgs, stdout, stderr, err)
	}

	return &Result{ExitStatus: 0, Stdout: stdout, Stderr: stderr}, nil
}

// Copy uploads localPath to remotePath on the target via scp.
func (e *Executor) Copy(ctx context.Context, localPath, remotePath string) error {
	args := e.sshOptions()
	if e.Target.Port > 0 {
		args = append(args, "-P", strconv.Itoa(e.Target.Port))
	}
	args = append(args, localPath, e.Target.Address()+":"+remotePath)

	e.Logger.V(1).Info("copying", "host", e.Target.Host, "local", localPath, "remote", remotePath)

	stdout, stderr, err := e.run(ctx, &cmdsite.Command{Name: e.SCP, Args: args})
	if err != nil {
		return e.classify([]string{e.SCP, localPath, remotePath}, stdout, stderr, err)
	}

	return nil
}

func (e *Executor) run(ctx context.Context, cmd *cmdsite.Command) (string, string, error) {
	if e.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.CommandTimeout)
		defer cancel()
	}

	stdout, stderr, err := e.Site.CaptureBytes(ctx, cmd)
	return string(stdout), string(stderr), err
}

// ssh reserves exit status 255 for its own failures, which is how transport
// errors are told apart from the remote command's own status. scp delegates
// its transport to ssh, so the same rule applies.
const sshTransportError = 255

func (e *Executor) classify(args []string, stdout, stderr string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CommandTimeoutError{Args: args, Timeout: e.CommandTimeout}
	}

	status, ok := cmdsite.ExitStatus(err)
	if !ok {
		return fmt.Errorf("running %s: %w", e.SSH, err)
	}

	if status == sshTransportError {
		return &ConnectionError{Target: e.Target, Stderr: stderr, Err: err}
	}

	return &CommandError{Args: args, ExitStatus: status, Stdout: stdout, Stderr: stderr}
}
