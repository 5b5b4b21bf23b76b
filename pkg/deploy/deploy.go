package deploy

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/config"
	"github.com/variantdev/ship/pkg/envfile"
	"github.com/variantdev/ship/pkg/fetch"
	"github.com/variantdev/ship/pkg/health"
	"github.com/variantdev/ship/pkg/history"
	"github.com/variantdev/ship/pkg/httpget"
	"github.com/variantdev/ship/pkg/remote"
	"github.com/variantdev/ship/pkg/sysunit"
	"github.com/variantdev/ship/pkg/transfer"
	"github.com/variantdev/ship/pkg/venv"
)

// Step identifiers, in execution order.
const (
	StepTransfer     = "transfer"
	StepProvisioning = "provisioning"
	StepEnvfile      = "envfile"
	StepUnit         = "unit"
	StepService      = "service"
	StepHealth       = "health"
)

// Result reports one deployment attempt. It is finalized at the first
// failing step or after health confirmation, and not persisted beyond the
// invocation except as a history revision on success.
type Result struct {
	App         string
	Environment string

	Succeeded  bool
	FailedStep string
	Err        error

	// ServiceStatus is the last known systemd state of the unit.
	ServiceStatus string
	// Warnings are suspicious journal lines and failed optional probes
	// found by the health check. They never fail the deployment.
	Warnings []string

	StartedAt time.Time
	Duration  time.Duration
}

// Notifier reports a finished deployment to an external system.
type Notifier interface {
	Deployed(ctx context.Context, environment string, succeeded bool, description string) error
}

// Observer records per-step timings and a final push, prometheus-shaped.
type Observer interface {
	Observe(step, status string, start, end time.Time)
	Push(ctx context.Context) error
}

// Sequencer runs one deployment end to end: advisory lock, transfer,
// provisioning, envfile, unit, service restart, health confirmation. Steps
// run strictly in order and the first failure aborts the rest.
type Sequencer struct {
	Logger logr.Logger

	Config *config.Config

	Exec        *remote.Executor
	Transfer    transfer.Strategy
	Provisioner *venv.Provisioner
	Descriptor  *sysunit.Descriptor
	Writer      *sysunit.Writer
	Lifecycle   *sysunit.Lifecycle
	Verifier    *health.Verifier

	// Vars is the environment variable set rendered into {dir}/.env,
	// assembled from the manifest and the injected environ.
	Vars envfile.Vars

	History  *history.Store
	Notifier Notifier
	Observer Observer

	Owner string
	Clock func() time.Time

	lock *Lock

	site        *cmdsite.CommandSite
	environ     []string
	fs          vfs.FS
	historyPath string
	http        httpget.Getter
	sleep       func(ctx context.Context, d time.Duration) error
}

func New(cfg *config.Config, opts ...Option) (*Sequencer, error) {
	s := &Sequencer{
		Config: cfg,
		Clock:  time.Now,
	}

	for _, o := range opts {
		if err := o.SetOption(s); err != nil {
			return nil, err
		}
	}

	if s.Logger == nil {
		s.Logger = klogr.New()
	}

	if s.Owner == "" {
		host, _ := os.Hostname()
		s.Owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}

	if err := s.buildVars(); err != nil {
		return nil, err
	}

	if err := s.buildComponents(); err != nil {
		return nil, err
	}

	return s, nil
}

// buildVars assembles the environment variable set before anything touches
// the target, so a malformed env block fails as a ConfigurationError. Later
// sources win on key collisions: json, then the injected environ, then
// literal values.
func (s *Sequencer) buildVars() error {
	vars := envfile.Vars{}

	if s.Config.Env.JSON != "" {
		fromJSON, err := envfile.FromJSON([]byte(s.Config.Env.JSON), s.Config.Env.JSONPath)
		if err != nil {
			return &config.ConfigurationError{Problems: []string{fmt.Sprintf("env.json: %v", err)}}
		}
		vars = vars.Merge(fromJSON)
	}

	if s.Config.Env.Prefix != "" || len(s.Config.Env.Allow) > 0 {
		vars = vars.Merge(envfile.FromEnviron(s.environ, s.Config.Env.Prefix, s.Config.Env.Allow))
	}

	vars = vars.Merge(envfile.Vars(s.Config.Env.Values))

	if err := vars.Validate(); err != nil {
		return &config.ConfigurationError{Problems: []string{err.Error()}}
	}

	s.Vars = vars

	return nil
}

func (s *Sequencer) buildComponents() error {
	cfg := s.Config

	if s.Exec == nil {
		target := remote.Target{Host: cfg.Server.Host, User: cfg.Server.User, Port: cfg.Server.Port}

		execOpts := []remote.Option{remote.Logger(s.Logger)}
		if s.site != nil {
			execOpts = append(execOpts, remote.Commander(s.site))
		}

		exec, err := remote.New(target, execOpts...)
		if err != nil {
			return err
		}

		s.Exec = exec
	}

	if s.Transfer == nil {
		strategy, err := s.buildTransfer()
		if err != nil {
			return err
		}
		s.Transfer = strategy
	}

	if s.Provisioner == nil {
		prov := venv.New(s.Exec, cfg.Dir)
		prov.Logger = s.Logger
		prov.Version = cfg.Python.Version
		prov.Constraint = cfg.Python.Constraint
		s.Provisioner = prov
	}

	if s.Descriptor == nil {
		d := sysunit.NewDescriptor(cfg.App, cfg.Environment, cfg.Dir)
		d.Entrypoint = cfg.Entrypoint
		s.Descriptor = d
	}

	if s.Writer == nil {
		w := sysunit.NewWriter(s.Exec)
		w.Logger = s.Logger
		s.Writer = w
	}

	if s.Lifecycle == nil {
		lc := sysunit.NewLifecycle(s.Exec, cfg.ServiceName())
		lc.Logger = s.Logger
		lc.SettleDelay = cfg.ServiceSettleDelay()
		if s.sleep != nil {
			lc.Sleep = s.sleep
		}
		s.Lifecycle = lc
	}

	if s.Verifier == nil {
		v := health.New(s.Exec, cfg.ServiceName())
		v.Logger = s.Logger
		v.Dir = cfg.Dir
		v.Attempts = cfg.Health.Attempts
		v.Interval = cfg.HealthInterval()
		v.URL = cfg.Health.URL
		if s.http != nil {
			v.HTTP = s.http
		}
		if s.sleep != nil {
			v.Sleep = s.sleep
		}
		s.Verifier = v
	}

	if s.History == nil && s.historyPath != "" {
		storeOpts := []history.Option{history.Logger(s.Logger)}
		if s.fs != nil {
			storeOpts = append(storeOpts, history.FS(s.fs))
		}

		store, err := history.New(s.historyPath, storeOpts...)
		if err != nil {
			return err
		}

		s.History = store
	}

	s.lock = &Lock{
		Logger: s.Logger,
		Exec:   s.Exec,
		Name:   cfg.ServiceName(),
		Owner:  s.Owner,
		Clock:  s.Clock,
	}

	return nil
}

func (s *Sequencer) buildTransfer() (transfer.Strategy, error) {
	cfg := s.Config

	if cfg.Source.Repo != "" {
		git := transfer.NewGit(s.Exec, cfg.Source.Repo, cfg.Source.Branch, cfg.Dir)
		git.Logger = s.Logger
		return git, nil
	}

	archive := transfer.NewArchive(s.Exec, cfg.Source.Path, cfg.Dir)
	archive.Logger = s.Logger
	archive.Staging = "/tmp/ship-" + cfg.App + ".tar.gz"
	if s.site != nil {
		archive.Site = s.site
	}
	if s.fs != nil {
		archive.SetFS(s.fs)
	}

	if !fetch.IsRemote(cfg.Source.Path) {
		return archive, nil
	}

	resolverOpts := []fetch.Option{
		fetch.Logger(s.Logger),
		fetch.Home(filepath.Join(os.TempDir(), "ship-cache")),
	}
	if s.fs != nil {
		resolverOpts = append(resolverOpts, fetch.FS(s.fs))
	}

	resolver, err := fetch.New(resolverOpts...)
	if err != nil {
		return nil, err
	}

	return &fetchedArchive{resolver: resolver, path: cfg.Source.Path, archive: archive}, nil
}

// fetchedArchive materializes a go-getter URL into a local directory before
// the archive strategy packages it.
type fetchedArchive struct {
	resolver *fetch.Resolver
	path     string
	archive  *transfer.Archive
}

func (f *fetchedArchive) Transfer(ctx context.Context) error {
	dir, err := f.resolver.ResolveDir(f.path)
	if err != nil {
		return err
	}

	f.archive.Source = dir

	return f.archive.Transfer(ctx)
}

// Deploy runs the whole sequence against the target. The returned Result
// always describes the attempt; the error is the same one recorded in
// Result.Err.
func (s *Sequencer) Deploy(ctx context.Context) (*Result, error) {
	res := &Result{
		App:         s.Config.App,
		Environment: s.Config.Environment,
		StartedAt:   s.Clock(),
	}

	s.Logger.Info("deploying", "app", res.App, "environment", res.Environment, "host", s.Config.Server.Host)

	if err := s.lock.Acquire(ctx); err != nil {
		res.FailedStep = "lock"
		res.Err = err
		s.finish(ctx, res)
		return res, err
	}
	defer s.lock.Release(context.Background())

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{StepTransfer, func(ctx context.Context) error { return s.Transfer.Transfer(ctx) }},
		{StepProvisioning, func(ctx context.Context) error { return s.Provisioner.Provision(ctx) }},
		{StepEnvfile, s.writeEnvfile},
		{StepUnit, s.installUnit},
		{StepService, func(ctx context.Context) error {
			state, err := s.Lifecycle.Restart(ctx)
			res.ServiceStatus = string(state)
			return err
		}},
		{StepHealth, func(ctx context.Context) error {
			report, err := s.Verifier.Wait(ctx)
			if err != nil {
				return err
			}
			res.ServiceStatus = report.Status
			res.Warnings = report.Warnings
			return nil
		}},
	}

	for _, step := range steps {
		if err := s.runStep(ctx, res, step.name, step.run); err != nil {
			s.finish(ctx, res)
			return res, err
		}
	}

	res.Succeeded = true
	s.finish(ctx, res)

	s.Logger.Info("deployed", "app", res.App, "environment", res.Environment, "status", res.ServiceStatus, "took", res.Duration.String())

	return res, nil
}

func (s *Sequencer) runStep(ctx context.Context, res *Result, name string, run func(context.Context) error) error {
	s.Logger.Info("step started", "step", name)
	start := s.Clock()

	err := run(ctx)
	end := s.Clock()

	status := "success"
	if err != nil {
		status = "error"
	}
	if s.Observer != nil {
		s.Observer.Observe(name, status, start, end)
	}

	if err != nil {
		s.Logger.Error(err, "step failed", "step", name)
		res.FailedStep = name
		res.Err = err
		return err
	}

	s.Logger.Info("step finished", "step", name, "took", end.Sub(start).String())

	return nil
}

// writeEnvfile renders the variable set into {dir}/.env. It runs after
// transfer because the archive strategy clears the directory.
func (s *Sequencer) writeEnvfile(ctx context.Context) error {
	path := filepath.Join(s.Config.Dir, ".env")
	content := s.Vars.Render()

	s.Logger.V(1).Info("writing environment file", "path", path, "vars", len(s.Vars))

	_, err := s.Exec.Execute(ctx, remote.Command{Args: []string{"tee", path}, Stdin: bytes.NewReader(content)})

	return err
}

func (s *Sequencer) installUnit(ctx context.Context) error {
	if err := s.Writer.Install(ctx, s.Descriptor); err != nil {
		return err
	}

	return s.Writer.EnsureLogDir(ctx, s.Descriptor)
}

// Verify runs only the health check, for `ship health`. It resolves the
// target from the same manifest as a deployment.
func (s *Sequencer) Verify(ctx context.Context) (*health.Report, error) {
	return s.Verifier.Wait(ctx)
}

func (s *Sequencer) sourceLabel() string {
	if s.Config.Source.Repo != "" {
		return s.Config.Source.Repo
	}
	return s.Config.Source.Path
}

// finish records, notifies, and pushes metrics. All three are non-fatal:
// the deployment's outcome is already decided.
func (s *Sequencer) finish(ctx context.Context, res *Result) {
	res.Duration = s.Clock().Sub(res.StartedAt)

	if res.Succeeded && s.History != nil {
		rev := history.Revision{
			App:         res.App,
			Environment: res.Environment,
			Source:      s.sourceLabel(),
			Ref:         s.Config.Source.Branch,
			Time:        res.StartedAt.UTC(),
		}

		if _, err := s.History.Record(rev); err != nil {
			s.Logger.Error(err, "recording deployment history")
		}
	}

	if s.Notifier != nil {
		description := fmt.Sprintf("deployed %s to %s", res.App, res.Environment)
		if !res.Succeeded {
			description = fmt.Sprintf("deploying %s to %s failed at %s", res.App, res.Environment, res.FailedStep)
		}

		if err := s.Notifier.Deployed(ctx, res.Environment, res.Succeeded, description); err != nil {
			s.Logger.Error(err, "notifying deployment status")
		}
	}

	if s.Observer != nil {
		if err := s.Observer.Push(ctx); err != nil {
			s.Logger.Error(err, "pushing metrics")
		}
	}
}
