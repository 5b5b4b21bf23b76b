package venv

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/remote"
	"github.com/variantdev/ship/pkg/semver"
)

const DefaultVersion = "3.9"

// Provisioner prepares the Python sandbox under the application directory.
// Provisioning is idempotent: an existing sandbox is kept and only the
// dependency install runs again.
type Provisioner struct {
	Logger logr.Logger
	Exec   *remote.Executor

	// Dir is the remote application directory; the sandbox lives in Dir/.venv.
	Dir string
	// Version selects the interpreter binary, pythonX.Y.
	Version string
	// Manifest is the dependency manifest relative to Dir.
	Manifest string
	// Constraint optionally pins the interpreter, e.g. "~3.9". Checked
	// against `pythonX.Y --version` before anything is created.
	Constraint string
}

func New(exec *remote.Executor, dir string) *Provisioner {
	return &Provisioner{
		Logger:   klogr.New(),
		Exec:     exec,
		Dir:      dir,
		Version:  DefaultVersion,
		Manifest: "requirements.txt",
	}
}

func (p *Provisioner) interpreter() string {
	return "python" + p.Version
}

func (p *Provisioner) venvPython() string {
	return filepath.Join(p.Dir, ".venv", "bin", "python")
}

func (p *Provisioner) venvPip() string {
	return filepath.Join(p.Dir, ".venv", "bin", "pip")
}

func (p *Provisioner) Provision(ctx context.Context) error {
	if p.Constraint != "" {
		if err := p.checkInterpreter(ctx); err != nil {
			return err
		}
	}

	exists, err := p.sandboxExists(ctx)
	if err != nil {
		return err
	}

	if exists {
		p.Logger.V(1).Info("sandbox already present", "dir", p.Dir)
	} else {
		p.Logger.V(1).Info("creating sandbox", "dir", p.Dir, "interpreter", p.interpreter())
		if _, err := p.Exec.Execute(ctx, remote.Command{Args: []string{p.interpreter(), "-m", "venv", filepath.Join(p.Dir, ".venv")}}); err != nil {
			return p.provisioningError("sandbox", err)
		}
	}

	manifest := filepath.Join(p.Dir, p.Manifest)
	p.Logger.V(1).Info("installing dependencies", "manifest", manifest)
	if _, err := p.Exec.Execute(ctx, remote.Command{Args: []string{p.venvPip(), "install", "--upgrade", "-r", manifest}}); err != nil {
		return p.provisioningError("dependencies", err)
	}

	return nil
}

func (p *Provisioner) sandboxExists(ctx context.Context) (bool, error) {
	_, err := p.Exec.Execute(ctx, remote.Command{Args: []string{"test", "-x", p.venvPython()}})
	if err != nil {
		if _, ok := remote.AsCommandError(err); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Provisioner) checkInterpreter(ctx context.Context) error {
	res, err := p.Exec.Execute(ctx, remote.Command{Args: []string{p.interpreter(), "--version"}})
	if err != nil {
		return p.provisioningError("interpreter", err)
	}

	// python3 prints "Python X.Y.Z"; old interpreters used stderr.
	out := strings.TrimSpace(res.Mixed())
	version := strings.TrimPrefix(out, "Python ")

	ok, err := semver.Satisfies(version, p.Constraint)
	if err != nil {
		return &ProvisioningError{Stage: "interpreter", Output: out, Err: fmt.Errorf("parsing interpreter version %q: %v", version, err)}
	}
	if !ok {
		return &ProvisioningError{
			Stage:  "interpreter",
			Output: out,
			Err:    fmt.Errorf("interpreter %s reports %s, which does not satisfy %s", p.interpreter(), version, p.Constraint),
		}
	}

	return nil
}

// provisioningError retypes remote command failures and keeps their output
// for diagnostics. Transport and timeout errors pass through untouched.
func (p *Provisioner) provisioningError(stage string, err error) error {
	if ce, ok := remote.AsCommandError(err); ok {
		return &ProvisioningError{Stage: stage, Output: strings.TrimSpace(ce.Stdout + "\n" + ce.Stderr), Err: err}
	}
	return err
}

// ProvisioningError means a sandbox or dependency install step failed on the
// target. Output holds the captured installer output in full.
type ProvisioningError struct {
	Stage  string
	Output string
	Err    error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning %s failed: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
