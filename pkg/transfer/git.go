package transfer

import (
	"context"
	"path/filepath"

	"github.com/go-logr/logr"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/remote"
)

// Git synchronizes the remote application directory against a git origin,
// running git on the target host itself.
type Git struct {
	Logger logr.Logger
	Exec   *remote.Executor

	Repo   string
	Branch string
	Dir    string

	gitPath string
}

func NewGit(exec *remote.Executor, repo, branch, dir string) *Git {
	return &Git{
		Logger:  klogr.New(),
		Exec:    exec,
		Repo:    repo,
		Branch:  branch,
		Dir:     dir,
		gitPath: "git",
	}
}

func (g *Git) Transfer(ctx context.Context) error {
	exists, err := g.repoExists(ctx)
	if err != nil {
		return err
	}

	if exists {
		g.Logger.V(1).Info("updating existing checkout", "dir", g.Dir, "branch", g.Branch)
		return g.update(ctx)
	}

	g.Logger.V(1).Info("cloning", "repo", g.Repo, "branch", g.Branch, "dir", g.Dir)
	return g.clone(ctx)
}

func (g *Git) repoExists(ctx context.Context) (bool, error) {
	_, err := g.Exec.Execute(ctx, remote.Command{Args: []string{"test", "-e", filepath.Join(g.Dir, ".git")}})
	if err != nil {
		if _, ok := remote.AsCommandError(err); ok {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// update brings an existing checkout to the exact state of origin/branch.
// reset --hard plus clean -fd guarantees no stale files survive.
func (g *Git) update(ctx context.Context) error {
	if err := g.git(ctx, "fetch", "origin", g.Branch); err != nil {
		return g.unavailable(err)
	}
	if err := g.git(ctx, "checkout", g.Branch); err != nil {
		return err
	}
	if err := g.git(ctx, "reset", "--hard", "origin/"+g.Branch); err != nil {
		return err
	}
	return g.git(ctx, "clean", "-fd")
}

// clone starts over. The destination is removed first so that a directory
// that exists but is not a repository does not break the transfer.
func (g *Git) clone(ctx context.Context) error {
	if _, err := g.Exec.Execute(ctx, remote.Command{Args: []string{"rm", "-rf", g.Dir}}); err != nil {
		return err
	}

	_, err := g.Exec.Execute(ctx, remote.Command{Args: []string{g.gitPath, "clone", "--branch", g.Branch, g.Repo, g.Dir}})
	if err != nil {
		return g.unavailable(err)
	}
	return nil
}

func (g *Git) git(ctx context.Context, args ...string) error {
	_, err := g.Exec.Execute(ctx, remote.Command{Args: append([]string{g.gitPath, "-C", g.Dir}, args...)})
	return err
}

// unavailable retypes failures of the origin-touching commands. Transport
// errors pass through so the caller can tell an unreachable host from an
// unreachable repository.
func (g *Git) unavailable(err error) error {
	if ce, ok := remote.AsCommandError(err); ok {
		return &SourceUnavailableError{Repo: g.Repo, Branch: g.Branch, Stderr: ce.Stderr, Err: err}
	}
	return err
}
