package transfer

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/remote"
)

// Archive packages a local source directory into a tarball, uploads it, and
// unpacks it into the remote application directory. The directory is cleared
// before unpacking so the result matches the archive exactly.
type Archive struct {
	Logger logr.Logger
	Exec   *remote.Executor
	Site   *cmdsite.CommandSite

	// Source is the local directory to package. Materialize go-getter URLs
	// with pkg/fetch before handing them here.
	Source string
	// Dir is the remote application directory.
	Dir string
	// Staging is where the uploaded archive lands on the target.
	Staging string

	// TempDir returns a fresh local scratch directory. Overridden in tests.
	TempDir func() (string, error)

	fs vfs.FS
}

func NewArchive(exec *remote.Executor, source, dir string) *Archive {
	return &Archive{
		Logger:  klogr.New(),
		Exec:    exec,
		Site:    cmdsite.New(),
		Source:  source,
		Dir:     dir,
		Staging: "/tmp/ship-bundle.tar.gz",
		TempDir: func() (string, error) {
			return ioutil.TempDir("", "ship")
		},
		fs: vfs.HostOSFS,
	}
}

func (a *Archive) SetFS(fs vfs.FS) { a.fs = fs }

func (a *Archive) Transfer(ctx context.Context) error {
	info, err := a.fs.Stat(a.Source)
	if err != nil || !info.IsDir() {
		return &SourceMissingError{Path: a.Source}
	}

	scratch, err := a.TempDir()
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			a.Logger.V(1).Info("leaving scratch dir behind", "dir", scratch, "error", err.Error())
		}
	}()

	bundle := filepath.Join(scratch, "bundle.tar.gz")

	a.Logger.V(1).Info("packaging", "source", a.Source, "bundle", bundle)
	if _, _, err := a.Site.CaptureBytes(ctx, &cmdsite.Command{
		Name: "tar",
		Args: []string{"-czf", bundle, "-C", a.Source, "."},
	}); err != nil {
		return err
	}

	if err := a.Exec.Copy(ctx, bundle, a.Staging); err != nil {
		return err
	}
	defer a.removeStaging(ctx)

	if _, err := a.Exec.Execute(ctx, remote.Command{Args: []string{"mkdir", "-p", a.Dir}}); err != nil {
		return err
	}

	if _, err := a.Exec.Execute(ctx, remote.Command{Args: []string{"find", a.Dir, "-mindepth", "1", "-delete"}}); err != nil {
		return err
	}

	if _, err := a.Exec.Execute(ctx, remote.Command{Args: []string{"tar", "-xzf", a.Staging, "-C", a.Dir}}); err != nil {
		return err
	}

	return nil
}

// removeStaging is best-effort. A leftover archive under /tmp must never fail
// a deployment that otherwise worked, and on failure paths the next run
// overwrites it anyway.
func (a *Archive) removeStaging(ctx context.Context) {
	if _, err := a.Exec.Execute(ctx, remote.Command{Args: []string{"rm", "-f", a.Staging}}); err != nil {
		a.Logger.V(1).Info("leaving staging archive behind", "path", a.Staging, "error", err.Error())
	}
}
