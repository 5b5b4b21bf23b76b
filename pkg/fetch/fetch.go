package fetch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-getter"
	"github.com/hashicorp/go-getter/helper/url"
	"github.com/twpayne/go-vfs"
	"k8s.io/klog/klogr"
)

// Resolver materializes a deployment source on the local filesystem. A plain
// path comes back unchanged; a go-getter URL is fetched once into a per-URL
// cache directory under Home and the cached copy is reused afterwards.
type Resolver struct {
	Logger logr.Logger

	// Home is where fetched sources are cached, usually ~/.ship/cache.
	Home string

	// GoGetterHome is the working directory used by go-getter for downloads.
	// This differs from Home only when testing with go-vfs/vfst.
	GoGetterHome string

	// Getter is the underlying implementation used for fetching remote files
	Getter Getter

	DirExists  func(string) bool
	FileExists func(string) bool

	fs vfs.FS
}

type Option interface {
	SetOption(*Resolver) error
}

func Home(dir string) Option {
	return &homeOption{d: dir}
}

type homeOption struct {
	d string
}

func (s *homeOption) SetOption(r *Resolver) error {
	r.Home = s.d
	return nil
}

func GoGetterHome(dir string) Option {
	return &goGetterHomeOption{d: dir}
}

type goGetterHomeOption struct {
	d string
}

func (s *goGetterHomeOption) SetOption(r *Resolver) error {
	r.GoGetterHome = s.d
	return nil
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (s *loggerOption) SetOption(r *Resolver) error {
	r.Logger = s.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (s *fsOption) SetOption(r *Resolver) error {
	r.fs = s.f
	return nil
}

func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{}

	for _, o := range opts {
		if err := o.SetOption(r); err != nil {
			return nil, err
		}
	}

	if r.GoGetterHome == "" {
		r.GoGetterHome = r.Home
	}

	if r.Logger == nil {
		r.Logger = klogr.New()
	}

	if r.fs == nil {
		r.fs = vfs.HostOSFS
	}

	if r.FileExists == nil {
		r.FileExists = func(path string) bool {
			s, err := r.fs.Stat(path)
			return err == nil && s != nil && !s.IsDir()
		}
	}

	if r.DirExists == nil {
		r.DirExists = func(path string) bool {
			s, err := r.fs.Stat(path)
			return err == nil && s != nil && s.IsDir()
		}
	}

	if r.Getter == nil {
		r.Getter = &GoGetter{Logger: r.Logger}
	}

	return r, nil
}

type InvalidURLError struct {
	err string
}

func (e InvalidURLError) Error() string {
	return e.err
}

type Source struct {
	Getter, Scheme, User, Host, Dir, RawQuery string
}

func IsRemote(goGetterSrc string) bool {
	if _, err := Parse(goGetterSrc); err != nil {
		return false
	}
	return true
}

func Parse(goGetterSrc string) (*Source, error) {
	items := strings.Split(goGetterSrc, "::")
	var forcedGetter string
	switch len(items) {
	case 2:
		forcedGetter = items[0]
		goGetterSrc = items[1]
	}

	u, err := url.Parse(goGetterSrc)
	if err != nil {
		return nil, InvalidURLError{err: fmt.Sprintf("parse url: %v", err)}
	}

	if u.Scheme == "" {
		return nil, InvalidURLError{err: fmt.Sprintf("parse url: missing scheme - probably this is a local file path? %s", goGetterSrc)}
	}

	return &Source{
		Getter:   forcedGetter,
		Scheme:   u.Scheme,
		User:     u.User.String(),
		Host:     u.Host,
		Dir:      u.Path,
		RawQuery: u.RawQuery,
	}, nil
}

// ResolveDir takes an URL to a remote directory or a path to a local
// directory. If the argument was an URL, it fetches the remote directory and
// returns the path to the fetched copy.
func (r *Resolver) ResolveDir(urlOrPath string) (string, error) {
	fetched, err := r.fetchSource(urlOrPath)
	if err != nil {
		switch err.(type) {
		case InvalidURLError:
			return urlOrPath, nil
		}
		return "", err
	}
	return fetched, nil
}

func (r *Resolver) fetchSource(goGetterSrc string) (string, error) {
	u, err := Parse(goGetterSrc)
	if err != nil {
		return "", err
	}

	query := u.RawQuery

	var getterSrc string

	if u.User == "" {
		getterSrc = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Dir)
	} else {
		getterSrc = fmt.Sprintf("%s://%s@%s%s", u.Scheme, u.User, u.Host, u.Dir)
	}

	if len(query) != 0 {
		getterSrc = strings.Join([]string{getterSrc, query}, "?")
	}

	r.Logger.V(1).Info("fetching", "getter", u.Getter, "scheme", u.Scheme, "host", u.Host, "dir", u.Dir)

	replacer := strings.NewReplacer(":", "", "//", "_", "/", "_", ".", "_", "&", "_", "?", ".")
	getterDstDir := replacer.Replace(getterSrc)

	cached := false

	vfsLocalCopyDir := filepath.Join(r.Home, getterDstDir)

	r.Logger.V(1).Info("fetching", "home", r.Home, "dst", getterDstDir, "cache-dir", vfsLocalCopyDir)

	{
		if r.FileExists(vfsLocalCopyDir) {
			return "", fmt.Errorf("%s is not directory. please remove it so that ship could use it for source caching", getterDstDir)
		}

		if r.DirExists(vfsLocalCopyDir) {
			cached = true
		}
	}

	if !cached {
		if u.Getter != "" {
			getterSrc = u.Getter + "::" + getterSrc
		}

		r.Logger.V(1).Info("downloading", "src", getterSrc, "dir", r.Home, "dst", getterDstDir)

		// go-getter silently fails when the destination directory already exists.
		// So we create directories down to the parent directory of the target.
		if err := vfs.MkdirAll(r.fs, filepath.Dir(vfsLocalCopyDir), 0755); err != nil {
			return "", err
		}

		if err := r.Getter.Get(r.GoGetterHome, getterSrc, getterDstDir); err != nil {
			if err2 := r.fs.RemoveAll(vfsLocalCopyDir); err2 != nil {
				return "", err2
			}
			return "", err
		}
	}

	return vfsLocalCopyDir, nil
}

type Getter interface {
	Get(wd, src, dst string) error
}

type GoGetter struct {
	Logger logr.Logger
}

func (g *GoGetter) Get(wd, src, dst string) error {
	ctx := context.Background()

	get := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     filepath.Join(wd, dst),
		Pwd:     wd,
		Mode:    getter.ClientModeDir,
		Options: []getter.ClientOption{},
	}

	g.Logger.V(1).Info("get", "wd", wd, "src", src, "dst", dst)

	if err := get.Get(); err != nil {
		return fmt.Errorf("get: %v", err)
	}

	return nil
}
