package history

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/klogr"
)

// Revision is one successful deployment. Revisions are append-only; targets
// point at the revision currently live on each service.
type Revision struct {
	ID          int       `yaml:"id"`
	App         string    `yaml:"app"`
	Environment string    `yaml:"environment"`
	Source      string    `yaml:"source"`
	Ref         string    `yaml:"ref,omitempty"`
	Time        time.Time `yaml:"time"`
}

type TargetState struct {
	Name     string `yaml:"name"`
	Revision int    `yaml:"revision"`
}

type State struct {
	Revisions []Revision    `yaml:"revisions"`
	Targets   []TargetState `yaml:"targets"`
}

func Parse(doc string) (*State, error) {
	var state State

	if err := yaml.Unmarshal([]byte(doc), &state); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}

	return &state, nil
}

func (s *State) GetRevisions() ([]Revision, error) {
	return s.Revisions, nil
}

func (s *State) GetCurrentRevision() (*Revision, error) {
	revs, err := s.GetRevisions()
	if err != nil {
		return nil, fmt.Errorf("getting latest deployment revision: %w", err)
	}

	if len(revs) == 0 {
		return nil, fmt.Errorf("getting latest deployment revision: not found")
	}

	return &revs[len(revs)-1], nil
}

// GetTarget resolves the revision a target currently points at.
func (s *State) GetTarget(name string) (*Revision, error) {
	for _, t := range s.Targets {
		if t.Name != name {
			continue
		}

		for i := range s.Revisions {
			if s.Revisions[i].ID == t.Revision {
				return &s.Revisions[i], nil
			}
		}

		return nil, fmt.Errorf("getting target %q: dangling revision %d", name, t.Revision)
	}

	return nil, fmt.Errorf("getting target %q: not found", name)
}

// Add appends rev with the next ID and points the target named
// app-environment at it.
func (s *State) Add(rev Revision) *Revision {
	rev.ID = 1

	if current, err := s.GetCurrentRevision(); err == nil {
		rev.ID = current.ID + 1
	}

	s.Revisions = append(s.Revisions, rev)

	s.updateTarget(rev.App+"-"+rev.Environment, rev.ID)

	return &s.Revisions[len(s.Revisions)-1]
}

func (s *State) updateTarget(name string, revision int) {
	for i := range s.Targets {
		if s.Targets[i].Name == name {
			s.Targets[i].Revision = revision
			return
		}
	}

	s.Targets = append(s.Targets, TargetState{Name: name, Revision: revision})
}

func (s *State) Marshal() (string, error) {
	var buf bytes.Buffer

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)

	if err := enc.Encode(s); err != nil {
		return "", fmt.Errorf("encoding state: %w", err)
	}

	got := buf.String()

	return got, nil
}

// Store persists deployment revisions to a lock file, usually ship.lock next
// to the manifest.
type Store struct {
	Logger logr.Logger

	Path string

	fs vfs.FS
}

type Option interface {
	SetOption(*Store) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(s *Store) error {
	s.Logger = o.l
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(s *Store) error {
	s.fs = o.f
	return nil
}

func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		Path: path,
	}

	for _, o := range opts {
		if err := o.SetOption(s); err != nil {
			return nil, err
		}
	}

	if s.Logger == nil {
		s.Logger = klogr.New()
	}

	if s.fs == nil {
		s.fs = vfs.HostOSFS
	}

	return s, nil
}

// Load reads the lock file. A missing file is an empty history, not an
// error, so first deployments need no setup.
func (s *Store) Load() (*State, error) {
	bytes, err := s.fs.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}

	return Parse(string(bytes))
}

// Record appends rev to the lock file, assigning the next revision ID and
// re-pointing the target.
func (s *Store) Record(rev Revision) (*Revision, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}

	added := state.Add(rev)

	doc, err := state.Marshal()
	if err != nil {
		return nil, err
	}

	if err := s.fs.WriteFile(s.Path, []byte(doc), 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", s.Path, err)
	}

	s.Logger.V(1).Info("recorded deployment", "path", s.Path, "id", added.ID)

	return added, nil
}
