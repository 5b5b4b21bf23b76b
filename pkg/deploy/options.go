package deploy

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"

	"github.com/variantdev/ship/pkg/cmdsite"
	"github.com/variantdev/ship/pkg/httpget"
)

type Option interface {
	SetOption(*Sequencer) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(s *Sequencer) error {
	s.Logger = o.l
	return nil
}

// Commander swaps the command runner backing every local and remote
// invocation. Tests install recording fakes here.
func Commander(site *cmdsite.CommandSite) Option {
	return &commanderOption{s: site}
}

type commanderOption struct {
	s *cmdsite.CommandSite
}

func (o *commanderOption) SetOption(s *Sequencer) error {
	s.site = o.s
	return nil
}

// Environ injects the caller's environment for the manifest's env.prefix and
// env.allow filters. Nothing reads process-wide state implicitly; without
// this option those filters see an empty environment.
func Environ(environ []string) Option {
	return &environOption{e: environ}
}

type environOption struct {
	e []string
}

func (o *environOption) SetOption(s *Sequencer) error {
	s.environ = o.e
	return nil
}

func FS(fs vfs.FS) Option {
	return &fsOption{f: fs}
}

type fsOption struct {
	f vfs.FS
}

func (o *fsOption) SetOption(s *Sequencer) error {
	s.fs = o.f
	return nil
}

// HistoryPath enables recording successful deployments to a lock file,
// usually ship.lock next to the manifest.
func HistoryPath(path string) Option {
	return &historyPathOption{p: path}
}

type historyPathOption struct {
	p string
}

func (o *historyPathOption) SetOption(s *Sequencer) error {
	s.historyPath = o.p
	return nil
}

func Notify(n Notifier) Option {
	return &notifyOption{n: n}
}

type notifyOption struct {
	n Notifier
}

func (o *notifyOption) SetOption(s *Sequencer) error {
	s.Notifier = o.n
	return nil
}

func Observe(obs Observer) Option {
	return &observeOption{o: obs}
}

type observeOption struct {
	o Observer
}

func (o *observeOption) SetOption(s *Sequencer) error {
	s.Observer = o.o
	return nil
}

func HTTP(getter httpget.Getter) Option {
	return &httpOption{g: getter}
}

type httpOption struct {
	g httpget.Getter
}

func (o *httpOption) SetOption(s *Sequencer) error {
	s.http = o.g
	return nil
}

// Sleep replaces the waits between service restart and health probes.
// Tests pass a no-op.
func Sleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return &sleepOption{s: sleep}
}

type sleepOption struct {
	s func(ctx context.Context, d time.Duration) error
}

func (o *sleepOption) SetOption(s *Sequencer) error {
	s.sleep = o.s
	return nil
}

func Owner(owner string) Option {
	return &ownerOption{o: owner}
}

type ownerOption struct {
	o string
}

func (o *ownerOption) SetOption(s *Sequencer) error {
	s.Owner = o.o
	return nil
}

func Clock(clock func() time.Time) Option {
	return &clockOption{c: clock}
}

type clockOption struct {
	c func() time.Time
}

func (o *clockOption) SetOption(s *Sequencer) error {
	s.Clock = o.c
	return nil
}
