package remote

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/variantdev/ship/pkg/cmdsite"
)

type Option interface {
	SetOption(e *Executor) error
}

func Logger(logger logr.Logger) Option {
	return &loggerOption{l: logger}
}

type loggerOption struct {
	l logr.Logger
}

func (o *loggerOption) SetOption(e *Executor) error {
	e.Logger = o.l
	return nil
}

func Commander(site *cmdsite.CommandSite) Option {
	return &commanderOption{s: site}
}

type commanderOption struct {
	s *cmdsite.CommandSite
}

func (o *commanderOption) SetOption(e *Executor) error {
	e.Site = o.s
	return nil
}

func ConnectTimeout(d time.Duration) Option {
	return &connectTimeoutOption{d: d}
}

type connectTimeoutOption struct {
	d time.Duration
}

func (o *connectTimeoutOption) SetOption(e *Executor) error {
	e.ConnectTimeout = o.d
	return nil
}

func CommandTimeout(d time.Duration) Option {
	return &commandTimeoutOption{d: d}
}

type commandTimeoutOption struct {
	d time.Duration
}

func (o *commandTimeoutOption) SetOption(e *Executor) error {
	e.CommandTimeout = o.d
	return nil
}
