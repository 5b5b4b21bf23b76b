package sysunit

import (
	"context"
	"strings"

	"github.com/go-logr/logr"
	"github.com/kylelemons/godebug/diff"
	"k8s.io/klog/klogr"

	"github.com/variantdev/ship/pkg/remote"
)

// Writer installs rendered unit files on the target. Installation always
// overwrites the whole file; there is no merging with what is already there.
type Writer struct {
	Logger logr.Logger
	Exec   *remote.Executor
}

func NewWriter(exec *remote.Executor) *Writer {
	return &Writer{Logger: klogr.New(), Exec: exec}
}

func (w *Writer) Install(ctx context.Context, d *Descriptor) error {
	text, err := d.Render()
	if err != nil {
		return err
	}

	if prior := w.current(ctx, d); prior != "" && prior != text {
		w.Logger.V(1).Info("updating unit", "path", d.Path(), "diff", diff.Diff(prior, text))
	}

	_, err = w.Exec.Execute(ctx, remote.Command{
		Args:       []string{"tee", d.Path()},
		Privileged: true,
		Stdin:      strings.NewReader(text),
	})
	if err != nil {
		return err
	}

	return nil
}

// current reads the installed unit, if any. Best effort: a missing file or a
// failed read only suppresses the diff log.
func (w *Writer) current(ctx context.Context, d *Descriptor) string {
	res, err := w.Exec.Execute(ctx, remote.Command{Args: []string{"cat", d.Path()}})
	if err != nil {
		return ""
	}
	return res.Stdout
}

// EnsureLogDir creates the application log directory and hands it to the
// service group.
func (w *Writer) EnsureLogDir(ctx context.Context, d *Descriptor) error {
	cmds := [][]string{
		{"mkdir", "-p", d.LogDir()},
		{"chgrp", d.Group, d.LogDir()},
		{"chmod", "775", d.LogDir()},
	}

	for _, args := range cmds {
		if _, err := w.Exec.Execute(ctx, remote.Command{Args: args, Privileged: true}); err != nil {
			return err
		}
	}

	return nil
}
