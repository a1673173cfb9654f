// SPDX-License-Identifier: MPL-2.0

// Package ptyrun attaches interactive containers to pseudo-terminals. It backs
// both the local "imagesmith run" command and the sessions handed out by the
// SSH server.
package ptyrun

import (
	"context"
	"errors"
	"os/exec"

	"github.com/imagesmith/imagesmith/internal/container"
)

// Size is a terminal size in character cells.
type Size struct {
	Width  int
	Height int
}

// IsZero reports whether no size is known.
func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// Command returns the engine invocation for an interactive container that is
// removed on exit. tty requests a terminal from the engine and must only be
// set when the process will be started on one.
func Command(ctx context.Context, engine container.Engine, opts container.RunOptions, tty bool) *exec.Cmd {
	opts.Interactive = true
	opts.TTY = tty && Supported
	opts.Remove = true
	opts.Detach = false
	opts.Stdin, opts.Stdout, opts.Stderr = nil, nil, nil

	cmd := exec.CommandContext(ctx, engine.BinaryPath(), engine.BuildRunArgs(opts)...)
	engine.CustomizeCmd(cmd)
	return cmd
}

// followResize applies sizes received on resize until stop is called.
func followResize(resize <-chan Size, apply func(Size)) (stop func()) {
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case s, ok := <-resize:
				if !ok {
					return
				}
				if !s.IsZero() {
					apply(s)
				}
			}
		}
	}()
	return func() { close(done) }
}

// exitStatus converts a Wait error into the child's exit code. Only failures
// unrelated to the child's exit status are returned as errors.
func exitStatus(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
