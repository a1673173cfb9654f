// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package ptyrun

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"

	"github.com/creack/pty"
)

// Supported reports whether Attach allocates a real pseudo-terminal.
const Supported = true

// Attach starts cmd on a new pseudo-terminal of the given size, copies in to
// the terminal and the terminal to out, applies resizes, and waits for cmd.
// It returns the child's exit code.
func Attach(cmd *exec.Cmd, in io.Reader, out io.Writer, size Size, resize <-chan Size) (int, error) {
	var ws *pty.Winsize
	if !size.IsZero() {
		ws = winsize(size)
	}
	f, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return -1, fmt.Errorf("failed to start %s on a pseudo-terminal: %w", filepath.Base(cmd.Path), err)
	}
	defer func() { _ = f.Close() }()

	stop := followResize(resize, func(s Size) { _ = pty.Setsize(f, winsize(s)) })
	defer stop()

	go func() { _, _ = io.Copy(f, in) }()
	// Reading the master fails with EIO once the child side is closed.
	_, _ = io.Copy(out, f)

	return exitStatus(cmd.Wait())
}

func winsize(s Size) *pty.Winsize {
	return &pty.Winsize{Cols: uint16(s.Width), Rows: uint16(s.Height)} //nolint:gosec // terminal sizes fit
}
