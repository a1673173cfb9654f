// SPDX-License-Identifier: MPL-2.0

package ptyrun

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/imagesmith/imagesmith/internal/container"
)

// Terminal runs an interactive container on the caller's terminal. When stdin
// is a terminal it is switched to raw mode for the duration of the run and the
// container gets a pseudo-terminal that follows the window size; otherwise
// the container's streams are plain pipes.
func Terminal(ctx context.Context, engine container.Engine, opts container.RunOptions, stdin *os.File, stdout, stderr io.Writer) (int, error) {
	fd := int(stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !Supported || !term.IsTerminal(fd) {
		cmd := Command(ctx, engine, opts, false)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
		return exitStatus(cmd.Run())
	}

	var size Size
	if w, h, err := term.GetSize(fd); err == nil {
		size = Size{Width: w, Height: h}
	}

	old, err := term.MakeRaw(fd)
	if err != nil {
		return -1, fmt.Errorf("failed to switch terminal to raw mode: %w", err)
	}
	defer func() { _ = term.Restore(fd, old) }()

	resize, stop := watchResize(fd)
	defer stop()

	return Attach(Command(ctx, engine, opts, true), stdin, stdout, size, resize)
}
