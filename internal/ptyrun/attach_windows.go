// SPDX-License-Identifier: MPL-2.0

//go:build windows

package ptyrun

import (
	"io"
	"os/exec"
)

// Supported reports whether Attach allocates a real pseudo-terminal.
const Supported = false

// Attach runs cmd with plain pipes; Windows consoles are not pseudo-terminals.
// Resizes are drained and ignored.
func Attach(cmd *exec.Cmd, in io.Reader, out io.Writer, _ Size, resize <-chan Size) (int, error) {
	stop := followResize(resize, func(Size) {})
	defer stop()

	cmd.Stdin, cmd.Stdout, cmd.Stderr = in, out, out
	return exitStatus(cmd.Run())
}
