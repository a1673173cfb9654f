// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package ptyrun

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// watchResize reports the size of the terminal on fd whenever SIGWINCH arrives.
func watchResize(fd int) (<-chan Size, func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)

	out := make(chan Size, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-sig:
				w, h, err := term.GetSize(fd)
				if err != nil {
					continue
				}
				select {
				case out <- Size{Width: w, Height: h}:
				default:
				}
			}
		}
	}()

	return out, func() {
		signal.Stop(sig)
		close(done)
	}
}
