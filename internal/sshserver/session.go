// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/nrednav/cuid2"

	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/internal/ptyrun"
)

const (
	// SessionContainerPrefix prefixes the names of session containers.
	SessionContainerPrefix = "imagesmith-session-"
	// SessionLabel marks session containers with the SSH user.
	SessionLabel = "io.imagesmith.session-user"

	cleanupTimeout = 30 * time.Second
)

func (s *Server) sessionMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			s.runSession(sess)
			next(sess)
		}
	}
}

// runSession attaches the session to a new container. A command given by the
// client replaces the image's default command.
func (s *Server) runSession(sess ssh.Session) {
	ptyReq, winCh, _ := sess.Pty()
	name := SessionContainerPrefix + cuid2.Generate()
	opts := container.RunOptions{
		Image:   s.cfg.Image,
		Command: sess.Command(),
		Name:    name,
		Labels:  map[string]string{SessionLabel: sess.User()},
	}
	if ptyReq.Term != "" {
		opts.Env = map[string]string{"TERM": ptyReq.Term}
	}

	logger := s.logger.With("user", sess.User(), "remote", sess.RemoteAddr(), "container", name)
	if label, ok := sess.Context().Value(tokenLabelKey).(string); ok {
		logger = logger.With("token", label)
	}
	logger.Info("Session started")
	s.sessions.Add(1)
	defer s.sessions.Add(-1)

	cmd := ptyrun.Command(sess.Context(), s.engine, opts, true)
	size := ptyrun.Size{Width: ptyReq.Window.Width, Height: ptyReq.Window.Height}
	code, err := ptyrun.Attach(cmd, sess, sess, size, windowSizes(sess.Context(), winCh))

	if sess.Context().Err() != nil {
		// The client went away; the engine CLI was killed but the container may live on.
		s.removeContainer(name)
	}
	if err != nil {
		logger.Error("Session failed", "error", err)
		wish.Errorln(sess, fmt.Sprintf("failed to start container: %v", err))
		_ = sess.Exit(1)
		return
	}
	logger.Info("Session ended", "exit_code", code)
	_ = sess.Exit(code)
}

func (s *Server) removeContainer(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.engine.Remove(ctx, container.ContainerID(name), true); err != nil {
		s.logger.Debug("Session container cleanup failed", "container", name, "error", err)
	}
}

// windowSizes forwards window changes until the session ends.
func windowSizes(ctx context.Context, winCh <-chan ssh.Window) <-chan ptyrun.Size {
	out := make(chan ptyrun.Size, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case w, ok := <-winCh:
				if !ok {
					return
				}
				select {
				case out <- ptyrun.Size{Width: w.Width, Height: w.Height}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
