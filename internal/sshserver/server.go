// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"

	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/internal/core/serverbase"
)

type (
	// Token is an access token accepted as an SSH password.
	Token struct {
		Value     TokenValue
		Label     string
		CreatedAt time.Time
		ExpiresAt time.Time
	}

	// Server serves sessions in containers of one image.
	// A Server is single-use: once stopped or failed, create a new instance.
	Server struct {
		*serverbase.Base

		cfg    Config
		engine container.Engine
		logger *log.Logger
		clock  func() time.Time

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		addr     string

		tokenMu sync.RWMutex
		tokens  map[TokenValue]*Token

		sessions atomic.Int64
	}

	// Option configures a Server.
	Option func(*Server)
)

// WithLogger replaces the default "ssh-server" logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock sets the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.clock = now }
}

// New validates cfg and returns a server that runs sessions through engine.
// The server is not started; call Start to accept connections.
func New(cfg Config, engine container.Engine, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		Base:   serverbase.NewBase(),
		cfg:    cfg,
		engine: engine,
		logger: log.NewWithOptions(os.Stderr, log.Options{Prefix: "ssh-server"}),
		clock:  time.Now,
		tokens: make(map[TokenValue]*Token),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Image returns the image served to sessions.
func (s *Server) Image() string { return s.cfg.Image }

// Host returns the configured bind host.
func (s *Server) Host() HostAddress { return s.cfg.Host }

// ActiveSessions returns the number of sessions currently attached to a container.
func (s *Server) ActiveSessions() int { return int(s.sessions.Load()) }

// Address returns the bound host:port. It blocks until the server has started
// and returns "" when it never does.
func (s *Server) Address() string {
	select {
	case <-s.StartedChannel():
	default:
		ctx := s.Context()
		if ctx == nil {
			return ""
		}
		select {
		case <-s.StartedChannel():
		case <-ctx.Done():
			return ""
		}
	}
	s.srvMu.Lock()
	defer s.srvMu.Unlock()
	return s.addr
}

// Port returns the bound port, or 0 when the server is not running.
func (s *Server) Port() ListenPort {
	_, portStr, err := net.SplitHostPort(s.Address())
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return ListenPort(port)
}
