// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultHost is the bind address used when Config.Host is empty.
	DefaultHost HostAddress = "127.0.0.1"

	defaultTokenTTL        = 12 * time.Hour
	defaultShutdownTimeout = 10 * time.Second
	defaultStartupTimeout  = 5 * time.Second
)

var (
	// ErrInvalidHostAddress is the sentinel error wrapped by InvalidHostAddressError.
	ErrInvalidHostAddress = errors.New("invalid host address")
	// ErrInvalidListenPort is the sentinel error wrapped by InvalidListenPortError.
	ErrInvalidListenPort = errors.New("invalid listen port")
	// ErrInvalidTokenValue is the sentinel error wrapped by InvalidTokenValueError.
	ErrInvalidTokenValue = errors.New("invalid token value")
	// ErrInvalidSSHConfig is the sentinel error wrapped by InvalidSSHConfigError.
	ErrInvalidSSHConfig = errors.New("invalid SSH server config")
)

type (
	// HostAddress is the IP or hostname the server binds to.
	HostAddress string

	// ListenPort is a TCP port. Zero selects a free port.
	ListenPort int

	// TokenValue is an access token, presented by clients as their SSH password.
	TokenValue string

	// Config is the immutable server configuration.
	Config struct {
		Host HostAddress
		Port ListenPort
		// Image is the image every session runs.
		Image string
		// HostKeyPath is the server's ed25519 host key, created when missing.
		// An empty path uses a key that lives only as long as the process.
		HostKeyPath string
		// TokenTTL bounds how long an access token is accepted.
		TokenTTL        time.Duration
		ShutdownTimeout time.Duration
		StartupTimeout  time.Duration
	}

	// InvalidHostAddressError is returned for empty host addresses.
	InvalidHostAddressError struct {
		Value HostAddress
	}

	// InvalidListenPortError is returned for ports outside 0-65535.
	InvalidListenPortError struct {
		Value ListenPort
	}

	// InvalidTokenValueError is returned for empty tokens.
	InvalidTokenValueError struct {
		Value TokenValue
	}

	// InvalidSSHConfigError collects the field errors of a Config.
	InvalidSSHConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns a configuration serving image on DefaultHost with an
// automatically selected port.
func DefaultConfig(image string) Config {
	return Config{
		Host:            DefaultHost,
		Image:           image,
		TokenTTL:        defaultTokenTTL,
		ShutdownTimeout: defaultShutdownTimeout,
		StartupTimeout:  defaultStartupTimeout,
	}
}

// withDefaults fills the zero-valued durations and host.
func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = defaultTokenTTL
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = defaultStartupTimeout
	}
	return c
}

// Validate checks the host, port and image.
func (c Config) Validate() error {
	var errs []error
	if err := c.Host.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Port.Validate(); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.Image) == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if len(errs) > 0 {
		return &InvalidSSHConfigError{FieldErrors: errs}
	}
	return nil
}

// String returns the string representation of the HostAddress.
func (h HostAddress) String() string { return string(h) }

// Validate returns an *InvalidHostAddressError for empty or blank addresses.
func (h HostAddress) Validate() error {
	if strings.TrimSpace(string(h)) == "" {
		return &InvalidHostAddressError{Value: h}
	}
	return nil
}

// Validate returns an *InvalidListenPortError for ports outside 0-65535.
func (p ListenPort) Validate() error {
	if p < 0 || p > 65535 {
		return &InvalidListenPortError{Value: p}
	}
	return nil
}

// String returns the token value.
func (t TokenValue) String() string { return string(t) }

// Validate returns an *InvalidTokenValueError for empty or blank tokens.
func (t TokenValue) Validate() error {
	if strings.TrimSpace(string(t)) == "" {
		return &InvalidTokenValueError{Value: t}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidHostAddressError) Error() string {
	return fmt.Sprintf("invalid host address %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidHostAddress for errors.Is() compatibility.
func (e *InvalidHostAddressError) Unwrap() error { return ErrInvalidHostAddress }

// Error implements the error interface.
func (e *InvalidListenPortError) Error() string {
	return fmt.Sprintf("invalid listen port %d: must be between 0 and 65535", e.Value)
}

// Unwrap returns ErrInvalidListenPort for errors.Is() compatibility.
func (e *InvalidListenPortError) Unwrap() error { return ErrInvalidListenPort }

// Error implements the error interface.
func (e *InvalidTokenValueError) Error() string {
	return "invalid token value: must be non-empty"
}

// Unwrap returns ErrInvalidTokenValue for errors.Is() compatibility.
func (e *InvalidTokenValueError) Unwrap() error { return ErrInvalidTokenValue }

// Error implements the error interface.
func (e *InvalidSSHConfigError) Error() string {
	return fmt.Sprintf("invalid SSH server config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidSSHConfig and the field errors.
func (e *InvalidSSHConfigError) Unwrap() []error {
	return append([]error{ErrInvalidSSHConfig}, e.FieldErrors...)
}
