// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// ContainerEngineDocker uses the Docker CLI.
	ContainerEngineDocker ContainerEngine = "docker"
	// ContainerEnginePodman uses the Podman CLI.
	ContainerEnginePodman ContainerEngine = "podman"

	// BackendContainer builds by committing a working container.
	BackendContainer BuildBackend = "container"
	// BackendDockerfile builds by rendering a Dockerfile.
	BackendDockerfile BuildBackend = "dockerfile"

	// DefaultServePort is the port `imagesmith serve` listens on.
	DefaultServePort = 2222
)

var (
	// ErrInvalidContainerEngine is returned for engines other than docker or podman.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidPackageManager is returned for unknown package managers.
	ErrInvalidPackageManager = errors.New("invalid package manager")
	// ErrInvalidBuildBackend is returned for unknown build backends.
	ErrInvalidBuildBackend = errors.New("invalid build backend")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	packageManagers = []PackageManager{"apt", "dnf", "yum"}
)

type (
	// ContainerEngine selects the container CLI.
	ContainerEngine string

	// PackageManager selects the package manager used inside images.
	PackageManager string

	// BuildBackend selects how images are built.
	BuildBackend string

	// Config is the full imagesmith configuration.
	Config struct {
		ContainerEngine ContainerEngine `json:"container_engine" mapstructure:"container_engine"`
		PackageManager  PackageManager  `json:"package_manager" mapstructure:"package_manager"`
		Build           BuildConfig     `json:"build" mapstructure:"build"`
		Serve           ServeConfig     `json:"serve" mapstructure:"serve"`
		UI              UIConfig        `json:"ui" mapstructure:"ui"`
	}

	// BuildConfig configures `imagesmith build`.
	BuildConfig struct {
		Backend BuildBackend `json:"backend" mapstructure:"backend"`
		// Context is the default build context directory.
		Context string `json:"context" mapstructure:"context"`
		// CacheDir holds staged Dockerfile build contexts. Empty means
		// ~/imagesmith-build.
		CacheDir     string `json:"cache_dir" mapstructure:"cache_dir"`
		Cache        bool   `json:"cache" mapstructure:"cache"`
		ForceRebuild bool   `json:"force_rebuild" mapstructure:"force_rebuild"`
		// Retries bounds attempts at starting the working container.
		Retries int `json:"retries" mapstructure:"retries"`
	}

	// ServeConfig configures `imagesmith serve`.
	ServeConfig struct {
		Host string `json:"host" mapstructure:"host"`
		Port int    `json:"port" mapstructure:"port"`
		// HostKeyPath is the SSH host key. Empty means a key under the config directory.
		HostKeyPath string `json:"host_key_path" mapstructure:"host_key_path"`
	}

	// UIConfig configures terminal output.
	UIConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// InvalidConfigError lists every invalid field of a Config.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineDocker,
		PackageManager:  "apt",
		Build: BuildConfig{
			Backend: BackendContainer,
			Context: ".",
			Cache:   true,
			Retries: 3,
		},
		Serve: ServeConfig{
			Host: "localhost",
			Port: DefaultServePort,
		},
	}
}

// Validate returns an error unless e is docker or podman.
func (e ContainerEngine) Validate() error {
	switch e {
	case ContainerEngineDocker, ContainerEnginePodman:
		return nil
	}
	return fmt.Errorf("%w %q (valid: docker, podman)", ErrInvalidContainerEngine, e)
}

// Validate returns an error unless m is a supported package manager.
func (m PackageManager) Validate() error {
	if slices.Contains(packageManagers, m) {
		return nil
	}
	return fmt.Errorf("%w %q (valid: apt, dnf, yum)", ErrInvalidPackageManager, m)
}

// Validate returns an error unless b is container or dockerfile.
func (b BuildBackend) Validate() error {
	switch b {
	case BackendContainer, BackendDockerfile:
		return nil
	}
	return fmt.Errorf("%w %q (valid: container, dockerfile)", ErrInvalidBuildBackend, b)
}

// Validate checks every field and reports all problems together.
func (c *Config) Validate() error {
	var errs []error
	for _, err := range []error{
		c.ContainerEngine.Validate(),
		c.PackageManager.Validate(),
		c.Build.Backend.Validate(),
	} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(c.Build.Context) == "" {
		errs = append(errs, errors.New("build.context must not be empty"))
	}
	if c.Build.Retries < 1 {
		errs = append(errs, fmt.Errorf("build.retries must be at least 1, got %d", c.Build.Retries))
	}
	if c.Serve.Port < 1 || c.Serve.Port > 65535 {
		errs = append(errs, fmt.Errorf("serve.port %d is out of range", c.Serve.Port))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// ServeAddress returns host:port for the session server.
func (c *Config) ServeAddress() string {
	return fmt.Sprintf("%s:%d", c.Serve.Host, c.Serve.Port)
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s): %v", len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig and the field errors.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}
