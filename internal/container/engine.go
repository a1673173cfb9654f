// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

const (
	// EngineTypePodman selects the Podman CLI.
	EngineTypePodman EngineType = "podman"
	// EngineTypeDocker selects the Docker CLI.
	EngineTypeDocker EngineType = "docker"
)

var (
	// ErrEngineNotAvailable is wrapped by EngineNotAvailableError.
	ErrEngineNotAvailable = errors.New("container engine not available")

	// ErrInvalidEngineType is returned for engine names other than docker or podman.
	ErrInvalidEngineType = errors.New("invalid container engine type")

	// ErrInvalidBuildOptions is returned by BuildOptions.Validate.
	ErrInvalidBuildOptions = errors.New("invalid build options")

	// ErrInvalidRunOptions is returned by RunOptions.Validate.
	ErrInvalidRunOptions = errors.New("invalid run options")
)

type (
	// Engine is a container engine driven through its CLI.
	Engine interface {
		// Name returns the engine name (docker or podman).
		Name() string
		// Available reports whether the engine binary exists and its daemon responds.
		Available() bool
		// Version returns the engine version.
		Version(ctx context.Context) (string, error)
		// BinaryPath returns the resolved engine binary.
		BinaryPath() string

		// Build builds an image from a Dockerfile and build context.
		Build(ctx context.Context, opts BuildOptions) error
		// Run starts a container. Detached runs return the new container ID.
		Run(ctx context.Context, opts RunOptions) (*RunResult, error)
		// Exec runs a command in a running container. A non-zero exit is
		// reported in RunResult.ExitCode, not as an error.
		Exec(ctx context.Context, id ContainerID, command []string, opts ExecOptions) (*RunResult, error)
		// CopyTo copies a host file or directory into a container.
		CopyTo(ctx context.Context, id ContainerID, src, dst string) error
		// Commit creates an image from a container and returns its ID.
		Commit(ctx context.Context, id ContainerID, opts CommitOptions) (string, error)
		// Tag adds a reference to an existing image.
		Tag(ctx context.Context, source, target string) error
		// Remove removes a container.
		Remove(ctx context.Context, id ContainerID, force bool) error
		// ImageExists reports whether an image is present locally.
		ImageExists(ctx context.Context, image string) (bool, error)
		// RemoveImage removes an image.
		RemoveImage(ctx context.Context, image string, force bool) error

		// BuildRunArgs returns the run arguments without executing them, for
		// callers attaching the engine process to a PTY.
		BuildRunArgs(opts RunOptions) []string
		// CustomizeCmd applies engine-level overrides to commands created
		// outside the engine.
		CustomizeCmd(cmd *exec.Cmd)
	}

	// EngineType identifies a container engine.
	EngineType string

	// ContainerID is a container ID or name.
	ContainerID string

	// BuildSecret is a BuildKit secret mounted during RUN instructions.
	BuildSecret struct {
		ID     string
		Source string
	}

	// BuildOptions configures an image build.
	BuildOptions struct {
		// ContextDir is the build context directory.
		ContextDir string
		// Dockerfile is the Dockerfile path, relative to ContextDir unless absolute.
		Dockerfile string
		// Tags are the references given to the built image.
		Tags []string
		// BuildArgs are build-time variables. Never put credentials here.
		BuildArgs map[string]string
		// Labels are written to the image config.
		Labels map[string]string
		// Secrets are exposed to RUN --mount=type=secret instructions.
		Secrets []BuildSecret
		NoCache bool
		Pull    bool
		Stdout  io.Writer
		Stderr  io.Writer
	}

	// RunOptions configures a container run.
	RunOptions struct {
		Image   string
		Command []string
		Name    string
		WorkDir string
		User    string
		Env     map[string]string
		// Remove deletes the container when it exits.
		Remove bool
		// Detach starts the container in the background; RunResult.ContainerID is set.
		Detach      bool
		Interactive bool
		TTY         bool
		Hostname    string
		Labels      map[string]string
		Stdin       io.Reader
		Stdout      io.Writer
		Stderr      io.Writer
	}

	// ExecOptions configures a command run in an existing container.
	ExecOptions struct {
		User        string
		WorkDir     string
		Env         map[string]string
		Interactive bool
		TTY         bool
		Stdin       io.Reader
		Stdout      io.Writer
		Stderr      io.Writer
	}

	// CommitOptions configures a container commit.
	CommitOptions struct {
		// Changes are Dockerfile instructions applied to the image config
		// (ENV, WORKDIR, USER, CMD, LABEL).
		Changes []string
		Message string
		Author  string
	}

	// RunResult is the outcome of Run or Exec.
	RunResult struct {
		ContainerID ContainerID
		ExitCode    int
		// Error is set for failures where the command could not run at all.
		Error error
	}

	// EngineNotAvailableError reports that no usable engine was found.
	EngineNotAvailableError struct {
		Engine string
		Reason string
	}
)

// String returns the engine type name.
func (t EngineType) String() string { return string(t) }

// Validate returns ErrInvalidEngineType unless t is docker or podman.
func (t EngineType) Validate() error {
	switch t {
	case EngineTypeDocker, EngineTypePodman:
		return nil
	}
	return fmt.Errorf("%w %q (valid: docker, podman)", ErrInvalidEngineType, t)
}

// String returns the container ID.
func (id ContainerID) String() string { return string(id) }

// Short returns the first 12 characters of a hex container ID.
func (id ContainerID) Short() string {
	s := string(id)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Validate checks that the build has a context and at least one tag.
func (o BuildOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(o.ContextDir) == "" {
		errs = append(errs, errors.New("context directory is required"))
	}
	if len(o.Tags) == 0 {
		errs = append(errs, errors.New("at least one tag is required"))
	}
	for _, s := range o.Secrets {
		if s.ID == "" || s.Source == "" {
			errs = append(errs, fmt.Errorf("secret %q needs both id and source", s.ID))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidBuildOptions, errors.Join(errs...))
	}
	return nil
}

// Validate checks that an image is set and that detached runs are not interactive.
func (o RunOptions) Validate() error {
	var errs []error
	if strings.TrimSpace(o.Image) == "" {
		errs = append(errs, errors.New("image is required"))
	}
	if o.Detach && (o.Interactive || o.TTY) {
		errs = append(errs, errors.New("detached containers cannot be interactive"))
	}
	if o.Detach && o.Remove {
		errs = append(errs, errors.New("detached containers are removed explicitly"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRunOptions, errors.Join(errs...))
	}
	return nil
}

// Error implements the error interface.
func (e *EngineNotAvailableError) Error() string {
	return fmt.Sprintf("container engine '%s' is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrEngineNotAvailable for errors.Is() compatibility.
func (e *EngineNotAvailableError) Unwrap() error { return ErrEngineNotAvailable }

// NewEngine returns the preferred engine, falling back to the other one when
// the preferred engine is unavailable.
func NewEngine(preferred EngineType, opts ...BaseCLIEngineOption) (Engine, error) {
	if err := preferred.Validate(); err != nil {
		return nil, err
	}

	candidates := []func() Engine{
		func() Engine { return NewDockerEngine(opts...) },
		func() Engine { return NewPodmanEngine(opts...) },
	}
	other := EngineTypePodman
	if preferred == EngineTypePodman {
		candidates[0], candidates[1] = candidates[1], candidates[0]
		other = EngineTypeDocker
	}

	for _, mk := range candidates {
		if e := mk(); e.Available() {
			return e, nil
		} else if c, ok := e.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return nil, &EngineNotAvailableError{
		Engine: string(preferred),
		Reason: fmt.Sprintf("%s is not installed or not accessible, and %s fallback is also not available", preferred, other),
	}
}

// AutoDetectEngine returns the first available engine, trying Docker first.
func AutoDetectEngine(opts ...BaseCLIEngineOption) (Engine, error) {
	e, err := NewEngine(EngineTypeDocker, opts...)
	if err != nil {
		return nil, &EngineNotAvailableError{
			Engine: "any",
			Reason: "no container engine (docker or podman) is available on this system",
		}
	}
	return e, nil
}
