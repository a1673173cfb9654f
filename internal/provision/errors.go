// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

var (
	// ErrPackageManager is wrapped by PackageManagerError.
	ErrPackageManager = errors.New("package manager failed")
	// ErrUserCreation is wrapped by UserCreationError.
	ErrUserCreation = errors.New("user creation failed")
	// ErrFileCopy is wrapped by FileCopyError.
	ErrFileCopy = errors.New("file copy failed")
	// ErrInvalidConfiguration is wrapped by InvalidConfigurationError.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

const (
	// OpRefresh is the package index refresh.
	OpRefresh PackageOperation = "refresh"
	// OpInstall is the package install.
	OpInstall PackageOperation = "install"
	// OpReinstall is the reinstall of installed packages.
	OpReinstall PackageOperation = "reinstall"

	// useraddExitUserExists is useradd's exit status for an existing username.
	useraddExitUserExists = 9
)

type (
	// PackageOperation names the package manager call that failed.
	PackageOperation string

	// PackageManagerError reports a failed refresh, install or reinstall.
	PackageManagerError struct {
		Operation PackageOperation
		Manager   string
		ExitCode  int
		Stderr    string
		Err       error
	}

	// UserCreationError reports that the account could not be created or
	// its password could not be set.
	UserCreationError struct {
		Username imagedef.Username
		Reason   string
		ExitCode int
		Err      error
	}

	// FileCopyError reports a copy whose source is missing or escapes the
	// build context, or whose transfer into the image failed.
	FileCopyError struct {
		Source      imagedef.SourcePath
		Destination imagedef.ContainerPath
		Err         error
	}

	// InvalidConfigurationError reports a definition or build setting that was
	// rejected before any step ran.
	InvalidConfigurationError struct {
		Err error
	}

	// RunFailedError reports the RUN instruction at which an engine build of
	// a rendered Dockerfile stopped. Run is the 1-based position of the
	// command among those the target received.
	RunFailedError struct {
		Run      int
		ExitCode int
		Output   string
		Err      error
	}

	// StepError identifies the step during which assembly failed.
	StepError struct {
		Index int
		Kind  imagedef.StepKind
		Err   error
	}
)

func (e *PackageManagerError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Manager, e.Operation)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrPackageManager and the underlying error.
func (e *PackageManagerError) Unwrap() []error { return nonNil(ErrPackageManager, e.Err) }

func (e *UserCreationError) Error() string {
	msg := fmt.Sprintf("create user %q: %s", e.Username, e.Reason)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	return msg
}

// Unwrap returns ErrUserCreation and the underlying error.
func (e *UserCreationError) Unwrap() []error { return nonNil(ErrUserCreation, e.Err) }

func (e *FileCopyError) Error() string {
	return fmt.Sprintf("copy %s to %s: %v", e.Source, e.Destination, e.Err)
}

// Unwrap returns ErrFileCopy and the underlying error.
func (e *FileCopyError) Unwrap() []error { return nonNil(ErrFileCopy, e.Err) }

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidConfiguration, e.Err)
}

// Unwrap returns ErrInvalidConfiguration and the underlying error.
func (e *InvalidConfigurationError) Unwrap() []error { return nonNil(ErrInvalidConfiguration, e.Err) }

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("RUN instruction %d failed with exit code %d: %v", e.Run, e.ExitCode, e.Err)
}

func (e *RunFailedError) Unwrap() error { return e.Err }

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// invalidConfig wraps err unless it already is an InvalidConfigurationError.
func invalidConfig(err error) error {
	if err == nil {
		return nil
	}
	var ice *InvalidConfigurationError
	if errors.As(err, &ice) {
		return err
	}
	return &InvalidConfigurationError{Err: err}
}

func nonNil(errs ...error) []error {
	out := errs[:0:0]
	for _, err := range errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}
