// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/imagesmith/imagesmith/internal/config"
	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/internal/pkgmgr"
	"github.com/imagesmith/imagesmith/internal/provision"
	"github.com/imagesmith/imagesmith/internal/sshserver"
	"github.com/imagesmith/imagesmith/pkg/cueutil"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// Process exit codes.
const (
	ExitOK                   = 0
	ExitGeneric              = 1
	ExitInvalidConfiguration = 2
	ExitPackageManager       = 10
	ExitUserCreation         = 11
	ExitFileCopy             = 12
	ExitEngineUnavailable    = 13
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCodeFor maps a failure to the process exit code. Build step failures
// are classified by their cause; anything unrecognized is ExitGeneric.
func exitCodeFor(err error) int {
	var exitErr *ExitError
	var docErr *cueutil.DocumentError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, container.ErrEngineNotAvailable):
		return ExitEngineUnavailable
	case errors.Is(err, provision.ErrPackageManager):
		return ExitPackageManager
	case errors.Is(err, provision.ErrUserCreation):
		return ExitUserCreation
	case errors.Is(err, provision.ErrFileCopy):
		return ExitFileCopy
	case errors.Is(err, provision.ErrInvalidConfiguration),
		errors.Is(err, imagedef.ErrInvalidDefinition),
		errors.Is(err, imagedef.ErrInvalidBuildArg),
		errors.Is(err, imagedef.ErrUnknownFormat),
		errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, config.ErrInvalidBuildBackend),
		errors.Is(err, pkgmgr.ErrUnknownManager),
		errors.Is(err, sshserver.ErrInvalidSSHConfig),
		errors.Is(err, cueutil.ErrFileTooLarge),
		errors.As(err, &docErr):
		return ExitInvalidConfiguration
	default:
		return ExitGeneric
	}
}
