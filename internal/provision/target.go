// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"slices"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

type (
	// Backend opens build targets.
	Backend interface {
		// Name identifies the backend in logs and reports.
		Name() string
		// Open prepares a target starting from base.
		Open(ctx context.Context, base imagedef.ImageRef) (Target, error)
	}

	// Target is an image under construction. Commands run in order; a
	// Target is used by one assembly and then closed.
	Target interface {
		// Exec runs a command. A non-zero exit is reported in ExecResult;
		// the error is reserved for commands that could not be run at all.
		Exec(ctx context.Context, cmd Command) (ExecResult, error)
		// Copy transfers a resolved host path into the image.
		Copy(ctx context.Context, c CopySpec) error
		// Commit writes the image with cfg applied and gives it every tag.
		// It returns the image ID when the backend knows it.
		Commit(ctx context.Context, cfg ImageConfig, tags []string) (string, error)
		// Close releases the target. It must be safe to call after a failed
		// step and after Commit.
		Close(ctx context.Context) error
	}

	// StepMarker is implemented by targets that annotate where each step's
	// work begins.
	StepMarker interface {
		BeginStep(index int, kind imagedef.StepKind)
	}

	// Command is a single program invocation inside the image.
	Command struct {
		Argv    []string
		User    imagedef.Username
		WorkDir imagedef.ContainerPath
		Env     []imagedef.EnvVar
		// Stdin is fed to the program. It may hold credentials, so targets
		// never persist it in the image or its history.
		Stdin []byte
	}

	// ExecResult is the outcome of a Command.
	ExecResult struct {
		ExitCode int
		Stderr   string
	}

	// CopySpec is a copy whose source has been resolved on the host.
	CopySpec struct {
		// HostPath is the absolute source path inside the build context.
		HostPath string
		// Dir reports whether HostPath is a directory; its contents are
		// copied into Destination.
		Dir         bool
		Source      imagedef.SourcePath
		Destination imagedef.ContainerPath
		// Owner receives ownership of everything copied. Empty or root means
		// no ownership change.
		Owner imagedef.Username
	}

	// ImageConfig is the runtime configuration recorded in the image.
	ImageConfig struct {
		Env     []imagedef.EnvVar
		WorkDir imagedef.ContainerPath
		User    imagedef.Username
		Cmd     []string
		Labels  map[string]string
	}
)

// envList is an ordered set of assignments. Setting an existing key
// overwrites its value in place.
type envList []imagedef.EnvVar

func (l *envList) set(key imagedef.EnvKey, value string) {
	for i := range *l {
		if (*l)[i].Key == key {
			(*l)[i].Value = value
			return
		}
	}
	*l = append(*l, imagedef.EnvVar{Key: key, Value: value})
}

func (l envList) clone() []imagedef.EnvVar { return slices.Clone(l) }

// countingTarget counts the commands passed to a Target.
type countingTarget struct {
	Target
	execs int
}

func (c *countingTarget) Exec(ctx context.Context, cmd Command) (ExecResult, error) {
	c.execs++
	return c.Target.Exec(ctx, cmd)
}

// replayTarget answers a step's commands after the fact: the fail-th
// command gets result and every other command succeeds.
type replayTarget struct {
	fail   int
	result ExecResult
	execs  int
}

func (r *replayTarget) Exec(context.Context, Command) (ExecResult, error) {
	r.execs++
	if r.execs == r.fail {
		return r.result, nil
	}
	return ExecResult{}, nil
}

func (*replayTarget) Copy(context.Context, CopySpec) error { return nil }

func (*replayTarget) Commit(context.Context, ImageConfig, []string) (string, error) { return "", nil }

func (*replayTarget) Close(context.Context) error { return nil }
