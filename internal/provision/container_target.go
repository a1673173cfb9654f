// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/nrednav/cuid2"
	"github.com/samber/lo"

	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

const (
	// BuildContainerPrefix names working containers.
	BuildContainerPrefix = "imagesmith-build-"

	defaultStartBackoff = 2 * time.Second
)

var _ Backend = (*ContainerBackend)(nil)

type (
	// ContainerBackend builds images by running commands in a working
	// container and committing it.
	ContainerBackend struct {
		engine   container.Engine
		attempts int
		backoff  time.Duration
		output   io.Writer
	}

	// ContainerBackendOption configures a ContainerBackend.
	ContainerBackendOption func(*ContainerBackend)

	// ContainerTarget is a running working container.
	ContainerTarget struct {
		engine container.Engine
		id     container.ContainerID
		name   string
		output io.Writer
	}
)

// WithStartRetries sets how often starting the working container is attempted
// when the engine reports a transient failure.
func WithStartRetries(attempts int, backoff time.Duration) ContainerBackendOption {
	return func(b *ContainerBackend) { b.attempts, b.backoff = attempts, backoff }
}

// WithOutput streams command output to w.
func WithOutput(w io.Writer) ContainerBackendOption {
	return func(b *ContainerBackend) { b.output = w }
}

// NewContainerBackend creates a backend on engine.
func NewContainerBackend(engine container.Engine, opts ...ContainerBackendOption) *ContainerBackend {
	b := &ContainerBackend{
		engine:   engine,
		attempts: container.DefaultRetryAttempts,
		backoff:  defaultStartBackoff,
		output:   io.Discard,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns "container".
func (b *ContainerBackend) Name() string { return "container" }

// Open starts a detached working container from base that idles until
// it is removed.
func (b *ContainerBackend) Open(ctx context.Context, base imagedef.ImageRef) (Target, error) {
	name := BuildContainerPrefix + cuid2.Generate()
	opts := container.RunOptions{
		Image:   string(base),
		Name:    name,
		Detach:  true,
		Command: []string{"sleep", "infinity"},
		Labels:  map[string]string{"org.imagesmith.role": "build"},
	}

	var id container.ContainerID
	err := container.RetryWithBackoff(ctx, b.attempts, b.backoff, func(attempt int) (bool, error) {
		if attempt > 0 {
			slog.Debug("retrying working container start", "attempt", attempt+1, "name", name)
			_ = b.engine.Remove(ctx, container.ContainerID(name), true)
		}
		res, err := b.engine.Run(ctx, opts)
		if err != nil {
			return container.IsTransientError(err), err
		}
		id = res.ContainerID
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = container.ContainerID(name)
	}
	return &ContainerTarget{engine: b.engine, id: id, name: name, output: b.output}, nil
}

// ID returns the working container ID.
func (t *ContainerTarget) ID() container.ContainerID { return t.id }

// Exec runs cmd with engine exec. Stdin is streamed, never stored.
func (t *ContainerTarget) Exec(ctx context.Context, cmd Command) (ExecResult, error) {
	var stderr bytes.Buffer
	opts := container.ExecOptions{
		User:    string(cmd.User),
		WorkDir: string(cmd.WorkDir),
		Env:     lo.SliceToMap(cmd.Env, func(v imagedef.EnvVar) (string, string) { return string(v.Key), v.Value }),
		Stdout:  t.output,
		Stderr:  io.MultiWriter(&stderr, t.output),
	}
	if cmd.Stdin != nil {
		opts.Interactive = true
		opts.Stdin = bytes.NewReader(cmd.Stdin)
	}
	res, err := t.engine.Exec(ctx, t.id, cmd.Argv, opts)
	if err != nil {
		return ExecResult{}, err
	}
	if res.Error != nil {
		return ExecResult{}, res.Error
	}
	return ExecResult{ExitCode: res.ExitCode, Stderr: stderr.String()}, nil
}

// Copy creates the destination, copies the source with engine cp and hands
// ownership to c.Owner.
func (t *ContainerTarget) Copy(ctx context.Context, c CopySpec) error {
	dst := string(c.Destination)
	dir := lo.Ternary(c.Dir, dst, path.Dir(dst))
	if err := t.exec(ctx, "mkdir", "-p", "--", dir); err != nil {
		return err
	}

	src := c.HostPath
	if c.Dir {
		src += "/."
	}
	if err := t.engine.CopyTo(ctx, t.id, src, dst); err != nil {
		return err
	}

	if c.Owner != "" && c.Owner != imagedef.RootUser {
		return t.exec(ctx, "chown", "-R", "--", string(c.Owner)+":", dst)
	}
	return nil
}

// Commit commits the container with cfg as config changes, then applies the
// remaining tags.
func (t *ContainerTarget) Commit(ctx context.Context, cfg ImageConfig, tags []string) (string, error) {
	id, err := t.engine.Commit(ctx, t.id, container.CommitOptions{
		Changes: commitChanges(cfg),
		Message: "imagesmith build",
	})
	if err != nil {
		return "", err
	}
	for _, tag := range tags {
		if err := t.engine.Tag(ctx, id, tag); err != nil {
			return "", fmt.Errorf("failed to tag %s: %w", tag, err)
		}
	}
	return id, nil
}

// Close force-removes the working container.
func (t *ContainerTarget) Close(ctx context.Context) error {
	return t.engine.Remove(ctx, t.id, true)
}

func (t *ContainerTarget) exec(ctx context.Context, argv ...string) error {
	res, err := t.Exec(ctx, Command{Argv: argv, User: imagedef.RootUser})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited with code %d: %s", argv[0], res.ExitCode, lastLines(res.Stderr, 3))
	}
	return nil
}

// commitChanges renders cfg as Dockerfile instructions for commit --change.
func commitChanges(cfg ImageConfig) []string {
	var changes []string
	for _, v := range cfg.Env {
		changes = append(changes, fmt.Sprintf("ENV %s=%s", v.Key, quoteValue(v.Value)))
	}
	if cfg.WorkDir != "" {
		changes = append(changes, "WORKDIR "+string(cfg.WorkDir))
	}
	if cfg.User != "" {
		changes = append(changes, "USER "+string(cfg.User))
	}
	for _, k := range sortedKeys(cfg.Labels) {
		changes = append(changes, fmt.Sprintf("LABEL %s=%s", quoteValue(k), quoteValue(cfg.Labels[k])))
	}
	return append(changes, container.ChangeCMD(cfg.Cmd))
}
