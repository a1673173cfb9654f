// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/imagesmith/imagesmith/internal/issue"
)

type (
	// ExecCommandFunc creates an exec.Cmd. Tests inject a fake.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// RunArgsTransformer rewrites run arguments after they are built.
	RunArgsTransformer func(args []string) []string

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine implements the parts of Engine that are identical for the
	// Docker and Podman CLIs. Engine-specific methods (Available, Version,
	// ImageExists) live on the concrete types.
	BaseCLIEngine struct {
		name               string
		binaryPath         string
		execCommand        ExecCommandFunc
		runArgsTransformer RunArgsTransformer
		cmdEnvOverrides    map[string]string
		cleanupPaths       []string
	}

	// CommandError is returned when an engine command exits unsuccessfully.
	// Stderr holds the trimmed error output of the command.
	CommandError struct {
		Binary string
		Args   []string
		Stderr string
		Err    error
	}
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s %s failed: %v", filepath.Base(e.Binary), strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Unwrap returns the underlying exec error.
func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the command's exit code, or -1 if it did not exit normally.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// WithName sets the engine name used in messages.
func WithName(name string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.name = name }
}

// WithExecCommand replaces exec.CommandContext, for tests.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.execCommand = fn }
}

// WithRunArgsTransformer installs a run argument rewriter.
func WithRunArgsTransformer(fn RunArgsTransformer) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.runArgsTransformer = fn }
}

// WithCmdEnvOverride sets an environment variable on every command the engine runs.
func WithCmdEnvOverride(key, value string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		if e.cmdEnvOverrides == nil {
			e.cmdEnvOverrides = make(map[string]string)
		}
		e.cmdEnvOverrides[key] = value
	}
}

// withCleanupPath registers a temporary file removed by Close.
func withCleanupPath(path string) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) { e.cleanupPaths = append(e.cleanupPaths, path) }
}

// NewBaseCLIEngine creates a base engine for the given binary.
func NewBaseCLIEngine(binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		binaryPath:         binaryPath,
		execCommand:        exec.CommandContext,
		runArgsTransformer: func(args []string) []string { return args },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BinaryPath returns the engine binary.
func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

// --- Argument builders ---

// BuildArgs returns: build [-f file] [-t tag]... [--label k=v]... [--secret ...]... [--build-arg k=v]... <context>
// Maps are emitted in sorted key order so command lines are reproducible.
func (e *BaseCLIEngine) BuildArgs(opts BuildOptions) []string {
	args := []string{"build"}

	if opts.Dockerfile != "" {
		df := opts.Dockerfile
		if !filepath.IsAbs(df) && opts.ContextDir != "" {
			df = filepath.Join(opts.ContextDir, df)
		}
		args = append(args, "-f", df)
	}
	for _, t := range opts.Tags {
		args = append(args, "-t", t)
	}
	if opts.NoCache {
		args = append(args, "--no-cache")
	}
	if opts.Pull {
		args = append(args, "--pull")
	}
	args = appendPairs(args, "--label", opts.Labels)
	for _, s := range opts.Secrets {
		args = append(args, "--secret", fmt.Sprintf("id=%s,src=%s", s.ID, s.Source))
	}
	args = appendPairs(args, "--build-arg", opts.BuildArgs)

	return append(args, opts.ContextDir)
}

// RunArgs returns: run [options] <image> [command...]
func (e *BaseCLIEngine) RunArgs(opts RunOptions) []string {
	args := []string{"run"}

	if opts.Detach {
		args = append(args, "-d")
	}
	if opts.Remove {
		args = append(args, "--rm")
	}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	if opts.Hostname != "" {
		args = append(args, "--hostname", opts.Hostname)
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	args = appendPairs(args, "-e", opts.Env)
	args = appendPairs(args, "--label", opts.Labels)

	args = append(args, opts.Image)
	args = append(args, opts.Command...)

	return e.runArgsTransformer(args)
}

// ExecArgs returns: exec [options] <container> <command...>
func (e *BaseCLIEngine) ExecArgs(id ContainerID, command []string, opts ExecOptions) []string {
	args := []string{"exec"}

	if opts.Interactive {
		args = append(args, "-i")
	}
	if opts.TTY {
		args = append(args, "-t")
	}
	if opts.User != "" {
		args = append(args, "-u", opts.User)
	}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	args = appendPairs(args, "-e", opts.Env)

	args = append(args, string(id))
	return append(args, command...)
}

// CopyArgs returns: cp <src> <container>:<dst>
func (e *BaseCLIEngine) CopyArgs(id ContainerID, src, dst string) []string {
	return []string{"cp", src, string(id) + ":" + dst}
}

// CommitArgs returns: commit [--change c]... [-m msg] [-a author] <container>
func (e *BaseCLIEngine) CommitArgs(id ContainerID, opts CommitOptions) []string {
	args := []string{"commit"}
	for _, c := range opts.Changes {
		args = append(args, "--change", c)
	}
	if opts.Message != "" {
		args = append(args, "-m", opts.Message)
	}
	if opts.Author != "" {
		args = append(args, "-a", opts.Author)
	}
	return append(args, string(id))
}

// RemoveArgs returns: rm [-f] <container>
func (e *BaseCLIEngine) RemoveArgs(id ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	return append(args, string(id))
}

// RemoveImageArgs returns: rmi [-f] <image>
func (e *BaseCLIEngine) RemoveImageArgs(image string, force bool) []string {
	args := []string{"rmi"}
	if force {
		args = append(args, "-f")
	}
	return append(args, image)
}

// BuildRunArgs returns the run arguments without executing them.
func (e *BaseCLIEngine) BuildRunArgs(opts RunOptions) []string {
	return e.RunArgs(opts)
}

// --- Command execution ---

// CreateCommand creates an exec.Cmd for the engine binary with overrides applied.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	cmd := e.execCommand(ctx, e.binaryPath, args...)
	e.CustomizeCmd(cmd)
	return cmd
}

// CustomizeCmd applies the engine's environment overrides to cmd.
func (e *BaseCLIEngine) CustomizeCmd(cmd *exec.Cmd) {
	if len(e.cmdEnvOverrides) == 0 {
		return
	}
	// A non-nil Env replaces the inherited environment, so start from it.
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	for _, k := range slices.Sorted(maps.Keys(e.cmdEnvOverrides)) {
		cmd.Env = append(cmd.Env, k+"="+e.cmdEnvOverrides[k])
	}
}

// RunCommand runs the engine with args and returns trimmed stdout.
// Failures are returned as *CommandError carrying stderr.
func (e *BaseCLIEngine) RunCommand(ctx context.Context, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", e.commandError(args, stderr.String(), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// RunCommandStatus runs the engine with args, discarding stdout.
func (e *BaseCLIEngine) RunCommandStatus(ctx context.Context, args ...string) error {
	_, err := e.RunCommand(ctx, args...)
	return err
}

// Close removes temporary files created for the engine. Safe to call repeatedly.
func (e *BaseCLIEngine) Close() error {
	var errs []error
	for _, p := range e.cleanupPaths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	e.cleanupPaths = nil
	return errors.Join(errs...)
}

// --- Engine methods shared by Docker and Podman ---

// Build builds an image.
func (e *BaseCLIEngine) Build(ctx context.Context, opts BuildOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	args := e.BuildArgs(opts)

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdout = opts.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, opts.Stderr)
	}

	if err := cmd.Run(); err != nil {
		return buildContainerError(e.name, opts, e.commandError(args, stderr.String(), err))
	}
	return nil
}

// Run runs a container. For detached runs the container ID is read from
// stdout and any failure is returned as an error; for attached runs a
// non-zero exit code is reported in RunResult.ExitCode.
func (e *BaseCLIEngine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	args := e.RunArgs(opts)

	if opts.Detach {
		out, err := e.RunCommand(ctx, args...)
		if err != nil {
			return nil, runContainerError(e.name, opts, err)
		}
		lines := strings.Split(out, "\n")
		return &RunResult{ContainerID: ContainerID(strings.TrimSpace(lines[len(lines)-1]))}, nil
	}

	cmd := e.CreateCommand(ctx, args...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	return resultFromRun(cmd.Run(), ""), nil
}

// Exec runs a command in a running container.
func (e *BaseCLIEngine) Exec(ctx context.Context, id ContainerID, command []string, opts ExecOptions) (*RunResult, error) {
	cmd := e.CreateCommand(ctx, e.ExecArgs(id, command, opts)...)
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	return resultFromRun(cmd.Run(), id), nil
}

// CopyTo copies src from the host into the container at dst.
func (e *BaseCLIEngine) CopyTo(ctx context.Context, id ContainerID, src, dst string) error {
	return e.RunCommandStatus(ctx, e.CopyArgs(id, src, dst)...)
}

// Commit commits the container to a new image and returns the image ID.
func (e *BaseCLIEngine) Commit(ctx context.Context, id ContainerID, opts CommitOptions) (string, error) {
	out, err := e.RunCommand(ctx, e.CommitArgs(id, opts)...)
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// Tag adds target as a reference to source.
func (e *BaseCLIEngine) Tag(ctx context.Context, source, target string) error {
	return e.RunCommandStatus(ctx, "tag", source, target)
}

// Remove removes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, id ContainerID, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveArgs(id, force)...)
}

// RemoveImage removes an image.
func (e *BaseCLIEngine) RemoveImage(ctx context.Context, image string, force bool) error {
	return e.RunCommandStatus(ctx, e.RemoveImageArgs(image, force)...)
}

// InspectImage returns the engine's JSON description of an image.
func (e *BaseCLIEngine) InspectImage(ctx context.Context, image string) (string, error) {
	return e.RunCommand(ctx, "image", "inspect", image)
}

// ChangeCMD renders a CMD instruction in exec (JSON array) form.
func ChangeCMD(argv []string) string {
	b, _ := json.Marshal(argv)
	return "CMD " + string(b)
}

func (e *BaseCLIEngine) commandError(args []string, stderr string, err error) error {
	return &CommandError{Binary: e.binaryPath, Args: slices.Clone(args), Stderr: strings.TrimSpace(stderr), Err: err}
}

func resultFromRun(err error, id ContainerID) *RunResult {
	result := &RunResult{ContainerID: id}
	if err == nil {
		return result
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	} else {
		result.ExitCode = 1
		result.Error = err
	}
	return result
}

func appendPairs(args []string, flag string, m map[string]string) []string {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		args = append(args, flag, k+"="+m[k])
	}
	return args
}

// --- Actionable error helpers ---

func buildContainerError(engine string, opts BuildOptions, cause error) error {
	ctx := issue.NewErrorContext().WithOperation("build container image")
	switch {
	case opts.Dockerfile != "":
		ctx.WithResource(opts.Dockerfile)
	case len(opts.Tags) > 0:
		ctx.WithResource(opts.Tags[0])
	}
	return ctx.
		WithSuggestion("Check the rendered Dockerfile with 'imagesmith render'").
		WithSuggestion("Ensure the base image is available (try: " + engine + " pull <base-image>)").
		WithSuggestion("BuildKit is required for password secrets; upgrade the engine if --secret is rejected").
		Wrap(cause).
		BuildError()
}

func runContainerError(engine string, opts RunOptions, cause error) error {
	return issue.NewErrorContext().
		WithOperation("run container").
		WithResource(opts.Image).
		WithSuggestion("Verify the image exists (try: " + engine + " images)").
		WithSuggestion("Check that the engine daemon is running").
		Wrap(cause).
		BuildError()
}
