// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"mvdan.cc/sh/v3/syntax"

	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// heredocDelimiter ends multi-line RUN instructions.
const heredocDelimiter = "IMAGESMITH_RUN"

var (
	_ Backend    = (*DockerfileBackend)(nil)
	_ StepMarker = (*DockerfileTarget)(nil)

	buildExitPattern      = regexp.MustCompile(`exit (?:code:|status) (\d+)`)
	buildLinePattern      = regexp.MustCompile(`Dockerfile:(\d+)`)
	buildProcessPattern   = regexp.MustCompile(`process ("(?:[^"\\]|\\.)*") did not complete successfully`)
	buildahRunStepPattern = regexp.MustCompile(`building at STEP "RUN (.*?)": `)
)

type (
	// DockerfileBackend renders the build as a Dockerfile and builds it with
	// the engine. Without an engine it only renders.
	DockerfileBackend struct {
		engine   container.Engine
		pull     bool
		output   io.Writer
		renderTo io.Writer
		workDir  string
	}

	// DockerfileBackendOption configures a DockerfileBackend.
	DockerfileBackendOption func(*DockerfileBackend)

	// DockerfileTarget accumulates Dockerfile instructions. Commands never
	// fail while rendering; failures surface when the image is built.
	DockerfileTarget struct {
		backend    *DockerfileBackend
		lines      []string
		contextDir string
		secretDir  string
		secrets    []container.BuildSecret
		user       imagedef.Username
		workdir    imagedef.ContainerPath
		copies     int
		stdins     int
		runs       []renderedRun
	}

	// renderedRun locates the RUN instruction emitted for one Exec.
	renderedRun struct {
		// line is the Dockerfile line holding the RUN keyword and lines the
		// number of lines the instruction spans.
		line, lines int
		// command is the shell command, as engines echo it on failure.
		command string
	}
)

// WithPull makes builds pull a newer base image.
func WithPull(pull bool) DockerfileBackendOption {
	return func(b *DockerfileBackend) { b.pull = pull }
}

// WithBuildOutput streams engine build output to w.
func WithBuildOutput(w io.Writer) DockerfileBackendOption {
	return func(b *DockerfileBackend) { b.output = w }
}

// WithRenderTo writes the final Dockerfile to w on commit.
func WithRenderTo(w io.Writer) DockerfileBackendOption {
	return func(b *DockerfileBackend) { b.renderTo = w }
}

// WithWorkDir sets the directory build contexts are staged in.
func WithWorkDir(dir string) DockerfileBackendOption {
	return func(b *DockerfileBackend) { b.workDir = dir }
}

// NewDockerfileBackend creates a backend. A nil engine renders only.
func NewDockerfileBackend(engine container.Engine, opts ...DockerfileBackendOption) *DockerfileBackend {
	b := &DockerfileBackend{engine: engine, output: io.Discard}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns "dockerfile".
func (b *DockerfileBackend) Name() string { return "dockerfile" }

// Open starts a Dockerfile FROM base. When building, a build context and a
// separate secret directory are created; secrets never enter the context.
func (b *DockerfileBackend) Open(_ context.Context, base imagedef.ImageRef) (Target, error) {
	t := &DockerfileTarget{
		backend: b,
		lines:   []string{"# syntax=docker/dockerfile:1", "FROM " + string(base)},
		user:    imagedef.RootUser,
	}
	if b.engine == nil {
		return t, nil
	}

	parent, err := buildParentDir(b.workDir)
	if err != nil {
		return nil, err
	}
	if t.contextDir, err = os.MkdirTemp(parent, "ctx-*"); err != nil {
		return nil, fmt.Errorf("failed to create build context: %w", err)
	}
	if t.secretDir, err = os.MkdirTemp(parent, "secret-*"); err != nil {
		_ = os.RemoveAll(t.contextDir)
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}
	return t, nil
}

// Dockerfile returns the instructions rendered so far.
func (t *DockerfileTarget) Dockerfile() string {
	return strings.Join(t.lines, "\n") + "\n"
}

// Exec appends a RUN instruction. Stdin is passed as a BuildKit secret and
// redirected into the command, so it never appears in the Dockerfile.
func (t *DockerfileTarget) Exec(_ context.Context, cmd Command) (ExecResult, error) {
	t.switchUser(cmd.User)
	if cmd.WorkDir != "" && cmd.WorkDir != t.workdir {
		t.lines = append(t.lines, "WORKDIR "+string(cmd.WorkDir))
		t.workdir = cmd.WorkDir
	}

	words := make([]string, 0, len(cmd.Argv)+len(cmd.Env)+1)
	if len(cmd.Env) > 0 {
		words = append(words, "env")
		for _, v := range cmd.Env {
			words = append(words, string(v.Key)+"="+v.Value)
		}
	}
	words = append(words, cmd.Argv...)
	shell, err := shellJoin(words)
	if err != nil {
		return ExecResult{}, err
	}

	mount := ""
	if cmd.Stdin != nil {
		id := fmt.Sprintf("stdin-%d", t.stdins+1)
		if err := t.addSecret(id, cmd.Stdin); err != nil {
			return ExecResult{}, err
		}
		t.stdins++
		mount = fmt.Sprintf("--mount=type=secret,id=%s,required=true ", id)
		shell += " < /run/secrets/" + id
	}
	instr := "RUN " + mount + shell
	if strings.Contains(shell, "\n") {
		instr = fmt.Sprintf("RUN %s<<'%s'\n%s\n%s", mount, heredocDelimiter, shell, heredocDelimiter)
	}
	t.runs = append(t.runs, renderedRun{line: t.nextLine(), lines: strings.Count(instr, "\n") + 1, command: shell})
	t.lines = append(t.lines, instr)
	return ExecResult{}, nil
}

// Copy stages the source in the build context and appends a COPY.
func (t *DockerfileTarget) Copy(_ context.Context, c CopySpec) error {
	t.copies++
	staged := fmt.Sprintf("sources/%d", t.copies)
	if t.contextDir != "" {
		dst := filepath.Join(t.contextDir, filepath.FromSlash(staged))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := CopyTree(c.HostPath, dst); err != nil {
			return err
		}
	}

	src, dst := staged, string(c.Destination)
	if c.Dir {
		src += "/"
		dst = strings.TrimSuffix(dst, "/") + "/"
	}
	flag := ""
	if c.Owner != "" && c.Owner != imagedef.RootUser {
		flag = "--chown=" + string(c.Owner) + " "
	}
	args, _ := json.Marshal([]string{src, dst})
	t.lines = append(t.lines, "COPY "+flag+string(args))
	return nil
}

// Commit appends the image configuration and, unless rendering only,
// builds the image with every tag. Builds report no image ID.
func (t *DockerfileTarget) Commit(ctx context.Context, cfg ImageConfig, tags []string) (string, error) {
	for _, v := range cfg.Env {
		t.lines = append(t.lines, fmt.Sprintf("ENV %s=%s", v.Key, quoteValue(v.Value)))
	}
	if cfg.WorkDir != "" {
		t.lines = append(t.lines, "WORKDIR "+string(cfg.WorkDir))
	}
	for _, k := range sortedKeys(cfg.Labels) {
		t.lines = append(t.lines, fmt.Sprintf("LABEL %s=%s", quoteValue(k), quoteValue(cfg.Labels[k])))
	}
	t.switchUser(lo.CoalesceOrEmpty(cfg.User, imagedef.RootUser))
	t.lines = append(t.lines, container.ChangeCMD(cfg.Cmd))

	if t.backend.renderTo != nil {
		if _, err := io.WriteString(t.backend.renderTo, t.Dockerfile()); err != nil {
			return "", err
		}
	}
	if t.backend.engine == nil {
		return "", nil
	}

	if err := os.WriteFile(filepath.Join(t.contextDir, "Dockerfile"), []byte(t.Dockerfile()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write Dockerfile: %w", err)
	}
	err := t.backend.engine.Build(ctx, container.BuildOptions{
		ContextDir: t.contextDir,
		Dockerfile: "Dockerfile",
		Tags:       tags,
		Secrets:    t.secrets,
		Pull:       t.backend.pull,
		Stdout:     t.backend.output,
		Stderr:     t.backend.output,
	})
	if err != nil {
		return "", t.runFailure(err)
	}
	return "", nil
}

// BeginStep marks where the instructions of a step start.
func (t *DockerfileTarget) BeginStep(index int, kind imagedef.StepKind) {
	t.lines = append(t.lines, fmt.Sprintf("# step %d: %s", index, kind))
}

// runFailure turns a build error into a *RunFailedError when the engine
// output names the RUN instruction that failed and its exit status. Other
// errors are returned unchanged.
func (t *DockerfileTarget) runFailure(err error) error {
	out := err.Error()
	var ce *container.CommandError
	if errors.As(err, &ce) {
		out = ce.Stderr
	}
	codes := buildExitPattern.FindAllStringSubmatch(out, -1)
	if len(codes) == 0 {
		return err
	}
	code, convErr := strconv.Atoi(codes[len(codes)-1][1])
	run := t.failedRun(out)
	if convErr != nil || run == 0 {
		return err
	}
	return &RunFailedError{Run: run, ExitCode: code, Output: lastLines(out, 5), Err: err}
}

// failedRun finds the failing RUN in engine output. BuildKit names the
// Dockerfile line and the failing process; Buildah names the instruction.
// It returns the 1-based position in t.runs, or 0.
func (t *DockerfileTarget) failedRun(msg string) int {
	if m := buildLinePattern.FindAllStringSubmatch(msg, -1); len(m) > 0 {
		if n, err := strconv.Atoi(m[len(m)-1][1]); err == nil {
			for i, r := range t.runs {
				if n >= r.line && n < r.line+r.lines {
					return i + 1
				}
			}
		}
	}

	var command string
	if m := buildProcessPattern.FindStringSubmatch(msg); m != nil {
		if s, err := strconv.Unquote(m[1]); err == nil {
			command = strings.TrimPrefix(s, "/bin/sh -c ")
		}
	} else if m := buildahRunStepPattern.FindStringSubmatch(msg); m != nil {
		command = stripRunFlags(m[1])
	}
	if command == "" {
		return 0
	}
	for i, r := range t.runs {
		if r.command == command {
			return i + 1
		}
	}
	for i, r := range t.runs {
		if firstLine(r.command) == firstLine(command) {
			return i + 1
		}
	}
	return 0
}

// nextLine returns the Dockerfile line number the next instruction gets.
func (t *DockerfileTarget) nextLine() int {
	n := 1
	for _, l := range t.lines {
		n += strings.Count(l, "\n") + 1
	}
	return n
}

// Close removes the build context and the secret directory.
func (t *DockerfileTarget) Close(context.Context) error {
	var errs []error
	for _, dir := range []string{t.contextDir, t.secretDir} {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *DockerfileTarget) switchUser(u imagedef.Username) {
	if u == "" || u == t.user {
		return
	}
	t.lines = append(t.lines, "USER "+string(u))
	t.user = u
}

func (t *DockerfileTarget) addSecret(id string, data []byte) error {
	if t.secretDir == "" {
		return nil
	}
	file := filepath.Join(t.secretDir, id)
	if err := os.WriteFile(file, data, 0o600); err != nil {
		return fmt.Errorf("failed to stage secret %s: %w", id, err)
	}
	t.secrets = append(t.secrets, container.BuildSecret{ID: id, Source: file})
	return nil
}

// buildParentDir returns dir, or a visible directory in the user's home for
// build contexts. Snap-installed Docker cannot read /tmp or hidden directories.
func buildParentDir(dir string) (string, error) {
	parent := dir
	if parent == "" {
		parent = filepath.Join(os.TempDir(), "imagesmith-build")
		if home, err := os.UserHomeDir(); err == nil {
			if _, err := os.Stat(home); err == nil {
				parent = filepath.Join(home, "imagesmith-build")
			}
		}
	}
	if err := os.MkdirAll(parent, 0o700); err != nil {
		return "", fmt.Errorf("failed to create build directory: %w", err)
	}
	return parent, nil
}

// shellJoin quotes words for a shell-form RUN instruction. Words that POSIX
// quoting rejects, such as multi-line scripts, are single-quoted verbatim.
func shellJoin(words []string) (string, error) {
	quoted := make([]string, len(words))
	for i, w := range words {
		q, err := syntax.Quote(w, syntax.LangPOSIX)
		if err != nil {
			if strings.ContainsRune(w, 0) {
				return "", fmt.Errorf("cannot quote %q: %w", w, err)
			}
			q = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
		}
		quoted[i] = q
	}
	return strings.Join(quoted, " "), nil
}

// stripRunFlags drops leading RUN flags such as --mount=... from an
// instruction.
func stripRunFlags(s string) string {
	for strings.HasPrefix(s, "--") {
		_, rest, ok := strings.Cut(s, " ")
		if !ok {
			return ""
		}
		s = rest
	}
	return s
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// quoteValue renders a Dockerfile ENV or LABEL value in double quotes,
// escaping characters the Dockerfile parser would interpret. Values never
// contain line breaks; definitions and env files reject them.
func quoteValue(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}
