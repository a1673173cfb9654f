// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	digest "github.com/opencontainers/go-digest"
	"github.com/samber/lo"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

const (
	// LabelDefinition records the definition name on built images.
	LabelDefinition = "org.imagesmith.definition"
	// LabelCacheKey records the cache key on built images.
	LabelCacheKey = "org.imagesmith.cache-key"
)

type (
	// Assembler builds one image per Assemble call by applying a
	// definition's steps, in order, to a Target opened from its Backend.
	Assembler struct {
		backend   Backend
		installer *PackageInstaller
		users     *UserProvisioner
		images    ImageStore
		config    *Config
	}

	// Result describes a finished build.
	Result struct {
		// Image is the image ID, or the cache tag when the backend reports no ID.
		Image string
		// Tags are the output references now pointing at the image.
		Tags []string
		// CacheKey identifies the build inputs.
		CacheKey digest.Digest
		// Steps reports every applied step. It is empty for cached builds.
		Steps []StepReport
		// Cached is set when an existing image was reused.
		Cached   bool
		Backend  string
		Duration time.Duration
	}

	// StepReport is one applied step.
	StepReport struct {
		Index    int
		Kind     imagedef.StepKind
		Summary  string
		Duration time.Duration
	}

	// stepMark records the command count and assembly state before a step.
	stepMark struct {
		execs int
		state assembly
	}

	// assembly is the mutable state of one Assemble call.
	assembly struct {
		*Assembler
		target      Target
		src         *sources
		user        imagedef.Username
		provisioned imagedef.Username
		workdir     imagedef.ContainerPath
		env         envList
		cmd         []string
	}
)

// NewAssembler creates an Assembler. images may be nil, which disables the
// build cache.
func NewAssembler(backend Backend, installer *PackageInstaller, images ImageStore, cfg *Config) *Assembler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Assembler{
		backend:   backend,
		installer: installer,
		users:     NewUserProvisioner(),
		images:    images,
		config:    cfg,
	}
}

// Config returns the assembler's configuration.
func (a *Assembler) Config() *Config { return a.config }

// Assemble validates def, resolves its host inputs and applies its steps.
// The first failing step aborts the build: nothing is committed or tagged and
// the returned error is a *StepError naming that step. Definition problems
// found before any step runs are *InvalidConfigurationError.
func (a *Assembler) Assemble(ctx context.Context, def *imagedef.Definition) (*Result, error) {
	start := time.Now()
	logger := slog.Default().With("subsystem", "assembler", "definition", def.Name())

	if err := def.Validate(); err != nil {
		return nil, invalidConfig(err)
	}
	src, err := resolveSources(def, a.config.ContextDir)
	if err != nil {
		return nil, err
	}
	key, err := CacheKey(def, string(a.installer.Manager().Name()), src)
	if err != nil {
		return nil, err
	}
	tags := lo.Map(def.Tags(), func(t imagedef.ImageRef, _ int) string { return string(t) })
	result := &Result{Tags: tags, CacheKey: key, Backend: a.backend.Name()}

	cacheTag := ""
	if a.cacheEnabled() {
		cacheTag = CacheTag(a.config.CacheRepository, key)
		if hit, err := a.reuseCached(ctx, cacheTag, tags); err != nil {
			return nil, err
		} else if hit {
			logger.Info("using cached image", "image", cacheTag)
			result.Image, result.Cached, result.Duration = cacheTag, true, time.Since(start)
			return result, nil
		}
	}

	logger.Info("opening build target", "backend", a.backend.Name(), "base", def.Base())
	target, err := a.backend.Open(ctx, def.Base())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s target for %s: %w", a.backend.Name(), def.Base(), err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.config.CleanupTimeout)
		defer cancel()
		if cerr := target.Close(cleanupCtx); cerr != nil {
			logger.Warn("build target cleanup failed", "error", cerr)
		}
	}()

	counter := &countingTarget{Target: target}
	marker, _ := target.(StepMarker)
	asm := &assembly{Assembler: a, target: counter, src: src, user: imagedef.RootUser}
	steps := def.Steps()
	marks := make([]stepMark, 0, len(steps))
	for i, step := range steps {
		if marker != nil {
			marker.BeginStep(i, step.Kind())
		}
		marks = append(marks, stepMark{execs: counter.execs, state: asm.snapshot()})
		stepStart := time.Now()
		summary := DescribeStep(step)
		logger.Info("applying step", "index", i, "kind", step.Kind(), "summary", summary)
		if err := asm.apply(ctx, i, step); err != nil {
			return nil, &StepError{Index: i, Kind: step.Kind(), Err: err}
		}
		result.Steps = append(result.Steps, StepReport{
			Index: i, Kind: step.Kind(), Summary: summary, Duration: time.Since(stepStart),
		})
	}

	commitTags := slices.Clone(tags)
	if cacheTag != "" {
		commitTags = append(commitTags, cacheTag)
	}
	labels := def.Labels()
	labels[LabelDefinition] = def.Name()
	labels[LabelCacheKey] = key.String()
	imageID, err := target.Commit(ctx, asm.imageConfig(def, labels), commitTags)
	if err != nil {
		if serr := explainRunFailure(ctx, steps, marks, err); serr != nil {
			logger.Debug("image build failed", "error", err)
			return nil, serr
		}
		return nil, fmt.Errorf("failed to commit image: %w", err)
	}

	result.Image = lo.CoalesceOrEmpty(imageID, cacheTag, tags[0])
	result.Duration = time.Since(start)
	logger.Info("assembly finished", "image", result.Image, "tags", tags, "duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// explainRunFailure maps a RUN instruction that failed during a deferred
// build back to the step that emitted it. The step is applied again, from
// its recorded state, against a target that reports the build's exit status
// for that command, so the step's own error classification applies. It
// returns nil when err names no command.
func explainRunFailure(ctx context.Context, steps []imagedef.Step, marks []stepMark, err error) error {
	var rf *RunFailedError
	if !errors.As(err, &rf) {
		return nil
	}
	index := -1
	for i, m := range marks {
		if rf.Run > m.execs {
			index = i
		}
	}
	if index < 0 {
		return nil
	}

	replay := marks[index].state
	replay.target = &replayTarget{
		fail:   rf.Run - marks[index].execs,
		result: ExecResult{ExitCode: rf.ExitCode, Stderr: rf.Output},
	}
	stepErr := replay.apply(ctx, index, steps[index])
	if stepErr == nil {
		stepErr = rf
	}
	return &StepError{Index: index, Kind: steps[index].Kind(), Err: stepErr}
}

func (a *Assembler) cacheEnabled() bool {
	return a.config.CacheEnabled && a.images != nil && a.config.CacheRepository != ""
}

// reuseCached tags an existing cache image with the outputs. A failed lookup
// is treated as a miss.
func (a *Assembler) reuseCached(ctx context.Context, cacheTag string, tags []string) (bool, error) {
	if a.config.ForceRebuild {
		return false, nil
	}
	exists, err := a.images.ImageExists(ctx, cacheTag)
	if err != nil || !exists {
		return false, nil //nolint:nilerr // lookup failures fall back to building
	}
	for _, t := range tags {
		if err := a.images.Tag(ctx, cacheTag, t); err != nil {
			return false, fmt.Errorf("failed to tag cached image %s as %s: %w", cacheTag, t, err)
		}
	}
	return true, nil
}

func (s *assembly) apply(ctx context.Context, index int, step imagedef.Step) error {
	switch st := step.(type) {
	case imagedef.InstallPackages:
		return s.installer.Install(ctx, s.target, st.Packages)
	case imagedef.ReinstallPackages:
		return s.installer.Reinstall(ctx, s.target, st)
	case imagedef.CreateUser:
		if err := s.users.Create(ctx, s.target, st.User); err != nil {
			return err
		}
		s.user, s.provisioned = st.User.Username, st.User.Username
		return nil
	case imagedef.CopyFiles:
		return s.copyFiles(ctx, s.src.copies[index])
	case imagedef.SetEnv:
		for _, v := range s.src.envFiles[index] {
			s.env.set(v.Key, v.Value)
		}
		for _, v := range st.Vars {
			s.env.set(v.Key, v.Value)
		}
		return nil
	case imagedef.SetWorkdir:
		return s.setWorkdir(ctx, st.Path)
	case imagedef.Run:
		return s.run(ctx, st)
	case imagedef.SetCommand:
		s.cmd = slices.Clone(st.Argv)
		return nil
	}
	return fmt.Errorf("%w: %s", imagedef.ErrInvalidStepKind, step.Kind())
}

func (s *assembly) copyFiles(ctx context.Context, copies []CopySpec) error {
	for _, c := range copies {
		c.Owner = lo.CoalesceOrEmpty(c.Owner, s.user)
		if err := s.target.Copy(ctx, c); err != nil {
			var fce *FileCopyError
			if errors.As(err, &fce) {
				return err
			}
			return &FileCopyError{Source: c.Source, Destination: c.Destination, Err: err}
		}
	}
	return nil
}

// setWorkdir creates a missing directory owned by the current user and checks
// that the provisioned account can enter it.
func (s *assembly) setWorkdir(ctx context.Context, dir imagedef.ContainerPath) error {
	const script = `[ -d "$1" ] || { mkdir -p -- "$1" && chown -- "$2": "$1"; }`
	if err := s.mustExec(ctx, Command{
		Argv: []string{"/bin/sh", "-c", script, "sh", string(dir), string(s.user)},
		User: imagedef.RootUser,
	}, "create working directory"); err != nil {
		return err
	}
	if s.provisioned != "" {
		res, err := s.target.Exec(ctx, Command{Argv: []string{"test", "-x", string(dir)}, User: s.provisioned})
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return invalidConfig(fmt.Errorf("working directory %s is not traversable by %s", dir, s.provisioned))
		}
	}
	s.workdir = dir
	return nil
}

func (s *assembly) run(ctx context.Context, st imagedef.Run) error {
	return s.mustExec(ctx, Command{
		Argv:    []string{"/bin/sh", "-c", st.Script},
		User:    lo.CoalesceOrEmpty(st.User, s.user),
		WorkDir: s.workdir,
		Env:     s.env.clone(),
	}, "run script")
}

func (s *assembly) mustExec(ctx context.Context, cmd Command, what string) error {
	res, err := s.target.Exec(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	if res.ExitCode != 0 {
		msg := fmt.Sprintf("failed to %s: exit code %d", what, res.ExitCode)
		if tail := lastLines(res.Stderr, 5); tail != "" {
			msg += ": " + tail
		}
		return errors.New(msg)
	}
	return nil
}

func (s *assembly) snapshot() assembly {
	c := *s
	c.env = slices.Clone(s.env)
	c.cmd = slices.Clone(s.cmd)
	return c
}

func (s *assembly) imageConfig(def *imagedef.Definition, labels map[string]string) ImageConfig {
	cfg := ImageConfig{
		Env:     s.env.clone(),
		WorkDir: s.workdir,
		Cmd:     lo.Ternary(s.cmd != nil, s.cmd, def.Command()),
		Labels:  labels,
	}
	if s.user != imagedef.RootUser {
		cfg.User = s.user
	}
	return cfg
}
