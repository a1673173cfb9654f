// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/config"
	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/internal/issue"
	"github.com/imagesmith/imagesmith/internal/provision"
	"github.com/imagesmith/imagesmith/internal/watch"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

const (
	startRetryBackoff = 2 * time.Second

	// buildDirName is where the dockerfile backend stages build contexts
	// when no cache directory is configured.
	buildDirName = "imagesmith-build"
)

type buildOptions struct {
	definitionFlags
	backend      string
	forceRebuild bool
	noCache      bool
	pinBase      bool
	pull         bool
	watch        bool
}

func newBuildCommand(app *App) *cobra.Command {
	opts := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build [definition]",
		Short: "Build the image described by a definition",
		Long: `Build the image described by a CUE or TOML definition, or the built-in
shell practice image when no definition is given.

Steps run in the order they are written. The first failing step aborts the
build and nothing is tagged.`,
		Example: `  imagesmith build
  imagesmith build lab.cue --build-arg username=alice --tag me/lab:1
  imagesmith build lab.toml --backend dockerfile --pin-base`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.watch {
				if err := watchBuild(cmd, app, opts, args); err != nil {
					return app.fail(cmd, err)
				}
				return nil
			}
			if err := runBuild(cmd, app, opts, args); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
	opts.register(cmd, true)
	flags := cmd.Flags()
	flags.StringVar(&opts.backend, "backend", "", "build backend: container or dockerfile (default from config)")
	flags.BoolVar(&opts.forceRebuild, "force-rebuild", false, "ignore a cached image for the same inputs")
	flags.BoolVar(&opts.noCache, "no-cache", false, "neither read nor write the build cache")
	flags.BoolVar(&opts.pinBase, "pin-base", false, "resolve the base image digest and build from it")
	flags.BoolVar(&opts.pull, "pull", false, "pull a newer base image (dockerfile backend)")
	flags.BoolVar(&opts.watch, "watch", false, "rebuild whenever the definition or the build context changes")
	return cmd
}

func runBuild(cmd *cobra.Command, app *App, opts *buildOptions, args []string) error {
	ctx := cmd.Context()
	name := definitionName(args)

	def, err := opts.load(args)
	if err != nil {
		return err
	}
	mgr, err := opts.manager(app)
	if err != nil {
		return err
	}
	backendName := config.BuildBackend(lo.CoalesceOrEmpty(opts.backend, string(app.cfg.Build.Backend)))
	if err := backendName.Validate(); err != nil {
		return issue.NewErrorContext().
			WithOperation("select build backend").
			WithResource(string(backendName)).
			Wrap(err).
			BuildError()
	}

	if opts.pinBase {
		pinned, dgst, err := app.Resolver.PinDefinition(ctx, def)
		if err != nil {
			return baseImageError(def.Base(), err)
		}
		fmt.Fprintln(app.stderr, VerboseStyle.Render(fmt.Sprintf("Pinned %s to %s", def.Base(), dgst)))
		def = pinned
	}

	engine, err := app.engine()
	if err != nil {
		return err
	}

	pcfg := provision.DefaultConfig()
	pcfg.Apply(
		provision.WithContextDir(opts.context(app)),
		provision.WithCache(app.cfg.Build.Cache && !opts.noCache),
		provision.WithForceRebuild(opts.forceRebuild || app.cfg.Build.ForceRebuild),
	)
	asm := provision.NewAssembler(newBackend(app, engine, backendName, opts.pull), provision.NewPackageInstaller(mgr), engine, pcfg)

	fmt.Fprintf(app.stderr, "%s %s from %s (%s backend, %s)\n",
		TitleStyle.Render("Building"), name, CmdStyle.Render(def.Base().String()), backendName, engine.Name())

	result, err := asm.Assemble(ctx, def)
	if err != nil {
		return buildError(name, err)
	}
	printBuildResult(app.stdout, result, app.verbose)
	return nil
}

// watchBuild builds once, then again after every change to the definition
// file or the build context, until the command is interrupted. Failed builds
// are reported and watching continues.
func watchBuild(cmd *cobra.Command, app *App, opts *buildOptions, args []string) error {
	rebuild := func() {
		if err := runBuild(cmd, app, opts, args); err != nil {
			renderError(app.stderr, err, app.verbose)
		}
	}

	cfg := watch.Config{
		Dirs:   []string{opts.context(app)},
		Ignore: []string{buildDirName + "/**"},
		Logger: subsystemLogger(app.stderr, app.verbose, "watch"),
		OnChange: func(_ context.Context, changed []string) error {
			fmt.Fprintf(app.stderr, "\n%s %s\n", WarningStyle.Render("Changed:"), strings.Join(changed, ", "))
			rebuild()
			return nil
		},
	}
	if len(args) > 0 {
		cfg.Files = []string{args[0]}
	}
	w, err := watch.New(cfg)
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("watch build inputs").
			WithResource(opts.context(app)).
			Wrap(err).
			BuildError()
	}

	rebuild()
	fmt.Fprintln(app.stderr, SubtitleStyle.Render("Watching for changes. Press Ctrl+C to stop."))
	return w.Run(cmd.Context())
}

func newBackend(app *App, engine container.Engine, name config.BuildBackend, pull bool) provision.Backend {
	var out io.Writer = io.Discard
	if app.verbose {
		out = app.stderr
	}
	if name == config.BackendDockerfile {
		return provision.NewDockerfileBackend(engine,
			provision.WithPull(pull),
			provision.WithBuildOutput(out),
			provision.WithWorkDir(app.cfg.Build.CacheDir),
		)
	}
	return provision.NewContainerBackend(engine,
		provision.WithStartRetries(app.cfg.Build.Retries, startRetryBackoff),
		provision.WithOutput(out),
	)
}

func printBuildResult(w io.Writer, r *provision.Result, verbose bool) {
	if verbose {
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  %s %2d %-18s %s %s\n", SuccessStyle.Render("✓"), s.Index+1, s.Kind, s.Summary,
				VerboseStyle.Render(s.Duration.Round(time.Millisecond).String()))
		}
	}
	how := "built"
	if r.Cached {
		how = "reused cached image"
	}
	fmt.Fprintf(w, "%s %s %s in %s\n", SuccessStyle.Render("✓"), how,
		CmdStyle.Render(strings.Join(r.Tags, ", ")), r.Duration.Round(time.Millisecond))
	if verbose {
		fmt.Fprintln(w, VerboseStyle.Render("  image: "+r.Image))
		fmt.Fprintln(w, VerboseStyle.Render("  cache key: "+r.CacheKey.String()))
	}
}

// buildError attaches the catalog entry matching the failing step's cause.
func buildError(name string, err error) error {
	ctx := issue.NewErrorContext().WithOperation("build image").WithResource(name).Wrap(err)

	var stepErr *provision.StepError
	if errors.As(err, &stepErr) {
		ctx.WithSuggestion(fmt.Sprintf("Step %d (%s) failed; run 'imagesmith plan %s' to see the step list", stepErr.Index+1, stepErr.Kind, name))
	}
	switch {
	case errors.Is(err, provision.ErrPackageManager):
		ctx.WithIssue(issue.PackageManagerFailedId)
	case errors.Is(err, provision.ErrUserCreation):
		ctx.WithIssue(issue.UserCreationFailedId)
	case errors.Is(err, provision.ErrFileCopy):
		ctx.WithIssue(issue.FileCopyFailedId)
	case errors.Is(err, provision.ErrInvalidConfiguration):
		ctx.WithIssue(issue.InvalidDefinitionId)
	case errors.Is(err, container.ErrEngineNotAvailable):
		ctx.WithIssue(issue.ContainerEngineNotFoundId)
	}
	return ctx.BuildError()
}

func baseImageError(ref imagedef.ImageRef, err error) error {
	return issue.NewErrorContext().
		WithOperation("resolve base image").
		WithResource(ref.String()).
		WithSuggestion("Check the image name and your registry credentials (docker login)").
		WithIssue(issue.BaseImageUnavailableId).
		Wrap(err).
		BuildError()
}
