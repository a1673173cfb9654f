// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"io/fs"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/issue"
	"github.com/imagesmith/imagesmith/internal/pkgmgr"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// definitionFlags are shared by every command that reads a definition.
type definitionFlags struct {
	buildArgs      []string
	tags           []string
	contextDir     string
	packageManager string
}

func (f *definitionFlags) register(cmd *cobra.Command, withTags bool) {
	flags := cmd.Flags()
	flags.StringArrayVar(&f.buildArgs, "build-arg", nil, "set a build argument (key=value, repeatable)")
	flags.StringVar(&f.contextDir, "context", "", "build context for copy sources (default from config)")
	flags.StringVar(&f.packageManager, "package-manager", "", "package manager inside the image: apt, dnf or yum (default from config)")
	if withTags {
		flags.StringArrayVar(&f.tags, "tag", nil, "additional output image reference (repeatable)")
	}
}

// definitionName is the name shown for the definition argument.
func definitionName(args []string) string {
	if len(args) == 0 {
		return "built-in " + imagedef.DefaultDefinitionName
	}
	return args[0]
}

// load parses the definition named by args, or the built-in one.
func (f *definitionFlags) load(args []string) (*imagedef.Definition, error) {
	name := definitionName(args)
	buildArgs, err := imagedef.ParseBuildArgs(f.buildArgs)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("parse build arguments").
			WithSuggestion("Pass build arguments as --build-arg key=value").
			Wrap(err).
			BuildError()
	}

	var def *imagedef.Definition
	if len(args) == 0 {
		def, err = imagedef.Default(imagedef.WithBuildArgs(buildArgs))
	} else {
		def, err = imagedef.ParseFile(args[0], imagedef.WithBuildArgs(buildArgs))
	}
	if err != nil {
		return nil, definitionError(name, err)
	}

	if len(f.tags) > 0 {
		extra := lo.Map(f.tags, func(t string, _ int) imagedef.ImageRef { return imagedef.ImageRef(t) })
		if def, err = def.WithExtraTags(extra...); err != nil {
			return nil, definitionError(name, err)
		}
	}
	return def, nil
}

// manager returns the package manager selected by flag or config.
func (f *definitionFlags) manager(app *App) (pkgmgr.Manager, error) {
	name := pkgmgr.Name(lo.CoalesceOrEmpty(f.packageManager, string(app.cfg.PackageManager)))
	mgr, err := pkgmgr.New(name)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("select package manager").
			WithResource(name.String()).
			WithSuggestion("Use one of apt, dnf or yum").
			Wrap(err).
			BuildError()
	}
	return mgr, nil
}

// context returns the build context directory selected by flag or config.
func (f *definitionFlags) context(app *App) string {
	return lo.CoalesceOrEmpty(f.contextDir, app.cfg.Build.Context, ".")
}

func definitionError(name string, err error) error {
	ctx := issue.NewErrorContext().WithResource(name).Wrap(err)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		ctx.WithOperation("read image definition").
			WithIssue(issue.DefinitionNotFoundId).
			WithSuggestion("Check the path, or run 'imagesmith build' without arguments for the built-in image")
	case errors.Is(err, imagedef.ErrInvalidDefinition):
		ctx.WithOperation("validate image definition").
			WithIssue(issue.InvalidDefinitionId).
			WithSuggestion("Run 'imagesmith validate " + name + "' to list every problem")
	default:
		ctx.WithOperation("parse image definition").
			WithIssue(issue.DefinitionParseErrorId).
			WithSuggestion("Compare with the built-in definition: imagesmith render --definition-source")
	}
	return ctx.BuildError()
}
