// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/config"
	"github.com/imagesmith/imagesmith/internal/issue"
)

func newConfigCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage imagesmith configuration",
		Long: `Manage imagesmith configuration.

Configuration is read from config.cue in the configuration directory, then
overridden by IMAGESMITH_* environment variables.`,
	}
	cmd.AddCommand(
		newConfigShowCommand(app),
		newConfigInitCommand(app),
		newConfigPathCommand(app),
	)
	return cmd
}

func newConfigShowCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			source := app.loadedPath
			if source == "" {
				source = "defaults and environment (no config file)"
			}
			fmt.Fprintln(app.stdout, SubtitleStyle.Render("// source: "+source))
			fmt.Fprint(app.stdout, config.GenerateCUE(app.cfg))
			return nil
		},
	}
}

func newConfigInitCommand(app *App) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Args:  cobra.NoArgs,
		// A broken config file must not prevent replacing it.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			setupLogging(app.stderr, app.verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.configPath()
			if err != nil {
				return app.fail(cmd, err)
			}
			if err := config.WriteDefault(path, force); err != nil {
				ctx := issue.NewErrorContext().WithOperation("write configuration").WithResource(path).Wrap(err)
				if errors.Is(err, config.ErrConfigExists) {
					ctx.WithSuggestion("Use --force to overwrite it")
				}
				return app.fail(cmd, ctx.BuildError())
			}
			fmt.Fprintf(app.stdout, "%s wrote %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	return cmd
}

func newConfigPathCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			setupLogging(app.stderr, app.verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := app.configPath()
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	}
}

// configPath is the --config value or the default config file location.
func (a *App) configPath() (string, error) {
	if a.cfgPath != "" {
		return a.cfgPath, nil
	}
	return config.DefaultPath("")
}
