// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/config"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "imagesmith",
		Short: "Build a ready-to-use container image from a declarative definition",
		Long: TitleStyle.Render("imagesmith") + SubtitleStyle.Render(" - build a ready-to-use container image from a declarative definition") + `

imagesmith applies an ordered list of typed steps (install packages, create a
user, copy files, set environment and working directory, run scripts) to a base
image and commits the result. Without a definition argument it builds the
built-in shell practice image.

` + SubtitleStyle.Render("Examples:") + `
  imagesmith build                    Build the built-in shell practice image
  imagesmith build lab.cue --tag me/lab:1
  imagesmith plan lab.cue             Show the steps that would run
  imagesmith render lab.cue           Print the equivalent Dockerfile
  imagesmith run imagesmith/shell-adventure:latest
  imagesmith serve imagesmith/shell-adventure:latest`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.cfgPath, "config", "", "config file (default is $XDG_CONFIG_HOME/imagesmith/config.cue)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&app.engineArg, "engine", "", "container engine: docker or podman (default from config)")

	root.AddCommand(
		newBuildCommand(app),
		newRenderCommand(app),
		newValidateCommand(app),
		newPlanCommand(app),
		newRunCommand(app),
		newServeCommand(app),
		newConfigCommand(app),
	)
	return root
}

// loadConfig loads the configuration once per invocation and applies the
// logging setup. An explicit --verbose wins over the config file.
func (a *App) loadConfig(cmd *cobra.Command) error {
	loaded, err := a.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: a.cfgPath})
	if err != nil {
		setupLogging(a.stderr, a.verbose)
		return a.fail(cmd, err)
	}
	a.cfg = loaded.Config
	a.loadedPath = loaded.Path
	if !cmd.Flags().Changed("verbose") {
		a.verbose = a.verbose || a.cfg.UI.Verbose
	}
	setupLogging(a.stderr, a.verbose)
	return nil
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// handleUnrenderedError prints errors that no command rendered, such as flag
// and argument errors from cobra. Command failures arrive as ExitError and
// were already printed.
func handleUnrenderedError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// Execute runs the CLI and exits with the code mapped from the failure.
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleUnrenderedError),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitGeneric)
	}
}
