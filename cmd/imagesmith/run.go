// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/internal/ptyrun"
)

func newRunCommand(app *App) *cobra.Command {
	var workdir string
	cmd := &cobra.Command{
		Use:   "run <image> [-- command...]",
		Short: "Run a built image interactively on this terminal",
		Long: `Run a built image in a fresh container that is removed on exit. The image's
default command runs unless a command follows "--". The container's exit
code becomes imagesmith's exit code.`,
		Example: `  imagesmith run imagesmith/shell-adventure:latest
  imagesmith run imagesmith/shell-adventure:latest -- ls -la`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine()
			if err != nil {
				return app.fail(cmd, err)
			}
			opts := container.RunOptions{
				Image:   args[0],
				Command: args[1:],
				WorkDir: workdir,
			}
			code, err := ptyrun.Terminal(cmd.Context(), engine, opts, app.stdin, app.stdout, app.stderr)
			if err != nil {
				return app.fail(cmd, err)
			}
			if code != 0 {
				cmd.SilenceErrors = true
				cmd.SilenceUsage = true
				return &ExitError{Code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "working directory inside the container")
	return cmd
}
