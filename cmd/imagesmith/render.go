// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/provision"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

func newRenderCommand(app *App) *cobra.Command {
	var (
		opts   definitionFlags
		source bool
	)
	cmd := &cobra.Command{
		Use:   "render [definition]",
		Short: "Print the Dockerfile a definition renders to",
		Long: `Print the Dockerfile the dockerfile backend would build for a definition.
Nothing is built and no engine is needed. Passwords never appear in the
output; they are mounted as build secrets.`,
		Example: `  imagesmith render
  imagesmith render lab.cue --build-arg username=alice
  imagesmith render --definition-source > lab.cue`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if source {
				if len(args) > 0 {
					return app.fail(cmd, errors.New("--definition-source takes no definition argument"))
				}
				_, err := app.stdout.Write(imagedef.DefaultSource())
				return err
			}
			def, err := opts.load(args)
			if err != nil {
				return app.fail(cmd, err)
			}
			mgr, err := opts.manager(app)
			if err != nil {
				return app.fail(cmd, err)
			}
			dockerfile, err := provision.RenderDockerfile(cmd.Context(), def, mgr, opts.context(app))
			if err != nil {
				return app.fail(cmd, buildError(definitionName(args), err))
			}
			fmt.Fprint(app.stdout, dockerfile)
			return nil
		},
	}
	opts.register(cmd, false)
	cmd.Flags().BoolVar(&source, "definition-source", false, "print the built-in definition instead")
	return cmd
}
