// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

func newValidateCommand(app *App) *cobra.Command {
	var (
		opts        definitionFlags
		resolveBase bool
	)
	cmd := &cobra.Command{
		Use:   "validate [definition]",
		Short: "Check a definition without building it",
		Example: `  imagesmith validate lab.cue
  imagesmith validate lab.toml --resolve-base`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := opts.load(args)
			if err != nil {
				return app.fail(cmd, err)
			}
			if _, err := opts.manager(app); err != nil {
				return app.fail(cmd, err)
			}

			w := app.stdout
			fmt.Fprintf(w, "%s %s is valid\n", SuccessStyle.Render("✓"), definitionName(args))
			fmt.Fprintf(w, "  name:  %s\n", def.Name())
			fmt.Fprintf(w, "  base:  %s\n", CmdStyle.Render(def.Base().String()))
			fmt.Fprintf(w, "  tags:  %s\n", strings.Join(lo.Map(def.Tags(), func(r imagedef.ImageRef, _ int) string { return r.String() }), ", "))
			fmt.Fprintf(w, "  steps: %d\n", def.Len())
			if u, ok := def.ProvisionedUser(); ok {
				fmt.Fprintf(w, "  user:  %s (%s)\n", u.Username, u.HomeDir())
			}

			if resolveBase {
				dgst, err := app.Resolver.Resolve(cmd.Context(), def.Base())
				if err != nil {
					return app.fail(cmd, baseImageError(def.Base(), err))
				}
				fmt.Fprintf(w, "  digest: %s\n", dgst)
			}
			return nil
		},
	}
	opts.register(cmd, true)
	cmd.Flags().BoolVar(&resolveBase, "resolve-base", false, "look up the base image digest in its registry")
	return cmd
}
