// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/provision"
)

func newPlanCommand(app *App) *cobra.Command {
	var opts definitionFlags
	cmd := &cobra.Command{
		Use:   "plan [definition]",
		Short: "List the steps a build would apply, in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := opts.load(args)
			if err != nil {
				return app.fail(cmd, err)
			}
			fmt.Fprintf(app.stdout, "%s %s\n%s\n",
				TitleStyle.Render("Plan for"), definitionName(args),
				SubtitleStyle.Render(fmt.Sprintf("base %s, %d steps", def.Base(), def.Len())))
			fmt.Fprintln(app.stdout, planTable(provision.Plan(def)))
			return nil
		},
	}
	opts.register(cmd, false)
	return cmd
}

func planTable(steps []provision.PlannedStep) string {
	rows := make([][]string, 0, len(steps))
	for _, s := range steps {
		rows = append(rows, []string{strconv.Itoa(s.Index + 1), string(s.Kind), string(s.User), s.Summary})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		}).
		Headers("#", "Step", "Runs as", "Summary").
		Rows(rows...).
		String()
}
