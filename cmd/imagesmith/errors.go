// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/imagesmith/imagesmith/internal/config"
	"github.com/imagesmith/imagesmith/internal/issue"
)

// fail renders err for the user and returns the ExitError carrying its exit
// code. Cobra and fang stay silent about it.
func (a *App) fail(cmd *cobra.Command, err error) error {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	renderError(a.stderr, err, a.verbose)
	return &ExitError{Code: exitCodeFor(err), Err: err}
}

// renderError prints err and, when it links a catalog entry, the rendered
// help text for it.
func renderError(w io.Writer, err error, verbose bool) {
	fmt.Fprintln(w, ErrorStyle.Render("✗ ")+formatErrorForDisplay(err, verbose))

	entry := issue.IssueFor(err)
	if entry == nil || !verbose {
		if entry != nil {
			fmt.Fprintln(w, VerboseStyle.Render("Run again with --verbose for troubleshooting steps."))
		}
		return
	}
	rendered, renderErr := entry.Render(glamourStyle(w))
	if renderErr != nil {
		slog.Warn("failed to render issue catalog entry", "issueID", entry.Id(), "error", renderErr)
		return
	}
	fmt.Fprint(w, rendered)
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// use their own Format; in verbose mode other errors show their chain.
func formatErrorForDisplay(err error, verbose bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verbose)
	}
	return err.Error()
}

func glamourStyle(w io.Writer) string {
	if f, ok := w.(interface{ Fd() uintptr }); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // file descriptors fit in int
		return "dark"
	}
	return "notty"
}

// engineError wraps a failure to find a container engine.
func engineError(preferred config.ContainerEngine, err error) error {
	return issue.NewErrorContext().
		WithOperation("find a container engine").
		WithResource(string(preferred)).
		WithSuggestions(
			"Install Docker or Podman and make sure the daemon is running",
			"Select the other engine with --engine or container_engine in the config file",
		).
		WithIssue(issue.ContainerEngineNotFoundId).
		Wrap(err).
		BuildError()
}
