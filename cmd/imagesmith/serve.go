// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/imagesmith/imagesmith/internal/config"
	"github.com/imagesmith/imagesmith/internal/issue"
	"github.com/imagesmith/imagesmith/internal/sshserver"
)

// hostKeyFileName is the host key created under the config directory.
const hostKeyFileName = "ssh_host_ed25519"

func newServeCommand(app *App) *cobra.Command {
	var (
		listen  string
		hostKey string
	)
	cmd := &cobra.Command{
		Use:   "serve <image>",
		Short: "Serve a built image over SSH, one fresh container per session",
		Long: `Start an SSH server that gives every authenticated session its own
container of the image on a pseudo-terminal. The container is removed when
the session ends.

An access token is printed once at startup; use it as the SSH password.
Public keys are not accepted.`,
		Example: `  imagesmith serve imagesmith/shell-adventure:latest
  imagesmith serve imagesmith/shell-adventure:latest --listen 0.0.0.0:2222`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runServe(cmd, app, args[0], listen, hostKey); err != nil {
				return app.fail(cmd, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address host:port (default from config)")
	cmd.Flags().StringVar(&hostKey, "host-key", "", "SSH host key path, created when missing (default under the config directory)")
	return cmd
}

func runServe(cmd *cobra.Command, app *App, image, listen, hostKey string) error {
	cfg, err := serveConfig(app.cfg, image, listen, hostKey)
	if err != nil {
		return err
	}
	engine, err := app.engine()
	if err != nil {
		return err
	}

	srv, err := sshserver.New(cfg, engine, sshserver.WithLogger(subsystemLogger(app.stderr, app.verbose, "ssh-server")))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := srv.Start(ctx); err != nil {
		return serveError(cfg, err)
	}

	token, err := srv.GenerateToken("cli")
	if err != nil {
		_ = srv.Stop()
		return serveError(cfg, err)
	}

	host, port, _ := net.SplitHostPort(srv.Address())
	w := app.stdout
	fmt.Fprintf(w, "%s %s on %s\n", SuccessStyle.Render("✓"), TitleStyle.Render("Serving "+image), srv.Address())
	fmt.Fprintf(w, "  connect:  %s\n", CmdStyle.Render(fmt.Sprintf("ssh -p %s %s@%s", port, "student", host)))
	fmt.Fprintf(w, "  password: %s\n", CmdStyle.Render(string(token.Value)))
	fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render(fmt.Sprintf("The token expires at %s. Press Ctrl+C to stop.", token.ExpiresAt.Format("15:04 MST"))))

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-srv.Err():
	}
	if err := srv.Stop(); err != nil && serveErr == nil {
		serveErr = err
	}
	if serveErr != nil {
		return serveError(cfg, serveErr)
	}
	fmt.Fprintln(app.stderr, SubtitleStyle.Render("Server stopped."))
	return nil
}

// serveConfig merges flags over the loaded configuration.
func serveConfig(cfg *config.Config, image, listen, hostKey string) (sshserver.Config, error) {
	out := sshserver.DefaultConfig(image)
	out.Host = sshserver.HostAddress(lo.CoalesceOrEmpty(cfg.Serve.Host, string(sshserver.DefaultHost)))
	out.Port = sshserver.ListenPort(cfg.Serve.Port)
	if listen != "" {
		host, port, err := net.SplitHostPort(listen)
		if err != nil {
			return out, listenError(listen, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return out, listenError(listen, err)
		}
		out.Host = sshserver.HostAddress(lo.CoalesceOrEmpty(host, string(sshserver.DefaultHost)))
		out.Port = sshserver.ListenPort(n)
	}

	out.HostKeyPath = lo.CoalesceOrEmpty(hostKey, cfg.Serve.HostKeyPath)
	if out.HostKeyPath == "" {
		if dir, err := config.ConfigDir(); err == nil {
			out.HostKeyPath = filepath.Join(dir, hostKeyFileName)
		}
	}
	if err := out.Validate(); err != nil {
		return out, issue.NewErrorContext().
			WithOperation("configure session server").
			WithResource(listen).
			Wrap(err).
			BuildError()
	}
	return out, nil
}

func listenError(listen string, err error) error {
	return issue.NewErrorContext().
		WithOperation("parse listen address").
		WithResource(listen).
		WithSuggestion("Use host:port, for example 127.0.0.1:2222 or :2222").
		Wrap(fmt.Errorf("%w: %w", sshserver.ErrInvalidSSHConfig, err)).
		BuildError()
}

func serveError(cfg sshserver.Config, err error) error {
	return issue.NewErrorContext().
		WithOperation("serve image over SSH").
		WithResource(net.JoinHostPort(string(cfg.Host), strconv.Itoa(int(cfg.Port)))).
		WithSuggestion("Pick a free port with --listen, or stop the process using it").
		WithIssue(issue.SessionServerFailedId).
		Wrap(err).
		BuildError()
}
