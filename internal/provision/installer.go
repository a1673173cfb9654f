// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/imagesmith/imagesmith/internal/pkgmgr"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// PackageInstaller runs package manager commands against a Target as root.
type PackageInstaller struct {
	manager pkgmgr.Manager
}

// NewPackageInstaller creates an installer for manager.
func NewPackageInstaller(manager pkgmgr.Manager) *PackageInstaller {
	return &PackageInstaller{manager: manager}
}

// Manager returns the package manager in use.
func (p *PackageInstaller) Manager() pkgmgr.Manager { return p.manager }

// Install refreshes the package index once and installs pkgs with a single
// install call, preserving their order. An empty list refreshes only.
func (p *PackageInstaller) Install(ctx context.Context, t Target, pkgs []imagedef.PackageName) error {
	if err := p.run(ctx, t, OpRefresh, p.manager.RefreshCommand()); err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return nil
	}
	return p.run(ctx, t, OpInstall, p.manager.InstallCommand(pkgs))
}

// Reinstall refreshes the index and reinstalls every installed package
// except step.Exclude, restoring documentation first when requested.
func (p *PackageInstaller) Reinstall(ctx context.Context, t Target, step imagedef.ReinstallPackages) error {
	if err := p.run(ctx, t, OpRefresh, p.manager.RefreshCommand()); err != nil {
		return err
	}
	return p.run(ctx, t, OpReinstall, p.manager.ReinstallCommand(step.Exclude, step.RestoreDocs))
}

func (p *PackageInstaller) run(ctx context.Context, t Target, op PackageOperation, argv []string) error {
	res, err := t.Exec(ctx, Command{Argv: argv, User: imagedef.RootUser, Env: p.env()})
	if err != nil {
		return &PackageManagerError{Operation: op, Manager: string(p.manager.Name()), Err: err}
	}
	if res.ExitCode != 0 {
		return &PackageManagerError{
			Operation: op,
			Manager:   string(p.manager.Name()),
			ExitCode:  res.ExitCode,
			Stderr:    lastLines(res.Stderr, 5),
			Err:       fmt.Errorf("%s exited with code %d", argv[0], res.ExitCode),
		}
	}
	return nil
}

func (p *PackageInstaller) env() []imagedef.EnvVar {
	env := p.manager.Env()
	out := make([]imagedef.EnvVar, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, imagedef.EnvVar{Key: imagedef.EnvKey(k), Value: env[k]})
	}
	return out
}
