// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/imagesmith/imagesmith/internal/pkgmgr"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

func newTestInstaller(t *testing.T, name pkgmgr.Name) *PackageInstaller {
	t.Helper()
	mgr, err := pkgmgr.New(name)
	if err != nil {
		t.Fatalf("pkgmgr.New(%q) error = %v", name, err)
	}
	return NewPackageInstaller(mgr)
}

func TestPackageInstaller_Install(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pkgs    []imagedef.PackageName
		wantOps []string
	}{
		{
			name:    "empty list refreshes only",
			wantOps: []string{"exec:apt-get update"},
		},
		{
			name: "one install call preserving order",
			pkgs: []imagedef.PackageName{"vim", "sudo", "less"},
			wantOps: []string{
				"exec:apt-get update",
				"exec:apt-get install -y --no-install-recommends vim sudo less",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			target := newFakeTarget()
			if err := newTestInstaller(t, pkgmgr.Apt).Install(context.Background(), target, tt.pkgs); err != nil {
				t.Fatalf("Install() error = %v", err)
			}
			if !slices.Equal(target.ops, tt.wantOps) {
				t.Errorf("ops = %q, want %q", target.ops, tt.wantOps)
			}
		})
	}
}

func TestPackageInstaller_RunsAsRootNonInteractive(t *testing.T) {
	t.Parallel()

	target := newFakeTarget()
	if err := newTestInstaller(t, pkgmgr.Apt).Install(context.Background(), target, []imagedef.PackageName{"tree"}); err != nil {
		t.Fatal(err)
	}
	for _, c := range target.commands {
		if c.User != imagedef.RootUser {
			t.Errorf("%v ran as %q", c.Argv, c.User)
		}
		if !slices.Contains(c.Env, imagedef.EnvVar{Key: "DEBIAN_FRONTEND", Value: "noninteractive"}) {
			t.Errorf("%v env = %v", c.Argv, c.Env)
		}
	}
}

func TestPackageInstaller_Idempotent(t *testing.T) {
	t.Parallel()

	target := newFakeTarget()
	inst := newTestInstaller(t, pkgmgr.Apt)
	pkgs := []imagedef.PackageName{"sudo", "man-db", "tree"}

	for range 2 {
		if err := inst.Install(context.Background(), target, pkgs); err != nil {
			t.Fatalf("Install() error = %v", err)
		}
	}
	if len(target.newly) != 2 {
		t.Fatalf("install calls = %d, want 2", len(target.newly))
	}
	if len(target.newly[0]) != 3 {
		t.Errorf("first run installed %v", target.newly[0])
	}
	if len(target.newly[1]) != 0 {
		t.Errorf("second run installed %v, want nothing new", target.newly[1])
	}
}

func TestPackageInstaller_InstallFailure(t *testing.T) {
	t.Parallel()

	target := newFakeTarget()
	target.fail["apt-get"] = ExecResult{ExitCode: 100, Stderr: "line1\nE: Could not get lock\n"}

	err := newTestInstaller(t, pkgmgr.Apt).Install(context.Background(), target, []imagedef.PackageName{"tree"})
	var pme *PackageManagerError
	if !errors.As(err, &pme) {
		t.Fatalf("error = %v, want *PackageManagerError", err)
	}
	if pme.Operation != OpRefresh || pme.ExitCode != 100 || pme.Stderr != "line1\nE: Could not get lock" {
		t.Errorf("PackageManagerError = %+v", pme)
	}
	if len(target.commands) != 1 {
		t.Errorf("commands = %d, install must not run after a failed refresh", len(target.commands))
	}
}

func TestPackageInstaller_Reinstall(t *testing.T) {
	t.Parallel()

	target := newFakeTarget()
	step := imagedef.ReinstallPackages{Exclude: imagedef.DefaultReinstallExclude, RestoreDocs: true}
	if err := newTestInstaller(t, pkgmgr.DNF).Reinstall(context.Background(), target, step); err != nil {
		t.Fatalf("Reinstall() error = %v", err)
	}
	if len(target.commands) != 2 {
		t.Fatalf("commands = %d, want refresh and reinstall", len(target.commands))
	}
	if got := target.commands[0].Argv; !slices.Equal(got, []string{"dnf", "makecache", "-y"}) {
		t.Errorf("refresh = %q", got)
	}
}
