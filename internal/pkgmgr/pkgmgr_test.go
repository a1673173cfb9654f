// SPDX-License-Identifier: MPL-2.0

package pkgmgr

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    Name
		want    Name
		wantErr bool
	}{
		{name: "", want: Apt},
		{name: Apt, want: Apt},
		{name: DNF, want: DNF},
		{name: YUM, want: YUM},
		{name: "pacman", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			t.Parallel()

			m, err := New(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownManager) {
					t.Errorf("expected ErrUnknownManager, got %v", err)
				}
				return
			}
			if m.Name() != tt.want {
				t.Errorf("Name() = %q, want %q", m.Name(), tt.want)
			}
		})
	}
}

func TestApt(t *testing.T) {
	t.Parallel()

	m, _ := New(Apt)
	if m.Env()["DEBIAN_FRONTEND"] != "noninteractive" {
		t.Errorf("Env() = %v", m.Env())
	}
	if got := m.RefreshCommand(); !slices.Equal(got, []string{"apt-get", "update"}) {
		t.Errorf("RefreshCommand() = %v", got)
	}

	got := m.InstallCommand([]imagedef.PackageName{"sudo", "man-db", "vim"})
	want := []string{"apt-get", "install", "-y", "--no-install-recommends", "sudo", "man-db", "vim"}
	if !slices.Equal(got, want) {
		t.Errorf("InstallCommand() = %v, want %v", got, want)
	}
}

func TestApt_ReinstallCommand(t *testing.T) {
	t.Parallel()

	m, _ := New(Apt)

	cmd := m.ReinstallCommand([]imagedef.PackageName{"libgcc-s1", "libstdc++6"}, true)
	if len(cmd) != 3 || cmd[0] != "/bin/sh" || cmd[1] != "-c" {
		t.Fatalf("ReinstallCommand() = %v", cmd)
	}
	script := cmd[2]
	for _, want := range []string{
		"rm -f /etc/dpkg/dpkg.cfg.d/excludes",
		`dpkg-query -W -f='${binary:Package}\n'`,
		`grep -v -E '^(libgcc-s1|libstdc\+\+6)(:.*)?$'`,
		"xargs -r apt-get install -y --reinstall",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script missing %q:\n%s", want, script)
		}
	}

	plain := m.ReinstallCommand(nil, false)[2]
	if strings.Contains(plain, "grep") || strings.Contains(plain, "rm -f") {
		t.Errorf("unexpected filter or doc restore:\n%s", plain)
	}
}

func TestRPM(t *testing.T) {
	t.Parallel()

	for _, name := range []Name{DNF, YUM} {
		m, _ := New(name)
		bin := string(name)

		if got := m.RefreshCommand(); got[0] != bin || got[1] != "makecache" {
			t.Errorf("%s RefreshCommand() = %v", name, got)
		}
		if got := m.InstallCommand([]imagedef.PackageName{"sudo"}); got[0] != bin || got[len(got)-1] != "sudo" {
			t.Errorf("%s InstallCommand() = %v", name, got)
		}
		script := m.ReinstallCommand([]imagedef.PackageName{"glibc"}, true)[2]
		if !strings.Contains(script, "tsflags=nodocs") || !strings.Contains(script, bin+" reinstall -y") {
			t.Errorf("%s reinstall script:\n%s", name, script)
		}
		if len(m.Env()) != 0 {
			t.Errorf("%s Env() = %v", name, m.Env())
		}
	}
}
