// SPDX-License-Identifier: MPL-2.0

package pkgmgr

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"
	"mvdan.cc/sh/v3/syntax"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

const (
	// Apt is the Debian/Ubuntu package manager. It is the default.
	Apt Name = "apt"
	// DNF is the Fedora/RHEL package manager.
	DNF Name = "dnf"
	// YUM is the legacy RHEL/CentOS package manager, driven like dnf.
	YUM Name = "yum"

	// Default is the manager used when none is configured.
	Default = Apt

	dpkgDocExcludes = "/etc/dpkg/dpkg.cfg.d/excludes"
)

// ErrUnknownManager is returned by New for unsupported manager names.
var ErrUnknownManager = errors.New("unknown package manager")

type (
	// Name identifies a package manager.
	Name string

	// Manager produces the commands for one package manager.
	Manager interface {
		// Name returns the manager name.
		Name() Name
		// Env returns environment variables every command must run with.
		Env() map[string]string
		// RefreshCommand refreshes the package index.
		RefreshCommand() []string
		// InstallCommand installs pkgs in the given order in one invocation.
		InstallCommand(pkgs []imagedef.PackageName) []string
		// ReinstallCommand reinstalls every installed package except exclude.
		// With restoreDocs, documentation path excludes are removed first.
		ReinstallCommand(exclude []imagedef.PackageName, restoreDocs bool) []string
	}

	apt struct{}

	rpm struct {
		binary   string
		confFile string
	}
)

// Names returns the supported manager names.
func Names() []Name { return []Name{Apt, DNF, YUM} }

// String returns the manager name.
func (n Name) String() string { return string(n) }

// Validate returns ErrUnknownManager if n is not supported.
func (n Name) Validate() error {
	if slices.Contains(Names(), n) {
		return nil
	}
	return fmt.Errorf("%w %q (supported: %s)", ErrUnknownManager, n,
		strings.Join(lo.Map(Names(), func(m Name, _ int) string { return string(m) }), ", "))
}

// New returns the Manager for name. An empty name selects Default.
func New(name Name) (Manager, error) {
	if name == "" {
		name = Default
	}
	switch name {
	case Apt:
		return apt{}, nil
	case DNF:
		return rpm{binary: "dnf", confFile: "/etc/dnf/dnf.conf"}, nil
	case YUM:
		return rpm{binary: "yum", confFile: "/etc/yum.conf"}, nil
	}
	return nil, name.Validate()
}

func (apt) Name() Name { return Apt }

func (apt) Env() map[string]string {
	return map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
}

func (apt) RefreshCommand() []string { return []string{"apt-get", "update"} }

func (apt) InstallCommand(pkgs []imagedef.PackageName) []string {
	return append([]string{"apt-get", "install", "-y", "--no-install-recommends"}, strs(pkgs)...)
}

func (apt) ReinstallCommand(exclude []imagedef.PackageName, restoreDocs bool) []string {
	var b strings.Builder
	b.WriteString("set -e\n")
	if restoreDocs {
		fmt.Fprintf(&b, "rm -f %s\n", dpkgDocExcludes)
	}
	b.WriteString(`dpkg-query -W -f='${binary:Package}\n'`)
	if filter := excludeFilter(exclude); filter != "" {
		b.WriteString(" | " + filter)
	}
	b.WriteString(" | xargs -r apt-get install -y --reinstall\n")
	return []string{"/bin/sh", "-c", b.String()}
}

func (r rpm) Name() Name { return Name(r.binary) }

func (rpm) Env() map[string]string { return map[string]string{} }

func (r rpm) RefreshCommand() []string { return []string{r.binary, "makecache", "-y"} }

func (r rpm) InstallCommand(pkgs []imagedef.PackageName) []string {
	return append([]string{r.binary, "install", "-y", "--setopt=install_weak_deps=False"}, strs(pkgs)...)
}

func (r rpm) ReinstallCommand(exclude []imagedef.PackageName, restoreDocs bool) []string {
	var b strings.Builder
	b.WriteString("set -e\n")
	if restoreDocs {
		fmt.Fprintf(&b, "sed -i '/^tsflags=nodocs/d' %s\n", r.confFile)
	}
	b.WriteString(`rpm -qa --qf '%{NAME}\n'`)
	if filter := excludeFilter(exclude); filter != "" {
		b.WriteString(" | " + filter)
	}
	fmt.Fprintf(&b, " | xargs -r %s reinstall -y\n", r.binary)
	return []string{"/bin/sh", "-c", b.String()}
}

// excludeFilter returns a grep stage dropping the excluded packages, with or
// without an architecture suffix, or "" when nothing is excluded.
func excludeFilter(exclude []imagedef.PackageName) string {
	if len(exclude) == 0 {
		return ""
	}
	alts := lo.Map(lo.Uniq(lo.Map(exclude, func(p imagedef.PackageName, _ int) string { return p.Base() })),
		func(s string, _ int) string { return regexp.QuoteMeta(s) })
	pattern := "^(" + strings.Join(alts, "|") + ")(:.*)?$"
	quoted, err := syntax.Quote(pattern, syntax.LangPOSIX)
	if err != nil {
		// unreachable: package names cannot contain NUL
		quoted = "'" + pattern + "'"
	}
	// grep exits 1 when every line is filtered out; that is not a failure here.
	return "{ grep -v -E " + quoted + " || true; }"
}

func strs(pkgs []imagedef.PackageName) []string {
	return lo.Map(pkgs, func(p imagedef.PackageName, _ int) string { return string(p) })
}
