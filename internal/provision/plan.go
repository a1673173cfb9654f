// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// PlannedStep is a step as it will be applied: its position, a one-line
// summary and the account it runs as.
type PlannedStep struct {
	Index   int
	Kind    imagedef.StepKind
	Summary string
	User    imagedef.Username
}

// Plan lists the steps of def in order without running anything.
func Plan(def *imagedef.Definition) []PlannedStep {
	current := imagedef.RootUser
	steps := def.Steps()
	out := make([]PlannedStep, 0, len(steps))
	for i, s := range steps {
		user := current
		switch st := s.(type) {
		case imagedef.InstallPackages, imagedef.ReinstallPackages, imagedef.CreateUser:
			user = imagedef.RootUser
		case imagedef.Run:
			user = lo.CoalesceOrEmpty(st.User, current)
		}
		out = append(out, PlannedStep{Index: i, Kind: s.Kind(), Summary: DescribeStep(s), User: user})
		if cu, ok := s.(imagedef.CreateUser); ok {
			current = cu.User.Username
		}
	}
	return out
}

// DescribeStep returns a one-line summary of s. Passwords are never included.
func DescribeStep(s imagedef.Step) string {
	switch st := s.(type) {
	case imagedef.InstallPackages:
		if len(st.Packages) == 0 {
			return "refresh package index"
		}
		return "install " + strings.Join(st.PackageStrings(), " ")
	case imagedef.ReinstallPackages:
		desc := "reinstall installed packages"
		if len(st.Exclude) > 0 {
			desc += fmt.Sprintf(" except %s", strings.Join(lo.Map(st.Exclude, func(p imagedef.PackageName, _ int) string { return string(p) }), ", "))
		}
		if st.RestoreDocs {
			desc += " (restore docs)"
		}
		return desc
	case imagedef.CreateUser:
		u := st.User
		desc := fmt.Sprintf("create user %s (home %s, shell %s)", u.Username, u.HomeDir(), u.LoginShell())
		if len(u.Groups) > 0 {
			desc += " in " + strings.Join(lo.Map(u.Groups, func(g imagedef.GroupName, _ int) string { return string(g) }), ",")
		}
		return desc
	case imagedef.CopyFiles:
		return strings.Join(lo.Map(st.Copies, func(c imagedef.FileCopy, _ int) string {
			return fmt.Sprintf("copy %s -> %s", c.Source, c.Destination)
		}), "; ")
	case imagedef.SetEnv:
		keys := lo.Map(st.Vars, func(v imagedef.EnvVar, _ int) string { return string(v.Key) })
		if st.File != "" {
			keys = append([]string{"@" + string(st.File)}, keys...)
		}
		return "set env " + strings.Join(keys, " ")
	case imagedef.SetWorkdir:
		return "workdir " + string(st.Path)
	case imagedef.Run:
		first, _, _ := strings.Cut(strings.TrimSpace(st.Script), "\n")
		return "run " + first
	case imagedef.SetCommand:
		return fmt.Sprintf("command %q", st.Argv)
	}
	return string(s.Kind())
}
