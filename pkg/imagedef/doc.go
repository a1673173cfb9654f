// SPDX-License-Identifier: MPL-2.0

// Package imagedef defines the declarative image definition consumed by imagesmith.
//
// A Definition is a base image reference plus an ordered list of typed build steps
// (InstallPackages, ReinstallPackages, CreateUser, CopyFiles, SetEnv, SetWorkdir,
// Run, SetCommand). Definitions are validated as a whole before anything executes:
// field values are checked by their typed Validate methods, and ordering rules
// (a single CreateUser, user references after it, SetCommand last) are enforced
// without ever reordering steps.
//
// Definitions are usually parsed from CUE (the primary format) or TOML. In CUE
// documents build arguments are referenced as args.<key>; in TOML as {{key}}.
//
//	def, err := imagedef.ParseFile("image.cue",
//	    imagedef.WithBuildArgs(map[string]string{"username": "ada"}))
//	if err != nil {
//	    return err
//	}
//	for i, step := range def.Steps() {
//	    fmt.Println(i, step.Kind())
//	}
//
// Steps are immutable once defined: the Definition deep-copies steps on
// construction and Steps() returns copies.
package imagedef
