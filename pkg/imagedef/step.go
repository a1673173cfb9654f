// SPDX-License-Identifier: MPL-2.0

package imagedef

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samber/lo"
	"mvdan.cc/sh/v3/syntax"
)

const (
	// StepInstallPackages installs a package list through the package manager.
	StepInstallPackages StepKind = "install_packages"
	// StepReinstallPackages reinstalls every installed package except an exclusion list.
	StepReinstallPackages StepKind = "reinstall_packages"
	// StepCreateUser creates the single provisioned account.
	StepCreateUser StepKind = "create_user"
	// StepCopyFiles copies files from the build context into the image.
	StepCopyFiles StepKind = "copy_files"
	// StepSetEnv assigns environment variables.
	StepSetEnv StepKind = "set_env"
	// StepSetWorkdir selects the working directory.
	StepSetWorkdir StepKind = "set_workdir"
	// StepRun runs a shell script inside the image.
	StepRun StepKind = "run"
	// StepSetCommand sets the default command of the image.
	StepSetCommand StepKind = "set_command"

	// DefaultShell is the login shell given to created users.
	DefaultShell ContainerPath = "/bin/bash"
)

var (
	// ErrInvalidStepKind is the sentinel error wrapped by InvalidStepKindError.
	ErrInvalidStepKind = errors.New("invalid step kind")

	// ErrInvalidStep is the sentinel error for step-level validation failures.
	ErrInvalidStep = errors.New("invalid step")

	// DefaultReinstallExclude lists packages whose reinstallation is known to
	// fail on minimized Ubuntu base images.
	DefaultReinstallExclude = []PackageName{"libgcc-s1"}

	// DefaultCommand is the interactive shell used when no SetCommand is given.
	DefaultCommand = []string{"/bin/bash"}
)

type (
	// StepKind identifies a build step variant.
	StepKind string

	// InvalidStepKindError is returned when a StepKind is not one of the defined kinds.
	InvalidStepKindError struct {
		Value StepKind
	}

	// Step is one atomic, ordered provisioning action.
	Step interface {
		// Kind returns the variant of the step.
		Kind() StepKind
		// Validate checks the step's own fields. Ordering rules that span
		// steps are checked by Definition.Validate.
		Validate() error
		// clone returns a deep copy so definitions never share backing arrays.
		clone() Step
	}

	// InstallPackages installs packages with one index refresh and one install call.
	InstallPackages struct {
		Packages []PackageName
	}

	// ReinstallPackages reinstalls every installed package except Exclude.
	// With RestoreDocs set, documentation excludes of minimized images are
	// removed first so manual pages come back.
	ReinstallPackages struct {
		Exclude     []PackageName
		RestoreDocs bool
	}

	// UserSpec describes the provisioned account.
	UserSpec struct {
		Username Username
		Password Password
		Groups   []GroupName
		Shell    ContainerPath
		Home     ContainerPath
	}

	// CreateUser creates the provisioned account.
	CreateUser struct {
		User UserSpec
	}

	// FileCopy is one source/destination pair.
	// An empty Owner means the current user of the image at that point.
	FileCopy struct {
		Source      SourcePath
		Destination ContainerPath
		Owner       Username
	}

	// CopyFiles copies files or directories from the build context.
	CopyFiles struct {
		Copies []FileCopy
	}

	// EnvVar is a single environment assignment.
	EnvVar struct {
		Key   EnvKey
		Value string
	}

	// SetEnv assigns environment variables in order. File, when set, names a
	// dotenv file in the build context whose assignments are applied before Vars.
	SetEnv struct {
		Vars []EnvVar
		File SourcePath
	}

	// SetWorkdir selects the working directory of later steps and of the image.
	SetWorkdir struct {
		Path ContainerPath
	}

	// Run runs a shell script inside the image. An empty User means the
	// current user.
	Run struct {
		Script string
		User   Username
	}

	// SetCommand sets the default command. It must be the last step.
	SetCommand struct {
		Argv []string
	}
)

// AllStepKinds returns every defined step kind in declaration order.
func AllStepKinds() []StepKind {
	return []StepKind{
		StepInstallPackages,
		StepReinstallPackages,
		StepCreateUser,
		StepCopyFiles,
		StepSetEnv,
		StepSetWorkdir,
		StepRun,
		StepSetCommand,
	}
}

// String returns the string representation of the StepKind.
func (k StepKind) String() string { return string(k) }

// Validate returns an error if the StepKind is not one of the defined kinds.
func (k StepKind) Validate() error {
	if slices.Contains(AllStepKinds(), k) {
		return nil
	}
	return &InvalidStepKindError{Value: k}
}

// Error implements the error interface.
func (e *InvalidStepKindError) Error() string {
	return fmt.Sprintf("invalid step kind %q", e.Value)
}

// Unwrap returns ErrInvalidStepKind for errors.Is() compatibility.
func (e *InvalidStepKindError) Unwrap() error { return ErrInvalidStepKind }

// --- InstallPackages ---

// Kind implements Step.
func (InstallPackages) Kind() StepKind { return StepInstallPackages }

// Validate checks every package name and rejects duplicates.
// An empty list is valid and results in an index refresh only.
func (s InstallPackages) Validate() error {
	return validatePackageList("packages", s.Packages)
}

func (s InstallPackages) clone() Step {
	return InstallPackages{Packages: slices.Clone(s.Packages)}
}

// PackageStrings returns the package names as plain strings, in order.
func (s InstallPackages) PackageStrings() []string {
	return lo.Map(s.Packages, func(p PackageName, _ int) string { return string(p) })
}

// --- ReinstallPackages ---

// Kind implements Step.
func (ReinstallPackages) Kind() StepKind { return StepReinstallPackages }

// Validate checks every excluded package name.
func (s ReinstallPackages) Validate() error {
	return validatePackageList("exclude", s.Exclude)
}

func (s ReinstallPackages) clone() Step {
	return ReinstallPackages{Exclude: slices.Clone(s.Exclude), RestoreDocs: s.RestoreDocs}
}

// --- CreateUser ---

// Kind implements Step.
func (CreateUser) Kind() StepKind { return StepCreateUser }

// Validate checks the account fields.
func (s CreateUser) Validate() error {
	return s.User.Validate()
}

func (s CreateUser) clone() Step {
	u := s.User
	u.Groups = slices.Clone(s.User.Groups)
	return CreateUser{User: u}
}

// HomeDir returns the home directory, defaulting to /home/<username>.
func (u UserSpec) HomeDir() ContainerPath {
	if u.Home != "" {
		return u.Home
	}
	return ContainerPath("/home/" + string(u.Username))
}

// LoginShell returns the login shell, defaulting to DefaultShell.
func (u UserSpec) LoginShell() ContainerPath {
	if u.Shell != "" {
		return u.Shell
	}
	return DefaultShell
}

// InGroup reports whether the account is granted membership of g.
func (u UserSpec) InGroup(g GroupName) bool {
	return slices.Contains(u.Groups, g)
}

// Validate checks username, groups, shell and home.
func (u UserSpec) Validate() error {
	var errs []error
	if err := u.Username.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := u.Password.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, g := range u.Groups {
		if err := g.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if dups := lo.FindDuplicates(u.Groups); len(dups) > 0 {
		errs = append(errs, fmt.Errorf("%w: duplicate group(s) %v", ErrInvalidStep, dups))
	}
	if u.Shell != "" {
		if err := u.Shell.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if u.Home != "" {
		if err := u.Home.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- CopyFiles ---

// Kind implements Step.
func (CopyFiles) Kind() StepKind { return StepCopyFiles }

// Validate checks each source/destination pair. Source existence is checked
// against the build context at execution time.
func (s CopyFiles) Validate() error {
	if len(s.Copies) == 0 {
		return fmt.Errorf("%w: copy_files needs at least one entry", ErrInvalidStep)
	}
	var errs []error
	for _, c := range s.Copies {
		if err := c.Source.Validate(); err != nil {
			errs = append(errs, err)
		}
		if err := c.Destination.Validate(); err != nil {
			errs = append(errs, err)
		}
		if c.Owner != "" {
			if err := c.Owner.Validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s CopyFiles) clone() Step {
	return CopyFiles{Copies: slices.Clone(s.Copies)}
}

// --- SetEnv ---

// Kind implements Step.
func (SetEnv) Kind() StepKind { return StepSetEnv }

// Validate checks every key. Repeated keys are allowed; the later value wins.
func (s SetEnv) Validate() error {
	if len(s.Vars) == 0 && s.File == "" {
		return fmt.Errorf("%w: set_env needs vars or a file", ErrInvalidStep)
	}
	var errs []error
	for _, v := range s.Vars {
		if err := v.Key.Validate(); err != nil {
			errs = append(errs, err)
		}
		if err := ValidateConfigValue("environment variable", string(v.Key), v.Value); err != nil {
			errs = append(errs, err)
		}
	}
	if s.File != "" {
		if err := s.File.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s SetEnv) clone() Step {
	return SetEnv{Vars: slices.Clone(s.Vars), File: s.File}
}

// --- SetWorkdir ---

// Kind implements Step.
func (SetWorkdir) Kind() StepKind { return StepSetWorkdir }

// Validate checks the path is absolute.
func (s SetWorkdir) Validate() error { return s.Path.Validate() }

func (s SetWorkdir) clone() Step { return s }

// --- Run ---

// Kind implements Step.
func (Run) Kind() StepKind { return StepRun }

// Validate rejects empty scripts and scripts that do not parse as POSIX shell.
func (s Run) Validate() error {
	if strings.TrimSpace(s.Script) == "" {
		return fmt.Errorf("%w: run script must be non-empty", ErrInvalidStep)
	}
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(strings.NewReader(s.Script), "run"); err != nil {
		return fmt.Errorf("%w: run script does not parse: %w", ErrInvalidStep, err)
	}
	if s.User != "" {
		return s.User.Validate()
	}
	return nil
}

func (s Run) clone() Step { return s }

// --- SetCommand ---

// Kind implements Step.
func (SetCommand) Kind() StepKind { return StepSetCommand }

// Validate requires a non-empty executable.
func (s SetCommand) Validate() error {
	if len(s.Argv) == 0 || strings.TrimSpace(s.Argv[0]) == "" {
		return fmt.Errorf("%w: set_command needs an executable", ErrInvalidStep)
	}
	return nil
}

func (s SetCommand) clone() Step {
	return SetCommand{Argv: slices.Clone(s.Argv)}
}

func validatePackageList(field string, pkgs []PackageName) error {
	var errs []error
	for _, p := range pkgs {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if dups := lo.FindDuplicatesBy(pkgs, PackageName.Base); len(dups) > 0 {
		errs = append(errs, fmt.Errorf("%w: duplicate %s %v", ErrInvalidStep, field, dups))
	}
	return errors.Join(errs...)
}
