// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

// UserProvisioner creates the image's single provisioned account.
type UserProvisioner struct{}

// NewUserProvisioner creates a UserProvisioner.
func NewUserProvisioner() *UserProvisioner { return &UserProvisioner{} }

// CreateCommand returns the useradd invocation for spec.
func (UserProvisioner) CreateCommand(spec imagedef.UserSpec) []string {
	argv := []string{
		"useradd", "--create-home",
		"--home-dir", string(spec.HomeDir()),
		"--shell", string(spec.LoginShell()),
	}
	if len(spec.Groups) > 0 {
		groups := lo.Map(spec.Groups, func(g imagedef.GroupName, _ int) string { return string(g) })
		argv = append(argv, "--groups", strings.Join(groups, ","))
	}
	return append(argv, string(spec.Username))
}

// Create adds the account and sets its password through chpasswd on stdin.
// An existing username is reported as a UserCreationError.
func (u UserProvisioner) Create(ctx context.Context, t Target, spec imagedef.UserSpec) error {
	if err := spec.Validate(); err != nil {
		return &UserCreationError{Username: spec.Username, Reason: "invalid user", Err: err}
	}

	res, err := t.Exec(ctx, Command{Argv: u.CreateCommand(spec), User: imagedef.RootUser})
	if err != nil {
		return &UserCreationError{Username: spec.Username, Reason: "useradd could not run", Err: err}
	}
	switch res.ExitCode {
	case 0:
	case useraddExitUserExists:
		return &UserCreationError{Username: spec.Username, Reason: "user already exists", ExitCode: res.ExitCode}
	default:
		return &UserCreationError{
			Username: spec.Username,
			Reason:   "useradd failed: " + lastLines(res.Stderr, 3),
			ExitCode: res.ExitCode,
		}
	}

	if spec.Password.Reveal() == "" {
		return nil
	}
	res, err = t.Exec(ctx, Command{
		Argv:  []string{"chpasswd"},
		User:  imagedef.RootUser,
		Stdin: []byte(fmt.Sprintf("%s:%s\n", spec.Username, spec.Password.Reveal())),
	})
	if err != nil {
		return &UserCreationError{Username: spec.Username, Reason: "chpasswd could not run", Err: err}
	}
	if res.ExitCode != 0 {
		return &UserCreationError{
			Username: spec.Username,
			Reason:   "setting the password failed: " + lastLines(res.Stderr, 3),
			ExitCode: res.ExitCode,
		}
	}
	return nil
}

// lastLines returns at most n trailing non-empty lines of s.
func lastLines(s string, n int) string {
	lines := lo.Filter(strings.Split(strings.TrimSpace(s), "\n"), func(l string, _ int) bool {
		return strings.TrimSpace(l) != ""
	})
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
