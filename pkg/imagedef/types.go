// SPDX-License-Identifier: MPL-2.0

package imagedef

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/distribution/reference"
)

const (
	// MaxUsernameLength is the longest username accepted by useradd on Linux.
	MaxUsernameLength = 32

	redactedPassword = "<redacted>"
)

var (
	// ErrInvalidPackageName is the sentinel error wrapped by InvalidValueError for package names.
	ErrInvalidPackageName = errors.New("invalid package name")

	// ErrInvalidUsername is the sentinel error wrapped by InvalidValueError for usernames.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrInvalidGroupName is the sentinel error wrapped by InvalidValueError for group names.
	ErrInvalidGroupName = errors.New("invalid group name")

	// ErrInvalidImageRef is the sentinel error wrapped by InvalidValueError for image references.
	ErrInvalidImageRef = errors.New("invalid image reference")

	// ErrInvalidEnvKey is the sentinel error wrapped by InvalidValueError for environment keys.
	ErrInvalidEnvKey = errors.New("invalid environment variable name")

	// ErrInvalidContainerPath is the sentinel error wrapped by InvalidValueError for in-image paths.
	ErrInvalidContainerPath = errors.New("invalid container path")

	// ErrInvalidSourcePath is the sentinel error wrapped by InvalidValueError for build-context paths.
	ErrInvalidSourcePath = errors.New("invalid source path")

	// ErrInvalidConfigValue is the sentinel error wrapped by InvalidValueError for
	// environment and label values.
	ErrInvalidConfigValue = errors.New("invalid image config value")

	// ErrInvalidPassword is the sentinel error wrapped by InvalidValueError for passwords.
	ErrInvalidPassword = errors.New("invalid password")

	packageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9+._-]*(:[a-z0-9_-]+)?(=[A-Za-z0-9.+:~_-]+)?$`)
	usernamePattern    = regexp.MustCompile(`^[a-z_][a-z0-9_-]*[$]?$`)
	groupNamePattern   = regexp.MustCompile(`^[a-z_][a-z0-9_-]*$`)
	envKeyPattern      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

type (
	// PackageName is a package as understood by the target package manager,
	// optionally suffixed with ":arch" or "=version".
	PackageName string

	// Username is a POSIX account name.
	Username string

	// Password is a plaintext credential. It is only ever handed to the
	// credential-setting tool on stdin or as a build secret; String redacts it.
	Password string

	// GroupName is a POSIX group name (e.g. "sudo").
	GroupName string

	// ImageRef is a container image reference (e.g. "ubuntu:22.04").
	ImageRef string

	// EnvKey is an environment variable name.
	EnvKey string

	// ContainerPath is an absolute path inside the image.
	ContainerPath string

	// SourcePath is a path relative to the build context directory.
	SourcePath string

	// InvalidValueError reports a single invalid field value.
	InvalidValueError struct {
		Kind   string
		Value  string
		Reason string

		sentinel error
	}
)

// Error implements the error interface.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Value, e.Reason)
}

// Unwrap returns the kind-specific sentinel so callers can use errors.Is.
func (e *InvalidValueError) Unwrap() error { return e.sentinel }

func invalid(sentinel error, kind, value, reason string) error {
	return &InvalidValueError{Kind: kind, Value: value, Reason: reason, sentinel: sentinel}
}

// String returns the package name.
func (p PackageName) String() string { return string(p) }

// Base returns the package name without any ":arch" or "=version" suffix.
func (p PackageName) Base() string {
	s := string(p)
	if i := strings.IndexAny(s, ":="); i >= 0 {
		return s[:i]
	}
	return s
}

// Validate returns an error if the package name is empty or malformed.
func (p PackageName) Validate() error {
	if !packageNamePattern.MatchString(string(p)) {
		return invalid(ErrInvalidPackageName, "package name", string(p),
			"must start with a lowercase letter or digit and contain only [a-z0-9+._-]")
	}
	return nil
}

// String returns the username.
func (u Username) String() string { return string(u) }

// Validate returns an error unless the username is a valid POSIX account name.
func (u Username) Validate() error {
	s := string(u)
	switch {
	case s == "":
		return invalid(ErrInvalidUsername, "username", s, "must be non-empty")
	case len(s) > MaxUsernameLength:
		return invalid(ErrInvalidUsername, "username", s,
			fmt.Sprintf("must be at most %d characters", MaxUsernameLength))
	case !usernamePattern.MatchString(s):
		return invalid(ErrInvalidUsername, "username", s,
			"must match [a-z_][a-z0-9_-]*[$]?")
	}
	return nil
}

// String redacts the password.
func (p Password) String() string {
	if p == "" {
		return ""
	}
	return redactedPassword
}

// GoString redacts the password in %#v output.
func (p Password) GoString() string { return p.String() }

// Reveal returns the plaintext password.
func (p Password) Reveal() string { return string(p) }

// Validate rejects line breaks and NUL bytes. The password is fed to
// chpasswd as a "user:password" line, so a line break would start another
// account's entry. The error never contains the password.
func (p Password) Validate() error {
	if strings.ContainsAny(string(p), "\n\r\x00") {
		return invalid(ErrInvalidPassword, "password", p.String(), "must not contain line breaks or NUL bytes")
	}
	return nil
}

// ValidateConfigValue rejects line breaks in a value recorded in the image
// config as an ENV or LABEL entry. name identifies the entry; the value itself
// is not repeated in the error.
func ValidateConfigValue(kind, name, value string) error {
	if strings.ContainsAny(value, "\n\r") {
		return invalid(ErrInvalidConfigValue, kind, name, "value must not contain line breaks")
	}
	return nil
}

// String returns the group name.
func (g GroupName) String() string { return string(g) }

// Validate returns an error unless the group name is a valid POSIX group name.
func (g GroupName) Validate() error {
	if len(g) > MaxUsernameLength || !groupNamePattern.MatchString(string(g)) {
		return invalid(ErrInvalidGroupName, "group name", string(g),
			"must match [a-z_][a-z0-9_-]* and be at most 32 characters")
	}
	return nil
}

// String returns the image reference as written.
func (r ImageRef) String() string { return string(r) }

// Validate returns an error if the reference cannot be parsed.
func (r ImageRef) Validate() error {
	if _, err := reference.ParseNormalizedNamed(string(r)); err != nil {
		return invalid(ErrInvalidImageRef, "image reference", string(r), err.Error())
	}
	return nil
}

// Normalize returns the fully-qualified form of the reference, adding the
// default registry and ":latest" when no tag or digest is present.
//
//	"ubuntu"        -> "docker.io/library/ubuntu:latest"
//	"ubuntu@sha256" -> "docker.io/library/ubuntu@sha256:..."
func (r ImageRef) Normalize() (ImageRef, error) {
	named, err := reference.ParseNormalizedNamed(string(r))
	if err != nil {
		return "", invalid(ErrInvalidImageRef, "image reference", string(r), err.Error())
	}
	if canonical, ok := named.(reference.Canonical); ok {
		return ImageRef(canonical.String()), nil
	}
	return ImageRef(reference.TagNameOnly(named).String()), nil
}

// Repository returns the normalized repository without tag or digest.
func (r ImageRef) Repository() (string, error) {
	named, err := reference.ParseNormalizedNamed(string(r))
	if err != nil {
		return "", invalid(ErrInvalidImageRef, "image reference", string(r), err.Error())
	}
	return reference.Domain(named) + "/" + reference.Path(named), nil
}

// WithDigest returns the reference pinned to the given manifest digest.
func (r ImageRef) WithDigest(digest string) (ImageRef, error) {
	repo, err := r.Repository()
	if err != nil {
		return "", err
	}
	pinned := ImageRef(repo + "@" + digest)
	if err := pinned.Validate(); err != nil {
		return "", err
	}
	return pinned, nil
}

// String returns the environment key.
func (k EnvKey) String() string { return string(k) }

// Validate returns an error unless the key is a portable environment variable name.
func (k EnvKey) Validate() error {
	if !envKeyPattern.MatchString(string(k)) {
		return invalid(ErrInvalidEnvKey, "environment variable name", string(k),
			"must match [A-Za-z_][A-Za-z0-9_]*")
	}
	return nil
}

// String returns the path.
func (p ContainerPath) String() string { return string(p) }

// Validate returns an error unless the path is absolute.
func (p ContainerPath) Validate() error {
	s := string(p)
	if strings.TrimSpace(s) == "" {
		return invalid(ErrInvalidContainerPath, "container path", s, "must be non-empty")
	}
	if !path.IsAbs(s) {
		return invalid(ErrInvalidContainerPath, "container path", s, "must be absolute")
	}
	return nil
}

// Clean returns the lexically cleaned path.
func (p ContainerPath) Clean() ContainerPath {
	return ContainerPath(path.Clean(string(p)))
}

// Within reports whether p is dir or lies beneath it.
func (p ContainerPath) Within(dir ContainerPath) bool {
	c, d := string(p.Clean()), string(dir.Clean())
	if d == "/" {
		return true
	}
	return c == d || strings.HasPrefix(c, d+"/")
}

// String returns the path.
func (p SourcePath) String() string { return string(p) }

// Validate returns an error if the path is empty or absolute.
// Escapes out of the build context are rejected when the path is resolved.
func (p SourcePath) Validate() error {
	s := string(p)
	if strings.TrimSpace(s) == "" {
		return invalid(ErrInvalidSourcePath, "source path", s, "must be non-empty")
	}
	if path.IsAbs(s) {
		return invalid(ErrInvalidSourcePath, "source path", s, "must be relative to the build context")
	}
	return nil
}
