// SPDX-License-Identifier: MPL-2.0

package imagedef

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

const (
	// ArgUsername names the build argument holding the provisioned username.
	ArgUsername = "username"
	// ArgPassword names the build argument holding the provisioned password.
	ArgPassword = "password"

	// DefaultUsername is the username used when no build argument overrides it.
	DefaultUsername = "student"
)

var (
	// ErrInvalidBuildArg is returned for malformed --build-arg values.
	ErrInvalidBuildArg = errors.New("invalid build argument")

	argKeyPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	placeholderRef = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)
)

// ParseBuildArgs turns "key=value" pairs into a map. Later pairs override
// earlier ones. Values may contain '='.
func ParseBuildArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("%w %q: expected key=value", ErrInvalidBuildArg, p)
		}
		if !argKeyPattern.MatchString(k) {
			return nil, fmt.Errorf("%w %q: key must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalidBuildArg, k)
		}
		out[k] = v
	}
	return out, nil
}

// ResolveArgs applies the built-in defaults to args: username defaults to
// DefaultUsername and password defaults to the username. The input is not
// modified.
func ResolveArgs(args map[string]string) map[string]string {
	out := maps.Clone(args)
	if out == nil {
		out = map[string]string{}
	}
	if out[ArgUsername] == "" {
		out[ArgUsername] = DefaultUsername
	}
	if out[ArgPassword] == "" {
		out[ArgPassword] = out[ArgUsername]
	}
	return out
}

// argsOverlay renders build arguments as a CUE document unifying into the
// definition's args struct. Keys are emitted in sorted order.
func argsOverlay(args map[string]string) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	var b strings.Builder
	b.WriteString("args: {}\n")
	for _, k := range slices.Sorted(maps.Keys(args)) {
		if !argKeyPattern.MatchString(k) {
			return nil, fmt.Errorf("%w %q: key must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalidBuildArg, k)
		}
		v, err := json.Marshal(args[k])
		if err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidBuildArg, k, err)
		}
		fmt.Fprintf(&b, "args: %q: %s\n", k, v)
	}
	return []byte(b.String()), nil
}

// expandPlaceholders replaces {{key}} with args[key]. Unknown keys are
// reported so typos do not silently produce empty values.
func expandPlaceholders(s string, args map[string]string) (string, error) {
	var missing []string
	out := placeholderRef.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderRef.FindStringSubmatch(m)[1]
		v, ok := args[key]
		if !ok {
			missing = append(missing, key)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: undefined placeholder(s) %s", ErrInvalidBuildArg, strings.Join(missing, ", "))
	}
	return out, nil
}
