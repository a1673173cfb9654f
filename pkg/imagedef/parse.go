// SPDX-License-Identifier: MPL-2.0

package imagedef

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"

	"github.com/imagesmith/imagesmith/pkg/cueutil"
)

const (
	// FormatCUE selects the CUE definition format.
	FormatCUE Format = "cue"
	// FormatTOML selects the TOML definition format.
	FormatTOML Format = "toml"

	// DefaultDefinitionName is the filename reported for the embedded default definition.
	DefaultDefinitionName = "default.cue"
)

var (
	//go:embed definition_schema.cue
	definitionSchema []byte

	//go:embed default.cue
	defaultDefinition []byte

	// ErrUnknownFormat is returned when a file extension maps to no format.
	ErrUnknownFormat = errors.New("unknown definition format")
)

type (
	// Format is a definition file format.
	Format string

	parseOptions struct {
		filename  string
		buildArgs map[string]string
	}

	// ParseOption configures Parse, ParseFile and Default.
	ParseOption func(*parseOptions)

	rawDefinition struct {
		Name   string            `json:"name" toml:"name"`
		Base   string            `json:"base" toml:"base"`
		Tags   []string          `json:"tags,omitempty" toml:"tags"`
		Labels map[string]string `json:"labels,omitempty" toml:"labels"`
		Args   map[string]string `json:"args,omitempty" toml:"args"`
		Steps  []rawStep         `json:"steps" toml:"steps"`
	}

	rawStep struct {
		Kind        string      `json:"kind" toml:"kind"`
		Packages    []string    `json:"packages,omitempty" toml:"packages"`
		Exclude     []string    `json:"exclude,omitempty" toml:"exclude"`
		RestoreDocs bool        `json:"restore_docs,omitempty" toml:"restore_docs"`
		User        *rawUser    `json:"user,omitempty" toml:"user"`
		Copies      []rawCopy   `json:"copies,omitempty" toml:"copies"`
		Vars        []rawEnvVar `json:"vars,omitempty" toml:"vars"`
		File        string      `json:"file,omitempty" toml:"file"`
		Path        string      `json:"path,omitempty" toml:"path"`
		Script      string      `json:"script,omitempty" toml:"script"`
		RunAs       string      `json:"run_as,omitempty" toml:"run_as"`
		Argv        []string    `json:"argv,omitempty" toml:"argv"`
	}

	rawUser struct {
		Username string   `json:"username,omitempty" toml:"username"`
		Password string   `json:"password,omitempty" toml:"password"`
		Groups   []string `json:"groups,omitempty" toml:"groups"`
		Shell    string   `json:"shell,omitempty" toml:"shell"`
		Home     string   `json:"home,omitempty" toml:"home"`
	}

	rawCopy struct {
		Source      string `json:"source" toml:"source"`
		Destination string `json:"destination" toml:"destination"`
		Owner       string `json:"owner,omitempty" toml:"owner"`
	}

	rawEnvVar struct {
		Key   string `json:"key" toml:"key"`
		Value string `json:"value" toml:"value"`
	}
)

// WithFilename names the document in error messages.
func WithFilename(name string) ParseOption {
	return func(o *parseOptions) { o.filename = name }
}

// WithBuildArgs overrides build arguments declared by the definition.
func WithBuildArgs(args map[string]string) ParseOption {
	return func(o *parseOptions) { o.buildArgs = maps.Clone(args) }
}

// FormatFromPath returns the format implied by the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w for %q (expected .cue or .toml)", ErrUnknownFormat, path)
	}
}

// ParseFile reads and parses a definition, choosing the format by extension.
func ParseFile(path string, opts ...ParseOption) (*Definition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition: %w", err)
	}
	return Parse(data, format, append([]ParseOption{WithFilename(path)}, opts...)...)
}

// Default returns the embedded shell-practice image definition.
func Default(opts ...ParseOption) (*Definition, error) {
	return Parse(defaultDefinition, FormatCUE, append([]ParseOption{WithFilename(DefaultDefinitionName)}, opts...)...)
}

// DefaultSource returns the embedded default definition document.
func DefaultSource() []byte {
	return append([]byte(nil), defaultDefinition...)
}

// Parse decodes and validates a definition document.
func Parse(data []byte, format Format, opts ...ParseOption) (*Definition, error) {
	o := parseOptions{filename: "<input>." + string(format)}
	for _, opt := range opts {
		opt(&o)
	}

	switch format {
	case FormatCUE:
		return parseCUE(data, o)
	case FormatTOML:
		return parseTOML(data, o)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
}

func parseCUE(data []byte, o parseOptions) (*Definition, error) {
	overlay, err := argsOverlay(o.buildArgs)
	if err != nil {
		return nil, err
	}
	res, err := cueutil.ParseAndDecode[rawDefinition](definitionSchema, data, "#Definition",
		cueutil.WithFilename(o.filename),
		cueutil.WithOverlay("build-args", overlay),
	)
	if err != nil {
		return nil, err
	}
	raw := res.Value
	return raw.toDefinition(ResolveArgs(raw.Args), nil)
}

func parseTOML(data []byte, o parseOptions) (*Definition, error) {
	if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, o.filename); err != nil {
		return nil, err
	}
	var raw rawDefinition
	if err := toml.Unmarshal(data, &raw); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%s:%d:%d: %s", o.filename, row, col, derr.Error())
		}
		return nil, fmt.Errorf("%s: %w", o.filename, err)
	}

	args := ResolveArgs(lo.Assign(raw.Args, o.buildArgs))
	expand := func(s string) (string, error) { return expandPlaceholders(s, args) }
	return raw.toDefinition(args, expand)
}

// toDefinition converts the decoded document. expand, when non-nil, is
// applied to every user-supplied string value except the step kind.
func (r *rawDefinition) toDefinition(args map[string]string, expand func(string) (string, error)) (*Definition, error) {
	var errs []error
	x := func(s string) string {
		if expand == nil {
			return s
		}
		out, err := expand(s)
		if err != nil {
			errs = append(errs, err)
			return s
		}
		return out
	}
	xs := func(in []string) []string { return lo.Map(in, func(s string, _ int) string { return x(s) }) }

	steps := make([]Step, 0, len(r.Steps))
	for i, rs := range r.Steps {
		step, err := rs.toStep(x, xs, args)
		if err != nil {
			errs = append(errs, fmt.Errorf("step %d: %w", i, err))
			continue
		}
		steps = append(steps, step)
	}

	tags := lo.Map(xs(r.Tags), func(s string, _ int) ImageRef { return ImageRef(s) })
	labels := make(map[string]string, len(r.Labels))
	for k, v := range r.Labels {
		labels[k] = x(v)
	}
	base := ImageRef(x(r.Base))

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidDefinition, r.Name, errors.Join(errs...))
	}
	return New(r.Name, base, steps, WithTags(tags...), WithLabels(labels), WithArgs(args))
}

func (rs rawStep) toStep(x func(string) string, xs func([]string) []string, args map[string]string) (Step, error) {
	kind := StepKind(rs.Kind)
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	switch kind {
	case StepInstallPackages:
		return InstallPackages{Packages: toPackages(xs(rs.Packages))}, nil
	case StepReinstallPackages:
		exclude := toPackages(xs(rs.Exclude))
		if rs.Exclude == nil {
			exclude = append([]PackageName(nil), DefaultReinstallExclude...)
		}
		return ReinstallPackages{Exclude: exclude, RestoreDocs: rs.RestoreDocs}, nil
	case StepCreateUser:
		u := rawUser{}
		if rs.User != nil {
			u = *rs.User
		}
		spec := UserSpec{
			Username: Username(lo.CoalesceOrEmpty(x(u.Username), args[ArgUsername])),
			Password: Password(lo.CoalesceOrEmpty(x(u.Password), args[ArgPassword])),
			Groups:   lo.Map(xs(u.Groups), func(s string, _ int) GroupName { return GroupName(s) }),
			Shell:    ContainerPath(x(u.Shell)),
			Home:     ContainerPath(x(u.Home)),
		}
		return CreateUser{User: spec}, nil
	case StepCopyFiles:
		copies := lo.Map(rs.Copies, func(c rawCopy, _ int) FileCopy {
			return FileCopy{
				Source:      SourcePath(x(c.Source)),
				Destination: ContainerPath(x(c.Destination)),
				Owner:       Username(x(c.Owner)),
			}
		})
		return CopyFiles{Copies: copies}, nil
	case StepSetEnv:
		vars := lo.Map(rs.Vars, func(v rawEnvVar, _ int) EnvVar {
			return EnvVar{Key: EnvKey(v.Key), Value: x(v.Value)}
		})
		return SetEnv{Vars: vars, File: SourcePath(x(rs.File))}, nil
	case StepSetWorkdir:
		return SetWorkdir{Path: ContainerPath(x(rs.Path))}, nil
	case StepRun:
		return Run{Script: x(rs.Script), User: Username(x(rs.RunAs))}, nil
	case StepSetCommand:
		return SetCommand{Argv: xs(rs.Argv)}, nil
	}
	return nil, &InvalidStepKindError{Value: kind}
}

func toPackages(in []string) []PackageName {
	return lo.Map(in, func(s string, _ int) PackageName { return PackageName(s) })
}
