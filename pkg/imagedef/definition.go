// SPDX-License-Identifier: MPL-2.0

package imagedef

import (
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"

	"github.com/distribution/reference"
	"github.com/samber/lo"
)

// RootUser is the account steps run as before CreateUser.
const RootUser Username = "root"

var (
	// ErrInvalidDefinition is wrapped by every error returned from Definition.Validate.
	ErrInvalidDefinition = errors.New("invalid image definition")

	namePattern = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*$`)
)

type (
	// Definition is a validated, immutable image definition.
	Definition struct {
		name   string
		base   ImageRef
		tags   []ImageRef
		args   map[string]string
		labels map[string]string
		steps  []Step
	}

	// Option configures a Definition built with New.
	Option func(*Definition)

	// OrderError reports a step placed where the ordering rules forbid it.
	OrderError struct {
		Index  int
		Kind   StepKind
		Reason string
	}
)

// Error implements the error interface.
func (e *OrderError) Error() string {
	return fmt.Sprintf("step %d (%s): %s", e.Index, e.Kind, e.Reason)
}

// WithTags sets the output image references.
func WithTags(tags ...ImageRef) Option {
	return func(d *Definition) { d.tags = slices.Clone(tags) }
}

// WithLabels sets the image labels.
func WithLabels(labels map[string]string) Option {
	return func(d *Definition) { d.labels = maps.Clone(labels) }
}

// WithArgs sets the resolved build arguments recorded on the definition.
func WithArgs(args map[string]string) Option {
	return func(d *Definition) { d.args = maps.Clone(args) }
}

// New builds and validates a Definition. Steps are deep-copied so later
// changes to the caller's slice do not affect the definition.
// When no tags are given, the single tag imagesmith/<name>:latest is used.
func New(name string, base ImageRef, steps []Step, opts ...Option) (*Definition, error) {
	d := &Definition{
		name:  name,
		base:  base,
		steps: cloneSteps(steps),
	}
	for _, opt := range opts {
		opt(d)
	}
	if len(d.tags) == 0 && name != "" {
		d.tags = []ImageRef{ImageRef("imagesmith/" + name + ":latest")}
	}
	if d.args == nil {
		d.args = map[string]string{}
	}
	if d.labels == nil {
		d.labels = map[string]string{}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Name returns the definition name.
func (d *Definition) Name() string { return d.name }

// Base returns the base image reference as written.
func (d *Definition) Base() ImageRef { return d.base }

// Tags returns a copy of the output image references.
func (d *Definition) Tags() []ImageRef { return slices.Clone(d.tags) }

// Args returns a copy of the resolved build arguments.
func (d *Definition) Args() map[string]string { return maps.Clone(d.args) }

// Labels returns a copy of the image labels.
func (d *Definition) Labels() map[string]string { return maps.Clone(d.labels) }

// Steps returns a deep copy of the ordered steps.
func (d *Definition) Steps() []Step { return cloneSteps(d.steps) }

// Len returns the number of steps.
func (d *Definition) Len() int { return len(d.steps) }

// WithBase returns a copy of the definition using a different base image,
// typically the digest-pinned form of the current one.
func (d *Definition) WithBase(base ImageRef) (*Definition, error) {
	return New(d.name, base, d.steps, WithTags(d.tags...), WithLabels(d.labels), WithArgs(d.args))
}

// WithExtraTags returns a copy of the definition with tags appended.
// Tags already present are not duplicated.
func (d *Definition) WithExtraTags(tags ...ImageRef) (*Definition, error) {
	all := lo.Uniq(append(slices.Clone(d.tags), tags...))
	return New(d.name, d.base, d.steps, WithTags(all...), WithLabels(d.labels), WithArgs(d.args))
}

// ProvisionedUser returns the account created by the CreateUser step, if any.
func (d *Definition) ProvisionedUser() (UserSpec, bool) {
	for _, s := range d.steps {
		if cu, ok := s.(CreateUser); ok {
			return cu.clone().(CreateUser).User, true
		}
	}
	return UserSpec{}, false
}

// Command returns the image's default command: the argv of the SetCommand
// step or DefaultCommand when there is none.
func (d *Definition) Command() []string {
	if n := len(d.steps); n > 0 {
		if sc, ok := d.steps[n-1].(SetCommand); ok {
			return slices.Clone(sc.Argv)
		}
	}
	return slices.Clone(DefaultCommand)
}

// Validate checks every field and every ordering rule and returns all
// problems at once, joined and wrapped in ErrInvalidDefinition.
func (d *Definition) Validate() error {
	var errs []error

	if !namePattern.MatchString(d.name) {
		errs = append(errs, fmt.Errorf("name %q must be lowercase alphanumerics separated by '.', '_' or '-'", d.name))
	}
	if err := d.base.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("base: %w", err))
	}
	if len(d.tags) == 0 {
		errs = append(errs, errors.New("at least one output tag is required"))
	}
	for _, t := range d.tags {
		if err := validateOutputTag(t); err != nil {
			errs = append(errs, fmt.Errorf("tags: %w", err))
		}
	}
	for _, k := range slices.Sorted(maps.Keys(d.labels)) {
		if err := ValidateConfigValue("label", k, d.labels[k]); err != nil {
			errs = append(errs, fmt.Errorf("labels: %w", err))
		}
	}
	for i, s := range d.steps {
		if s == nil {
			errs = append(errs, fmt.Errorf("step %d: missing step", i))
			continue
		}
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, s.Kind(), err))
		}
	}
	errs = append(errs, d.validateOrder()...)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", ErrInvalidDefinition, d.name, errors.Join(errs...))
}

// validateOrder enforces the rules that span steps. It only inspects the
// order; it never changes it.
func (d *Definition) validateOrder() []error {
	var errs []error

	createAt := -1
	var user UserSpec
	for i, s := range d.steps {
		if cu, ok := s.(CreateUser); ok {
			if createAt >= 0 {
				errs = append(errs, &OrderError{Index: i, Kind: s.Kind(),
					Reason: fmt.Sprintf("only one create_user step is allowed (first at step %d)", createAt)})
				continue
			}
			createAt, user = i, cu.User
		}
	}

	for i, s := range d.steps {
		if s == nil {
			continue
		}
		if sc, ok := s.(SetCommand); ok && i != len(d.steps)-1 {
			errs = append(errs, &OrderError{Index: i, Kind: sc.Kind(), Reason: "set_command must be the last step"})
		}
		if user.Username == "" || i > createAt {
			continue
		}
		if reason := referencesUser(s, user); reason != "" {
			errs = append(errs, &OrderError{Index: i, Kind: s.Kind(),
				Reason: fmt.Sprintf("%s before create_user (step %d)", reason, createAt)})
		}
	}
	return errs
}

// referencesUser returns a description of how s depends on the provisioned
// account, or "" when it does not.
func referencesUser(s Step, user UserSpec) string {
	u, home := user.Username, user.HomeDir()
	switch st := s.(type) {
	case CopyFiles:
		for _, c := range st.Copies {
			if c.Owner == u {
				return fmt.Sprintf("copy owned by %q", u)
			}
		}
	case Run:
		if st.User == u {
			return fmt.Sprintf("run as %q", u)
		}
	case SetWorkdir:
		if st.Path.Within(home) {
			return fmt.Sprintf("workdir inside %s", home)
		}
	}
	return ""
}

func validateOutputTag(t ImageRef) error {
	named, err := reference.ParseNormalizedNamed(string(t))
	if err != nil {
		return invalid(ErrInvalidImageRef, "output tag", string(t), err.Error())
	}
	if _, ok := named.(reference.Digested); ok {
		return invalid(ErrInvalidImageRef, "output tag", string(t), "output tags cannot carry a digest")
	}
	return nil
}

func cloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, s := range steps {
		if s != nil {
			out[i] = s.clone()
		}
	}
	return out
}
