// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "build image"},
			expected: "failed to build image",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "parse image definition", Resource: "./lab.cue"},
			expected: "failed to parse image definition: ./lab.cue",
		},
		{
			name:     "full context",
			err:      &ActionableError{Operation: "create user", Resource: "student", Cause: errors.New("exit status 9")},
			expected: "failed to create user: student: exit status 9",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_UnwrapChain(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("sentinel")
	err := NewErrorContext().WithOperation("install packages").Wrap(fmt.Errorf("apt-get: %w", sentinel)).BuildError()
	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should reach the wrapped sentinel")
	}
	var ae *ActionableError
	if !errors.As(fmt.Errorf("outer: %w", err), &ae) {
		t.Fatal("errors.As should find the ActionableError")
	}
	if ae.Operation != "install packages" {
		t.Errorf("Operation = %q", ae.Operation)
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	err := &ActionableError{
		Operation:   "copy files",
		Resource:    "./tutorial",
		Suggestions: []string{"Check the source path", "Check the owner exists"},
		Cause:       fmt.Errorf("stat: %w", errors.New("no such file")),
	}

	plain := err.Format(false)
	for _, want := range []string{"failed to copy files: ./tutorial", "  • Check the source path", "  • Check the owner exists"} {
		if !strings.Contains(plain, want) {
			t.Errorf("Format(false) missing %q:\n%s", want, plain)
		}
	}
	if strings.Contains(plain, "Error chain") {
		t.Error("Format(false) should not include the error chain")
	}

	verbose := err.Format(true)
	for _, want := range []string{"Error chain:", "1. stat: no such file", "2. no such file"} {
		if !strings.Contains(verbose, want) {
			t.Errorf("Format(true) missing %q:\n%s", want, verbose)
		}
	}
}

func TestActionableError_HasSuggestions(t *testing.T) {
	t.Parallel()

	if (&ActionableError{Operation: "x"}).HasSuggestions() {
		t.Error("no suggestions expected")
	}
	if !(&ActionableError{Operation: "x", Suggestions: []string{"y"}}).HasSuggestions() {
		t.Error("suggestions expected")
	}
}

func TestErrorContext_Build(t *testing.T) {
	t.Parallel()

	if NewErrorContext().WithResource("lab.cue").Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if NewErrorContext().BuildError() != nil {
		t.Error("BuildError() without operation should return a nil interface")
	}

	err := NewErrorContext().
		WithOperation("load config").
		WithResource("/etc/imagesmith/config.cue").
		WithSuggestion("Check syntax").
		WithSuggestions("Verify permissions", "Run 'imagesmith config init'").
		WithIssue(ConfigLoadFailedId).
		Wrap(errors.New("parse error")).
		Build()
	if err == nil {
		t.Fatal("Build() returned nil")
	}
	if err.Resource != "/etc/imagesmith/config.cue" || len(err.Suggestions) != 3 || err.IssueID != ConfigLoadFailedId {
		t.Errorf("unexpected error: %+v", err)
	}
}

func TestErrorContext_Reuse(t *testing.T) {
	t.Parallel()

	ctx := NewErrorContext().WithOperation("process file").WithSuggestion("Check format")
	err1 := ctx.Wrap(errors.New("error 1")).Build()
	ctx.WithSuggestion("another")
	err2 := ctx.Wrap(errors.New("error 2")).Build()

	if err1.Cause.Error() == err2.Cause.Error() {
		t.Error("reused context should allow different causes")
	}
	if len(err1.Suggestions) != 1 {
		t.Errorf("built errors must not share suggestion storage, got %q", err1.Suggestions)
	}
}

func TestWrapHelpers(t *testing.T) {
	t.Parallel()

	cause := errors.New("original")
	if e := WrapWithOperation(cause, "tag image"); e.Operation != "tag image" || !errors.Is(e, cause) {
		t.Errorf("WrapWithOperation() = %+v", e)
	}
	if e := WrapWithContext(cause, "tag image", "lab:1"); e.Resource != "lab:1" || !errors.Is(e, cause) {
		t.Errorf("WrapWithContext() = %+v", e)
	}
	if WrapWithOperation(nil, "x") != nil || WrapWithContext(nil, "x", "y") != nil {
		t.Error("wrapping nil should return nil")
	}
	if NewActionableError("x").Cause != nil {
		t.Error("NewActionableError should have no cause")
	}
}

func TestIssueFor(t *testing.T) {
	t.Parallel()

	inner := NewErrorContext().WithOperation("create user").WithIssue(UserCreationFailedId).Wrap(errors.New("exit 9")).BuildError()
	outer := NewErrorContext().WithOperation("build image").Wrap(fmt.Errorf("step 2: %w", inner)).BuildError()

	tests := []struct {
		name string
		err  error
		want *Issue
	}{
		{"nil", nil, nil},
		{"plain error", errors.New("x"), nil},
		{"direct", inner, Get(UserCreationFailedId)},
		{"nested without own issue", outer, Get(UserCreationFailedId)},
		{"outer issue wins", NewErrorContext().WithOperation("x").WithIssue(FileCopyFailedId).Wrap(inner).BuildError(), Get(FileCopyFailedId)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IssueFor(tt.err); got != tt.want {
				t.Errorf("IssueFor() = %v, want %v", got, tt.want)
			}
		})
	}
}
