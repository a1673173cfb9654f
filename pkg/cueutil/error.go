// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ErrFileTooLarge is returned when a document exceeds the configured size limit.
var ErrFileTooLarge = errors.New("file too large")

type (
	// Issue is a single problem found in a CUE document.
	Issue struct {
		// Path is the field path in JSON notation (e.g. "steps[2].user.username").
		Path string
		// Message describes the problem.
		Message string
	}

	// DocumentError lists every issue CUE reported for one document.
	DocumentError struct {
		Filename string
		Issues   []Issue
		cause    error
	}
)

// Error renders "<file>: <path>: <message>" for a single issue and an
// indented list otherwise.
func (e *DocumentError) Error() string {
	lines := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path == "" {
			lines = append(lines, is.Message)
			continue
		}
		lines = append(lines, is.Path+": "+is.Message)
	}
	if len(lines) == 1 {
		return fmt.Sprintf("%s: %s", e.Filename, lines[0])
	}
	return fmt.Sprintf("%s: validation failed:\n  %s", e.Filename, strings.Join(lines, "\n  "))
}

// Unwrap returns the underlying CUE error.
func (e *DocumentError) Unwrap() error { return e.cause }

// Paths returns the field paths of all issues, skipping issues without one.
func (e *DocumentError) Paths() []string {
	paths := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Path != "" {
			paths = append(paths, is.Path)
		}
	}
	return paths
}

// FormatError converts a CUE error into a *DocumentError whose message
// carries the file name and JSON-style field path of every issue.
// Non-CUE errors are wrapped with the file name.
func FormatError(err error, filename string) error {
	if err == nil {
		return nil
	}

	list := cueerrors.Errors(err)
	if len(list) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}

	docErr := &DocumentError{Filename: filename, cause: err}
	for _, e := range list {
		p := formatPath(cueerrors.Path(e))
		msg := e.Error()
		// CUE repeats the path at the start of some messages.
		if p != "" {
			if rest, ok := strings.CutPrefix(msg, p); ok {
				msg = strings.TrimSpace(strings.TrimPrefix(rest, ":"))
			}
		}
		docErr.Issues = append(docErr.Issues, Issue{Path: p, Message: msg})
	}
	return docErr
}

// formatPath turns CUE's ["steps", "0", "user"] into "steps[0].user".
func formatPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		switch {
		case i > 0 && isIndex(part):
			b.WriteString("[" + part + "]")
		case i > 0:
			b.WriteString("." + part)
		default:
			b.WriteString(part)
		}
	}
	return b.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// CheckFileSize returns ErrFileTooLarge when data is larger than maxSize.
func CheckFileSize(data []byte, maxSize int64, filename string) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%s: %w: %d bytes exceeds maximum %d bytes",
			filename, ErrFileTooLarge, len(data), maxSize)
	}
	return nil
}
