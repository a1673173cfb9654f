// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

const defaultFilename = "<input>"

// ParseResult holds a decoded document and the unified CUE value it came from.
type ParseResult[T any] struct {
	// Value is the decoded Go struct.
	Value *T

	// Unified is the schema-unified value, useful for reading fields the
	// Go struct does not model.
	Unified cue.Value
}

// ParseAndDecode compiles schema, looks up schemaPath inside it, unifies the
// user data (and overlays) with it, validates and decodes the result into T.
// Errors from user data are formatted with FormatError; errors that can only
// come from a broken embedded schema are reported as internal errors.
func ParseAndDecode[T any](schema, data []byte, schemaPath string, opts ...Option) (*ParseResult[T], error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	filename := options.filename
	if filename == "" {
		filename = defaultFilename
	}

	if err := CheckFileSize(data, options.maxFileSize, filename); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileBytes(schema)
	if err := schemaValue.Err(); err != nil {
		return nil, fmt.Errorf("internal error: failed to compile schema: %w", err)
	}
	root := schemaValue.LookupPath(cue.ParsePath(schemaPath))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("internal error: schema definition %s not found: %w", schemaPath, err)
	}

	userValue := ctx.CompileBytes(data, cue.Filename(filename))
	if err := userValue.Err(); err != nil {
		return nil, FormatError(err, filename)
	}
	unified := root.Unify(userValue)

	for _, ov := range options.overlays {
		if err := CheckFileSize(ov.data, options.maxFileSize, ov.name); err != nil {
			return nil, err
		}
		v := ctx.CompileBytes(ov.data, cue.Filename(ov.name))
		if err := v.Err(); err != nil {
			return nil, FormatError(err, ov.name)
		}
		unified = unified.Unify(v)
	}

	if err := unified.Validate(cue.Concrete(options.concrete)); err != nil {
		return nil, FormatError(err, filename)
	}

	var result T
	if err := unified.Decode(&result); err != nil {
		return nil, FormatError(err, filename)
	}

	return &ParseResult[T]{Value: &result, Unified: unified}, nil
}
