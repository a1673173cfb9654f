// SPDX-License-Identifier: MPL-2.0

// Package cueutil decodes user-supplied CUE documents against an embedded schema.
//
// Every CUE document imagesmith reads (image definitions and the user
// configuration) goes through the same flow:
//
//  1. Compile the embedded schema and look up its root definition
//  2. Compile the user document plus any overlays and unify them with the root
//  3. Validate and decode into a Go struct
//
// # Usage
//
//	//go:embed definition_schema.cue
//	var schemaBytes []byte
//
//	result, err := cueutil.ParseAndDecode[rawDefinition](
//	    schemaBytes,
//	    data,
//	    "#Definition",
//	    cueutil.WithFilename("image.cue"),
//	    cueutil.WithOverlay("build-args", overlay),
//	)
//	if err != nil {
//	    return nil, err // carries file and CUE path
//	}
package cueutil
