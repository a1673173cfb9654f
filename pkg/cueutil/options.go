// SPDX-License-Identifier: MPL-2.0

package cueutil

// DefaultMaxFileSize is the largest document ParseAndDecode accepts (5MB).
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

type (
	// overlay is an extra CUE document unified on top of the user data.
	overlay struct {
		name string
		data []byte
	}

	parseOptions struct {
		maxFileSize int64
		concrete    bool
		filename    string
		overlays    []overlay
	}

	// Option configures ParseAndDecode.
	Option func(*parseOptions)
)

func defaultOptions() parseOptions {
	return parseOptions{
		maxFileSize: DefaultMaxFileSize,
		concrete:    true,
	}
}

// WithMaxFileSize sets the maximum accepted document size in bytes.
func WithMaxFileSize(size int64) Option {
	return func(o *parseOptions) {
		o.maxFileSize = size
	}
}

// WithConcrete controls whether every value must be concrete after
// unification. Defaults to true.
func WithConcrete(concrete bool) Option {
	return func(o *parseOptions) {
		o.concrete = concrete
	}
}

// WithFilename names the document in error messages.
func WithFilename(name string) Option {
	return func(o *parseOptions) {
		o.filename = name
	}
}

// WithOverlay unifies an additional CUE document with the user data before
// validation. Overlays are applied in the order given; an empty document is
// ignored. Conflicting concrete values surface as validation errors.
func WithOverlay(name string, data []byte) Option {
	return func(o *parseOptions) {
		if len(data) == 0 {
			return
		}
		o.overlays = append(o.overlays, overlay{name: name, data: data})
	}
}
