// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	digest "github.com/opencontainers/go-digest"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

var (
	// ErrImageNotFound is returned when the registry has no manifest for a reference.
	ErrImageNotFound = errors.New("image not found in registry")

	// ErrUnauthorized is returned when the registry rejects the credentials.
	ErrUnauthorized = errors.New("registry authentication failed")
)

type (
	// Resolver looks up manifest digests.
	Resolver struct {
		keychain  authn.Keychain
		transport http.RoundTripper
		insecure  bool
	}

	// Option configures a Resolver.
	Option func(*Resolver)

	// ResolveError reports a failed lookup.
	ResolveError struct {
		Ref        imagedef.ImageRef
		StatusCode int
		Err        error
	}
)

// WithKeychain sets the credential source. Default: authn.DefaultKeychain.
func WithKeychain(k authn.Keychain) Option {
	return func(r *Resolver) { r.keychain = k }
}

// WithTransport sets the HTTP transport.
func WithTransport(t http.RoundTripper) Option {
	return func(r *Resolver) { r.transport = t }
}

// WithInsecure allows plain-HTTP registries.
func WithInsecure(insecure bool) Option {
	return func(r *Resolver) { r.insecure = insecure }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{keychain: authn.DefaultKeychain, transport: remote.DefaultTransport}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.Ref, e.Err)
}

// Unwrap returns the sentinel matching the status code and the cause.
func (e *ResolveError) Unwrap() []error {
	errs := []error{e.Err}
	switch e.StatusCode {
	case http.StatusNotFound:
		errs = append(errs, ErrImageNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		errs = append(errs, ErrUnauthorized)
	}
	return errs
}

// Resolve returns the manifest digest ref points to. References that already
// carry a digest are returned without contacting the registry.
func (r *Resolver) Resolve(ctx context.Context, ref imagedef.ImageRef) (digest.Digest, error) {
	parsed, err := r.parse(ref)
	if err != nil {
		return "", err
	}
	if d, ok := parsed.(name.Digest); ok {
		return digest.Parse(d.DigestStr())
	}

	desc, err := remote.Head(parsed,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(r.keychain),
		remote.WithTransport(r.transport),
	)
	if err != nil {
		rerr := &ResolveError{Ref: ref, Err: err}
		var terr *transport.Error
		if errors.As(err, &terr) {
			rerr.StatusCode = terr.StatusCode
		}
		return "", rerr
	}
	return digest.Parse(desc.Digest.String())
}

// Pin resolves ref and returns it rewritten as repository@digest.
func (r *Resolver) Pin(ctx context.Context, ref imagedef.ImageRef) (imagedef.ImageRef, digest.Digest, error) {
	d, err := r.Resolve(ctx, ref)
	if err != nil {
		return "", "", err
	}
	pinned, err := ref.WithDigest(d.String())
	if err != nil {
		return "", "", err
	}
	return pinned, d, nil
}

// PinDefinition returns def with its base image pinned to a digest.
func (r *Resolver) PinDefinition(ctx context.Context, def *imagedef.Definition) (*imagedef.Definition, digest.Digest, error) {
	pinned, d, err := r.Pin(ctx, def.Base())
	if err != nil {
		return nil, "", err
	}
	out, err := def.WithBase(pinned)
	if err != nil {
		return nil, "", err
	}
	return out, d, nil
}

func (r *Resolver) parse(ref imagedef.ImageRef) (name.Reference, error) {
	var opts []name.Option
	if r.insecure {
		opts = append(opts, name.Insecure)
	}
	parsed, err := name.ParseReference(string(ref), opts...)
	if err != nil {
		return nil, &ResolveError{Ref: ref, Err: err}
	}
	return parsed, nil
}
