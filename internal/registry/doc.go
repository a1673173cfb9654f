// SPDX-License-Identifier: MPL-2.0

// Package registry resolves image references to manifest digests by asking
// the image's registry, using the local Docker credential configuration.
package registry
