// SPDX-License-Identifier: MPL-2.0

// Package sshserver hands out shells in a built image over SSH. Every
// authenticated session gets a fresh container of the image, removed when the
// session ends, attached to a pseudo-terminal that follows the client's window.
//
// Clients authenticate with an access token used as the SSH password; public
// keys are rejected.
package sshserver
