// SPDX-License-Identifier: MPL-2.0

// Package provision assembles a container image from an image definition.
//
// An Assembler applies the definition's steps in order to a Target, the
// thing being built. ContainerBackend opens a working container, runs every
// command with exec and commits the result; DockerfileBackend renders the
// same commands into a Dockerfile and builds it with BuildKit secrets.
// PackageInstaller and UserProvisioner turn the package and user steps into
// target commands. Built images are cached by a content hash of the
// definition and its copied sources.
package provision
