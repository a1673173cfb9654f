// SPDX-License-Identifier: MPL-2.0

// Package container drives Docker and Podman through their CLIs.
//
// The Engine interface covers what image provisioning needs: Build for
// Dockerfile builds, Run/Exec/CopyTo/Commit for the working-container flow,
// and Tag, ImageExists and RemoveImage for output and cache management.
// DockerEngine and PodmanEngine embed BaseCLIEngine, which builds the
// argument lists and runs the binary. Tests replace the binary with
// WithExecCommand.
//
// NewEngine selects the preferred engine and falls back to the other one;
// AutoDetectEngine tries Docker first. Only Linux images are supported.
package container
