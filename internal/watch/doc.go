// SPDX-License-Identifier: MPL-2.0

// Package watch reruns a build when its inputs change. It watches the build
// context recursively and the definition file by name, and coalesces bursts
// of filesystem events into one callback per quiet period.
package watch
