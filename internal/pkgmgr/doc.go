// SPDX-License-Identifier: MPL-2.0

// Package pkgmgr builds the command lines imagesmith runs inside an image to
// refresh package indexes, install packages and reinstall installed packages.
//
// Managers only produce argv slices and environment; executing them is the
// caller's job, which keeps the command shapes testable without a container.
package pkgmgr
