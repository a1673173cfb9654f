// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by tests across packages.
package testutil
