// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the imagesmith CLI.
//
// Every command receives an App, the composition root holding the config
// provider, the container engine factory and the registry resolver. Tests
// build an App with fakes and drive the commands through newRootCommand.
package cmd
