// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/imagesmith/imagesmith/cmd/imagesmith"

func main() {
	cmd.Execute()
}
