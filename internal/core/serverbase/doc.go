// SPDX-License-Identifier: MPL-2.0

// Package serverbase holds the lifecycle state machine shared by imagesmith's
// long-running servers. A server embeds Base, drives the transitions from its
// own Start and Stop methods, and registers its background goroutines so Stop
// can wait for them.
package serverbase
