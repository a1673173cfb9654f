// SPDX-License-Identifier: MPL-2.0

// Package config loads imagesmith settings with Viper, using CUE as the file
// format.
//
// The file is read from $XDG_CONFIG_HOME/imagesmith/config.cue (or
// ~/Library/Application Support/imagesmith/config.cue on macOS and
// %APPDATA%\imagesmith\config.cue on Windows), validated against the embedded
// #Config schema and merged over the defaults. IMAGESMITH_* environment
// variables override both; nested keys use underscores, e.g.
// IMAGESMITH_BUILD_BACKEND.
package config
