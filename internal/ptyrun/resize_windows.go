// SPDX-License-Identifier: MPL-2.0

//go:build windows

package ptyrun

func watchResize(int) (<-chan Size, func()) { return nil, func() {} }
