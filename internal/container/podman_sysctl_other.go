// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package container

// sysctlOverrideOpts returns nothing outside Linux: Podman runs inside a VM
// there and a host-side CONTAINERS_CONF_OVERRIDE never reaches it. Start
// failures caused by the race are retried instead.
func sysctlOverrideOpts(_ string) []BaseCLIEngineOption {
	return nil
}
