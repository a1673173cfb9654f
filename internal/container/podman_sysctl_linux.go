// SPDX-License-Identifier: MPL-2.0

//go:build linux

package container

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const containersConfOverride = "[containers]\ndefault_sysctls = []\n"

// sysctlOverrideOpts points CONTAINERS_CONF_OVERRIDE at a temporary file that
// disables default_sysctls. Rootless Podman otherwise races on
// net.ipv4.ping_group_range when containers start back to back, which the
// build flow does (working container, then session containers).
// podman-remote ignores client-side overrides, so nothing is installed for it.
func sysctlOverrideOpts(binaryPath string) []BaseCLIEngineOption {
	if binaryPath == "" || isRemotePodman(binaryPath) {
		return nil
	}
	path, err := writeContainersConfOverride()
	if err != nil {
		slog.Debug("containers.conf override unavailable, relying on retries", "error", err)
		return nil
	}
	return []BaseCLIEngineOption{
		WithCmdEnvOverride("CONTAINERS_CONF_OVERRIDE", path),
		withCleanupPath(path),
	}
}

func writeContainersConfOverride() (string, error) {
	f, err := os.CreateTemp("", "imagesmith-containers-conf-*.toml")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	_, werr := f.WriteString(containersConfOverride)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write %s: %w", f.Name(), errors.Join(werr, cerr))
	}
	return f.Name(), nil
}

func isRemotePodman(binaryPath string) bool {
	if strings.Contains(filepath.Base(binaryPath), "remote") {
		return true
	}
	resolved, err := filepath.EvalSymlinks(binaryPath)
	return err == nil && strings.Contains(filepath.Base(resolved), "remote")
}
