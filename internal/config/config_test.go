// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/imagesmith/imagesmith/internal/issue"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	if cfg.ContainerEngine != ContainerEngineDocker || cfg.PackageManager != "apt" {
		t.Errorf("engine/manager = %s/%s", cfg.ContainerEngine, cfg.PackageManager)
	}
	if cfg.Build.Backend != BackendContainer || !cfg.Build.Cache || cfg.Build.Retries != 3 {
		t.Errorf("build = %+v", cfg.Build)
	}
	if got := cfg.ServeAddress(); got != "localhost:2222" {
		t.Errorf("ServeAddress() = %q", got)
	}
}

func TestConfigDir_Override(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(Reset)

	got, err := ConfigDir()
	if err != nil || got != dir {
		t.Fatalf("ConfigDir() = %q, %v", got, err)
	}
	path, err := DefaultPath("")
	if err != nil || path != filepath.Join(dir, "config.cue") {
		t.Errorf("DefaultPath() = %q, %v", path, err)
	}
}

func TestConfigDir_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG lookup is Linux-only")
	}
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	got, err := ConfigDir()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(xdg, AppName); got != want {
		t.Errorf("ConfigDir() = %q, want %q", got, want)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	t.Parallel()

	loaded, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Path != "" {
		t.Errorf("Path = %q, want empty", loaded.Path)
	}
	if *loaded.Config != *DefaultConfig() {
		t.Errorf("config = %+v, want defaults", loaded.Config)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeConfig(t, dir, `
container_engine: "podman"
build: {
	backend: "dockerfile"
	retries: 5
}
serve: port: 2300
`)
	loaded, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := loaded.Config
	if loaded.Path != path {
		t.Errorf("Path = %q, want %q", loaded.Path, path)
	}
	if cfg.ContainerEngine != ContainerEnginePodman || cfg.Build.Backend != BackendDockerfile || cfg.Build.Retries != 5 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Serve.Port != 2300 || cfg.Serve.Host != "localhost" {
		t.Errorf("serve = %+v, want file port and default host", cfg.Serve)
	}
	if cfg.PackageManager != "apt" || !cfg.Build.Cache {
		t.Error("unset fields should keep their defaults")
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `container_engine: "podman"`)
	t.Setenv("IMAGESMITH_CONTAINER_ENGINE", "docker")
	t.Setenv("IMAGESMITH_BUILD_RETRIES", "7")
	t.Setenv("IMAGESMITH_UI_VERBOSE", "true")

	loaded, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := loaded.Config
	if cfg.ContainerEngine != ContainerEngineDocker || cfg.Build.Retries != 7 || !cfg.UI.Verbose {
		t.Errorf("config = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"schema violation", `container_engine: "lxc"`, "container_engine"},
		{"unknown field", `colour: "red"`, "colour"},
		{"out of range", `serve: port: 70000`, "port"},
		{"syntax error", `build: {`, "config.cue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: dir})
			if err == nil {
				t.Fatal("Load() should fail")
			}
			var ae *issue.ActionableError
			if !errors.As(err, &ae) || ae.IssueID != issue.ConfigLoadFailedId {
				t.Errorf("error = %#v, want ActionableError linked to the config issue", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q should mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_InvalidEnvironment(t *testing.T) {
	t.Setenv("IMAGESMITH_PACKAGE_MANAGER", "pacman")

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidPackageManager) {
		t.Fatalf("error = %v, want ErrInvalidPackageManager", err)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("error = %v", err)
	}
}

func TestLoad_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWriteDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.cue")
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if err := WriteDefault(path, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second write error = %v, want ErrConfigExists", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced write error = %v", err)
	}

	loaded, err := NewProvider().Load(context.Background(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if *loaded.Config != *DefaultConfig() {
		t.Errorf("round-tripped config = %+v", loaded.Config)
	}
}
