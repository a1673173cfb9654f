// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults", func(*Config) {}, nil},
		{"engine", func(c *Config) { c.ContainerEngine = "lxc" }, ErrInvalidContainerEngine},
		{"package manager", func(c *Config) { c.PackageManager = "apk" }, ErrInvalidPackageManager},
		{"backend", func(c *Config) { c.Build.Backend = "buildah" }, ErrInvalidBuildBackend},
		{"retries", func(c *Config) { c.Build.Retries = 0 }, ErrInvalidConfig},
		{"port", func(c *Config) { c.Serve.Port = 0 }, ErrInvalidConfig},
		{"context", func(c *Config) { c.Build.Context = " " }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateReportsAllFields(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.ContainerEngine = "lxc"
	cfg.Serve.Port = -1
	var ice *InvalidConfigError
	if !errors.As(cfg.Validate(), &ice) || len(ice.FieldErrors) != 2 {
		t.Fatalf("Validate() = %v, want two field errors", ice)
	}
}
