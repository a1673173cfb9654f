// SPDX-License-Identifier: MPL-2.0

package provision

import "time"

type (
	// Config holds the settings of an Assembler.
	Config struct {
		// ContextDir is the build context that copy and env file sources are
		// resolved against. Default: the current directory.
		ContextDir string

		// CacheEnabled turns the build cache on. It needs an ImageStore.
		CacheEnabled bool

		// ForceRebuild ignores a cached image but still refreshes the cache tag.
		ForceRebuild bool

		// CacheRepository is the repository cached images are tagged into.
		CacheRepository string

		// CleanupTimeout bounds target cleanup, which runs even when the
		// build context was cancelled.
		CleanupTimeout time.Duration
	}

	// Option configures a Config.
	Option func(*Config)
)

// DefaultConfig returns a Config with caching on and the current directory
// as build context.
func DefaultConfig() *Config {
	return &Config{
		ContextDir:      ".",
		CacheEnabled:    true,
		CacheRepository: DefaultCacheRepository,
		CleanupTimeout:  time.Minute,
	}
}

// WithContextDir sets the build context directory.
func WithContextDir(dir string) Option {
	return func(c *Config) { c.ContextDir = dir }
}

// WithCache enables or disables the build cache.
func WithCache(enabled bool) Option {
	return func(c *Config) { c.CacheEnabled = enabled }
}

// WithForceRebuild bypasses cached images.
func WithForceRebuild(force bool) Option {
	return func(c *Config) { c.ForceRebuild = force }
}

// WithCacheRepository sets the cache repository. Tests use a unique
// repository to avoid sharing cached images.
func WithCacheRepository(repo string) Option {
	return func(c *Config) { c.CacheRepository = repo }
}

// Apply applies opts to c.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}
