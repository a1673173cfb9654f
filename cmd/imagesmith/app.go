// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	digest "github.com/opencontainers/go-digest"

	"github.com/imagesmith/imagesmith/internal/config"
	"github.com/imagesmith/imagesmith/internal/container"
	"github.com/imagesmith/imagesmith/internal/registry"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

type (
	// EngineFactory returns a usable container engine, preferring the named one.
	EngineFactory func(preferred config.ContainerEngine) (container.Engine, error)

	// BaseResolver looks up base image digests in their registry.
	BaseResolver interface {
		Resolve(ctx context.Context, ref imagedef.ImageRef) (digest.Digest, error)
		PinDefinition(ctx context.Context, def *imagedef.Definition) (*imagedef.Definition, digest.Digest, error)
	}

	// App wires CLI services and shared dependencies. Command handlers read
	// the loaded configuration from it and delegate through its services.
	App struct {
		Config   config.Provider
		Engines  EngineFactory
		Resolver BaseResolver

		stdin  *os.File
		stdout io.Writer
		stderr io.Writer

		// Set by the root command before any subcommand runs.
		cfg        *config.Config
		cfgPath    string
		loadedPath string
		verbose    bool
		engineArg  string
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config   config.Provider
		Engines  EngineFactory
		Resolver BaseResolver
		Stdin    *os.File
		Stdout   io.Writer
		Stderr   io.Writer
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Engines == nil {
		deps.Engines = func(preferred config.ContainerEngine) (container.Engine, error) {
			return container.NewEngine(container.EngineType(preferred))
		}
	}
	if deps.Resolver == nil {
		deps.Resolver = registry.NewResolver()
	}
	return &App{
		Config:   deps.Config,
		Engines:  deps.Engines,
		Resolver: deps.Resolver,
		stdin:    deps.Stdin,
		stdout:   deps.Stdout,
		stderr:   deps.Stderr,
		cfg:      config.DefaultConfig(),
	}
}

// engine returns the engine selected by --engine, falling back to the config.
func (a *App) engine() (container.Engine, error) {
	preferred := a.cfg.ContainerEngine
	if a.engineArg != "" {
		preferred = config.ContainerEngine(a.engineArg)
	}
	eng, err := a.Engines(preferred)
	if err != nil {
		return nil, engineError(preferred, err)
	}
	return eng, nil
}
