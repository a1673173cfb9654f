// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/joho/godotenv"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

var errEscapesContext = errors.New("path escapes the build context")

// sources holds every host input of a definition, resolved before any step
// runs so a missing file fails the build without touching the engine.
type sources struct {
	contextDir string
	copies     map[int][]CopySpec
	envFiles   map[int][]imagedef.EnvVar
}

// resolveSources resolves copy sources and reads env files for every step.
// Failures are returned as StepErrors for the step that names the input.
func resolveSources(def *imagedef.Definition, contextDir string) (*sources, error) {
	root, err := filepath.Abs(contextDir)
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("build context %q: %w", contextDir, err))
	}
	src := &sources{contextDir: root, copies: map[int][]CopySpec{}, envFiles: map[int][]imagedef.EnvVar{}}

	for i, step := range def.Steps() {
		switch s := step.(type) {
		case imagedef.CopyFiles:
			for _, c := range s.Copies {
				spec, err := resolveCopy(root, c)
				if err != nil {
					return nil, &StepError{Index: i, Kind: s.Kind(), Err: err}
				}
				src.copies[i] = append(src.copies[i], spec)
			}
		case imagedef.SetEnv:
			if s.File == "" {
				continue
			}
			vars, err := readEnvFile(root, s.File)
			if err != nil {
				return nil, &StepError{Index: i, Kind: s.Kind(), Err: err}
			}
			src.envFiles[i] = vars
		}
	}
	return src, nil
}

// resolveInContext joins rel onto root, rejecting lexical escapes and
// resolving symlinks without leaving root.
func resolveInContext(root string, rel string) (string, error) {
	lexical := filepath.Join(root, filepath.FromSlash(rel))
	if lexical != root && !strings.HasPrefix(lexical, root+string(filepath.Separator)) {
		return "", errEscapesContext
	}
	return securejoin.SecureJoin(root, filepath.FromSlash(rel))
}

func resolveCopy(root string, c imagedef.FileCopy) (CopySpec, error) {
	fail := func(err error) (CopySpec, error) {
		return CopySpec{}, &FileCopyError{Source: c.Source, Destination: c.Destination, Err: err}
	}
	host, err := resolveInContext(root, string(c.Source))
	if err != nil {
		return fail(err)
	}
	info, err := os.Stat(host)
	if err != nil {
		return fail(err)
	}
	return CopySpec{
		HostPath:    host,
		Dir:         info.IsDir(),
		Source:      c.Source,
		Destination: c.Destination,
		Owner:       c.Owner,
	}, nil
}

func readEnvFile(root string, file imagedef.SourcePath) ([]imagedef.EnvVar, error) {
	host, err := resolveInContext(root, string(file))
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("env file %s: %w", file, err))
	}
	f, err := os.Open(host)
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("env file %s: %w", file, err))
	}
	defer func() { _ = f.Close() }()

	values, err := godotenv.Parse(f)
	if err != nil {
		return nil, invalidConfig(fmt.Errorf("env file %s: %w", file, err))
	}
	var vars envList
	for _, k := range sortedKeys(values) {
		key := imagedef.EnvKey(k)
		if err := key.Validate(); err != nil {
			return nil, invalidConfig(fmt.Errorf("env file %s: %w", file, err))
		}
		if err := imagedef.ValidateConfigValue("environment variable", k, values[k]); err != nil {
			return nil, invalidConfig(fmt.Errorf("env file %s: %w", file, err))
		}
		vars.set(key, values[k])
	}
	return vars.clone(), nil
}
