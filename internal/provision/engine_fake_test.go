// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/imagesmith/imagesmith/internal/container"
)

// fakeEngine records the engine calls the backends make. Methods the
// backends never call are left to the embedded nil interface.
type fakeEngine struct {
	container.Engine

	mu       sync.Mutex
	calls    []string
	runs     []container.RunOptions
	execs    [][]string
	execOpts []container.ExecOptions
	stdins   []string
	copied   [][2]string
	commits  []container.CommitOptions
	tagged   [][2]string
	removed  []container.ContainerID

	// runErrs are returned by successive Run calls.
	runErrs []error
	// execExit maps an argv[0] to its exit code.
	execExit map[string]int

	builds []container.BuildOptions
	// dockerfile and secrets capture the build context during Build.
	dockerfile string
	secrets    map[string]string
	buildErr   error
	// buildErrFor, when set, derives the build error from the Dockerfile.
	buildErrFor func(dockerfile string) error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{execExit: map[string]int{}, secrets: map[string]string{}}
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Run(_ context.Context, opts container.RunOptions) (*container.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "run")
	f.runs = append(f.runs, opts)
	if len(f.runErrs) > 0 {
		err := f.runErrs[0]
		f.runErrs = f.runErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &container.RunResult{ContainerID: "c0ffee"}, nil
}

func (f *fakeEngine) Exec(_ context.Context, _ container.ContainerID, command []string, opts container.ExecOptions) (*container.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "exec")
	f.execs = append(f.execs, command)
	f.execOpts = append(f.execOpts, opts)
	if opts.Stdin != nil {
		b, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return nil, err
		}
		f.stdins = append(f.stdins, string(b))
	}
	code := f.execExit[command[0]]
	if code != 0 && opts.Stderr != nil {
		_, _ = io.WriteString(opts.Stderr, command[0]+": failed\n")
	}
	return &container.RunResult{ExitCode: code}, nil
}

func (f *fakeEngine) CopyTo(_ context.Context, _ container.ContainerID, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "cp")
	f.copied = append(f.copied, [2]string{src, dst})
	return nil
}

func (f *fakeEngine) Commit(_ context.Context, _ container.ContainerID, opts container.CommitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "commit")
	f.commits = append(f.commits, opts)
	return "sha256:committed", nil
}

func (f *fakeEngine) Tag(_ context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "tag")
	f.tagged = append(f.tagged, [2]string{source, target})
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, id container.ContainerID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "rm")
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeEngine) Build(_ context.Context, opts container.BuildOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "build")
	f.builds = append(f.builds, opts)
	if err := opts.Validate(); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(opts.ContextDir, opts.Dockerfile))
	if err != nil {
		return errors.Join(errors.New("dockerfile missing from context"), err)
	}
	f.dockerfile = string(data)
	for _, s := range opts.Secrets {
		b, err := os.ReadFile(s.Source)
		if err != nil {
			return err
		}
		f.secrets[s.ID] = string(b)
	}
	if f.buildErrFor != nil {
		return f.buildErrFor(f.dockerfile)
	}
	return f.buildErr
}
