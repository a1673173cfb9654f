// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

type (
	// fakeTarget is an in-memory image. It understands just enough of
	// apt-get and useradd to model installed packages and existing accounts.
	fakeTarget struct {
		mu        sync.Mutex
		ops       []string
		commands  []Command
		copies    []CopySpec
		installed map[string]bool
		users     map[string]bool
		// newly lists the packages each apt-get install call added.
		newly [][]string
		// fail maps an argv[0] to the result it should return.
		fail      map[string]ExecResult
		committed *ImageConfig
		tags      []string
		closed    bool
	}

	fakeBackend struct {
		target *fakeTarget
		opened int
		base   imagedef.ImageRef
	}

	fakeImages struct {
		existing map[string]bool
		tagged   [][2]string
	}
)

func newFakeTarget() *fakeTarget {
	return &fakeTarget{
		installed: map[string]bool{},
		users:     map[string]bool{"root": true},
		fail:      map[string]ExecResult{},
	}
}

func (t *fakeTarget) Exec(_ context.Context, cmd Command) (ExecResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands = append(t.commands, cmd)
	t.ops = append(t.ops, "exec:"+strings.Join(cmd.Argv, " "))

	if res, ok := t.fail[cmd.Argv[0]]; ok {
		return res, nil
	}
	switch cmd.Argv[0] {
	case "apt-get":
		if len(cmd.Argv) > 1 && cmd.Argv[1] == "install" {
			var added []string
			for _, a := range cmd.Argv[2:] {
				if strings.HasPrefix(a, "-") || t.installed[a] {
					continue
				}
				t.installed[a] = true
				added = append(added, a)
			}
			t.newly = append(t.newly, added)
		}
	case "useradd":
		name := cmd.Argv[len(cmd.Argv)-1]
		if t.users[name] {
			return ExecResult{ExitCode: 9, Stderr: "useradd: user '" + name + "' already exists"}, nil
		}
		t.users[name] = true
	}
	return ExecResult{}, nil
}

func (t *fakeTarget) Copy(_ context.Context, c CopySpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.copies = append(t.copies, c)
	t.ops = append(t.ops, "copy:"+string(c.Destination))
	return nil
}

func (t *fakeTarget) Commit(_ context.Context, cfg ImageConfig, tags []string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = &cfg
	t.tags = slices.Clone(tags)
	t.ops = append(t.ops, "commit")
	return "sha256:fake", nil
}

func (t *fakeTarget) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// find returns the first command whose argv starts with prefix.
func (t *fakeTarget) find(prefix ...string) (Command, bool) {
	for _, c := range t.commands {
		if len(c.Argv) >= len(prefix) && slices.Equal(c.Argv[:len(prefix)], prefix) {
			return c, true
		}
	}
	return Command{}, false
}

func (t *fakeTarget) count(prefix ...string) int {
	n := 0
	for _, c := range t.commands {
		if len(c.Argv) >= len(prefix) && slices.Equal(c.Argv[:len(prefix)], prefix) {
			n++
		}
	}
	return n
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Open(_ context.Context, base imagedef.ImageRef) (Target, error) {
	b.opened++
	b.base = base
	return b.target, nil
}

func (f *fakeImages) ImageExists(_ context.Context, image string) (bool, error) {
	return f.existing[image], nil
}

func (f *fakeImages) Tag(_ context.Context, source, target string) error {
	f.tagged = append(f.tagged, [2]string{source, target})
	return nil
}
