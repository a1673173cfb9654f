// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

func TestResolveSources(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"lessons/01.md": "# ls", "motd": "hi", "lab.env": "B=2\nA=1\n", "bad.env": "1BAD=x\n", "multiline.env": "MOTD=\"two\nlines\"\n"})
	if err := os.Symlink("/etc", filepath.Join(dir, "escape")); err != nil {
		t.Fatal(err)
	}

	t.Run("copies and env files", func(t *testing.T) {
		t.Parallel()
		def := mustDefinition(t,
			imagedef.CopyFiles{Copies: []imagedef.FileCopy{
				{Source: "lessons", Destination: "/srv/lessons"},
				{Source: "motd", Destination: "/etc/motd"},
			}},
			imagedef.SetEnv{File: "lab.env"},
		)
		src, err := resolveSources(def, dir)
		if err != nil {
			t.Fatalf("resolveSources() error = %v", err)
		}
		copies := src.copies[0]
		if len(copies) != 2 || !copies[0].Dir || copies[1].Dir {
			t.Fatalf("copies = %+v", copies)
		}
		if copies[1].HostPath != filepath.Join(src.contextDir, "motd") {
			t.Errorf("host path = %q", copies[1].HostPath)
		}
		want := []imagedef.EnvVar{{Key: "A", Value: "1"}, {Key: "B", Value: "2"}}
		got := src.envFiles[1]
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("env file vars = %v, want %v", got, want)
		}
	})

	t.Run("symlink stays inside context", func(t *testing.T) {
		t.Parallel()
		def := mustDefinition(t, imagedef.CopyFiles{Copies: []imagedef.FileCopy{{Source: "escape/passwd", Destination: "/tmp/p"}}})
		_, err := resolveSources(def, dir)
		if !errors.Is(err, ErrFileCopy) {
			t.Fatalf("error = %v, want ErrFileCopy", err)
		}
	})

	t.Run("invalid env key", func(t *testing.T) {
		t.Parallel()
		def := mustDefinition(t, imagedef.SetEnv{File: "bad.env"})
		_, err := resolveSources(def, dir)
		if !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("error = %v, want ErrInvalidConfiguration", err)
		}
	})

	t.Run("multi-line env value", func(t *testing.T) {
		t.Parallel()
		def := mustDefinition(t, imagedef.SetEnv{File: "multiline.env"})
		_, err := resolveSources(def, dir)
		if !errors.Is(err, ErrInvalidConfiguration) || !errors.Is(err, imagedef.ErrInvalidConfigValue) {
			t.Fatalf("error = %v, want ErrInvalidConfigValue", err)
		}
	})

	t.Run("missing env file", func(t *testing.T) {
		t.Parallel()
		def := mustDefinition(t, imagedef.SetEnv{File: "nope.env"})
		_, err := resolveSources(def, dir)
		var stepErr *StepError
		if !errors.As(err, &stepErr) || stepErr.Kind != imagedef.StepSetEnv {
			t.Fatalf("error = %v, want StepError for set_env", err)
		}
	})
}
