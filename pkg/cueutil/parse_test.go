// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"errors"
	"strings"
	"testing"
)

const testSchema = `
#Image: {
	name:   string & != ""
	size:   int & >=0
	tags: [...string]
	args: [string]: string
	note?: string
}
`

type testImage struct {
	Name string            `json:"name"`
	Size int               `json:"size"`
	Tags []string          `json:"tags"`
	Args map[string]string `json:"args"`
	Note string            `json:"note,omitempty"`
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	t.Run("valid document decodes", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: "lab"
size: 3
tags: ["a", "b"]
args: user: "student"
`)
		res, err := ParseAndDecode[testImage]([]byte(testSchema), data, "#Image")
		if err != nil {
			t.Fatalf("ParseAndDecode() error = %v", err)
		}
		if res.Value.Name != "lab" || res.Value.Size != 3 {
			t.Errorf("unexpected value %+v", res.Value)
		}
		if len(res.Value.Tags) != 2 || res.Value.Tags[1] != "b" {
			t.Errorf("tags = %v", res.Value.Tags)
		}
		if res.Value.Args["user"] != "student" {
			t.Errorf("args = %v", res.Value.Args)
		}
	})

	t.Run("schema constraint violation names the field", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: "lab"
size: -1
tags: []
args: {}
`)
		_, err := ParseAndDecode[testImage]([]byte(testSchema), data, "#Image", WithFilename("lab.cue"))
		if err == nil {
			t.Fatal("expected error")
		}
		if !strings.Contains(err.Error(), "lab.cue") || !strings.Contains(err.Error(), "size") {
			t.Errorf("error should name file and field, got %v", err)
		}
		var docErr *DocumentError
		if !errors.As(err, &docErr) {
			t.Errorf("expected *DocumentError, got %T", err)
		}
	})

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecode[testImage]([]byte(testSchema), []byte(`name: "lab`), "#Image")
		if err == nil {
			t.Fatal("expected syntax error")
		}
	})

	t.Run("overlay fills and overrides args", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: "lab"
size: 1
tags: []
args: user: *"student" | string
`)
		overlay := []byte(`args: user: "alice"
args: shell: "/bin/zsh"
`)
		res, err := ParseAndDecode[testImage]([]byte(testSchema), data, "#Image", WithOverlay("build-args", overlay))
		if err != nil {
			t.Fatalf("ParseAndDecode() error = %v", err)
		}
		if res.Value.Args["user"] != "alice" || res.Value.Args["shell"] != "/bin/zsh" {
			t.Errorf("args = %v", res.Value.Args)
		}
	})

	t.Run("overlay conflict is an error", func(t *testing.T) {
		t.Parallel()

		data := []byte(`
name: "lab"
size: 1
tags: []
args: user: "student"
`)
		_, err := ParseAndDecode[testImage]([]byte(testSchema), data, "#Image", WithOverlay("build-args", []byte(`args: user: "bob"`)))
		if err == nil {
			t.Fatal("expected conflict error")
		}
	})

	t.Run("incomplete document is rejected", func(t *testing.T) {
		t.Parallel()

		data := []byte(`tags: []
args: {}`)
		if _, err := ParseAndDecode[testImage]([]byte(testSchema), data, "#Image"); err == nil {
			t.Error("expected incomplete error with concrete validation")
		}
	})

	t.Run("file size limit", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecode[testImage]([]byte(testSchema), []byte(`name: "lab"`), "#Image", WithMaxFileSize(4))
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("missing schema definition is internal", func(t *testing.T) {
		t.Parallel()

		_, err := ParseAndDecode[testImage]([]byte(testSchema), []byte(`name: "x"`), "#Missing")
		if err == nil || !strings.Contains(err.Error(), "internal error") {
			t.Errorf("expected internal error, got %v", err)
		}
	})
}
