// SPDX-License-Identifier: MPL-2.0

package imagedef

import (
	"errors"
	"fmt"
	"testing"
)

func TestPackageName_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pkg     PackageName
		wantErr bool
	}{
		{name: "simple", pkg: "sudo"},
		{name: "with plus and dot", pkg: "libstdc++6.0"},
		{name: "arch suffix", pkg: "libc6:amd64"},
		{name: "version suffix", pkg: "vim=2:8.2.3995-1ubuntu2"},
		{name: "empty", pkg: "", wantErr: true},
		{name: "uppercase", pkg: "Sudo", wantErr: true},
		{name: "leading dash", pkg: "-y", wantErr: true},
		{name: "shell metachar", pkg: "sudo;rm", wantErr: true},
		{name: "space", pkg: "man db", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.pkg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("PackageName(%q).Validate() error = %v, wantErr %v", tt.pkg, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPackageName) {
				t.Errorf("error does not wrap ErrInvalidPackageName: %v", err)
			}
		})
	}
}

func TestPackageName_Base(t *testing.T) {
	t.Parallel()

	for in, want := range map[PackageName]string{
		"vim":             "vim",
		"libc6:amd64":     "libc6",
		"vim=2:8.2-1":     "vim",
		"python3.10=3.10": "python3.10",
	} {
		if got := in.Base(); got != want {
			t.Errorf("PackageName(%q).Base() = %q, want %q", in, got, want)
		}
	}
}

func TestUsername_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		user    Username
		wantErr bool
	}{
		{name: "default", user: "student"},
		{name: "underscore start", user: "_svc"},
		{name: "samba machine account", user: "host$"},
		{name: "max length", user: "a234567890123456789012345678901b"},
		{name: "empty", user: "", wantErr: true},
		{name: "too long", user: "a2345678901234567890123456789012x", wantErr: true},
		{name: "uppercase", user: "Student", wantErr: true},
		{name: "digit start", user: "1user", wantErr: true},
		{name: "colon", user: "a:b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.user.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Username(%q).Validate() error = %v, wantErr %v", tt.user, err, tt.wantErr)
			}
			if err != nil {
				var ive *InvalidValueError
				if !errors.As(err, &ive) || !errors.Is(err, ErrInvalidUsername) {
					t.Errorf("expected *InvalidValueError wrapping ErrInvalidUsername, got %v", err)
				}
			}
		})
	}
}

func TestPassword_Redacted(t *testing.T) {
	t.Parallel()

	p := Password("hunter2")
	for _, s := range []string{p.String(), fmt.Sprintf("%v", p), fmt.Sprintf("%s", p), fmt.Sprintf("%#v", p)} {
		if s != "<redacted>" {
			t.Errorf("password leaked in formatting: %q", s)
		}
	}
	if p.Reveal() != "hunter2" {
		t.Errorf("Reveal() = %q", p.Reveal())
	}
	if Password("").String() != "" {
		t.Error("empty password should render empty")
	}
}

func TestImageRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref      ImageRef
		want     ImageRef
		wantRepo string
		wantErr  bool
	}{
		{ref: "ubuntu", want: "docker.io/library/ubuntu:latest", wantRepo: "docker.io/library/ubuntu"},
		{ref: "ubuntu:22.04", want: "docker.io/library/ubuntu:22.04", wantRepo: "docker.io/library/ubuntu"},
		{ref: "ghcr.io/acme/lab:v1", want: "ghcr.io/acme/lab:v1", wantRepo: "ghcr.io/acme/lab"},
		{ref: "Ubuntu", wantErr: true},
		{ref: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.ref), func(t *testing.T) {
			t.Parallel()

			got, err := tt.ref.Normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidImageRef) {
					t.Errorf("expected ErrInvalidImageRef, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Normalize() = %q, want %q", got, tt.want)
			}
			repo, err := tt.ref.Repository()
			if err != nil || repo != tt.wantRepo {
				t.Errorf("Repository() = %q, %v, want %q", repo, err, tt.wantRepo)
			}
		})
	}
}

func TestImageRef_WithDigest(t *testing.T) {
	t.Parallel()

	digest := "sha256:" + "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	got, err := ImageRef("ubuntu:22.04").WithDigest(digest)
	if err != nil {
		t.Fatalf("WithDigest() error = %v", err)
	}
	if want := ImageRef("docker.io/library/ubuntu@" + digest); got != want {
		t.Errorf("WithDigest() = %q, want %q", got, want)
	}
	if _, err := ImageRef("ubuntu").WithDigest("sha256:short"); err == nil {
		t.Error("expected error for malformed digest")
	}
}

func TestContainerPath(t *testing.T) {
	t.Parallel()

	if err := ContainerPath("/home/student").Validate(); err != nil {
		t.Errorf("absolute path rejected: %v", err)
	}
	if err := ContainerPath("home").Validate(); !errors.Is(err, ErrInvalidContainerPath) {
		t.Errorf("relative path accepted: %v", err)
	}
	if err := ContainerPath("").Validate(); !errors.Is(err, ErrInvalidContainerPath) {
		t.Errorf("empty path accepted: %v", err)
	}

	within := []struct {
		p, dir ContainerPath
		want   bool
	}{
		{"/home/student", "/home/student", true},
		{"/home/student/lab", "/home/student/", true},
		{"/home/student2", "/home/student", false},
		{"/home/student/../root", "/home/student", false},
		{"/etc", "/", true},
	}
	for _, w := range within {
		if got := w.p.Within(w.dir); got != w.want {
			t.Errorf("%q.Within(%q) = %v, want %v", w.p, w.dir, got, w.want)
		}
	}
}

func TestSourcePath_Validate(t *testing.T) {
	t.Parallel()

	if err := SourcePath("files/welcome.txt").Validate(); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	for _, bad := range []SourcePath{"", "  ", "/etc/passwd"} {
		if err := bad.Validate(); !errors.Is(err, ErrInvalidSourcePath) {
			t.Errorf("SourcePath(%q).Validate() = %v, want ErrInvalidSourcePath", bad, err)
		}
	}
}

func TestEnvKey_Validate(t *testing.T) {
	t.Parallel()

	for _, ok := range []EnvKey{"LANG", "_X", "a1"} {
		if err := ok.Validate(); err != nil {
			t.Errorf("EnvKey(%q) rejected: %v", ok, err)
		}
	}
	for _, bad := range []EnvKey{"", "1A", "A-B", "A B"} {
		if err := bad.Validate(); !errors.Is(err, ErrInvalidEnvKey) {
			t.Errorf("EnvKey(%q).Validate() = %v, want ErrInvalidEnvKey", bad, err)
		}
	}
}
