// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/imagesmith/imagesmith/internal/pkgmgr"
	"github.com/imagesmith/imagesmith/pkg/imagedef"
)

func TestRenderDockerfile_Default(t *testing.T) {
	t.Parallel()

	def, err := imagedef.Default()
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := pkgmgr.New(pkgmgr.Apt)
	if err != nil {
		t.Fatal(err)
	}
	out, err := RenderDockerfile(context.Background(), def, mgr, t.TempDir())
	if err != nil {
		t.Fatalf("RenderDockerfile() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if lines[0] != "# syntax=docker/dockerfile:1" || lines[1] != "FROM ubuntu:22.04" {
		t.Errorf("header = %q", lines[:2])
	}
	if last := lines[len(lines)-1]; last != `CMD ["/bin/bash"]` {
		t.Errorf("last line = %q", last)
	}
	for _, want := range []string{
		" apt-get update\n",
		" apt-get install -y --no-install-recommends sudo man-db manpages",
		"RUN useradd --create-home --home-dir /home/student --shell /bin/bash --groups sudo student",
		"RUN --mount=type=secret,id=stdin-1,required=true chpasswd < /run/secrets/stdin-1",
		"# step 0: reinstall_packages\n",
		"# step 2: create_user\nRUN useradd",
		"USER student",
		"WORKDIR /home/student",
		`ENV LANG="C.UTF-8"`,
		`LABEL "org.imagesmith.definition"="shell-adventure"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendering lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "student:student") {
		t.Errorf("rendering leaks the password:\n%s", out)
	}
}

func TestDockerfileTarget_Exec(t *testing.T) {
	t.Parallel()

	target, err := NewDockerfileBackend(nil).Open(context.Background(), "debian:12")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	cmds := []Command{
		{Argv: []string{"/bin/sh", "-c", "echo hi > /tmp/x"}, User: imagedef.RootUser},
		{Argv: []string{"ls"}, User: "student", WorkDir: "/home/student", Env: []imagedef.EnvVar{{Key: "A", Value: "b c"}}},
		{Argv: []string{"ls"}, User: "student", WorkDir: "/home/student"},
	}
	for _, c := range cmds {
		if res, err := target.Exec(ctx, c); err != nil || res.ExitCode != 0 {
			t.Fatalf("Exec(%q) = %+v, %v", c.Argv, res, err)
		}
	}

	want := strings.Join([]string{
		"# syntax=docker/dockerfile:1",
		"FROM debian:12",
		"RUN /bin/sh -c 'echo hi > /tmp/x'",
		"USER student",
		"WORKDIR /home/student",
		"RUN env 'A=b c' ls",
		"RUN ls",
	}, "\n") + "\n"
	if got := target.(*DockerfileTarget).Dockerfile(); got != want {
		t.Errorf("Dockerfile() =\n%s\nwant\n%s", got, want)
	}
}

func TestDockerfileTarget_ExecMultiline(t *testing.T) {
	t.Parallel()

	target, err := NewDockerfileBackend(nil).Open(context.Background(), "debian:12")
	if err != nil {
		t.Fatal(err)
	}
	script := "set -e\necho it's here\n"
	if _, err := target.Exec(context.Background(), Command{Argv: []string{"/bin/sh", "-c", script}, Stdin: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	got := target.(*DockerfileTarget).Dockerfile()
	if !strings.Contains(got, "RUN --mount=type=secret,id=stdin-1,required=true <<'IMAGESMITH_RUN'\n/bin/sh -c ") {
		t.Errorf("multi-line command not rendered as heredoc:\n%s", got)
	}
	if !strings.HasSuffix(got, " < /run/secrets/stdin-1\nIMAGESMITH_RUN\n") {
		t.Errorf("heredoc not terminated:\n%s", got)
	}
}

func TestDockerfileTarget_Copy(t *testing.T) {
	t.Parallel()

	target, err := NewDockerfileBackend(nil).Open(context.Background(), "debian:12")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := target.Copy(ctx, CopySpec{HostPath: "/ctx/lessons", Dir: true, Destination: "/home/student/lessons", Owner: "student"}); err != nil {
		t.Fatal(err)
	}
	if err := target.Copy(ctx, CopySpec{HostPath: "/ctx/motd", Destination: "/etc/motd", Owner: imagedef.RootUser}); err != nil {
		t.Fatal(err)
	}
	got := target.(*DockerfileTarget).Dockerfile()
	for _, want := range []string{
		`COPY --chown=student ["sources/1/","/home/student/lessons/"]`,
		`COPY ["sources/2","/etc/motd"]`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Dockerfile lacks %q:\n%s", want, got)
		}
	}
}

func TestQuoteValue(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"plain", `"plain"`},
		{`a"b`, `"a\"b"`},
		{`$HOME\bin`, `"\$HOME\\bin"`},
	}
	for _, tt := range tests {
		if got := quoteValue(tt.in); got != tt.want {
			t.Errorf("quoteValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDockerfileBackend_Build(t *testing.T) {
	t.Parallel()

	ctxDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ctxDir, "lessons"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ctxDir, "lessons", "01.md"), []byte("# ls\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	eng := newFakeEngine()
	mgr, err := pkgmgr.New(pkgmgr.Apt)
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.Apply(WithContextDir(ctxDir))
	asm := NewAssembler(NewDockerfileBackend(eng, WithWorkDir(t.TempDir())), NewPackageInstaller(mgr), nil, cfg)

	def := mustDefinition(t,
		imagedef.CreateUser{User: studentUser()},
		imagedef.CopyFiles{Copies: []imagedef.FileCopy{{Source: "lessons", Destination: "/home/student/lessons"}}},
	)
	res, err := asm.Assemble(context.Background(), def)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.Image != "imagesmith/lab:latest" || res.Backend != "dockerfile" {
		t.Errorf("result = %+v", res)
	}

	if len(eng.builds) != 1 {
		t.Fatalf("builds = %d", len(eng.builds))
	}
	build := eng.builds[0]
	if len(build.BuildArgs) != 0 {
		t.Errorf("build args must stay empty, got %v", build.BuildArgs)
	}
	if eng.secrets["stdin-1"] != "student:student\n" {
		t.Errorf("secrets = %v", eng.secrets)
	}
	if strings.Contains(eng.dockerfile, "student:student") {
		t.Errorf("Dockerfile leaks the password:\n%s", eng.dockerfile)
	}
	if !strings.Contains(eng.dockerfile, `COPY --chown=student ["sources/1/","/home/student/lessons/"]`) {
		t.Errorf("Dockerfile:\n%s", eng.dockerfile)
	}

	if _, err := os.Stat(build.ContextDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("build context %s should be removed, stat error = %v", build.ContextDir, err)
	}
	if _, err := os.Stat(filepath.Dir(build.Secrets[0].Source)); !errors.Is(err, os.ErrNotExist) {
		t.Error("secret directory should be removed")
	}
	if strings.HasPrefix(build.Secrets[0].Source, build.ContextDir) {
		t.Error("secrets must live outside the build context")
	}
}

// dockerfileLine returns the 1-based line of the first Dockerfile line
// containing substr.
func dockerfileLine(t *testing.T, dockerfile, substr string) int {
	t.Helper()
	for i, l := range strings.Split(dockerfile, "\n") {
		if strings.Contains(l, substr) {
			return i + 1
		}
	}
	t.Fatalf("Dockerfile lacks %q:\n%s", substr, dockerfile)
	return 0
}

func TestDockerfileBackend_BuildFailure(t *testing.T) {
	t.Parallel()

	steps := []imagedef.Step{
		imagedef.InstallPackages{Packages: []imagedef.PackageName{"vim", "nosuch"}},
		imagedef.CreateUser{User: studentUser()},
		imagedef.Run{Script: "make lab"},
	}

	tests := []struct {
		name      string
		buildErr  func(t *testing.T, dockerfile string) error
		wantStep  int
		wantIs    error
		check     func(t *testing.T, err error)
		wantPlain bool
	}{
		{
			name: "buildkit line of the install",
			buildErr: func(t *testing.T, dockerfile string) error {
				n := dockerfileLine(t, dockerfile, "apt-get install")
				return fmt.Errorf("ERROR: failed to solve: process did not complete successfully: exit code: 100\nDockerfile:%d\n", n)
			},
			wantStep: 0,
			wantIs:   ErrPackageManager,
			check: func(t *testing.T, err error) {
				var pme *PackageManagerError
				if !errors.As(err, &pme) || pme.Operation != OpInstall || pme.ExitCode != 100 {
					t.Errorf("PackageManagerError = %+v", pme)
				}
			},
		},
		{
			name: "buildkit process of an existing user",
			buildErr: func(*testing.T, string) error {
				return errors.New(`ERROR: failed to solve: process "/bin/sh -c useradd --create-home --home-dir /home/student --shell /bin/bash --groups sudo student" did not complete successfully: exit code: 9`)
			},
			wantStep: 1,
			wantIs:   ErrUserCreation,
			check: func(t *testing.T, err error) {
				var uce *UserCreationError
				if !errors.As(err, &uce) || uce.Reason != "user already exists" || uce.ExitCode != 9 {
					t.Errorf("UserCreationError = %+v", uce)
				}
			},
		},
		{
			name: "buildah step of the password",
			buildErr: func(*testing.T, string) error {
				return errors.New(`Error: building at STEP "RUN --mount=type=secret,id=stdin-1,required=true chpasswd < /run/secrets/stdin-1": while running runtime: exit status 1`)
			},
			wantStep: 1,
			wantIs:   ErrUserCreation,
			check: func(t *testing.T, err error) {
				var uce *UserCreationError
				if !errors.As(err, &uce) || !strings.HasPrefix(uce.Reason, "setting the password failed") {
					t.Errorf("UserCreationError = %+v", uce)
				}
			},
		},
		{
			name: "script failure",
			buildErr: func(t *testing.T, dockerfile string) error {
				n := dockerfileLine(t, dockerfile, "make lab")
				return fmt.Errorf("Dockerfile:%d\nERROR: failed to solve: exit code: 2", n)
			},
			wantStep: 2,
			check: func(t *testing.T, err error) {
				if !strings.Contains(err.Error(), "failed to run script: exit code 2") {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name: "failure outside any RUN",
			buildErr: func(*testing.T, string) error {
				return errors.New("ERROR: failed to solve: ubuntu:22.04: not found")
			},
			wantPlain: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			eng := newFakeEngine()
			eng.buildErrFor = func(dockerfile string) error { return tt.buildErr(t, dockerfile) }
			mgr, err := pkgmgr.New(pkgmgr.Apt)
			if err != nil {
				t.Fatal(err)
			}
			asm := NewAssembler(NewDockerfileBackend(eng, WithWorkDir(t.TempDir())), NewPackageInstaller(mgr), nil, nil)

			_, err = asm.Assemble(context.Background(), mustDefinition(t, steps...))
			if err == nil {
				t.Fatal("Assemble() succeeded")
			}
			var stepErr *StepError
			if tt.wantPlain {
				if errors.As(err, &stepErr) || !strings.Contains(err.Error(), "failed to commit image") {
					t.Errorf("error = %v, want an unattributed build error", err)
				}
				return
			}
			if !errors.As(err, &stepErr) {
				t.Fatalf("error = %v, want *StepError", err)
			}
			if stepErr.Index != tt.wantStep || stepErr.Kind != steps[tt.wantStep].Kind() {
				t.Errorf("failed step = %d (%s), want %d", stepErr.Index, stepErr.Kind, tt.wantStep)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}
