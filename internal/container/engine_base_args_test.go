// SPDX-License-Identifier: MPL-2.0

package container

import (
	"slices"
	"testing"
)

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/docker")
	tests := []struct {
		name string
		opts BuildOptions
		want []string
	}{
		{
			name: "minimal",
			opts: BuildOptions{ContextDir: "/ctx", Tags: []string{"lab:1"}},
			want: []string{"build", "-t", "lab:1", "/ctx"},
		},
		{
			name: "relative dockerfile is joined to context",
			opts: BuildOptions{ContextDir: "/ctx", Dockerfile: "Dockerfile", Tags: []string{"a", "b"}},
			want: []string{"build", "-f", "/ctx/Dockerfile", "-t", "a", "-t", "b", "/ctx"},
		},
		{
			name: "absolute dockerfile is kept",
			opts: BuildOptions{ContextDir: "/ctx", Dockerfile: "/tmp/df", Tags: []string{"a"}},
			want: []string{"build", "-f", "/tmp/df", "-t", "a", "/ctx"},
		},
		{
			name: "flags labels secrets and args are sorted",
			opts: BuildOptions{
				ContextDir: "/ctx",
				Tags:       []string{"a"},
				NoCache:    true,
				Pull:       true,
				Labels:     map[string]string{"z": "1", "a": "2"},
				Secrets:    []BuildSecret{{ID: "password", Source: "/run/pw"}},
				BuildArgs:  map[string]string{"USER": "student", "HOME": "/home/student"},
			},
			want: []string{
				"build", "-t", "a", "--no-cache", "--pull",
				"--label", "a=2", "--label", "z=1",
				"--secret", "id=password,src=/run/pw",
				"--build-arg", "HOME=/home/student", "--build-arg", "USER=student",
				"/ctx",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := e.BuildArgs(tt.opts); !slices.Equal(got, tt.want) {
				t.Errorf("BuildArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/podman")
	tests := []struct {
		name string
		opts RunOptions
		want []string
	}{
		{
			name: "detached working container",
			opts: RunOptions{Image: "ubuntu:22.04", Name: "imagesmith-build-x", Detach: true, Command: []string{"sleep", "infinity"}},
			want: []string{"run", "-d", "--name", "imagesmith-build-x", "ubuntu:22.04", "sleep", "infinity"},
		},
		{
			name: "interactive session",
			opts: RunOptions{
				Image: "lab:1", Remove: true, Interactive: true, TTY: true,
				Hostname: "lab", User: "student", WorkDir: "/home/student",
				Env: map[string]string{"TERM": "xterm"},
			},
			want: []string{
				"run", "--rm", "--hostname", "lab", "-u", "student", "-w", "/home/student",
				"-i", "-t", "-e", "TERM=xterm", "lab:1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := e.RunArgs(tt.opts); !slices.Equal(got, tt.want) {
				t.Errorf("RunArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunArgsTransformer(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/podman", WithRunArgsTransformer(func(args []string) []string {
		return append([]string{args[0], "--userns=keep-id"}, args[1:]...)
	}))
	got := e.BuildRunArgs(RunOptions{Image: "lab:1"})
	want := []string{"run", "--userns=keep-id", "lab:1"}
	if !slices.Equal(got, want) {
		t.Errorf("BuildRunArgs() = %q, want %q", got, want)
	}
}

func TestExecArgs(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/docker")
	got := e.ExecArgs("abc", []string{"useradd", "student"}, ExecOptions{
		User: "root", WorkDir: "/", Interactive: true,
		Env: map[string]string{"DEBIAN_FRONTEND": "noninteractive"},
	})
	want := []string{"exec", "-i", "-u", "root", "-w", "/", "-e", "DEBIAN_FRONTEND=noninteractive", "abc", "useradd", "student"}
	if !slices.Equal(got, want) {
		t.Errorf("ExecArgs() = %q, want %q", got, want)
	}
}

func TestSmallArgBuilders(t *testing.T) {
	t.Parallel()

	e := NewBaseCLIEngine("/usr/bin/docker")
	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"copy", e.CopyArgs("abc", "/tmp/src/.", "/home/student"), []string{"cp", "/tmp/src/.", "abc:/home/student"}},
		{"commit", e.CommitArgs("abc", CommitOptions{Changes: []string{"USER student", `CMD ["/bin/bash"]`}, Message: "m", Author: "a"}),
			[]string{"commit", "--change", "USER student", "--change", `CMD ["/bin/bash"]`, "-m", "m", "-a", "a", "abc"}},
		{"remove", e.RemoveArgs("abc", false), []string{"rm", "abc"}},
		{"force remove", e.RemoveArgs("abc", true), []string{"rm", "-f", "abc"}},
		{"remove image", e.RemoveImageArgs("lab:1", true), []string{"rmi", "-f", "lab:1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if !slices.Equal(tt.got, tt.want) {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestChangeCMD(t *testing.T) {
	t.Parallel()

	if got := ChangeCMD([]string{"/bin/bash", "-l"}); got != `CMD ["/bin/bash","-l"]` {
		t.Errorf("ChangeCMD() = %q", got)
	}
}
