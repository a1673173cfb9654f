// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

func TestIsTransientError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline wrapped", fmt.Errorf("pull: %w", context.DeadlineExceeded), false},
		{"ping group range", errors.New("write /proc/sys/net/ipv4/ping_group_range: invalid argument"), true},
		{"dns", errors.New("Temporary failure resolving 'archive.ubuntu.com'"), true},
		{"registry rate limit", errors.New("toomanyrequests: You have reached your pull rate limit"), true},
		{"tls timeout", errors.New("net/http: TLS handshake timeout"), true},
		{"overlay", errors.New("error creating overlay mount to /var/lib/containers"), true},
		{"missing package", errors.New("E: Unable to locate package nosuch"), false},
		{"exit 1 command", &CommandError{Binary: "docker", Err: errors.New("exit status 1")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsTransientError(tt.err); got != tt.want {
				t.Errorf("IsTransientError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientError_ExitCode125(t *testing.T) {
	t.Parallel()

	rec := &mockCommandRecorder{ExitCode: 125}
	e := newMockBase(rec)
	_, err := e.RunCommand(context.Background(), "run", "-d", "ubuntu")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransientError(err) {
		t.Errorf("exit code 125 should be transient: %v", err)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Error("CommandError should unwrap to *exec.ExitError")
	}
}
