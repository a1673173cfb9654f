// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}
	c.Advance(90 * time.Minute)
	if got := c.Now().Sub(start); got != 90*time.Minute {
		t.Errorf("advanced by %v, want 90m", got)
	}
	if NewFakeClock(time.Time{}).Now().IsZero() {
		t.Error("zero initial time was kept")
	}
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	path := WriteFile(t, t.TempDir(), "files/motd.txt", "welcome\n")
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "welcome\n" {
		t.Errorf("ReadFile(%s) = %q, %v", path, data, err)
	}
}
