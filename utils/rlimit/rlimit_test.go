//go:build !windows

package rlimit

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestRaise(t *testing.T) {
	Raise()

	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		t.Fatal(err)
	}
	if lim.Cur > lim.Max {
		t.Fatalf("Soft limit %d above hard limit %d", lim.Cur, lim.Max)
	}
}
