//go:build windows

package rlimit

// Raise does nothing. Windows has no per-process open file limit to lift.
func Raise() {}
