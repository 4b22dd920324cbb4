//go:build !windows

// Package rlimit lifts the open file limit, since every cached payload
// is a file and each segment scan keeps directories open.
package rlimit

import (
	"log"

	"golang.org/x/sys/unix"
)

// Raise sets the soft RLIMIT_NOFILE to the hard limit.
func Raise() {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Printf("Unable to read RLIMIT_NOFILE: %v", err)
		return
	}
	if lim.Cur >= lim.Max {
		return
	}

	prev := lim.Cur
	lim.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Printf("Unable to raise RLIMIT_NOFILE from %d to %d: %v", prev, lim.Max, err)
		return
	}
	log.Printf("Raised RLIMIT_NOFILE from %d to %d", prev, lim.Max)
}
