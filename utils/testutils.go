// Package testutils holds helpers shared by the tests of several packages.
package testutils

import (
	"crypto/rand"
	"io"
	"log"
	"os"
	"testing"
)

// TempDir returns a fresh directory that is removed once t finishes.
// Unlike t.TempDir, removal failures are ignored, since a test may leave
// read-only shard directories behind.
func TempDir(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "mediacache-test-")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

// RandomData returns size bytes of random payload.
func RandomData(size int64) []byte {
	data := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, data); err != nil {
		panic(err)
	}
	return data
}

// NewSilentLogger returns a logger that discards everything.
func NewSilentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// AssertEquals stops the test if actual differs from expected.
func AssertEquals[T comparable](t *testing.T, expected T, actual T) {
	t.Helper()
	if expected != actual {
		t.Fatalf("Expected %v, got %v", expected, actual)
	}
}
