// Package hashing derives the storage keys of cache entries from the
// origin URLs they were fetched from.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// KeySize is the length of a derived key: two hex characters per byte
// of a sha256 sum.
const KeySize = sha256.Size * 2

var keyRegex = regexp.MustCompile("^[a-f0-9]{64}$")

// Derive returns the key for url. The key is the lowercase hex sha256
// of the exact bytes of url, so it is stable across process restarts
// and safe to use as a file name whatever characters url contains.
// Every string has a key; validating URLs is the caller's job.
func Derive(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Validate returns a non-nil error if key could not have been returned
// by Derive.
func Validate(key string) error {
	if len(key) != KeySize {
		return fmt.Errorf("Invalid key length %d: expected %d", len(key), KeySize)
	}
	if !keyRegex.MatchString(key) {
		return errors.New("Malformed key " + key)
	}
	return nil
}

// Shard returns the name of the subdirectory that key is stored in.
func Shard(key string) string {
	return key[:2]
}

// Shards returns the names of all 256 possible shard subdirectories.
func Shards() []string {
	hexLetters := []byte("0123456789abcdef")
	shards := make([]string, 0, len(hexLetters)*len(hexLetters))
	for _, c1 := range hexLetters {
		for _, c2 := range hexLetters {
			shards = append(shards, string(c1)+string(c2))
		}
	}
	return shards
}
