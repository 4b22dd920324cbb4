package cache

import (
	"context"
	"fmt"
	"io"
)

// Category is one of the independent storage segments of the cache.
type Category int

const (
	// PostImages are images attached to posts in the feed.
	PostImages Category = iota

	// Avatars are user profile pictures.
	Avatars

	// Banners are profile header images.
	Banners

	// Tracks are audio blobs.
	Tracks

	// Badges are achievement badge images.
	Badges

	// MusicCovers are album/track cover images.
	MusicCovers
)

// NumCategories is the size of the closed Category set.
const NumCategories = 6

// Categories lists every Category, in declaration order.
var Categories = [NumCategories]Category{
	PostImages, Avatars, Banners, Tracks, Badges, MusicCovers,
}

var categoryNames = [NumCategories]string{
	"post_images",
	"avatars",
	"banners",
	"tracks",
	"badges",
	"music_covers",
}

func (c Category) String() string {
	if !c.Valid() {
		return "unknown"
	}
	return categoryNames[c]
}

// DirName returns the name of the segment's root directory.
func (c Category) DirName() string {
	return c.String()
}

// Valid reports whether c is a member of the closed Category set.
func (c Category) Valid() bool {
	return c >= 0 && int(c) < NumCategories
}

// ParseCategory maps a segment name (as returned by String) back to
// its Category.
func ParseCategory(name string) (Category, error) {
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown category: %q", name)
}

// Logger is designed to be satisfied by log.Logger.
type Logger interface {
	Printf(format string, v ...interface{})
}

// Error is used by the HTTP and gRPC layers to describe a failure
// together with the status code that should be reported.
type Error struct {
	Code int
	Text string
}

func (e *Error) Error() string {
	return e.Text
}

// Proxy is a second-level store that the disk cache consults on local
// misses, and mirrors local writes to. Implementations must be safe
// for concurrent use.
type Proxy interface {
	// Put should make a reasonable effort to upload the blob read from
	// rc to the proxy backend, and must close rc. It must not block: if
	// the upload cannot be queued it is dropped.
	Put(ctx context.Context, kind Category, key string, size int64, rc io.ReadCloser)

	// Get returns a reader for the blob stored under key, and its size.
	// A missing blob is reported as a nil io.ReadCloser and a nil error.
	Get(ctx context.Context, kind Category, key string) (io.ReadCloser, int64, error)

	// Contains reports whether the blob exists, and its size if known
	// (or -1 if unknown).
	Contains(ctx context.Context, kind Category, key string) (bool, int64)
}
