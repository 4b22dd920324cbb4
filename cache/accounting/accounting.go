// Package accounting aggregates the sizes of the cache segments into a
// single reportable snapshot.
package accounting

import (
	"context"
	"fmt"

	"github.com/mediacache/mediacache/cache"

	"golang.org/x/sync/errgroup"
)

// Snapshot holds the size in bytes of each segment, and their sum.
type Snapshot struct {
	PostsImages int64 `json:"posts_images"`
	Avatars     int64 `json:"avatars"`
	Banners     int64 `json:"banners"`
	Tracks      int64 `json:"tracks"`
	Badges      int64 `json:"badges"`
	MusicCovers int64 `json:"music_covers"`
	Total       int64 `json:"total"`
}

// Get returns the size recorded for kind.
func (s Snapshot) Get(kind cache.Category) int64 {
	switch kind {
	case cache.PostImages:
		return s.PostsImages
	case cache.Avatars:
		return s.Avatars
	case cache.Banners:
		return s.Banners
	case cache.Tracks:
		return s.Tracks
	case cache.Badges:
		return s.Badges
	case cache.MusicCovers:
		return s.MusicCovers
	}
	return 0
}

func (s *Snapshot) set(kind cache.Category, size int64) {
	switch kind {
	case cache.PostImages:
		s.PostsImages = size
	case cache.Avatars:
		s.Avatars = size
	case cache.Banners:
		s.Banners = size
	case cache.Tracks:
		s.Tracks = size
	case cache.Badges:
		s.Badges = size
	case cache.MusicCovers:
		s.MusicCovers = size
	}
}

// New builds a Snapshot from per-category sizes. Total is computed
// here and nowhere else.
func New(sizes [cache.NumCategories]int64) Snapshot {
	var s Snapshot
	for _, kind := range cache.Categories {
		s.set(kind, sizes[kind])
		s.Total += sizes[kind]
	}
	return s
}

// Formatted returns the human readable form of every field, keyed by
// category name plus "total".
func (s Snapshot) Formatted() map[string]string {
	m := make(map[string]string, cache.NumCategories+1)
	for _, kind := range cache.Categories {
		m[kind.String()] = FormatBytes(s.Get(kind))
	}
	m["total"] = FormatBytes(s.Total)
	return m
}

const (
	kb = 1024
	mb = 1024 * kb
)

// FormatBytes returns a short human readable form of n: plain bytes
// below 1 KB, otherwise KB or MB with one decimal place.
func FormatBytes(n int64) string {
	switch {
	case n < kb:
		return fmt.Sprintf("%d bytes", n)
	case n < mb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	}
}

// Sizer is implemented by each segment store.
type Sizer interface {
	// SizeBytes returns the maintained running size of the segment.
	SizeBytes() int64

	// ScanBytes walks the segment's storage and sums what it finds.
	ScanBytes(ctx context.Context) (int64, error)
}

// Accountant composes snapshots over a full set of segments.
type Accountant struct {
	segments    [cache.NumCategories]Sizer
	errorLogger cache.Logger
}

// NewAccountant returns an Accountant over segments, which must be
// indexed by Category.
func NewAccountant(segments [cache.NumCategories]Sizer, errorLogger cache.Logger) *Accountant {
	return &Accountant{
		segments:    segments,
		errorLogger: errorLogger,
	}
}

// Snapshot reads each segment's running counter. It is cheap and does
// not touch storage.
func (a *Accountant) Snapshot() Snapshot {
	var sizes [cache.NumCategories]int64
	for _, kind := range cache.Categories {
		sizes[kind] = a.segments[kind].SizeBytes()
	}
	return New(sizes)
}

// ScanSnapshot walks every segment concurrently. A segment that fails
// to scan is logged and contributes 0, the rest are still reported.
// This is slow on large caches and must not be called from a latency
// sensitive path.
func (a *Accountant) ScanSnapshot(ctx context.Context) Snapshot {
	var sizes [cache.NumCategories]int64

	var g errgroup.Group
	for _, kind := range cache.Categories {
		kind := kind
		g.Go(func() error {
			n, err := a.segments[kind].ScanBytes(ctx)
			if err != nil {
				a.errorLogger.Printf("Failed to scan %s segment: %v", kind, err)
				return nil
			}
			sizes[kind] = n
			return nil
		})
	}
	_ = g.Wait() // Failures are logged per segment and never returned.

	return New(sizes)
}
