package disk

import (
	"context"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/accounting"
)

// Named per-category forwarders, for callers that prefer them over the
// Category parameterized methods.

func (c *Cache) GetCachedPostImage(ctx context.Context, url string) ([]byte, bool) {
	return c.Get(ctx, cache.PostImages, url)
}

func (c *Cache) CachePostImage(ctx context.Context, url string, data []byte) {
	c.Put(ctx, cache.PostImages, url, data)
}

func (c *Cache) GetCachedAvatar(ctx context.Context, url string) ([]byte, bool) {
	return c.Get(ctx, cache.Avatars, url)
}

func (c *Cache) CacheAvatar(ctx context.Context, url string, data []byte) {
	c.Put(ctx, cache.Avatars, url, data)
}

func (c *Cache) GetCachedBanner(ctx context.Context, url string) ([]byte, bool) {
	return c.Get(ctx, cache.Banners, url)
}

func (c *Cache) CacheBanner(ctx context.Context, url string, data []byte) {
	c.Put(ctx, cache.Banners, url, data)
}

func (c *Cache) GetCachedBadge(ctx context.Context, url string) ([]byte, bool) {
	return c.Get(ctx, cache.Badges, url)
}

func (c *Cache) CacheBadge(ctx context.Context, url string, data []byte) {
	c.Put(ctx, cache.Badges, url, data)
}

func (c *Cache) GetCachedTrack(ctx context.Context, url string) ([]byte, bool) {
	return c.Get(ctx, cache.Tracks, url)
}

func (c *Cache) CacheTrack(ctx context.Context, url string, data []byte) {
	c.Put(ctx, cache.Tracks, url, data)
}

func (c *Cache) GetCachedMusicCover(ctx context.Context, url string) ([]byte, bool) {
	return c.Get(ctx, cache.MusicCovers, url)
}

func (c *Cache) CacheMusicCover(ctx context.Context, url string, data []byte) {
	c.Put(ctx, cache.MusicCovers, url, data)
}

func (c *Cache) ClearPostsImagesCache() { c.Clear(cache.PostImages) }
func (c *Cache) ClearAvatarsCache()     { c.Clear(cache.Avatars) }
func (c *Cache) ClearBannersCache()     { c.Clear(cache.Banners) }
func (c *Cache) ClearTracksCache()      { c.Clear(cache.Tracks) }
func (c *Cache) ClearBadgesCache()      { c.Clear(cache.Badges) }
func (c *Cache) ClearMusicCoversCache() { c.Clear(cache.MusicCovers) }

// ClearAllCache clears every segment.
func (c *Cache) ClearAllCache() {
	c.ClearAll()
}

// GetCacheSize returns the size of every segment and their total.
func (c *Cache) GetCacheSize() accounting.Snapshot {
	return c.CacheSize()
}
