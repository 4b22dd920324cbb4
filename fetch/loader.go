package fetch

import (
	"context"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/disk"

	"golang.org/x/sync/singleflight"
)

// Fetcher is satisfied by *Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Loader serves media from the cache, and fetches and caches it on a
// miss. Concurrent misses for the same url and category share a single
// fetch.
type Loader struct {
	cache        disk.MediaCache
	fetcher      Fetcher
	accessLogger cache.Logger
	timeout      time.Duration
	group        singleflight.Group
}

// NewLoader returns a Loader filling c from f. A shared fetch is given up
// after timeout, or DefaultTimeout if timeout is zero.
func NewLoader(c disk.MediaCache, f Fetcher, timeout time.Duration, accessLogger cache.Logger) *Loader {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Loader{
		cache:        c,
		fetcher:      f,
		accessLogger: accessLogger,
		timeout:      timeout,
	}
}

// Load returns the payload for url, from the cache if possible. A failed
// fetch is returned as an error and nothing is cached.
func (l *Loader) Load(ctx context.Context, kind cache.Category, url string) ([]byte, error) {
	data, found := l.cache.Get(ctx, kind, url)
	if found {
		return data, nil
	}

	ch := l.group.DoChan(kind.String()+"\x00"+url, func() (interface{}, error) {
		// The fetch is shared by every caller waiting on this url, so
		// it must outlive the caller that happened to start it.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
		defer cancel()

		// Another load may have filled the cache since our miss.
		data, found := l.cache.Get(ctx, kind, url)
		if found {
			return data, nil
		}

		data, err := l.fetcher.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}

		l.cache.Put(ctx, kind, url, data)
		l.accessLogger.Printf("FETCH %s %s %d", kind, url, len(data))

		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	if res.Shared {
		l.accessLogger.Printf("FETCH %s %s SHARED", kind, url)
	}

	return res.Val.([]byte), nil
}
