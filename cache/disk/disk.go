package disk

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/accounting"
	"github.com/mediacache/mediacache/cache/hashing"

	"golang.org/x/sync/errgroup"
)

// DefaultProxyTimeout bounds proxy lookups made on a local miss, unless
// WithProxyTimeout says otherwise.
const DefaultProxyTimeout = 5 * time.Second

// MediaCache is the interface that consumers of the cache are given.
// None of its methods report errors: storage faults are logged and
// degrade to misses or dropped writes.
type MediaCache interface {
	// Get returns the payload cached for url in the kind segment, and
	// true, or nil and false on a miss.
	Get(ctx context.Context, kind cache.Category, url string) ([]byte, bool)

	// Put stores data for url in the kind segment, replacing any
	// previous payload. data is not retained, the caller may reuse it
	// once Put returns.
	Put(ctx context.Context, kind cache.Category, url string, data []byte)

	// GetBlob is like Get, but takes the derived storage key instead
	// of the source URL. It is used by peers that proxy to this cache.
	GetBlob(ctx context.Context, kind cache.Category, key string) ([]byte, bool)

	// PutBlob is like Put, but takes the derived storage key. Unlike
	// Put it reports invalid keys and storage failures.
	PutBlob(ctx context.Context, kind cache.Category, key string, data []byte) error

	// Contains reports whether key is cached locally in the kind
	// segment, and its size. The proxy backend is not consulted.
	Contains(ctx context.Context, kind cache.Category, key string) (bool, int64)

	// Clear removes every entry in the kind segment.
	Clear(kind cache.Category)

	// ClearAll clears every segment.
	ClearAll()

	// CacheSize returns the current size of each segment, from the
	// running counters.
	CacheSize() accounting.Snapshot

	// ScanCacheSize computes the size of each segment by walking the
	// storage. It is slow and is meant for reporting only.
	ScanCacheSize(ctx context.Context) accounting.Snapshot

	// Stats returns details about the state of every segment.
	Stats() Stats
}

// Stats describes the state of the cache.
type Stats struct {
	Sizes          accounting.Snapshot
	SizesOnDisk    accounting.Snapshot
	NumItems       [cache.NumCategories]int
	StorageMode    string
	MaxSegmentSize int64
	ProxyEnabled   bool
}

// diskCache is a filesystem-based cache made of one independent segment
// per category, with an optional backend proxy. It is safe for
// concurrent use.
type diskCache struct {
	dir            string
	proxy          cache.Proxy
	proxyTimeout   time.Duration
	storageMode    StorageMode
	maxSegmentSize int64
	accessLogger   cache.Logger
	errorLogger    cache.Logger

	segments   [cache.NumCategories]*segment
	accountant *accounting.Accountant
}

// Cache is the facade handed out by New. It dispatches to the segments
// and adds the named per-category methods.
type Cache struct {
	MediaCache
}

var _ MediaCache = (*Cache)(nil)

// New returns a new instance of a filesystem-based cache rooted at `dir`,
// with `opts` Options set. Blobs already present under dir are indexed
// before New returns, and incomplete files are removed.
func New(dir string, opts ...Option) (*Cache, error) {
	err := os.MkdirAll(dir, os.ModePerm)
	if err != nil {
		return nil, err
	}

	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, err
	}

	dc := &diskCache{
		dir: dir,

		// Not using config here, to avoid test import cycles.
		storageMode:  Identity,
		proxyTimeout: DefaultProxyTimeout,
		accessLogger: log.New(io.Discard, "", 0),
		errorLogger:  log.New(os.Stderr, "", log.Ldate|log.Ltime),
	}

	cc := CacheConfig{diskCache: dc}

	// Apply options.
	for _, o := range opts {
		err = o(&cc)
		if err != nil {
			return nil, err
		}
	}

	var sizers [cache.NumCategories]accounting.Sizer
	for _, kind := range cache.Categories {
		s := newSegment(dir, kind, dc.storageMode, dc.maxSegmentSize, dc.errorLogger)
		err = s.createDirs()
		if err != nil {
			return nil, err
		}
		dc.segments[kind] = s
		sizers[kind] = s
	}
	dc.accountant = accounting.NewAccountant(sizers, dc.errorLogger)

	var g errgroup.Group
	for _, s := range dc.segments {
		s := s
		g.Go(s.loadExistingFiles)
	}
	err = g.Wait()
	if err != nil {
		return nil, fmt.Errorf("Loading of existing cache entries failed due to error: %w", err)
	}

	for _, s := range dc.segments {
		s.updateGauge()
	}

	if cc.metrics == nil {
		return &Cache{MediaCache: dc}, nil
	}

	cc.metrics.diskCache = dc
	return &Cache{MediaCache: cc.metrics}, nil
}

// RegisterMetrics registers the endpoint metrics, if they were enabled
// with WithEndpointMetrics.
func (c *Cache) RegisterMetrics() {
	if m, ok := c.MediaCache.(*metricsDecorator); ok {
		m.RegisterMetrics()
	}
}

func (c *diskCache) segmentFor(kind cache.Category) (*segment, bool) {
	if !kind.Valid() {
		c.errorLogger.Printf("Unknown cache category: %d", int(kind))
		return nil, false
	}
	return c.segments[kind], true
}

func (c *diskCache) Get(ctx context.Context, kind cache.Category, url string) ([]byte, bool) {
	return c.GetBlob(ctx, kind, hashing.Derive(url))
}

func (c *diskCache) GetBlob(ctx context.Context, kind cache.Category, key string) ([]byte, bool) {
	s, ok := c.segmentFor(kind)
	if !ok {
		return nil, false
	}

	if hashing.Validate(key) != nil {
		cacheMisses.Inc()
		return nil, false
	}

	data, found := s.get(key)
	if found {
		cacheHits.Inc()
		return data, true
	}

	if c.proxy != nil {
		data, found = c.getFromProxy(ctx, s, key)
		if found {
			proxyHits.Inc()
			return data, true
		}
	}

	cacheMisses.Inc()
	return nil, false
}

// getFromProxy looks key up in the proxy backend, bounded by the proxy
// timeout, and writes a hit through to the local segment.
func (c *diskCache) getFromProxy(ctx context.Context, s *segment, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.proxyTimeout)
	defer cancel()

	rc, size, err := c.proxy.Get(ctx, s.kind, key)
	if err != nil {
		c.errorLogger.Printf("Proxy lookup of %s/%s failed: %v", s.kind, key, err)
		return nil, false
	}
	if rc == nil {
		c.accessLogger.Printf("PROXY GET %s/%s MISS", s.kind, key)
		return nil, false
	}
	defer rc.Close()

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	_, err = io.Copy(&buf, rc)
	if err != nil {
		c.errorLogger.Printf("Proxy read of %s/%s failed: %v", s.kind, key, err)
		return nil, false
	}
	data := buf.Bytes()
	if size >= 0 && int64(len(data)) != size {
		c.errorLogger.Printf("Proxy returned %d bytes for %s/%s, expected %d",
			len(data), s.kind, key, size)
		return nil, false
	}

	c.accessLogger.Printf("PROXY GET %s/%s HIT %d", s.kind, key, len(data))

	_, err = s.put(key, data)
	if err != nil {
		c.errorLogger.Printf("Failed to store %s/%s from proxy: %v", s.kind, key, err)
	}

	return data, true
}

func (c *diskCache) Put(ctx context.Context, kind cache.Category, url string, data []byte) {
	err := c.PutBlob(ctx, kind, hashing.Derive(url), data)
	if err != nil {
		c.errorLogger.Printf("Failed to store %s (%s): %v", kind, url, err)
	}
}

func (c *diskCache) PutBlob(ctx context.Context, kind cache.Category, key string, data []byte) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown cache category: %d", int(kind))
	}
	s := c.segments[kind]

	p, err := s.write(key, data)
	if err != nil {
		return err
	}
	return c.commit(ctx, s, p, data)
}

// commit makes p visible and mirrors it to the proxy. Payloads dropped
// by a concurrent clear are not mirrored.
func (c *diskCache) commit(ctx context.Context, s *segment, p *pendingPut, data []byte) error {
	committed, err := s.commit(p)
	if err != nil || !committed {
		return err
	}

	if c.proxy != nil {
		// The upload runs after Put returns, so it gets its own copy.
		c.proxy.Put(ctx, s.kind, p.key, int64(len(data)), io.NopCloser(bytes.NewReader(bytes.Clone(data))))
	}

	return nil
}

func (c *diskCache) Contains(ctx context.Context, kind cache.Category, key string) (bool, int64) {
	s, ok := c.segmentFor(kind)
	if !ok || hashing.Validate(key) != nil {
		return false, -1
	}

	item, found := s.lookup(key)
	if !found {
		return false, -1
	}
	return true, item.size
}

// Clear only touches the local segment. The proxy backend is shared
// and is never cleared from here.
func (c *diskCache) Clear(kind cache.Category) {
	s, ok := c.segmentFor(kind)
	if !ok {
		return
	}
	s.clear()
}

func (c *diskCache) ClearAll() {
	for _, s := range c.segments {
		s.clear()
	}
}

func (c *diskCache) CacheSize() accounting.Snapshot {
	return c.accountant.Snapshot()
}

func (c *diskCache) ScanCacheSize(ctx context.Context) accounting.Snapshot {
	return c.accountant.ScanSnapshot(ctx)
}

func (c *diskCache) Stats() Stats {
	var sizes, onDisk [cache.NumCategories]int64

	st := Stats{
		StorageMode:    c.storageMode.String(),
		MaxSegmentSize: c.maxSegmentSize,
		ProxyEnabled:   c.proxy != nil,
	}

	for _, kind := range cache.Categories {
		s := c.segments[kind]
		s.mu.Lock()
		sizes[kind] = s.lru.CurrentSize()
		onDisk[kind] = s.sizeOnDisk
		st.NumItems[kind] = s.lru.Len()
		s.mu.Unlock()
	}

	st.Sizes = accounting.New(sizes)
	st.SizesOnDisk = accounting.New(onDisk)

	return st
}
