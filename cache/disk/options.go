package disk

import (
	"fmt"
	"time"

	"github.com/mediacache/mediacache/cache"
)

// Option configures a Cache created by New.
type Option func(*CacheConfig) error

// CacheConfig is the state that options act on.
type CacheConfig struct {
	diskCache *diskCache        // Assumed to be non-nil.
	metrics   *metricsDecorator // May be nil.
}

// WithStorageMode selects how new payloads are written: "uncompressed"
// (the default) or "zstd". Existing files keep the mode they were
// written in.
func WithStorageMode(mode string) Option {
	return func(c *CacheConfig) error {
		switch mode {
		case "uncompressed":
			c.diskCache.storageMode = Identity
		case "zstd":
			c.diskCache.storageMode = Zstandard
		default:
			return fmt.Errorf("Unsupported storage mode: %q", mode)
		}
		return nil
	}
}

// WithMaxSegmentSize caps the logical size of every segment, evicting
// the least recently used blobs when a put would exceed it. Zero means
// unbounded, which is the default.
func WithMaxSegmentSize(size int64) Option {
	return func(c *CacheConfig) error {
		if size < 0 {
			return fmt.Errorf("Invalid MaxSegmentSize: %d", size)
		}

		c.diskCache.maxSegmentSize = size
		return nil
	}
}

// WithProxyBackend makes local misses fall through to proxy, and
// mirrors local puts to it.
func WithProxyBackend(proxy cache.Proxy) Option {
	return func(c *CacheConfig) error {
		if c.diskCache.proxy != nil && proxy != nil {
			return fmt.Errorf("Proxy backends may be set only once")
		}

		c.diskCache.proxy = proxy
		return nil
	}
}

// WithProxyTimeout bounds each proxy lookup made on a local miss.
func WithProxyTimeout(timeout time.Duration) Option {
	return func(c *CacheConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("Invalid ProxyTimeout: %s", timeout)
		}

		c.diskCache.proxyTimeout = timeout
		return nil
	}
}

func WithAccessLogger(logger cache.Logger) Option {
	return func(c *CacheConfig) error {
		c.diskCache.accessLogger = logger
		return nil
	}
}

func WithErrorLogger(logger cache.Logger) Option {
	return func(c *CacheConfig) error {
		c.diskCache.errorLogger = logger
		return nil
	}
}

// WithEndpointMetrics counts operations per category and outcome.
func WithEndpointMetrics() Option {
	return func(c *CacheConfig) error {
		if c.metrics != nil {
			return fmt.Errorf("WithEndpointMetrics specified multiple times")
		}

		c.metrics = &metricsDecorator{counter: newEndpointCounter()}
		return nil
	}
}
