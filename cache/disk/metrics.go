package disk

import (
	"context"

	"github.com/mediacache/mediacache/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_disk_cache_hits",
		Help: "The total number of disk backend cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_disk_cache_misses",
		Help: "The total number of disk backend cache misses",
	})
	proxyHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_disk_cache_proxy_hits",
		Help: "The total number of local misses that were served by the proxy backend",
	})

	sizeBytesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mediacache_disk_cache_size_bytes",
		Help: "The current logical size of each cache segment",
	}, []string{"category"})

	overwrittenBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_disk_cache_overwritten_bytes_total",
		Help: "The total number of bytes replaced by puts of an existing key",
	}, []string{"category"})
	evictedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_disk_cache_evicted_bytes_total",
		Help: "The total number of bytes evicted to respect max_segment_size",
	}, []string{"category"})
	clearedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_disk_cache_cleared_bytes_total",
		Help: "The total number of bytes removed by explicit clears",
	}, []string{"category"})
)

type metricsDecorator struct {
	counter *prometheus.CounterVec
	*diskCache
}

const (
	hitStatus   = "hit"
	missStatus  = "miss"
	emptyStatus = ""

	getMethod   = "get"
	putMethod   = "put"
	clearMethod = "clear"
)

func newEndpointCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mediacache_incoming_requests_total",
		Help: "The number of incoming cache requests",
	},
		[]string{"method", "category", "status"})
}

func (m *metricsDecorator) RegisterMetrics() {
	prometheus.MustRegister(m.counter)
}

func (m *metricsDecorator) Get(ctx context.Context, kind cache.Category, url string) ([]byte, bool) {
	data, ok := m.diskCache.Get(ctx, kind, url)
	m.countGet(kind, ok)
	return data, ok
}

func (m *metricsDecorator) GetBlob(ctx context.Context, kind cache.Category, key string) ([]byte, bool) {
	data, ok := m.diskCache.GetBlob(ctx, kind, key)
	m.countGet(kind, ok)
	return data, ok
}

func (m *metricsDecorator) countGet(kind cache.Category, ok bool) {
	lbls := prometheus.Labels{"method": getMethod, "category": kind.String()}
	if ok {
		lbls["status"] = hitStatus
	} else {
		lbls["status"] = missStatus
	}
	m.counter.With(lbls).Inc()
}

func (m *metricsDecorator) PutBlob(ctx context.Context, kind cache.Category, key string, data []byte) error {
	err := m.diskCache.PutBlob(ctx, kind, key, data)

	lbls := prometheus.Labels{"method": putMethod, "category": kind.String(), "status": emptyStatus}
	m.counter.With(lbls).Inc()

	return err
}

func (m *metricsDecorator) Put(ctx context.Context, kind cache.Category, url string, data []byte) {
	m.diskCache.Put(ctx, kind, url, data)

	lbls := prometheus.Labels{"method": putMethod, "category": kind.String(), "status": emptyStatus}
	m.counter.With(lbls).Inc()
}

func (m *metricsDecorator) Clear(kind cache.Category) {
	m.diskCache.Clear(kind)

	lbls := prometheus.Labels{"method": clearMethod, "category": kind.String(), "status": emptyStatus}
	m.counter.With(lbls).Inc()
}

func (m *metricsDecorator) ClearAll() {
	for _, kind := range cache.Categories {
		m.Clear(kind)
	}
}
