// Package prometheus serves the HTTP endpoints with request metrics
// recorded by go-http-metrics, and exposes them on /metrics.
package prometheus

import (
	"net/http"
	"strings"

	"github.com/mediacache/mediacache/cache"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpmetrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	middlewarestd "github.com/slok/go-http-metrics/middleware/std"
)

// DefaultDurationBuckets are the buckets used for the request duration
// histograms, in seconds.
var DefaultDurationBuckets = []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160, 320}

// WrapEndpoints attaches the metrics, status and cache endpoints to mux.
// Cache requests are recorded per category, so the handler label has a
// fixed, small set of values.
func WrapEndpoints(mux *http.ServeMux, cacheHandler http.HandlerFunc, status http.HandlerFunc, durationBuckets []float64) {
	if len(durationBuckets) == 0 {
		durationBuckets = DefaultDurationBuckets
	}

	metricsMdlw := middleware.New(middleware.Config{
		Recorder: httpmetrics.NewRecorder(httpmetrics.Config{
			Prefix:          "mediacache",
			DurationBuckets: durationBuckets,
		}),
	})

	handlers := make(map[string]http.Handler, cache.NumCategories+1)
	for _, kind := range cache.Categories {
		handlers[kind.String()] = middlewarestd.Handler(kind.String(), metricsMdlw, cacheHandler)
	}
	other := middlewarestd.Handler("other", metricsMdlw, cacheHandler)

	mux.Handle("/metrics", middlewarestd.Handler("metrics", metricsMdlw, promhttp.Handler()))
	mux.Handle("/status", middlewarestd.Handler("status", metricsMdlw, status))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[HandlerID(r.URL.Path)]
		if !ok {
			h = other
		}
		h.ServeHTTP(w, r)
	})
}

// HandlerID returns the category named by a cache request path, or
// "other" if there is none.
func HandlerID(path string) string {
	name := strings.Trim(path, "/")
	kind, err := cache.ParseCategory(name)
	if err != nil {
		return "other"
	}
	return kind.String()
}
