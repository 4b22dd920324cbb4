// Package httpproxy mirrors media blobs to any HTTP server that answers
// GET, HEAD and PUT on object paths.
package httpproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/utils/backendproxy"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upstream error bodies are forwarded up to this many bytes.
const maxErrorBody = 1024

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_http_cache_hits",
		Help: "The total number of HTTP backend cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_http_cache_misses",
		Help: "The total number of HTTP backend cache misses",
	})
)

var errMissingContentLength = errors.New("HTTP backend response has no Content-Length")

type httpProxy struct {
	client       *http.Client
	baseURL      string
	uploadQueue  chan<- backendproxy.UploadReq
	accessLogger cache.Logger
	errorLogger  cache.Logger
}

// New returns a proxy storing blobs below baseURL, at
// <baseURL>/<category>/<shard>/<key>.
func New(baseURL *url.URL, client *http.Client,
	accessLogger cache.Logger, errorLogger cache.Logger,
	numUploaders, maxQueuedUploads int) (cache.Proxy, error) {
	switch baseURL.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported http_proxy.url scheme %q", baseURL.Scheme)
	}

	p := &httpProxy{
		client:       client,
		baseURL:      strings.TrimRight(baseURL.String(), "/"),
		accessLogger: accessLogger,
		errorLogger:  errorLogger,
	}
	p.uploadQueue = backendproxy.StartUploaders(p, numUploaders, maxQueuedUploads)

	return p, nil
}

func (p *httpProxy) objectURL(kind cache.Category, key string) string {
	return p.baseURL + "/" + backendproxy.ObjectKey("", kind, key)
}

func (p *httpProxy) do(ctx context.Context, method, url string, body io.Reader, size int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if method == http.MethodPut {
		req.Header.Set("Content-Type", "application/octet-stream")
		req.ContentLength = size
	}

	rsp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	p.accessLogger.Printf("HTTP %s %d %s", method, rsp.StatusCode, url)
	return rsp, nil
}

// discard drains and closes the body so the connection can be reused.
func discard(rsp *http.Response) {
	_, _ = io.Copy(io.Discard, rsp.Body)
	_ = rsp.Body.Close()
}

// statusError turns an unexpected response into a *cache.Error carrying
// the start of the response body.
func statusError(rsp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(rsp.Body, maxErrorBody))
	_ = rsp.Body.Close()
	return &cache.Error{Code: rsp.StatusCode, Text: string(body)}
}

// UploadFile implements backendproxy.Uploader. Blobs the backend already
// holds with the same size are skipped.
func (p *httpProxy) UploadFile(item backendproxy.UploadReq) {
	defer func() { _ = item.Rc.Close() }()

	ctx := context.Background()
	url := p.objectURL(item.Kind, item.Key)

	if found, size := p.contains(ctx, url); found && size == item.Size {
		p.accessLogger.Printf("HTTP SKIP UPLOAD %s/%s", item.Kind, item.Key)
		return
	}

	var body io.Reader = item.Rc
	if item.Size == 0 {
		// A zero ContentLength with a non-nil body is sent chunked.
		body = http.NoBody
	}

	rsp, err := p.do(ctx, http.MethodPut, url, body, item.Size)
	if err != nil {
		p.errorLogger.Printf("HTTP UPLOAD %s failed: %v", url, err)
		return
	}
	discard(rsp)
}

func (p *httpProxy) Put(ctx context.Context, kind cache.Category, key string, size int64, rc io.ReadCloser) {
	backendproxy.Enqueue(p.uploadQueue, backendproxy.UploadReq{
		Key:  key,
		Size: size,
		Kind: kind,
		Rc:   rc,
	}, p.errorLogger)
}

func (p *httpProxy) Get(ctx context.Context, kind cache.Category, key string) (io.ReadCloser, int64, error) {
	rsp, err := p.do(ctx, http.MethodGet, p.objectURL(kind, key), nil, 0)
	if err != nil {
		cacheMisses.Inc()
		return nil, -1, err
	}

	switch {
	case rsp.StatusCode == http.StatusNotFound:
		discard(rsp)
		cacheMisses.Inc()
		return nil, -1, nil

	case rsp.StatusCode != http.StatusOK:
		cacheMisses.Inc()
		return nil, -1, statusError(rsp)

	case rsp.ContentLength < 0:
		_ = rsp.Body.Close()
		cacheMisses.Inc()
		return nil, -1, errMissingContentLength
	}

	cacheHits.Inc()
	return rsp.Body, rsp.ContentLength, nil
}

func (p *httpProxy) Contains(ctx context.Context, kind cache.Category, key string) (bool, int64) {
	return p.contains(ctx, p.objectURL(kind, key))
}

func (p *httpProxy) contains(ctx context.Context, url string) (bool, int64) {
	rsp, err := p.do(ctx, http.MethodHead, url, nil, 0)
	if err != nil {
		return false, -1
	}
	discard(rsp)

	if rsp.StatusCode != http.StatusOK {
		return false, -1
	}
	return true, rsp.ContentLength
}
