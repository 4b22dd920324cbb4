package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/accounting"
	"github.com/mediacache/mediacache/cache/disk"
	"github.com/mediacache/mediacache/fetch"
)

// HTTPCache serves the cache over HTTP:
//
//	GET|HEAD|PUT /{category}?url=U
//	DELETE /{category}
//	DELETE /
type HTTPCache interface {
	CacheHandler(w http.ResponseWriter, r *http.Request)
	StatusPageHandler(w http.ResponseWriter, r *http.Request)
}

type httpCache struct {
	cache        disk.MediaCache
	loader       *fetch.Loader
	maxBlobSize  int64
	accessLogger cache.Logger
	errorLogger  cache.Logger
	gitCommit    string
}

type statusPageData struct {
	Sizes          accounting.Snapshot
	FormattedSizes map[string]string
	SizesOnDisk    accounting.Snapshot
	NumItems       map[string]int
	StorageMode    string
	MaxSegmentSize int64
	ProxyEnabled   bool
	FetchEnabled   bool
	Scanned        bool
	ServerTime     int64
	GitCommit      string
}

// NewHTTPCache returns a new instance of the cache.
// accessLogger will print one line for each HTTP request to stdout.
// errorLogger will print unexpected server errors. Inexistent files and malformed URLs will not
// be reported.
//
// If loader is non-nil, GET misses are filled from the origin. PUT
// bodies larger than maxBlobSize are rejected, unless it is zero.
func NewHTTPCache(c disk.MediaCache, loader *fetch.Loader, maxBlobSize int64,
	accessLogger cache.Logger, errorLogger cache.Logger, commit string) HTTPCache {
	errorLogger.Printf("Loaded existing disk cache items, total size %s.",
		accounting.FormatBytes(c.CacheSize().Total))

	hc := &httpCache{
		cache:        c,
		loader:       loader,
		maxBlobSize:  maxBlobSize,
		accessLogger: accessLogger,
		errorLogger:  errorLogger,
	}

	if commit != "{STABLE_GIT_COMMIT}" {
		hc.gitCommit = commit
	}

	return hc
}

// Parse the category from the request path. An empty path selects
// every category, and is reported with all == true.
func parseRequestPath(path string) (kind cache.Category, all bool, err error) {
	name := strings.Trim(path, "/")
	if name == "" {
		return 0, true, nil
	}

	kind, err = cache.ParseCategory(name)
	if err != nil {
		return 0, false, fmt.Errorf("unknown category '%s'", html.EscapeString(name))
	}
	return kind, false, nil
}

func (h *httpCache) logResponse(r *http.Request, code int) {
	// Parse the client ip:port
	clientAddress, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientAddress = r.RemoteAddr
	}
	h.accessLogger.Printf("%4s %d %15s %s %s", r.Method, code, clientAddress, r.URL.Path, r.URL.Query().Get("url"))
}

func (h *httpCache) CacheHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	kind, all, err := parseRequestPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		h.logResponse(r, http.StatusBadRequest)
		return
	}

	if r.Method == http.MethodDelete {
		if all {
			h.cache.ClearAll()
		} else {
			h.cache.Clear(kind)
		}
		w.WriteHeader(http.StatusOK)
		h.logResponse(r, http.StatusOK)
		return
	}

	if all {
		msg := "a category is required, e.g. /avatars?url=..."
		http.Error(w, msg, http.StatusBadRequest)
		h.logResponse(r, http.StatusBadRequest)
		return
	}

	url := r.URL.Query().Get("url")
	if url == "" {
		http.Error(w, "missing 'url' query parameter", http.StatusBadRequest)
		h.logResponse(r, http.StatusBadRequest)
		return
	}

	switch m := r.Method; m {
	case http.MethodGet:
		data, code, err := h.get(r.Context(), kind, url)
		if err != nil {
			http.Error(w, err.Error(), code)
			h.logResponse(r, code)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, err = w.Write(data)
		if err != nil {
			h.errorLogger.Printf("GET %s %s: %v", kind, url, err)
		}
		h.logResponse(r, http.StatusOK)

	case http.MethodHead:
		data, found := h.cache.Get(r.Context(), kind, url)
		if !found {
			http.Error(w, "Not found", http.StatusNotFound)
			h.logResponse(r, http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		h.logResponse(r, http.StatusOK)

	case http.MethodPut:
		var body io.Reader = r.Body
		if h.maxBlobSize > 0 {
			if r.ContentLength > h.maxBlobSize {
				msg := fmt.Sprintf("PUT of %d bytes exceeds the limit of %d", r.ContentLength, h.maxBlobSize)
				http.Error(w, msg, http.StatusRequestEntityTooLarge)
				h.logResponse(r, http.StatusRequestEntityTooLarge)
				return
			}
			body = http.MaxBytesReader(w, r.Body, h.maxBlobSize)
		}

		data, err := io.ReadAll(body)
		if err != nil {
			code := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				code = http.StatusRequestEntityTooLarge
			}
			http.Error(w, err.Error(), code)
			h.logResponse(r, code)
			return
		}

		h.cache.Put(r.Context(), kind, url, data)
		w.WriteHeader(http.StatusOK)
		h.logResponse(r, http.StatusOK)

	default:
		msg := fmt.Sprintf("Method '%s' not supported.", html.EscapeString(m))
		http.Error(w, msg, http.StatusMethodNotAllowed)
		h.logResponse(r, http.StatusMethodNotAllowed)
	}
}

// get returns the payload for url, filling misses from the origin when
// fetching is enabled. On failure the status code to report is
// returned with the error.
func (h *httpCache) get(ctx context.Context, kind cache.Category, url string) ([]byte, int, error) {
	if h.loader == nil {
		data, found := h.cache.Get(ctx, kind, url)
		if !found {
			return nil, http.StatusNotFound, errors.New("Not found")
		}
		return data, http.StatusOK, nil
	}

	data, err := h.loader.Load(ctx, kind, url)
	if err != nil {
		var serr *fetch.StatusError
		if errors.As(err, &serr) && serr.StatusCode == http.StatusNotFound {
			return nil, http.StatusNotFound, errors.New("Not found")
		}
		h.errorLogger.Printf("FETCH %s %s: %v", kind, url, err)
		return nil, http.StatusBadGateway, err
	}
	return data, http.StatusOK, nil
}

// Produce a debugging page with some stats about the cache.
func (h *httpCache) StatusPageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	st := h.cache.Stats()

	scan := r.URL.Query().Get("scan") == "true"
	sizes := st.Sizes
	if scan {
		sizes = h.cache.ScanCacheSize(r.Context())
	}

	numItems := make(map[string]int, cache.NumCategories)
	for _, kind := range cache.Categories {
		numItems[kind.String()] = st.NumItems[kind]
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	err := enc.Encode(statusPageData{
		Sizes:          sizes,
		FormattedSizes: sizes.Formatted(),
		SizesOnDisk:    st.SizesOnDisk,
		NumItems:       numItems,
		StorageMode:    st.StorageMode,
		MaxSegmentSize: st.MaxSegmentSize,
		ProxyEnabled:   st.ProxyEnabled,
		FetchEnabled:   h.loader != nil,
		Scanned:        scan,
		ServerTime:     time.Now().Unix(),
		GitCommit:      h.gitCommit,
	})
	if err != nil {
		h.errorLogger.Printf("STATUS: %v", err)
	}
}
