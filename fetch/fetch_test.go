package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/disk"
	testutils "github.com/mediacache/mediacache/utils"

	"github.com/google/go-cmp/cmp"
)

func TestFetchSendsHeaders(t *testing.T) {
	var gotClient, gotRequestID string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotClient = r.Header.Get("X-App")
		gotRequestID = r.Header.Get(requestIDHeader)
		_, _ = w.Write([]byte("payload"))
	}))
	defer ts.Close()

	c := NewClient(nil, "X-App", "ios-client", 0)

	data, err := c.Fetch(context.Background(), ts.URL+"/a.png")
	if err != nil {
		t.Fatal(err)
	}
	testutils.AssertEquals(t, "payload", string(data))
	testutils.AssertEquals(t, "ios-client", gotClient)
	if gotRequestID == "" {
		t.Fatal("Expected a request id header")
	}
}

func TestFetchDefaults(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(DefaultClientHeader)
	}))
	defer ts.Close()

	c := NewClient(nil, "", "", 0)
	testutils.AssertEquals(t, DefaultTimeout, c.client.Timeout)

	data, err := c.Fetch(context.Background(), ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	testutils.AssertEquals(t, 0, len(data))
	testutils.AssertEquals(t, DefaultClientID, got)
}

func TestFetchStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer ts.Close()

	c := NewClient(nil, "", "", time.Second)

	_, err := c.Fetch(context.Background(), ts.URL)

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("Expected a *StatusError, got %v", err)
	}
	testutils.AssertEquals(t, http.StatusGone, serr.StatusCode)
	testutils.AssertEquals(t, "gone\n", string(serr.Body))
}

func TestFetchTimeout(t *testing.T) {
	done := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-done:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(done)

	c := NewClient(nil, "", "", 50*time.Millisecond)

	_, err := c.Fetch(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("Expected a timeout")
	}
}

type countingFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	data    []byte
	err     error
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.data, f.err
}

func newTestCache(t *testing.T) *disk.Cache {
	c, err := disk.New(testutils.TempDir(t), disk.WithErrorLogger(testutils.NewSilentLogger()))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLoaderFillsCache(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	f := &countingFetcher{data: []byte("avatar")}
	l := NewLoader(c, f, 0, testutils.NewSilentLogger())

	const url = "https://example.com/avatar.png"

	for i := 0; i < 3; i++ {
		data, err := l.Load(ctx, cache.Avatars, url)
		if err != nil {
			t.Fatal(err)
		}
		testutils.AssertEquals(t, "avatar", string(data))
	}
	testutils.AssertEquals(t, int32(1), f.calls.Load())

	data, found := c.GetCachedAvatar(ctx, url)
	if !found || string(data) != "avatar" {
		t.Fatal("Expected the fetched avatar to be cached")
	}

	// Other categories are independent.
	_, err := l.Load(ctx, cache.Banners, url)
	if err != nil {
		t.Fatal(err)
	}
	testutils.AssertEquals(t, int32(2), f.calls.Load())
}

func TestLoaderDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	f := &countingFetcher{err: &StatusError{StatusCode: http.StatusNotFound}}
	l := NewLoader(c, f, 0, testutils.NewSilentLogger())

	const url = "https://example.com/missing.png"

	_, err := l.Load(ctx, cache.PostImages, url)
	if err == nil {
		t.Fatal("Expected an error")
	}

	_, found := c.GetCachedPostImage(ctx, url)
	if found {
		t.Fatal("Expected the failure not to be cached")
	}
	testutils.AssertEquals(t, int64(0), c.CacheSize().Total)
}

func TestLoaderCollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)
	f := &countingFetcher{
		data:    testutils.RandomData(4096),
		release: make(chan struct{}),
	}
	l := NewLoader(c, f, 0, testutils.NewSilentLogger())

	const url = "https://example.com/track.mp3"
	const n = 10

	var wg sync.WaitGroup
	results := make([][]byte, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, err := l.Load(ctx, cache.Tracks, url)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = data
		}(i)
	}

	// Let the loads pile up behind the first fetch.
	time.Sleep(100 * time.Millisecond)
	close(f.release)
	wg.Wait()

	testutils.AssertEquals(t, int32(1), f.calls.Load())
	for i := range results {
		if diff := cmp.Diff(f.data, results[i]); diff != "" {
			t.Fatalf("Unexpected payload for load %d (-want +got):\n%s", i, diff)
		}
	}
	testutils.AssertEquals(t, int64(4096), c.CacheSize().Tracks)
}

func TestLoaderSurvivesFirstCallerCancelling(t *testing.T) {
	c := newTestCache(t)
	f := &countingFetcher{
		data:    []byte("banner"),
		release: make(chan struct{}),
	}
	l := NewLoader(c, f, 0, testutils.NewSilentLogger())

	const url = "https://example.com/banner.png"

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := l.Load(firstCtx, cache.Banners, url)
		firstErr <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for f.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("The fetch never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		data []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		data, err := l.Load(context.Background(), cache.Banners, url)
		second <- result{data, err}
	}()

	// Let the second load join the shared fetch, then hang up the first.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Expected the cancelled load to report context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("The cancelled load did not return")
	}

	close(f.release)

	select {
	case r := <-second:
		if r.err != nil {
			t.Fatalf("Expected the second load to succeed, got %v", r.err)
		}
		testutils.AssertEquals(t, "banner", string(r.data))
	case <-time.After(5 * time.Second):
		t.Fatal("The second load did not return")
	}

	testutils.AssertEquals(t, int32(1), f.calls.Load())
	data, found := c.GetCachedBanner(context.Background(), url)
	if !found || string(data) != "banner" {
		t.Fatal("Expected the shared fetch to be cached")
	}
}
