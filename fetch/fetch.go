// Package fetch downloads media from its origin and fills the cache
// with it.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultClientHeader = "X-Client-Id"
	DefaultClientID     = "mediacache"

	requestIDHeader = "X-Request-Id"

	// Only this much of a failed response body is kept in a StatusError.
	maxErrorBody = 1024
)

// StatusError is returned for responses that are not 2xx. Their bodies
// are never cached.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status code %d: %s", e.URL, e.StatusCode, string(e.Body))
}

// headerRoundTripper sets the identifying headers on every request.
type headerRoundTripper struct {
	wrapped http.RoundTripper
	header  string
	value   string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone, RoundTrippers must not modify the request.
	clone := req.Clone(req.Context())
	clone.Header.Set(rt.header, rt.value)
	if clone.Header.Get(requestIDHeader) == "" {
		clone.Header.Set(requestIDHeader, uuid.New().String())
	}
	return rt.wrapped.RoundTrip(clone)
}

// Client fetches media payloads over HTTP.
type Client struct {
	client *http.Client
}

// NewClient returns a Client that identifies itself with header: id on
// every request, and gives up on a request after timeout. base may be
// nil. Empty or zero arguments select the defaults.
func NewClient(base *http.Client, header, id string, timeout time.Duration) *Client {
	if base == nil {
		base = &http.Client{}
	}
	if header == "" {
		header = DefaultClientHeader
	}
	if id == "" {
		id = DefaultClientID
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	c := *base
	c.Transport = &headerRoundTripper{
		wrapped: transport,
		header:  header,
		value:   id,
	}
	c.Timeout = timeout

	return &Client{client: &c}
}

// Fetch returns the body of a GET request for url. Any non-2xx response
// is reported as a *StatusError.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	rsp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(rsp.Body, maxErrorBody))
		return nil, &StatusError{
			URL:        url,
			StatusCode: rsp.StatusCode,
			Body:       body,
		}
	}

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}
