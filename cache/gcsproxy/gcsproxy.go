// Package gcsproxy proxies media to a Google Cloud Storage bucket
// through its XML API, which speaks the same GET/HEAD/PUT dialect as
// the httpproxy backend.
package gcsproxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/httpproxy"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const scope = "https://www.googleapis.com/auth/devstorage.read_write"

const storageHost = "storage.googleapis.com"

var errNoCredentials = errors.New("gcs_proxy requires either use_default_credentials or json_credentials_file")

// New returns a proxy backed by bucket. Exactly one of
// useDefaultCredentials and jsonCredentialsFile selects how requests
// are authorized.
func New(bucket string, useDefaultCredentials bool, jsonCredentialsFile string,
	accessLogger cache.Logger, errorLogger cache.Logger, numUploaders, maxQueuedUploads int) (cache.Proxy, error) {
	client, err := newClient(context.Background(), useDefaultCredentials, jsonCredentialsFile)
	if err != nil {
		return nil, err
	}

	errorLogger.Printf("Proxying media to GCS bucket '%s'.", bucket)

	return httpproxy.New(bucketURL(bucket), client,
		accessLogger, errorLogger, numUploaders, maxQueuedUploads)
}

func bucketURL(bucket string) *url.URL {
	return &url.URL{
		Scheme: "https",
		Host:   storageHost,
		Path:   bucket,
	}
}

func newClient(ctx context.Context, useDefaultCredentials bool, jsonCredentialsFile string) (*http.Client, error) {
	if useDefaultCredentials {
		return google.DefaultClient(ctx, scope)
	}

	if jsonCredentialsFile == "" {
		return nil, errNoCredentials
	}

	data, err := os.ReadFile(jsonCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading GCS credentials %q: %w", jsonCredentialsFile, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, scope)
	if err != nil {
		return nil, fmt.Errorf("parsing GCS credentials %q: %w", jsonCredentialsFile, err)
	}

	return oauth2.NewClient(ctx, creds.TokenSource), nil
}
