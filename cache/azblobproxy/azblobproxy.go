// Package azblobproxy is a cache implementation that proxies blobs
// to/from an Azure Blob Storage container.
package azblobproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/utils/backendproxy"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_azblob_cache_hits",
		Help: "The total number of azblob backend cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_azblob_cache_misses",
		Help: "The total number of azblob backend cache misses",
	})
)

type azBlobCache struct {
	containerClient  *container.Client
	storageAccount   string
	container        string
	prefix           string
	uploadQueue      chan<- backendproxy.UploadReq
	accessLogger     cache.Logger
	errorLogger      cache.Logger
	updateTimestamps bool
}

var errNotFound = errors.New("NOT FOUND")

// New returns a proxy backed by containerName in storageAccount. If
// creds is nil, sharedKey is used to authenticate.
func New(
	storageAccount string,
	containerName string,
	prefix string,
	creds azcore.TokenCredential,
	sharedKey string,
	updateTimestamps bool,
	accessLogger cache.Logger,
	errorLogger cache.Logger, numUploaders, maxQueuedUploads int,
) (cache.Proxy, error) {
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)

	var err error
	var client *azblob.Client

	if creds != nil {
		client, err = azblob.NewClient(url, creds, nil)
	} else if len(sharedKey) > 0 {
		var cred *azblob.SharedKeyCredential
		cred, err = azblob.NewSharedKeyCredential(storageAccount, sharedKey)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClientWithSharedKeyCredential(url, cred, nil)
	} else {
		client, err = azblob.NewClientWithNoCredential(url, nil)
	}
	if err != nil {
		return nil, err
	}

	errorLogger.Printf("Proxying media to Azure container '%s' in account '%s'.\n",
		containerName, storageAccount)

	c := &azBlobCache{
		containerClient:  client.ServiceClient().NewContainerClient(containerName),
		prefix:           prefix,
		storageAccount:   storageAccount,
		container:        containerName,
		accessLogger:     accessLogger,
		errorLogger:      errorLogger,
		updateTimestamps: updateTimestamps,
	}

	c.uploadQueue = backendproxy.StartUploaders(c, numUploaders, maxQueuedUploads)

	return c, nil
}

func (c *azBlobCache) Put(ctx context.Context, kind cache.Category, key string, size int64, rc io.ReadCloser) {
	backendproxy.Enqueue(c.uploadQueue, backendproxy.UploadReq{
		Key:  key,
		Size: size,
		Kind: kind,
		Rc:   rc,
	}, c.errorLogger)
}

func (c *azBlobCache) Get(ctx context.Context, kind cache.Category, key string) (rc io.ReadCloser, size int64, err error) {
	objectName := backendproxy.ObjectKey(c.prefix, kind, key)

	client := c.containerClient.NewBlockBlobClient(objectName)

	resp, err := client.DownloadStream(ctx, nil)
	if err != nil {
		cacheMisses.Inc()
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			logResponse(c.accessLogger, "DOWNLOAD", c.storageAccount, c.container, objectName, errNotFound)
			return nil, -1, nil
		}
		logResponse(c.accessLogger, "DOWNLOAD", c.storageAccount, c.container, objectName, err)
		return nil, -1, err
	}
	cacheHits.Inc()

	if c.updateTimestamps {
		c.updateModificationTimestamp(ctx, objectName)
	}

	logResponse(c.accessLogger, "DOWNLOAD", c.storageAccount, c.container, objectName, nil)

	rc = resp.NewRetryReader(ctx, &azblob.RetryReaderOptions{MaxRetries: 2})

	size = -1
	if resp.ContentLength != nil {
		size = *resp.ContentLength
	}

	return rc, size, nil
}

func (c *azBlobCache) Contains(ctx context.Context, kind cache.Category, key string) (bool, int64) {
	objectName := backendproxy.ObjectKey(c.prefix, kind, key)

	size := int64(-1)

	props, err := c.containerClient.NewBlobClient(objectName).GetProperties(ctx, nil)

	exists := (err == nil)
	if err != nil {
		err = errNotFound
	} else if props.ContentLength != nil {
		size = *props.ContentLength
	}

	logResponse(c.accessLogger, "CONTAINS", c.storageAccount, c.container, objectName, err)

	return exists, size
}

func (c *azBlobCache) UploadFile(item backendproxy.UploadReq) {
	defer func() { _ = item.Rc.Close() }()

	objectName := backendproxy.ObjectKey(c.prefix, item.Kind, item.Key)

	client := c.containerClient.NewBlockBlobClient(objectName)
	_, err := client.UploadStream(context.Background(), item.Rc, nil)

	logResponse(c.accessLogger, "UPLOAD", c.storageAccount, c.container, objectName, err)
}

func (c *azBlobCache) updateModificationTimestamp(ctx context.Context, objectName string) {
	client := c.containerClient.NewBlockBlobClient(objectName)

	now := time.Now().UTC().Format(time.RFC3339)
	metadata := map[string]*string{
		"LastAccessed": &now,
	}
	_, err := client.SetMetadata(ctx, metadata, nil)
	logResponse(c.accessLogger, "UPDATE_TIMESTAMPS", c.storageAccount, c.container, objectName, err)
}

// Helper function for logging responses
func logResponse(log cache.Logger, method, storageAccount, container, key string, err error) {
	status := "OK"
	if err != nil {
		status = err.Error()
	}

	log.Printf("AZBLOB %s %s %s %s %s", method, storageAccount, container, key, status)
}
