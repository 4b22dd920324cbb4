// Package s3proxy is a cache implementation that proxies blobs to/from
// an S3 API compatible object store.
package s3proxy

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/utils/backendproxy"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type s3Cache struct {
	mcore            *minio.Core
	prefix           string
	bucket           string
	updateTimestamps bool
	uploadQueue      chan<- backendproxy.UploadReq
	accessLogger     cache.Logger
	errorLogger      cache.Logger
}

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_s3_cache_hits",
		Help: "The total number of s3 backend cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_s3_cache_misses",
		Help: "The total number of s3 backend cache misses",
	})
)

// Used in place of minio's verbose "NoSuchKey" error.
var errNotFound = errors.New("NOT FOUND")

// New returns a new instance of the S3-API based cache.
func New(
	// S3CloudStorageConfig struct fields:
	Endpoint string,
	Bucket string,
	Prefix string,
	Credentials *credentials.Credentials,
	DisableSSL bool,
	UpdateTimestamps bool,
	Region string,

	accessLogger cache.Logger, errorLogger cache.Logger,
	numUploaders, maxQueuedUploads int) (cache.Proxy, error) {
	// Initialize minio client object.
	opts := &minio.Options{
		Creds:  Credentials,
		Secure: !DisableSSL,
		Region: Region,
	}
	minioCore, err := minio.NewCore(Endpoint, opts)
	if err != nil {
		return nil, err
	}

	errorLogger.Printf("Proxying media to S3 bucket '%s' at %s.\n", Bucket, Endpoint)

	c := &s3Cache{
		mcore:            minioCore,
		prefix:           Prefix,
		bucket:           Bucket,
		updateTimestamps: UpdateTimestamps,
		accessLogger:     accessLogger,
		errorLogger:      errorLogger,
	}

	c.uploadQueue = backendproxy.StartUploaders(c, numUploaders, maxQueuedUploads)

	return c, nil
}

func (c *s3Cache) objectKey(kind cache.Category, key string) string {
	return backendproxy.ObjectKey(c.prefix, kind, key)
}

// Helper function for logging responses
func logResponse(log cache.Logger, method, bucket, key string, err error) {
	status := "OK"
	if err != nil {
		status = err.Error()
	}

	log.Printf("S3 %s %s %s %s", method, bucket, key, status)
}

func (c *s3Cache) UploadFile(item backendproxy.UploadReq) {
	defer item.Rc.Close()

	_, err := c.mcore.PutObject(
		context.Background(),
		c.bucket,                         // bucketName
		c.objectKey(item.Kind, item.Key), // objectName
		item.Rc,                          // reader
		item.Size,                        // objectSize
		"",                               // md5base64
		"",                               // sha256
		minio.PutObjectOptions{
			ContentType: "application/octet-stream",
			UserMetadata: map[string]string{
				"Category": item.Kind.String(),
			},
		}, // metadata
	)

	logResponse(c.accessLogger, "UPLOAD", c.bucket, c.objectKey(item.Kind, item.Key), err)
}

func (c *s3Cache) Put(ctx context.Context, kind cache.Category, key string, size int64, rc io.ReadCloser) {
	backendproxy.Enqueue(c.uploadQueue, backendproxy.UploadReq{
		Key:  key,
		Size: size,
		Kind: kind,
		Rc:   rc,
	}, c.errorLogger)
}

// updateModificationTimestamp copies the object onto itself, which
// refreshes its last modified time. This keeps frequently read blobs
// alive under bucket lifecycle rules that expire old objects.
func (c *s3Cache) updateModificationTimestamp(ctx context.Context, objectName string) {
	src := minio.CopySrcOptions{
		Bucket: c.bucket,
		Object: objectName,
	}
	dst := minio.CopyDestOptions{
		Bucket:          c.bucket,
		Object:          objectName,
		ReplaceMetadata: true,
	}

	_, err := c.mcore.Client.CopyObject(ctx, dst, src)

	logResponse(c.accessLogger, "UPDATE_TIMESTAMPS", c.bucket, objectName, err)
}

func (c *s3Cache) Get(ctx context.Context, kind cache.Category, key string) (io.ReadCloser, int64, error) {
	objectName := c.objectKey(kind, key)

	object, info, _, err := c.mcore.GetObject(
		ctx,
		c.bucket,                 // bucketName
		objectName,               // objectName
		minio.GetObjectOptions{}, // opts
	)
	if err != nil {
		cacheMisses.Inc()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			logResponse(c.accessLogger, "DOWNLOAD", c.bucket, objectName, errNotFound)
			return nil, -1, nil
		}
		logResponse(c.accessLogger, "DOWNLOAD", c.bucket, objectName, err)
		return nil, -1, fmt.Errorf("s3 download of %s failed: %w", objectName, err)
	}
	cacheHits.Inc()

	if c.updateTimestamps {
		c.updateModificationTimestamp(ctx, objectName)
	}

	logResponse(c.accessLogger, "DOWNLOAD", c.bucket, objectName, nil)

	return object, info.Size, nil
}

func (c *s3Cache) Contains(ctx context.Context, kind cache.Category, key string) (bool, int64) {
	size := int64(-1)
	objectName := c.objectKey(kind, key)

	s, err := c.mcore.StatObject(
		ctx,
		c.bucket,                  // bucketName
		objectName,                // objectName
		minio.StatObjectOptions{}, // opts
	)

	exists := (err == nil)
	if err != nil {
		err = errNotFound
	} else {
		size = s.Size
	}

	logResponse(c.accessLogger, "CONTAINS", c.bucket, objectName, err)

	return exists, size
}
