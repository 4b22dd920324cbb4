// Package backendproxy holds the upload queue shared by the proxy
// backend implementations.
package backendproxy

import (
	"io"
	"path"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/hashing"
)

// UploadReq describes one blob waiting to be mirrored to a proxy.
type UploadReq struct {
	Key  string
	Size int64
	Kind cache.Category
	Rc   io.ReadCloser
}

// Uploader is implemented by proxy backends. UploadFile must close
// item.Rc.
type Uploader interface {
	UploadFile(item UploadReq)
}

// StartUploaders spawns numUploaders goroutines that call u.UploadFile
// for each request sent on the returned channel. A nil channel is
// returned if uploads are disabled.
func StartUploaders(u Uploader, numUploaders int, maxQueuedUploads int) chan UploadReq {
	if maxQueuedUploads <= 0 || numUploaders <= 0 {
		return nil
	}

	uploadQueue := make(chan UploadReq, maxQueuedUploads)

	for i := 0; i < numUploaders; i++ {
		go func() {
			for item := range uploadQueue {
				u.UploadFile(item)
			}
		}()
	}

	return uploadQueue
}

// Enqueue attempts to queue item without blocking. If the queue is nil
// or full, item.Rc is closed and false is returned.
func Enqueue(queue chan<- UploadReq, item UploadReq, errorLogger cache.Logger) bool {
	if queue == nil {
		_ = item.Rc.Close()
		return false
	}

	select {
	case queue <- item:
		return true
	default:
		errorLogger.Printf("too many uploads queued")
		_ = item.Rc.Close()
		return false
	}
}

// ObjectKey returns the name that proxy backends store a blob under:
// [prefix/]<category>/<shard>/<key>, mirroring the local layout.
func ObjectKey(prefix string, kind cache.Category, key string) string {
	baseKey := path.Join(kind.String(), hashing.Shard(key), key)
	if prefix == "" {
		return baseKey
	}

	return path.Join(prefix, baseKey)
}
