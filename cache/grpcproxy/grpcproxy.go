// Package grpcproxy is a cache implementation that proxies blobs to/from
// another mediacache instance over its gRPC ByteStream service.
package grpcproxy

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/utils/backendproxy"
	"github.com/mediacache/mediacache/utils/resourcename"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	bs "google.golang.org/genproto/googleapis/bytestream"
)

const (
	// The maximum chunk size to send in Write calls.
	maxChunkSize = 2 * 1024 * 1024 // 2M
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_grpc_cache_hits",
		Help: "The total number of gRPC backend cache hits",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mediacache_grpc_cache_misses",
		Help: "The total number of gRPC backend cache misses",
	})
)

type GrpcClients struct {
	bs     bs.ByteStreamClient
	health grpc_health_v1.HealthClient
}

func NewGrpcClients(cc *grpc.ClientConn) *GrpcClients {
	return &GrpcClients{
		bs:     bs.NewByteStreamClient(cc),
		health: grpc_health_v1.NewHealthClient(cc),
	}
}

// CheckHealth returns an error unless the backend reports that it is
// serving.
func (c *GrpcClients) CheckHealth(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		return fmt.Errorf("proxy backend is not serving: %s", resp.Status)
	}
	return nil
}

type remoteGrpcProxyCache struct {
	clients      *GrpcClients
	uploadQueue  chan<- backendproxy.UploadReq
	accessLogger cache.Logger
	errorLogger  cache.Logger
}

func New(clients *GrpcClients,
	accessLogger cache.Logger, errorLogger cache.Logger,
	numUploaders, maxQueuedUploads int) (cache.Proxy, error) {
	proxy := &remoteGrpcProxyCache{
		clients:      clients,
		accessLogger: accessLogger,
		errorLogger:  errorLogger,
	}

	proxy.uploadQueue = backendproxy.StartUploaders(proxy, numUploaders, maxQueuedUploads)

	return proxy, nil
}

// Helper function for logging responses
func logResponse(logger cache.Logger, method string, msg string, kind cache.Category, key string) {
	logger.Printf("GRPC PROXY %s %s %s: %s", strings.ToUpper(method), strings.ToUpper(kind.String()), key, msg)
}

func (r *remoteGrpcProxyCache) UploadFile(item backendproxy.UploadReq) {
	defer func() { _ = item.Rc.Close() }()

	stream, err := r.clients.bs.Write(context.Background())
	if err != nil {
		logResponse(r.errorLogger, "Write", err.Error(), item.Kind, item.Key)
		return
	}

	bufSize := item.Size
	if bufSize > maxChunkSize {
		bufSize = maxChunkSize
	}
	buf := make([]byte, bufSize)

	resourceName := resourcename.WriteResource(item.Kind, item.Key, item.Size)

	firstIteration := true
	for {
		n, err := io.ReadFull(item.Rc, buf)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			logResponse(r.errorLogger, "Write", err.Error(), item.Kind, item.Key)
			err := stream.CloseSend()
			if err != nil {
				logResponse(r.errorLogger, "Write", err.Error(), item.Kind, item.Key)
			}
			return
		}

		last := n < len(buf) || len(buf) == 0
		if n > 0 || firstIteration {
			rn := ""
			if firstIteration {
				firstIteration = false
				rn = resourceName
			}
			req := &bs.WriteRequest{
				ResourceName: rn,
				Data:         buf[:n],
				FinishWrite:  last,
			}
			err := stream.Send(req)
			if err != nil {
				logResponse(r.errorLogger, "Write", err.Error(), item.Kind, item.Key)
				return
			}
		}

		if last {
			_, err = stream.CloseAndRecv()
			if err != nil {
				logResponse(r.errorLogger, "Write", err.Error(), item.Kind, item.Key)
				return
			}
			logResponse(r.accessLogger, "Write", "Success", item.Kind, item.Key)
			return
		}
	}
}

func (r *remoteGrpcProxyCache) Put(ctx context.Context, kind cache.Category, key string, size int64, rc io.ReadCloser) {
	backendproxy.Enqueue(r.uploadQueue, backendproxy.UploadReq{
		Key:  key,
		Size: size,
		Kind: kind,
		Rc:   rc,
	}, r.errorLogger)
}

func (r *remoteGrpcProxyCache) Get(ctx context.Context, kind cache.Category, key string) (io.ReadCloser, int64, error) {
	// The blob's size is needed up front, and is only known by asking.
	found, size := r.Contains(ctx, kind, key)
	if !found {
		cacheMisses.Inc()
		return nil, -1, nil
	}

	req := bs.ReadRequest{
		ResourceName: resourcename.ReadResource(kind, key),
	}
	stream, err := r.clients.bs.Read(ctx, &req)
	if err != nil {
		cacheMisses.Inc()
		logResponse(r.errorLogger, "Read", err.Error(), kind, key)
		return nil, -1, err
	}

	cacheHits.Inc()
	logResponse(r.accessLogger, "Read", "Started", kind, key)
	return newStreamReader(stream, size), size, nil
}

func (r *remoteGrpcProxyCache) Contains(ctx context.Context, kind cache.Category, key string) (bool, int64) {
	req := &bs.QueryWriteStatusRequest{
		ResourceName: resourcename.ReadResource(kind, key),
	}
	res, err := r.clients.bs.QueryWriteStatus(ctx, req)
	if err != nil {
		if status.Code(err) != codes.NotFound {
			logResponse(r.errorLogger, "Contains", err.Error(), kind, key)
		}
		return false, -1
	}

	if !res.Complete {
		logResponse(r.accessLogger, "Contains", "Not Found", kind, key)
		return false, -1
	}

	logResponse(r.accessLogger, "Contains", "Success", kind, key)
	return true, res.CommittedSize
}
