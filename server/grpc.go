package server

import (
	"errors"
	"net"
	"net/http"

	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	_ "google.golang.org/grpc/encoding/gzip" // Register gzip support.
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/disk"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	_ "github.com/mostynb/go-grpc-compression/snappy" // Register snappy
	_ "github.com/mostynb/go-grpc-compression/zstd"   // and zstd support.
)

const (
	grpcHealthServiceName = "/grpc.health.v1.Health/Check"
	byteStreamServiceName = "google.bytestream.ByteStream"
)

type grpcServer struct {
	cache        disk.MediaCache
	accessLogger cache.Logger
	errorLogger  cache.Logger
	maxBlobSize  int64
}

// ListenAndServeGRPC creates a new gRPC server and listens on the given
// address. This function either returns an error quickly, or triggers a
// blocking call to https://godoc.org/google.golang.org/grpc#Server.Serve
func ListenAndServeGRPC(
	srv *grpc.Server,
	network string, addr string,
	maxBlobSize int64,
	c disk.MediaCache, a cache.Logger, e cache.Logger) error {
	listener, err := net.Listen(network, addr)
	if err != nil {
		return err
	}

	return ServeGRPC(listener, srv, maxBlobSize, c, a, e)
}

// ServeGRPC registers the ByteStream and health services on srv and
// serves them on l. Blobs larger than maxBlobSize are rejected by
// Write, unless maxBlobSize is zero.
func ServeGRPC(l net.Listener, srv *grpc.Server,
	maxBlobSize int64,
	c disk.MediaCache, a cache.Logger, e cache.Logger) error {
	s := &grpcServer{
		cache:        c,
		accessLogger: a,
		errorLogger:  e,
		maxBlobSize:  maxBlobSize,
	}
	bytestream.RegisterByteStreamServer(srv, s)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, h)
	h.SetServingStatus(byteStreamServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	grpc_prometheus.Register(srv)

	return srv.Serve(l)
}

// gRPCErrCode maps a *cache.Error to the matching grpc code, and any
// other non-nil error to dflt.
func gRPCErrCode(err error, dflt codes.Code) codes.Code {
	if err == nil {
		return codes.OK
	}

	var cerr *cache.Error
	if !errors.As(err, &cerr) {
		return dflt
	}

	switch cerr.Code {
	case http.StatusInsufficientStorage, http.StatusRequestEntityTooLarge:
		return codes.ResourceExhausted
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	}

	return dflt
}

// translateGRPCErrCodeFromClient maps the code of an error received
// while streaming to the client into the code the RPC should fail with.
// A client that hangs up shows up as Unavailable, which says nothing
// about the server, so it is reported as Canceled. Internal errors on
// the client side are not ours either.
func translateGRPCErrCodeFromClient(err error) codes.Code {
	switch code := status.Code(err); code {
	case codes.Unavailable:
		return codes.Canceled
	case codes.Internal:
		return codes.Unknown
	default:
		return code
	}
}
