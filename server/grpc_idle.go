package server

import (
	"context"

	"google.golang.org/grpc"

	"github.com/mediacache/mediacache/utils/idle"
)

// GRPCIdleStreamServerInterceptor counts every stream as activity on t.
func GRPCIdleStreamServerInterceptor(t *idle.Timer) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		t.ResetTimer()
		return handler(srv, ss)
	}
}

// GRPCIdleUnaryServerInterceptor counts every unary call as activity on t.
// Health checks are excluded, so that a polling load balancer does not
// keep an otherwise unused instance alive.
func GRPCIdleUnaryServerInterceptor(t *idle.Timer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod != grpcHealthServiceName {
			t.ResetTimer()
		}
		return handler(ctx, req)
	}
}
