package server

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"

	"github.com/mediacache/mediacache/utils/idle"
)

func TestGRPCIdleInterceptorsResetTimer(t *testing.T) {
	tearDown := make(chan struct{}, 1)
	timer := idle.NewTimer(300*time.Millisecond, tearDown)
	timer.Start()
	defer timer.Stop()

	unary := GRPCIdleUnaryServerInterceptor(timer)
	stream := GRPCIdleStreamServerInterceptor(timer)

	unaryInfo := &grpc.UnaryServerInfo{FullMethod: "/google.bytestream.ByteStream/QueryWriteStatus"}
	streamInfo := &grpc.StreamServerInfo{FullMethod: "/google.bytestream.ByteStream/Read"}

	unaryHandler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, nil
	}
	streamHandler := func(srv interface{}, ss grpc.ServerStream) error {
		return nil
	}

	for i := 0; i < 6; i++ {
		select {
		case <-tearDown:
			t.Fatal("Requests should have kept the timer alive")
		case <-time.After(100 * time.Millisecond):
		}

		if i%2 == 0 {
			_, _ = unary(context.Background(), nil, unaryInfo, unaryHandler)
		} else {
			_ = stream(nil, &fakeServerStream{ctx: context.Background()}, streamInfo, streamHandler)
		}
	}

	// Health checks alone do not count as activity.
	healthInfo := &grpc.UnaryServerInfo{FullMethod: grpcHealthServiceName}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-tearDown:
			return
		case <-deadline:
			t.Fatal("Expected the idle timer to fire")
		case <-time.After(50 * time.Millisecond):
			_, _ = unary(context.Background(), nil, healthInfo, unaryHandler)
		}
	}
}
