package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/mediacache/mediacache/cache"
)

type staticChecker struct {
	header string
}

func (c staticChecker) CheckAuth(r *http.Request) string {
	if r.Header.Get("Authorization") == c.header {
		return "user"
	}
	return ""
}

func basicAuthHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

func TestGRPCBasicAuthUnaryInterceptor(t *testing.T) {
	checker := staticChecker{header: basicAuthHeader("user", "secret")}

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	tcs := []struct {
		name       string
		method     string
		header     string
		allowReads bool
		code       codes.Code
	}{
		{"valid credentials", "/google.bytestream.ByteStream/QueryWriteStatus", basicAuthHeader("user", "secret"), false, codes.OK},
		{"wrong password", "/google.bytestream.ByteStream/QueryWriteStatus", basicAuthHeader("user", "nope"), false, codes.Unauthenticated},
		{"no credentials", "/google.bytestream.ByteStream/QueryWriteStatus", "", false, codes.Unauthenticated},
		{"unauthenticated read", "/google.bytestream.ByteStream/QueryWriteStatus", "", true, codes.OK},
		{"health", grpcHealthServiceName, "", false, codes.OK},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			if tc.header != "" {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", tc.header))
			}

			interceptor := GRPCBasicAuthUnaryServerInterceptor(checker, tc.allowReads)
			_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: tc.method}, handler)
			expectCode(t, err, tc.code)
		})
	}
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeServerStream) Context() context.Context {
	return s.ctx
}

func TestGRPCBasicAuthStreamInterceptor(t *testing.T) {
	checker := staticChecker{header: basicAuthHeader("user", "secret")}

	handler := func(srv interface{}, ss grpc.ServerStream) error {
		return nil
	}

	write := &grpc.StreamServerInfo{FullMethod: "/google.bytestream.ByteStream/Write"}
	read := &grpc.StreamServerInfo{FullMethod: "/google.bytestream.ByteStream/Read"}

	anonymous := &fakeServerStream{ctx: context.Background()}
	authed := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(),
		metadata.Pairs("authorization", basicAuthHeader("user", "secret")))}

	interceptor := GRPCBasicAuthStreamServerInterceptor(checker, true)

	expectCode(t, interceptor(nil, anonymous, write, handler), codes.Unauthenticated)
	expectCode(t, interceptor(nil, anonymous, read, handler), codes.OK)
	expectCode(t, interceptor(nil, authed, write, handler), codes.OK)
}

func TestGRPCmTLSUnaryInterceptor(t *testing.T) {
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	}

	write := &grpc.UnaryServerInfo{FullMethod: "/google.bytestream.ByteStream/Write"}
	health := &grpc.UnaryServerInfo{FullMethod: grpcHealthServiceName}

	noPeer := context.Background()
	plainPeer := peer.NewContext(context.Background(), &peer.Peer{})
	unverified := peer.NewContext(context.Background(), &peer.Peer{
		AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{}},
	})
	verified := peer.NewContext(context.Background(), &peer.Peer{
		AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{
			VerifiedChains: [][]*x509.Certificate{{&x509.Certificate{}}},
		}},
	})

	interceptor := GRPCmTLSUnaryServerInterceptor(false)

	tcs := []struct {
		name string
		ctx  context.Context
		info *grpc.UnaryServerInfo
		code codes.Code
	}{
		{"no peer", noPeer, write, codes.Unauthenticated},
		{"no tls", plainPeer, write, codes.Unauthenticated},
		{"unverified", unverified, write, codes.Unauthenticated},
		{"verified", verified, write, codes.OK},
		{"health", noPeer, health, codes.OK},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := interceptor(tc.ctx, nil, tc.info, handler)
			expectCode(t, err, tc.code)
		})
	}
}

func TestGRPCErrCode(t *testing.T) {
	tcs := []struct {
		err      error
		expected codes.Code
	}{
		{nil, codes.OK},
		{errors.New("boom"), codes.Internal},
		{&cache.Error{Code: http.StatusBadRequest}, codes.InvalidArgument},
		{&cache.Error{Code: http.StatusNotFound}, codes.NotFound},
		{&cache.Error{Code: http.StatusRequestEntityTooLarge}, codes.ResourceExhausted},
		{fmt.Errorf("wrapped: %w", &cache.Error{Code: http.StatusInsufficientStorage}), codes.ResourceExhausted},
		{&cache.Error{Code: http.StatusTeapot}, codes.Internal},
	}

	for _, tc := range tcs {
		code := gRPCErrCode(tc.err, codes.Internal)
		if code != tc.expected {
			t.Errorf("gRPCErrCode(%v): got %s, expected %s", tc.err, code, tc.expected)
		}
	}
}

func TestTranslateGRPCErrCodeFromClient(t *testing.T) {
	tcs := []struct {
		in       codes.Code
		expected codes.Code
	}{
		{codes.Unavailable, codes.Canceled},
		{codes.Internal, codes.Unknown},
		{codes.DeadlineExceeded, codes.DeadlineExceeded},
	}

	for _, tc := range tcs {
		code := translateGRPCErrCodeFromClient(status.Error(tc.in, "client"))
		if code != tc.expected {
			t.Errorf("%s: got %s, expected %s", tc.in, code, tc.expected)
		}
	}
}
