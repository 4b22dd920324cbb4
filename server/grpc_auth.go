package server

import (
	"context"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RPCs that may skip authentication when unauthenticated reads are
// allowed.
var readOnlyMethods = map[string]struct{}{
	"/google.bytestream.ByteStream/Read":             {},
	"/google.bytestream.ByteStream/QueryWriteStatus": {},
}

// BasicAuthChecker returns the name of the user authenticated by the
// Authorization header of r, or an empty string. Both htpasswd
// authenticators and the ldap package implement it.
type BasicAuthChecker interface {
	CheckAuth(r *http.Request) string
}

// authCheck returns a grpc status error if the caller in ctx is not
// authenticated.
type authCheck func(ctx context.Context) error

func skipAuth(method string, allowUnauthenticatedReads bool) bool {
	if !allowUnauthenticatedReads {
		return false
	}
	_, ro := readOnlyMethods[method]
	return ro
}

func authStreamInterceptor(check authCheck, allowUnauthenticatedReads bool) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !skipAuth(info.FullMethod, allowUnauthenticatedReads) {
			err := check(ss.Context())
			if err != nil {
				return err
			}
		}

		return handler(srv, ss)
	}
}

// The health service is always reachable.
func authUnaryInterceptor(check authCheck, allowUnauthenticatedReads bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod != grpcHealthServiceName && !skipAuth(info.FullMethod, allowUnauthenticatedReads) {
			err := check(ctx)
			if err != nil {
				return nil, err
			}
		}

		return handler(ctx, req)
	}
}

// GRPCmTLSStreamServerInterceptor returns a grpc.StreamServerInterceptor
// that requires a verified client certificate, optionally allowing
// unauthenticated access to readonly RPCs.
func GRPCmTLSStreamServerInterceptor(allowUnauthenticatedReads bool) grpc.StreamServerInterceptor {
	return authStreamInterceptor(checkGRPCClientCert, allowUnauthenticatedReads)
}

// GRPCmTLSUnaryServerInterceptor is the unary counterpart of
// GRPCmTLSStreamServerInterceptor.
func GRPCmTLSUnaryServerInterceptor(allowUnauthenticatedReads bool) grpc.UnaryServerInterceptor {
	return authUnaryInterceptor(checkGRPCClientCert, allowUnauthenticatedReads)
}

// GRPCBasicAuthStreamServerInterceptor returns a grpc.StreamServerInterceptor
// that checks the "authorization" metadata of each stream with checker,
// optionally allowing unauthenticated access to readonly RPCs.
func GRPCBasicAuthStreamServerInterceptor(checker BasicAuthChecker, allowUnauthenticatedReads bool) grpc.StreamServerInterceptor {
	return authStreamInterceptor(basicAuthCheck(checker), allowUnauthenticatedReads)
}

// GRPCBasicAuthUnaryServerInterceptor is the unary counterpart of
// GRPCBasicAuthStreamServerInterceptor.
func GRPCBasicAuthUnaryServerInterceptor(checker BasicAuthChecker, allowUnauthenticatedReads bool) grpc.UnaryServerInterceptor {
	return authUnaryInterceptor(basicAuthCheck(checker), allowUnauthenticatedReads)
}

func checkGRPCClientCert(ctx context.Context) error {
	p, ok := peer.FromContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "no peer found")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return status.Error(codes.Unauthenticated, "unrecognised peer transport credentials")
	}

	chains := tlsInfo.State.VerifiedChains
	if len(chains) == 0 || len(chains[0]) == 0 {
		return status.Error(codes.Unauthenticated, "could not verify peer certificate")
	}

	return nil
}

var errNoBasicAuth = status.Error(codes.Unauthenticated, "missing or invalid basic auth credentials")

// basicAuthCheck presents the "authorization" metadata to checker as if
// it were the header of an HTTP request.
func basicAuthCheck(checker BasicAuthChecker) authCheck {
	return func(ctx context.Context) error {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return errNoBasicAuth
		}

		for _, value := range md.Get("authorization") {
			r := &http.Request{Header: http.Header{"Authorization": []string{value}}}
			if checker.CheckAuth(r) != "" {
				return nil
			}
		}

		return errNoBasicAuth
	}
}
