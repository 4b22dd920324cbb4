package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mediacache/mediacache/utils/resourcename"
)

const (
	// The maximum chunk size to write back to the client in Send calls.
	// Inspired by Goma's FileBlob.FILE_CHUNK maxium size.
	maxChunkSize = 2 * 1024 * 1024 // 2M
)

// ByteStreamServer interface:

var (
	errNilReadRequest = status.Error(codes.InvalidArgument,
		"expected a non-nil *bytestream.ReadRequest")
	errNilQueryWriteStatusRequest = status.Error(codes.InvalidArgument,
		"expected a non-nil *bytestream.QueryWriteStatusRequest")
)

func (s *grpcServer) Read(req *bytestream.ReadRequest,
	resp bytestream.ByteStream_ReadServer) error {
	if req == nil {
		return errNilReadRequest
	}

	kind, key, err := resourcename.ParseReadResource(req.ResourceName)
	if err != nil {
		s.accessLogger.Printf("GRPC BYTESTREAM READ FAILED: %s", err)
		return err
	}

	if req.ReadOffset < 0 {
		s.accessLogger.Printf("GRPC BYTESTREAM READ OFFSET INVALID: %s %d",
			req.ResourceName, req.ReadOffset)
		return status.Error(codes.InvalidArgument,
			"Negative ReadOffset is invalid")
	}

	if req.ReadLimit < 0 {
		s.accessLogger.Printf("GRPC BYTESTREAM READ LIMIT OUT OF RANGE: %s %d",
			req.ResourceName, req.ReadLimit)
		return status.Error(codes.OutOfRange,
			"Negative ReadLimit is out of range")
	}

	data, found := s.cache.GetBlob(resp.Context(), kind, key)
	if !found {
		msg := fmt.Sprintf("GRPC BYTESTREAM READ BLOB NOT FOUND: %s", req.ResourceName)
		s.accessLogger.Printf("%s", msg)
		return status.Error(codes.NotFound, msg)
	}

	if req.ReadOffset > int64(len(data)) {
		msg := fmt.Sprintf("ReadOffset %d larger than data size %d resource: %s",
			req.ReadOffset, len(data), req.ResourceName)
		s.accessLogger.Printf("GRPC BYTESTREAM READ FAILED %s", msg)
		return status.Error(codes.OutOfRange, msg)
	}

	data = data[req.ReadOffset:]
	if req.ReadLimit > 0 && int64(len(data)) > req.ReadLimit {
		data = data[:req.ReadLimit]
	}

	var chunkResp bytestream.ReadResponse
	for len(data) > 0 {
		n := len(data)
		if n > maxChunkSize {
			n = maxChunkSize
		}

		chunkResp.Data = data[:n]
		err = resp.Send(&chunkResp)
		if err != nil {
			msg := fmt.Sprintf("GRPC BYTESTREAM READ FAILED TO SEND RESPONSE: %s %v", req.ResourceName, err)
			s.accessLogger.Printf("%s", msg)
			return status.Error(translateGRPCErrCodeFromClient(err), msg)
		}

		data = data[n:]
	}

	s.accessLogger.Printf("GRPC BYTESTREAM READ COMPLETED %s", req.ResourceName)
	return nil
}

var errWriteOffset error = errors.New("bytestream writes from non-zero offsets are unsupported")

// Write receives a whole blob and stores it once the client finishes
// the stream. Partial writes are never committed.
func (s *grpcServer) Write(srv bytestream.ByteStream_WriteServer) error {
	var resp bytestream.WriteResponse
	var buf bytes.Buffer
	var resourceName string
	var size int64

	firstIteration := true

	for {
		req, err := srv.Recv()
		if err == io.EOF {
			if firstIteration {
				msg := "Empty write stream"
				s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s", msg)
				return status.Error(codes.InvalidArgument, msg)
			}
			break
		}
		if err != nil {
			s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s %v", resourceName, err)
			return status.Error(translateGRPCErrCodeFromClient(err), err.Error())
		}

		if firstIteration {
			resourceName = req.ResourceName
			if resourceName == "" {
				msg := "Empty resource name"
				s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s", msg)
				return status.Error(codes.InvalidArgument, msg)
			}

			_, _, size, err = resourcename.ParseWriteResource(resourceName)
			if err != nil {
				s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s", err)
				return err
			}

			if s.maxBlobSize > 0 && size > s.maxBlobSize {
				msg := fmt.Sprintf("Blob size %d exceeds the limit of %d", size, s.maxBlobSize)
				s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s %s", resourceName, msg)
				return status.Error(codes.ResourceExhausted, msg)
			}

			if req.WriteOffset != 0 {
				s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s", errWriteOffset)
				return status.Error(codes.InvalidArgument, errWriteOffset.Error())
			}

			if size < maxChunkSize {
				buf.Grow(int(size))
			} else {
				buf.Grow(maxChunkSize)
			}
			firstIteration = false
		} else if req.ResourceName != "" && resourceName != req.ResourceName {
			msg := fmt.Sprintf("Resource name changed in a single Write %v -> %v",
				resourceName, req.ResourceName)
			s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s", msg)
			return status.Error(codes.InvalidArgument, msg)
		}

		buf.Write(req.Data)
		resp.CommittedSize = int64(buf.Len())

		if resp.CommittedSize > size {
			msg := fmt.Sprintf("Client sent more than %d data! %d", size, resp.CommittedSize)
			s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s %s", resourceName, msg)
			return status.Error(codes.OutOfRange, msg)
		}

		if req.FinishWrite {
			break
		}
	}

	if resp.CommittedSize != size {
		msg := fmt.Sprintf("Unexpected amount of data read: %d expected: %d",
			resp.CommittedSize, size)
		s.accessLogger.Printf("GRPC BYTESTREAM WRITE FAILED: %s %s", resourceName, msg)
		return status.Error(codes.Unknown, msg)
	}

	kind, key, _, _ := resourcename.ParseWriteResource(resourceName)

	err := s.cache.PutBlob(srv.Context(), kind, key, buf.Bytes())
	if err != nil {
		msg := fmt.Sprintf("GRPC BYTESTREAM WRITE FAILED: %s Cache Put failed: %v", resourceName, err)
		s.errorLogger.Printf("%s", msg)
		return status.Error(gRPCErrCode(err, codes.Internal), msg)
	}

	err = srv.SendAndClose(&resp)
	if err != nil {
		msg := fmt.Sprintf("GRPC BYTESTREAM WRITE FAILED: %s %v", resourceName, err)
		s.accessLogger.Printf("%s", msg)
		return status.Error(codes.Unknown, msg)
	}

	s.accessLogger.Printf("GRPC BYTESTREAM WRITE COMPLETED: %s", resourceName)
	return nil
}

// QueryWriteStatus reports a blob named by a read resource as fully
// written if it is cached locally. Partial writes are not supported, so
// anything else is reported as 0 bytes written.
func (s *grpcServer) QueryWriteStatus(ctx context.Context, req *bytestream.QueryWriteStatusRequest) (*bytestream.QueryWriteStatusResponse, error) {
	if req == nil {
		return nil, errNilQueryWriteStatusRequest
	}

	kind, key, err := resourcename.ParseReadResource(req.ResourceName)
	if err != nil {
		s.accessLogger.Printf("GRPC BYTESTREAM QUERY WRITE FAILED: %s", err)
		return nil, err
	}

	exists, size := s.cache.Contains(ctx, kind, key)

	s.accessLogger.Printf("GRPC BYTESTREAM QUERY WRITE %s %v", req.ResourceName, exists)

	if !exists {
		return &bytestream.QueryWriteStatusResponse{CommittedSize: 0, Complete: false}, nil
	}

	return &bytestream.QueryWriteStatusResponse{CommittedSize: size, Complete: true}, nil
}
