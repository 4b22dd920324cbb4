package grpcproxy

import (
	"io"

	bs "google.golang.org/genproto/googleapis/bytestream"
)

// readStream is the receiving half of a ByteStream Read call.
type readStream interface {
	Recv() (*bs.ReadResponse, error)
	CloseSend() error
}

// streamReader exposes the chunks of a ByteStream Read as an io.ReadCloser.
// A stream that ends before size bytes arrived reports
// io.ErrUnexpectedEOF, so a truncated transfer is never cached.
type streamReader struct {
	stream readStream
	size   int64
	read   int64
	chunk  []byte
}

func newStreamReader(stream readStream, size int64) *streamReader {
	return &streamReader{stream: stream, size: size}
}

func (r *streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for len(r.chunk) == 0 {
		res, err := r.stream.Recv()
		if err == io.EOF {
			_ = r.stream.CloseSend()
			if r.read < r.size {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		r.chunk = res.GetData()
	}

	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	r.read += int64(n)
	return n, nil
}

func (r *streamReader) Close() error {
	return r.stream.CloseSend()
}
