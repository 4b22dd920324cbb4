package grpcproxy

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/disk"
	"github.com/mediacache/mediacache/cache/hashing"
	"github.com/mediacache/mediacache/server"
	testutils "github.com/mediacache/mediacache/utils"

	bs "google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

var logger = testutils.NewSilentLogger()

type fixture struct {
	cache   *disk.Cache
	clients *GrpcClients
}

// newFixture starts a mediacache gRPC server backed by a fresh disk
// cache, which optionally proxies to proxy.
func newFixture(t *testing.T, proxy cache.Proxy) *fixture {
	t.Helper()

	opts := []disk.Option{disk.WithErrorLogger(logger)}
	if proxy != nil {
		opts = append(opts, disk.WithProxyBackend(proxy))
	}
	diskCache, err := disk.New(testutils.TempDir(t), opts...)
	if err != nil {
		t.Fatal(err)
	}

	listener := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	go func() {
		_ = server.ServeGRPC(listener, grpcServer, 0, diskCache, logger, logger)
	}()
	t.Cleanup(grpcServer.Stop)

	cc, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cc.Close() })

	return &fixture{
		cache:   diskCache,
		clients: NewGrpcClients(cc),
	}
}

func waitForBlob(t *testing.T, f *fixture, kind cache.Category, key string) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		found, _ := f.cache.Contains(context.Background(), kind, key)
		if found {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %s/%s to be uploaded", kind, key)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEverything(t *testing.T) {
	ctx := context.Background()

	backend := newFixture(t, nil)
	err := backend.clients.CheckHealth(ctx)
	if err != nil {
		t.Fatal(err)
	}

	proxy, err := New(backend.clients, logger, logger, 10, 100)
	if err != nil {
		t.Fatal(err)
	}

	putFixture := newFixture(t, proxy)
	getFixture := newFixture(t, proxy)

	const trackURL = "https://example.com/track.mp3"
	const emptyURL = "https://example.com/empty.png"
	trackData := testutils.RandomData(3*maxChunkSize + 17)

	putFixture.cache.Put(ctx, cache.Tracks, trackURL, trackData)
	putFixture.cache.Put(ctx, cache.Badges, emptyURL, []byte{})

	waitForBlob(t, backend, cache.Tracks, hashing.Derive(trackURL))
	waitForBlob(t, backend, cache.Badges, hashing.Derive(emptyURL))

	found, size := proxy.Contains(ctx, cache.Tracks, hashing.Derive(trackURL))
	if !found || size != int64(len(trackData)) {
		t.Fatalf("Expected the track in the backend, got %v %d", found, size)
	}
	found, _ = proxy.Contains(ctx, cache.Avatars, hashing.Derive(trackURL))
	if found {
		t.Fatal("Expected the avatar segment of the backend to be empty")
	}

	// A cache that never saw the blobs reads them through the backend.
	data, found := getFixture.cache.Get(ctx, cache.Tracks, trackURL)
	if !found || !bytes.Equal(data, trackData) {
		t.Fatal("Expected to read the track through the proxy")
	}
	data, found = getFixture.cache.Get(ctx, cache.Badges, emptyURL)
	if !found || len(data) != 0 {
		t.Fatal("Expected to read the empty badge through the proxy")
	}

	_, found = getFixture.cache.Get(ctx, cache.Banners, "https://example.com/missing.png")
	if found {
		t.Fatal("Expected a miss")
	}
}

func TestGetMissing(t *testing.T) {
	backend := newFixture(t, nil)
	proxy, err := New(backend.clients, logger, logger, 1, 1)
	if err != nil {
		t.Fatal(err)
	}

	rc, size, err := proxy.Get(context.Background(), cache.Avatars, hashing.Derive("nope"))
	if err != nil {
		t.Fatal(err)
	}
	if rc != nil || size != -1 {
		t.Fatal("Expected a miss")
	}
}

type chunkStream struct {
	chunks [][]byte
	closed bool
}

func (s *chunkStream) Recv() (*bs.ReadResponse, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return &bs.ReadResponse{Data: c}, nil
}

func (s *chunkStream) CloseSend() error {
	s.closed = true
	return nil
}

func TestStreamReader(t *testing.T) {
	stream := &chunkStream{chunks: [][]byte{
		[]byte("hello "), {}, []byte("media"), []byte(" cache"),
	}}
	rc := newStreamReader(stream, 17)

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	testutils.AssertEquals(t, "hello media cache", string(data))
	testutils.AssertEquals(t, true, stream.closed)
}

func TestStreamReaderTruncated(t *testing.T) {
	stream := &chunkStream{chunks: [][]byte{[]byte("partial")}}
	rc := newStreamReader(stream, 100)

	_, err := io.ReadAll(rc)
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}
