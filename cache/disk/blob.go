package disk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	syncpool "github.com/mostynb/zstdpool-syncpool"
)

// StorageMode selects how payloads are written to disk.
type StorageMode int

const (
	// Identity stores payloads as-is.
	Identity StorageMode = iota

	// Zstandard stores zstd compressed payloads, with a ".zst" suffix.
	Zstandard
)

func (m StorageMode) String() string {
	if m == Zstandard {
		return "zstd"
	}
	return "uncompressed"
}

func (m StorageMode) suffix() string {
	if m == Zstandard {
		return ".zst"
	}
	return ""
}

// Media payloads are mostly precompressed already, so the fastest
// level is used and the pools favour low memory over throughput.
var (
	encoderPool = syncpool.NewEncoderPool(
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithLowerEncoderMem(true))

	decoderPool = syncpool.NewDecoderPool(
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true))
)

var errDecoderPoolFail = errors.New("failed to get DecoderWrapper from pool")
var errEncoderPoolFail = errors.New("failed to get EncoderWrapper from pool")

var errSizeMismatch = errors.New("stored blob has unexpected size")

// writeBlob writes data to f in the given mode, syncs and closes f, and
// returns the number of bytes that landed on disk. f is closed even
// when an error is returned.
func writeBlob(f *os.File, data []byte, mode StorageMode) (int64, error) {
	closed := false
	defer func() {
		if !closed {
			f.Close()
		}
	}()

	if mode == Zstandard {
		enc, ok := encoderPool.Get().(*syncpool.EncoderWrapper)
		if !ok {
			return 0, errEncoderPoolFail
		}
		enc.Reset(f)
		_, err := enc.Write(data)
		if err != nil {
			enc.Close()
			encoderPool.Put(enc)
			return 0, err
		}
		err = enc.Close()
		encoderPool.Put(enc)
		if err != nil {
			return 0, err
		}
	} else {
		_, err := f.Write(data)
		if err != nil {
			return 0, err
		}
	}

	err := f.Sync()
	if err != nil {
		return 0, err
	}

	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	closed = true
	err = f.Close()
	if err != nil {
		return 0, err
	}

	return fi.Size(), nil
}

// readBlob reads the payload stored in the named file, and checks that
// it has the expected logical size.
func readBlob(name string, mode StorageMode, size int64) ([]byte, error) {
	if mode == Identity {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != size {
			return nil, fmt.Errorf("%w: %s has %d bytes, expected %d",
				errSizeMismatch, name, len(data), size)
		}
		return data, nil
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, ok := decoderPool.Get().(*syncpool.DecoderWrapper)
	if !ok {
		return nil, errDecoderPoolFail
	}
	err = dec.Reset(f)
	if err != nil {
		decoderPool.Put(dec)
		return nil, err
	}
	rc := dec.IOReadCloser()
	defer rc.Close()

	var buf bytes.Buffer
	buf.Grow(int(size))
	n, err := io.Copy(&buf, rc)
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, fmt.Errorf("%w: %s decompressed to %d bytes, expected %d",
			errSizeMismatch, name, n, size)
	}

	return buf.Bytes(), nil
}
