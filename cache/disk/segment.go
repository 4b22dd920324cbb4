package disk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/mediacache/mediacache/cache"
	"github.com/mediacache/mediacache/cache/hashing"
	"github.com/mediacache/mediacache/cache/sizedlru"
	"github.com/mediacache/mediacache/utils/tempfile"

	"github.com/prometheus/client_golang/prometheus"
)

var tfc = tempfile.NewCreator()

// lruItem is the index entry of a stored blob.
type lruItem struct {
	// Size of the payload in uncompressed form.
	size int64

	// Size of the file on disk.
	sizeOnDisk int64

	// A random string (of digits, for now) that is included in the filename.
	random string

	// How the payload was written. Files written before a storage mode
	// change keep being served in their original mode.
	mode StorageMode
}

func (i *lruItem) Size() int64 {
	return i.size
}

// segment stores the blobs of a single category under its own root
// directory, with its own lock. Segments never share state.
type segment struct {
	kind        cache.Category
	dir         string
	storageMode StorageMode
	errorLogger cache.Logger

	mu  sync.Mutex
	lru *sizedlru.LRU[*lruItem]

	// Incremented by every clear. A put that started under an older
	// generation is discarded at commit time.
	gen uint64

	sizeOnDisk int64
}

func newSegment(root string, kind cache.Category, mode StorageMode, maxSize int64, errorLogger cache.Logger) *segment {
	s := &segment{
		kind:        kind,
		dir:         filepath.Join(root, kind.DirName()),
		storageMode: mode,
		errorLogger: errorLogger,
	}
	s.lru = sizedlru.New(maxSize, s.onEvict)
	return s
}

// onEvict removes the evicted file from disk. It is only called while
// s.mu is held.
func (s *segment) onEvict(key string, item *lruItem) {
	s.sizeOnDisk -= item.sizeOnDisk
	evictedBytes.WithLabelValues(s.kind.String()).Add(float64(item.size))

	// Run in a goroutine so we can release the lock sooner.
	go s.removeFile(s.fileName(key, item))
}

func (s *segment) createDirs() error {
	for _, shard := range hashing.Shards() {
		err := os.MkdirAll(filepath.Join(s.dir, shard), os.ModePerm)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *segment) fileBase(key string, size int64) string {
	return filepath.Join(s.dir, hashing.Shard(key), key+"-"+strconv.FormatInt(size, 10))
}

func (s *segment) fileName(key string, item *lruItem) string {
	return s.fileBase(key, item.size) + "-" + item.random + item.mode.suffix()
}

func (s *segment) removeFile(name string) {
	err := os.Remove(name)
	if err != nil && !os.IsNotExist(err) {
		s.errorLogger.Printf("Failed to remove %s cache file %s: %v", s.kind, name, err)
	}
}

func (s *segment) lookup(key string) (*lruItem, bool) {
	s.mu.Lock()
	item, ok := s.lru.Get(key)
	s.mu.Unlock()
	return item, ok
}

// get returns the payload stored under key. The index is consulted
// under the lock, the file is read outside of it. Every failure is
// reported as a miss, faults are logged.
func (s *segment) get(key string) ([]byte, bool) {
	item, ok := s.lookup(key)
	if !ok {
		return nil, false
	}

	data, err := readBlob(s.fileName(key, item), item.mode, item.size)
	if errors.Is(err, fs.ErrNotExist) {
		// The entry was replaced or cleared after the lookup. Try once
		// more with whatever the index holds now.
		item, ok = s.lookup(key)
		if !ok {
			return nil, false
		}
		data, err = readBlob(s.fileName(key, item), item.mode, item.size)
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.errorLogger.Printf("Failed to read %s/%s: %v", s.kind, key, err)
		}
		s.dropIfCurrent(key, item)
		return nil, false
	}

	return data, true
}

// dropIfCurrent removes key from the index if it still refers to item,
// so that an unreadable file turns into a plain miss that the next put
// can heal.
func (s *segment) dropIfCurrent(key string, item *lruItem) {
	s.mu.Lock()
	v, ok := s.lru.Peek(key)
	current := ok && v == item
	if current {
		s.lru.Remove(key)
		s.sizeOnDisk -= item.sizeOnDisk
	}
	s.mu.Unlock()

	if current {
		s.removeFile(s.fileName(key, item))
		s.updateGauge()
	}
}

// pendingPut is a payload that landed in its own file but is not yet in
// the index.
type pendingPut struct {
	key  string
	name string
	gen  uint64
	item *lruItem
}

// put writes data under key, replacing any previous payload. The
// payload is written to a fresh file outside the lock and committed
// to the index under it, so concurrent puts of one key each write their
// own file and the last commit wins. Nothing is added to the index or
// the size counter unless the file landed completely. The returned bool
// is false when the payload was dropped because a clear ran while it was
// being written.
func (s *segment) put(key string, data []byte) (bool, error) {
	p, err := s.write(key, data)
	if err != nil {
		return false, err
	}
	return s.commit(p)
}

// write stores data in a new file that is not yet visible to readers.
func (s *segment) write(key string, data []byte) (*pendingPut, error) {
	err := hashing.Validate(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	size := int64(len(data))
	mode := s.storageMode

	base := s.fileBase(key, size)
	f, random, err := tfc.Create(base, mode.suffix())
	if os.IsNotExist(err) {
		// The shard directory was removed from under us.
		err = os.MkdirAll(filepath.Dir(base), os.ModePerm)
		if err != nil {
			return nil, err
		}
		f, random, err = tfc.Create(base, mode.suffix())
	}
	if err != nil {
		return nil, err
	}
	name := f.Name()

	sizeOnDisk, err := writeBlob(f, data, mode)
	if err == nil {
		err = os.Chmod(name, tempfile.FinalMode)
	}
	if err != nil {
		s.removeFile(name)
		return nil, err
	}

	return &pendingPut{
		key:  key,
		name: name,
		gen:  gen,
		item: &lruItem{
			size:       size,
			sizeOnDisk: sizeOnDisk,
			random:     random,
			mode:       mode,
		},
	}, nil
}

// commit adds p to the index, or removes its file if a clear ran since
// p was written. It reports whether p was added.
func (s *segment) commit(p *pendingPut) (bool, error) {
	s.mu.Lock()
	if s.gen != p.gen {
		// The put is ordered before the clear.
		s.mu.Unlock()
		s.removeFile(p.name)
		return false, nil
	}
	prev, replaced, ok := s.lru.Add(p.key, p.item)
	if !ok {
		s.mu.Unlock()
		s.removeFile(p.name)
		return false, fmt.Errorf("%d byte blob is larger than the %s segment limit of %d bytes",
			p.item.size, s.kind, s.lru.MaxSize())
	}
	s.sizeOnDisk += p.item.sizeOnDisk
	if replaced {
		s.sizeOnDisk -= prev.sizeOnDisk
	}
	s.mu.Unlock()

	if replaced {
		overwrittenBytes.WithLabelValues(s.kind.String()).Add(float64(prev.size))
		s.removeFile(s.fileName(p.key, prev))
	}
	s.updateGauge()

	return true, nil
}

// sizeBytes returns the running logical size of the segment.
func (s *segment) sizeBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.CurrentSize()
}

// SizeBytes implements accounting.Sizer.
func (s *segment) SizeBytes() int64 {
	return s.sizeBytes()
}

// ScanBytes walks the segment directory and sums the logical sizes of
// the complete blobs found there, without consulting the index.
func (s *segment) ScanBytes(ctx context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if os.IsNotExist(err) {
				// Removed since the directory was listed.
				return nil
			}
			return err
		}
		if !info.Mode().IsRegular() || tempfile.IsIncomplete(info) {
			return nil
		}

		if f, ok := parseFileName(d.Name()); ok {
			total += f.size
		} else {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return total, nil
}

// clear drops every entry. The index is swapped out under the lock and
// the files are removed after it is released.
func (s *segment) clear() {
	s.mu.Lock()
	old := s.lru
	s.lru = sizedlru.New(old.MaxSize(), s.onEvict)
	s.gen++
	s.sizeOnDisk = 0
	s.mu.Unlock()

	var names []string
	old.Range(func(key string, item *lruItem) bool {
		names = append(names, s.fileName(key, item))
		return true
	})

	for _, name := range names {
		s.removeFile(name)
	}

	clearedBytes.WithLabelValues(s.kind.String()).Add(float64(old.CurrentSize()))
	s.updateGauge()
}

func (s *segment) updateGauge() {
	sizeBytesGauge.With(prometheus.Labels{"category": s.kind.String()}).Set(float64(s.sizeBytes()))
}
