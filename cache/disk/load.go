package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/mediacache/mediacache/cache/hashing"
	"github.com/mediacache/mediacache/utils/tempfile"

	"github.com/djherbis/atime"
)

// <key>-<logical size>-<random digits>[.zst]
var fileNameRegex = regexp.MustCompile(`^([a-f0-9]{64})-(0|[1-9][0-9]*)-([0-9]+)(\.zst)?$`)

type parsedName struct {
	key    string
	size   int64
	random string
	mode   StorageMode
}

func parseFileName(name string) (parsedName, bool) {
	sm := fileNameRegex.FindStringSubmatch(name)
	if len(sm) != 5 {
		return parsedName{}, false
	}

	size, err := strconv.ParseInt(sm[2], 10, 64)
	if err != nil {
		return parsedName{}, false
	}

	p := parsedName{
		key:    sm[1],
		size:   size,
		random: sm[3],
		mode:   Identity,
	}
	if sm[4] == ".zst" {
		p.mode = Zstandard
	}

	return p, true
}

type importItem struct {
	name string
	info os.FileInfo
	parsedName
}

// findItems lists the shard directories of the segment concurrently,
// removes files left behind by unfinished writes, and returns the
// remaining blobs sorted by increasing atime.
func (s *segment) findItems() ([]importItem, error) {
	// Workers receive a shard dir to scan here.
	workChan := make(chan string)

	// Workers submit discovered files here.
	filesChan := make(chan []importItem)

	// Workers can report errors here.
	errChan := make(chan error, 1)

	numWorkers := runtime.NumCPU()

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for dir := range workChan {
				listing, err := os.ReadDir(dir)
				if os.IsNotExist(err) {
					continue
				}
				if err != nil {
					select {
					case errChan <- err:
					default:
					}
					continue
				}

				toSend := make([]importItem, 0, len(listing))
				for _, e := range listing {
					name := filepath.Join(dir, e.Name())

					if e.IsDir() {
						s.errorLogger.Printf("Unexpected directory in cache: %s", name)
						continue
					}

					info, err := e.Info()
					if err != nil {
						continue
					}

					if tempfile.IsIncomplete(info) {
						s.errorLogger.Printf("Removing incomplete file: %s", name)
						s.removeFile(name)
						continue
					}

					p, ok := parseFileName(e.Name())
					if !ok || hashing.Shard(p.key) != filepath.Base(dir) {
						s.errorLogger.Printf("Unexpected file in cache: %s", name)
						continue
					}

					toSend = append(toSend, importItem{
						name:       name,
						info:       info,
						parsedName: p,
					})
				}

				if len(toSend) > 0 {
					filesChan <- toSend
				}
			}
		}()
	}

	go func() {
		for _, shard := range hashing.Shards() {
			workChan <- filepath.Join(s.dir, shard)
		}
		// No more dirs for the workers to process.
		close(workChan)

		wg.Wait()
		// All workers have now finished.
		close(filesChan)
	}()

	var files []importItem
	for f := range filesChan {
		files = append(files, f...)
	}

	select {
	case err := <-errChan:
		return nil, err
	default:
	}

	sort.Slice(files, func(i int, j int) bool {
		return atime.Get(files[i].info).Before(atime.Get(files[j].info))
	})

	return files, nil
}

// loadExistingFiles adds the blobs found on disk to the index. Files
// are added in increasing atime order so that the LRU order survives
// restarts. When several files exist for one key, the most recently
// accessed one wins and the others are removed.
func (s *segment) loadExistingFiles() error {
	files, err := s.findItems()
	if err != nil {
		return fmt.Errorf("failed to list %s segment: %w", s.kind, err)
	}

	var toRemove []string

	s.mu.Lock()
	for _, f := range files {
		item := &lruItem{
			size:       f.size,
			sizeOnDisk: f.info.Size(),
			random:     f.random,
			mode:       f.mode,
		}

		prev, replaced, ok := s.lru.Add(f.key, item)
		if !ok {
			s.errorLogger.Printf("Removing %s, larger than the %s segment limit", f.name, s.kind)
			toRemove = append(toRemove, f.name)
			continue
		}

		s.sizeOnDisk += item.sizeOnDisk
		if replaced {
			s.sizeOnDisk -= prev.sizeOnDisk
			toRemove = append(toRemove, s.fileName(f.key, prev))
		}
	}
	s.mu.Unlock()

	for _, name := range toRemove {
		s.removeFile(name)
	}

	return nil
}
