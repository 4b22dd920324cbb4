// Package tempfile creates the files that blobs are written to before
// they are committed to the cache index. A file that is still being
// written carries the setgid bit, so that a crash leaves behind files
// that are recognisably incomplete.
package tempfile

import (
	"errors"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// FinalMode is the mode of a completely written cache file.
const FinalMode = 0664

const incompleteMode = FinalMode | os.ModeSetgid

const maxAttempts = 10000

var errExhausted = errors.New("no unused temp file name found")

// Creator hands out file names that are unique within the process and
// unlikely to collide with names left by earlier runs. The zero value
// is not usable, see NewCreator.
type Creator struct {
	state atomic.Uint64
}

func NewCreator() *Creator {
	c := &Creator{}
	c.state.Store(uint64(time.Now().UnixNano()))
	return c
}

// next returns nine pseudo-random decimal digits.
func (c *Creator) next() string {
	// splitmix64
	z := c.state.Add(0x9e3779b97f4a7c15)
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	z ^= z >> 31

	return strconv.FormatUint(1e9+z%1e9, 10)[1:]
}

// Create makes a new file named <base>-<digits><suffix>, marked as
// incomplete, and returns it along with the digits. The caller marks
// the file complete by chmod'ing it to FinalMode.
func (c *Creator) Create(base string, suffix string) (*os.File, string, error) {
	for i := 0; i < maxAttempts; i++ {
		random := c.next()

		f, err := os.OpenFile(base+"-"+random+suffix,
			os.O_RDWR|os.O_CREATE|os.O_EXCL, incompleteMode)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return nil, "", err
		}

		return f, random, nil
	}

	return nil, "", errExhausted
}

// IsIncomplete reports whether fi describes a file whose write never
// finished.
func IsIncomplete(fi os.FileInfo) bool {
	return fi.Mode()&os.ModeSetgid != 0
}
