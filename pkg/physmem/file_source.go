// Package physmem provides a physical-memory read collaborator backed by
// the memory-backend file itself: a guest physical address is a plain
// offset into that file.
package physmem

import (
	"fmt"
	"io"
	"os"

	bufra "github.com/avvmoto/buf-readerat"
	"github.com/golang/glog"
)

const readBufferSize = 1 << 20

// FileSource reads guest physical memory from the backend file. Reads go
// through a buffered ReaderAt so the page-at-a-time chunk walk of the
// crunched reader doesn't turn into one syscall per page.
type FileSource struct {
	f    *os.File
	r    io.ReaderAt
	size int64
}

// Open opens the memory-backend file read-only.
func Open(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open memory file %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat memory file %s: %w", path, err)
	}
	return &FileSource{
		f:    f,
		r:    bufra.NewBufReaderAt(f, readBufferSize),
		size: st.Size(),
	}, nil
}

// Size returns the backing file size, i.e. the guest physical memory span
// this source can serve.
func (s *FileSource) Size() int64 { return s.size }

// ReadMemory reads size bytes at physical address pa. Reads past the end
// of the backing file fail; the crunched reader degrades them to
// zero-fill.
func (s *FileSource) ReadMemory(pa uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if int64(pa) < 0 || int64(pa)+int64(size) > s.size {
		return nil, fmt.Errorf("physical read [0x%x, +%d) outside backing file", pa, size)
	}
	buf := make([]byte, size)
	if _, err := s.r.ReadAt(buf, int64(pa)); err != nil {
		return nil, fmt.Errorf("physical read at 0x%x: %w", pa, err)
	}
	return buf, nil
}

// TestPageNonZero reports whether any byte in [pa, pa+size) is non-zero.
// Out-of-range or failed reads count as zero.
func (s *FileSource) TestPageNonZero(pa uint64, size int) bool {
	data, err := s.ReadMemory(pa, size)
	if err != nil {
		glog.V(3).Infof("Probe at 0x%x failed: %v", pa, err)
		return false
	}
	for _, b := range data {
		if b != 0 {
			return true
		}
	}
	return false
}

// Close closes the backing file.
func (s *FileSource) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
