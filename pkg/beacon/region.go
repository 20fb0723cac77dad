package beacon

import (
	"fmt"
	"os"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"
)

// Region is a read/write mapping of the memory-backend file that holds (a
// slice of) guest physical memory. It hands out copies of pages; the live
// mapping is only touched for scanning and for the camera control write.
type Region struct {
	f    *os.File
	data []byte
	size int64
}

// OpenRegion maps the backing file shared and writable. The write side is
// only used for camera focus requests.
func OpenRegion(path string) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open memory file %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat memory file %s: %w", path, err)
	}
	size := st.Size()
	if size < PageSize {
		f.Close()
		return nil, fmt.Errorf("memory file %s too small: %d bytes", path, size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map memory file %s: %w", path, err)
	}
	glog.V(1).Infof("Mapped %d MB from %s", size/(1<<20), path)
	return &Region{f: f, data: data, size: size}, nil
}

// Size returns the mapped size in bytes.
func (r *Region) Size() int64 {
	if r == nil {
		return 0
	}
	return r.size
}

// Pages returns the number of whole pages in the mapping.
func (r *Region) Pages() int { return int(r.Size() / PageSize) }

// PageInto copies the page at off into dst. The copy is a single snapshot
// of the shared bytes; tear detection happens on the copy, never on the
// live mapping.
func (r *Region) PageInto(off int64, dst []byte) bool {
	if r == nil || off < 0 || off+PageSize > r.size || len(dst) < PageSize {
		return false
	}
	copy(dst[:PageSize], r.data[off:off+PageSize])
	return true
}

// word reads a 32-bit word directly from the mapping. Used only by the
// scan fast path to reject non-beacon pages without copying them.
func (r *Region) word(off int64) uint32 {
	if r == nil || off < 0 || off+4 > r.size {
		return 0
	}
	return u32(r.data[off:off+4], 0)
}

// putWord writes a 32-bit word into the mapping. Camera control only.
func (r *Region) putWord(off int64, v uint32) {
	if r == nil || off < 0 || off+4 > r.size {
		return
	}
	putU32(r.data[off:off+4], 0, v)
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	if r == nil {
		return nil
	}
	var err error
	if r.data != nil {
		err = unix.Munmap(r.data)
		r.data = nil
	}
	if r.f != nil {
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
		r.f = nil
	}
	return err
}
