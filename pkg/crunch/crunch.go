// Package crunch serves byte-range reads over the flattened address
// space, stitching translation and physical reads into one linear view.
package crunch

import (
	"github.com/golang/glog"

	"beaconview/pkg/flatten"
)

const pageSize = 4096

// Translator resolves a process's virtual address to a physical one;
// 0 means unmapped.
type Translator interface {
	Translate(pid uint32, va uint64) uint64
}

// PhysicalMemory is the injected physical-read collaborator.
type PhysicalMemory interface {
	ReadMemory(pa uint64, size int) ([]byte, error)
	TestPageNonZero(pa uint64, size int) bool
}

// Reader reads crunched memory. A missing dependency or an unset pid
// degrades every call to zero bytes / false; nothing here returns errors.
// Not safe for concurrent use.
type Reader struct {
	flattener  *flatten.Flattener
	translator Translator
	phys       PhysicalMemory
	pid        uint32

	reads int
}

// NewReader builds an empty Reader; wire the collaborators with the
// setters before use.
func NewReader() *Reader { return &Reader{} }

// SetFlattener installs the flat address-space layout.
func (r *Reader) SetFlattener(f *flatten.Flattener) { r.flattener = f }

// SetTranslator installs the address translator.
func (r *Reader) SetTranslator(t Translator) { r.translator = t }

// SetPhysicalMemory installs the physical-read collaborator.
func (r *Reader) SetPhysicalMemory(p PhysicalMemory) { r.phys = p }

// SetTargetPID selects the traced process. 0 disables reads.
func (r *Reader) SetTargetPID(pid uint32) { r.pid = pid }

// Reads returns how many ReadCrunched calls actually walked the flat
// space, for diagnostics. Degraded calls do not count.
func (r *Reader) Reads() int { return r.reads }

func (r *Reader) ready() bool {
	return r.flattener != nil && r.translator != nil && r.phys != nil && r.pid != 0
}

// ReadCrunched fills buf starting at a flat offset. Unmapped pages and
// failed physical reads zero-fill their chunk; a visualization consumer
// prefers gaps over a failed read. The walk crosses region boundaries
// transparently and returns the bytes produced, short only when flat
// space runs out.
func (r *Reader) ReadCrunched(flat uint64, buf []byte) int {
	if !r.ready() || len(buf) == 0 {
		return 0
	}
	r.reads++

	total := 0
	for total < len(buf) {
		n := r.walkRegion(flat, buf[total:], len(buf)-total, nil)
		if n == 0 {
			if total == 0 {
				glog.V(2).Infof("No region at flat offset 0x%x", flat)
			}
			break
		}
		total += n
		flat += uint64(n)
	}
	return total
}

// TestPageNonZero runs the same resolution walk without materializing
// output, short-circuiting on the first non-zero chunk. A cheap presence
// probe for pagers deciding what to draw.
func (r *Reader) TestPageNonZero(flat uint64, size int) bool {
	if !r.ready() || size <= 0 {
		return false
	}
	nonzero := false
	for size > 0 && !nonzero {
		n := r.walkRegion(flat, nil, size, &nonzero)
		if n == 0 {
			break
		}
		flat += uint64(n)
		size -= n
	}
	return nonzero
}

// walkRegion handles the portion of one request that falls inside the
// region owning flat. With probe == nil it reads into out; with probe set
// it only tests chunks and out is unused.
func (r *Reader) walkRegion(flat uint64, out []byte, budget int, probe *bool) int {
	region := r.flattener.RegionForFlat(flat)
	if region == nil {
		return 0
	}
	offset := flat - region.FlatStart
	va := region.VirtualStart + offset

	if remaining := int(region.Size() - offset); remaining < budget {
		budget = remaining
	}

	done := 0
	for done < budget {
		chunk := pageSize
		if budget-done < chunk {
			chunk = budget - done
		}
		pa := r.translator.Translate(r.pid, va+uint64(done))
		switch {
		case pa == 0:
			// Unmapped: reads zero-fill, probes skip.
			if probe == nil {
				zero(out[done : done+chunk])
			}
		case probe != nil:
			if r.phys.TestPageNonZero(pa, chunk) {
				*probe = true
				return done + chunk
			}
		default:
			data, err := r.phys.ReadMemory(pa, chunk)
			if err != nil || len(data) < chunk {
				glog.V(2).Infof("Physical read failed at 0x%x: %v", pa, err)
				zero(out[done : done+chunk])
			} else {
				copy(out[done:done+chunk], data)
			}
		}
		done += chunk
	}
	return done
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Position describes what lives at a flat offset.
type Position struct {
	FlatAddr     uint64
	VirtualAddr  uint64
	PhysicalAddr uint64
	RegionName   string
}

// PositionInfo resolves a flat offset for display. The physical address is
// 0 when unmapped or no translator/pid is set.
func (r *Reader) PositionInfo(flat uint64) (Position, bool) {
	if r.flattener == nil {
		return Position{}, false
	}
	region := r.flattener.RegionForFlat(flat)
	if region == nil {
		return Position{}, false
	}
	pos := Position{
		FlatAddr:    flat,
		VirtualAddr: region.VirtualStart + (flat - region.FlatStart),
		RegionName:  region.Name,
	}
	if r.translator != nil && r.pid != 0 {
		pos.PhysicalAddr = r.translator.Translate(r.pid, pos.VirtualAddr)
	}
	return pos, true
}
