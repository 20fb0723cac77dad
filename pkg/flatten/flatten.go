// Package flatten lays a process's disjoint virtual-memory regions end to
// end in a synthetic contiguous "flat" offset space, so a linear pager can
// walk the whole address space without caring about gaps.
package flatten

import (
	"strings"

	"github.com/golang/glog"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
)

// MapRegion is one input virtual-memory region.
type MapRegion struct {
	Start uint64
	End   uint64
	Name  string
}

// Region is a placed region: its virtual range plus the flat range it was
// assigned. Flat ranges are contiguous and in virtual-address order.
type Region struct {
	VirtualStart uint64
	VirtualEnd   uint64
	FlatStart    uint64
	FlatEnd      uint64
	Name         string
}

// Size returns the region's byte length.
func (r Region) Size() uint64 { return r.VirtualEnd - r.VirtualStart }

// Flattener holds one built layout. Build replaces the layout wholesale;
// between builds it is immutable.
type Flattener struct {
	regions    []Region
	flatSize   uint64
	mappedSize uint64
}

// Build sorts the input by virtual start and assigns flat offsets.
// Zero-length regions are dropped.
func (f *Flattener) Build(input []MapRegion) {
	f.regions = f.regions[:0]
	f.flatSize = 0
	f.mappedSize = 0

	sorted := slices.Clone(input)
	slices.SortFunc(sorted, func(a, b MapRegion) bool { return a.Start < b.Start })

	var flat uint64
	for _, in := range sorted {
		if in.End <= in.Start {
			continue
		}
		size := in.End - in.Start
		f.regions = append(f.regions, Region{
			VirtualStart: in.Start,
			VirtualEnd:   in.End,
			FlatStart:    flat,
			FlatEnd:      flat + size,
			Name:         in.Name,
		})
		flat += size
		f.mappedSize += size
	}
	f.flatSize = flat
	glog.V(1).Infof("Flattened %d regions, %d MB mapped", len(f.regions), f.mappedSize/(1<<20))
}

// Regions returns the placed regions in flat order.
func (f *Flattener) Regions() []Region { return f.regions }

// FlatSize returns the total length of the flat space.
func (f *Flattener) FlatSize() uint64 { return f.flatSize }

// MappedSize returns the sum of all region sizes.
func (f *Flattener) MappedSize() uint64 { return f.mappedSize }

// RegionForFlat resolves a flat offset to its owning region, nil past the
// end of flat space.
func (f *Flattener) RegionForFlat(flat uint64) *Region {
	return f.find(flat, true)
}

// RegionForVirtual resolves a virtual address to its owning region, nil
// when it falls in a gap.
func (f *Flattener) RegionForVirtual(va uint64) *Region {
	return f.find(va, false)
}

func (f *Flattener) find(addr uint64, flat bool) *Region {
	left, right := 0, len(f.regions)-1
	for left <= right {
		mid := left + (right-left)/2
		r := &f.regions[mid]
		start, end := r.VirtualStart, r.VirtualEnd
		if flat {
			start, end = r.FlatStart, r.FlatEnd
		}
		switch {
		case addr < start:
			right = mid - 1
		case addr >= end:
			left = mid + 1
		default:
			return r
		}
	}
	return nil
}

// VirtualToFlat maps a virtual address into flat space. Addresses in a gap
// snap to the nearer edge; addresses past the last region map to the end
// of flat space.
func (f *Flattener) VirtualToFlat(va uint64) uint64 {
	if r := f.RegionForVirtual(va); r != nil {
		return r.FlatStart + (va - r.VirtualStart)
	}
	if len(f.regions) == 0 || va < f.regions[0].VirtualStart {
		return 0
	}
	last := f.regions[len(f.regions)-1]
	if va >= last.VirtualEnd {
		return f.flatSize
	}
	for i := 0; i < len(f.regions)-1; i++ {
		cur, next := f.regions[i], f.regions[i+1]
		if va >= cur.VirtualEnd && va < next.VirtualStart {
			if va-cur.VirtualEnd < next.VirtualStart-va {
				return cur.FlatEnd
			}
			return next.FlatStart
		}
	}
	return 0
}

// FlatToVirtual is the inverse mapping. Offsets at or past the end of flat
// space map to the last region's virtual end.
func (f *Flattener) FlatToVirtual(flat uint64) uint64 {
	if r := f.RegionForFlat(flat); r != nil {
		return r.VirtualStart + (flat - r.FlatStart)
	}
	if len(f.regions) == 0 {
		return 0
	}
	if flat >= f.flatSize {
		return f.regions[len(f.regions)-1].VirtualEnd
	}
	return 0
}

// Hint marks a landmark in flat space for navigation UIs.
type Hint struct {
	FlatAddr uint64
	Label    string
	Major    bool
}

// NavigationHints derives landmarks (heap, stack, first library, program
// text) from region names.
func (f *Flattener) NavigationHints() []Hint {
	var hints []Hint
	firstLib := true
	for _, r := range f.regions {
		switch {
		case r.Name == "[heap]":
			hints = append(hints, Hint{r.FlatStart, "Heap", true})
		case r.Name == "[stack]":
			hints = append(hints, Hint{r.FlatStart, "Stack", true})
		case r.Name == "[vdso]":
			hints = append(hints, Hint{r.FlatStart, "VDSO", false})
		case r.VirtualStart < 0x1000000 && r.Name == "":
			hints = append(hints, Hint{r.FlatStart, "Low Memory", true})
		case isLibrary(r.Name):
			if firstLib {
				hints = append(hints, Hint{r.FlatStart, "Libraries", true})
				firstLib = false
			}
		case isProgram(r.Name):
			hints = append(hints, Hint{r.FlatStart, "Program", true})
		}
	}
	return lo.UniqBy(hints, func(h Hint) string { return h.Label })
}

func isLibrary(name string) bool {
	return strings.HasPrefix(name, "/lib") || strings.Contains(name, ".so")
}

func isProgram(name string) bool {
	return strings.HasPrefix(name, "/bin/") ||
		strings.HasPrefix(name, "/usr/bin/") ||
		strings.HasPrefix(name, "/sbin/")
}
