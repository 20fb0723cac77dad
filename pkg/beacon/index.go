package beacon

import "github.com/golang/glog"

// categoryIndex tracks where one category's pages live in the shared
// region and keeps stable local copies of them. Offsets are discovered by
// full scans; once an index slot is bound to an offset it stays bound for
// the rest of the session. A copy that comes back torn invalidates the
// slot for the current cycle only.
type categoryIndex struct {
	// session the index was built for. A new session starts from an empty
	// index even when it declares the same page counts.
	session uint32

	expected int
	offsets  []int64
	present  []bool
	found    int

	// Materialized copies. valid[i] means pages[i*PageSize:...] held a
	// consistent page on the last copy cycle.
	pages      []byte
	valid      []bool
	versions   []uint32
	validCount int
}

func (ci *categoryIndex) reset(expected int) {
	ci.expected = expected
	ci.found = 0
	ci.validCount = 0
	if expected <= 0 {
		ci.offsets = nil
		ci.present = nil
		ci.pages = nil
		ci.valid = nil
		ci.versions = nil
		return
	}
	ci.offsets = make([]int64, expected)
	ci.present = make([]bool, expected)
	ci.pages = make([]byte, expected*PageSize)
	ci.valid = make([]bool, expected)
	ci.versions = make([]uint32, expected)
}

// bind records the shared-region offset of index slot idx. Out-of-range
// indices are dropped (capacity errors are clamped, never grown into).
func (ci *categoryIndex) bind(idx int, off int64) {
	if idx < 0 || idx >= ci.expected {
		return
	}
	if !ci.present[idx] {
		ci.present[idx] = true
		ci.found++
	}
	ci.offsets[idx] = off
}

func (ci *categoryIndex) allFound() bool {
	return ci.expected > 0 && ci.found == ci.expected
}

// page returns the materialized copy of slot i, nil if the slot is absent
// or was torn on the last copy cycle.
func (ci *categoryIndex) page(i int) []byte {
	if i < 0 || i >= ci.expected || !ci.valid[i] {
		return nil
	}
	return ci.pages[i*PageSize : (i+1)*PageSize]
}

// copyFrom re-copies every bound offset into the local buffer and
// re-checks consistency. A torn copy leaves the offset binding intact; the
// slot just yields no page until a later cycle catches the writer at rest.
// A copy whose header no longer names this session, category and slot is
// rejected the same way: the offset may have been reused by another writer.
func (ci *categoryIndex) copyFrom(r *Region, cat int) {
	ci.validCount = 0
	for i := 0; i < ci.expected; i++ {
		if !ci.present[i] {
			ci.valid[i] = false
			continue
		}
		dst := ci.pages[i*PageSize : (i+1)*PageSize]
		if !r.PageInto(ci.offsets[i], dst) {
			ci.valid[i] = false
			continue
		}
		h, ok := DecodePageHeader(dst)
		if !ok || !h.Consistent() {
			ci.valid[i] = false
			glog.V(2).Infof("Category %d page %d torn, keeping offset binding", cat, i)
			continue
		}
		if h.SessionID != ci.session || h.Category != uint32(cat) || h.CategoryIndex != uint32(i) {
			ci.valid[i] = false
			glog.V(2).Infof("Category %d page %d at 0x%x no longer belongs to session %d",
				cat, i, ci.offsets[i], ci.session)
			continue
		}
		ci.valid[i] = true
		ci.versions[i] = h.VersionTop
		ci.validCount++
	}
}

// absentRanges returns contiguous [first,last] index ranges with no bound
// offset, for diagnostics.
func (ci *categoryIndex) absentRanges() [][2]int {
	var ranges [][2]int
	start, in := 0, false
	for i := 0; i < ci.expected; i++ {
		if !ci.present[i] {
			if !in {
				start, in = i, true
			}
			continue
		}
		if in {
			ranges = append(ranges, [2]int{start, i - 1})
			in = false
		}
	}
	if in {
		ranges = append(ranges, [2]int{start, ci.expected - 1})
	}
	return ranges
}
