package beacon

import (
	"github.com/golang/glog"
)

// Reader locates and incrementally refreshes the beacon pages of the
// active guest session. All methods run on the caller's goroutine; a
// Reader must not be shared between goroutines.
type Reader struct {
	region    *Region
	discovery DiscoveryInfo
	index     [NumCategories]categoryIndex

	// scratch page for scans, reused to keep full scans allocation-free.
	scratch [PageSize]byte

	// fullScans counts whole-region scans. Steady-state refreshes must
	// not increment it once every expected page has been located.
	fullScans int
}

// NewReader wraps an open shared region. No scanning happens until
// FindDiscovery or Refresh is called; the guest companion may not have
// started yet.
func NewReader(region *Region) *Reader {
	return &Reader{region: region}
}

// Discovery returns the last discovery record. Valid is false until
// FindDiscovery succeeds.
func (r *Reader) Discovery() DiscoveryInfo { return r.discovery }

// FullScans returns how many whole-region scans the reader has performed.
func (r *Reader) FullScans() int { return r.fullScans }

// FindDiscovery walks the region in page strides looking for a consistent
// discovery page. When several sessions have left discovery pages behind,
// the one with the newest timestamp wins (ties go to the lowest offset).
// Returns false if none exists; callers should retry later.
func (r *Reader) FindDiscovery() bool {
	if r.region == nil {
		return false
	}
	r.fullScans++

	var best DiscoveryInfo
	for off := int64(0); off+PageSize <= r.region.Size(); off += PageSize {
		if r.region.word(off) != Magic {
			continue
		}
		if !r.region.PageInto(off, r.scratch[:]) {
			continue
		}
		h, ok := DecodePageHeader(r.scratch[:])
		if !ok || !isDiscoveryHeader(h) {
			continue
		}
		d := decodeDiscovery(r.scratch[:], off, h)
		if !best.Valid || d.Timestamp > best.Timestamp {
			best = d
		}
	}
	if !best.Valid {
		glog.V(1).Info("No discovery page found")
		return false
	}
	r.discovery = best
	glog.V(1).Infof("Discovery page at 0x%x (session=%d, timestamp=%d)",
		best.Offset, best.SessionID, best.Timestamp)
	r.rebuild()
	return true
}

// Refresh brings the materialized category pages up to date. While pages
// are still unaccounted for it re-runs the full scan; once every category
// has located all of its expected pages it only re-copies the known
// offsets, bounding the cost by the beacon footprint instead of the
// region size.
func (r *Reader) Refresh() bool {
	if r.region == nil {
		return false
	}
	if !r.discovery.Valid {
		return r.FindDiscovery()
	}
	if r.allPagesFound() {
		r.copyAll()
		return true
	}
	r.rebuild()
	return true
}

func (r *Reader) allPagesFound() bool {
	for cat := 0; cat < NumCategories; cat++ {
		if int(r.discovery.Categories[cat].PageCount) > 0 && !r.index[cat].allFound() {
			return false
		}
	}
	return true
}

// rebuild scans the whole region once, binding every consistent page of
// the active session into its category slot, then materializes copies.
// Index slots bound by an earlier rebuild are confirmed or left alone;
// they are never un-discovered.
func (r *Reader) rebuild() {
	r.fullScans++

	for cat := 0; cat < NumCategories; cat++ {
		expected := int(r.discovery.Categories[cat].PageCount)
		ci := &r.index[cat]
		// A changed session invalidates every binding, even when the new
		// session declares the same layout.
		if ci.expected != expected || ci.session != r.discovery.SessionID {
			ci.reset(expected)
			ci.session = r.discovery.SessionID
		}
		if expected == 0 {
			glog.V(1).Infof("Category %d not configured (0 pages expected)", cat)
		}
	}

	stale, overflow := 0, 0
	for off := int64(0); off+PageSize <= r.region.Size(); off += PageSize {
		if r.region.word(off) != Magic {
			continue
		}
		if !r.region.PageInto(off, r.scratch[:]) {
			continue
		}
		h, ok := DecodePageHeader(r.scratch[:])
		if !ok || !h.Consistent() {
			continue
		}
		if h.SessionID != r.discovery.SessionID {
			stale++ // another session's leavings, not an error
			continue
		}
		if h.Category >= NumCategories || h.CategoryIndex > maxCategoryIndex {
			continue
		}
		ci := &r.index[h.Category]
		if int(h.CategoryIndex) >= ci.expected {
			overflow++
			glog.V(1).Infof("Category %d index %d exceeds expected count %d",
				h.Category, h.CategoryIndex, ci.expected)
			continue
		}
		ci.bind(int(h.CategoryIndex), off)
	}

	for cat := 0; cat < NumCategories; cat++ {
		ci := &r.index[cat]
		if ci.expected == 0 {
			continue
		}
		glog.V(1).Infof("Category %d: %d/%d pages bound", cat, ci.found, ci.expected)
		if ranges := ci.absentRanges(); len(ranges) > 0 {
			glog.V(2).Infof("Category %d absent ranges: %v", cat, ranges)
		}
	}
	if stale > 0 || overflow > 0 {
		glog.V(1).Infof("Scan skipped %d stale and %d out-of-range pages", stale, overflow)
	}

	r.copyAll()
}

func (r *Reader) copyAll() {
	for cat := 0; cat < NumCategories; cat++ {
		r.index[cat].copyFrom(r.region, cat)
	}
}

// categoryPage returns the materialized copy of one page, nil when absent
// or torn this cycle.
func (r *Reader) categoryPage(cat, idx int) []byte {
	if cat < 0 || cat >= NumCategories {
		return nil
	}
	return r.index[cat].page(idx)
}

// CategoryFound reports bound/expected page counts for one category.
func (r *Reader) CategoryFound(cat int) (found, expected int) {
	if cat < 0 || cat >= NumCategories {
		return 0, 0
	}
	return r.index[cat].found, r.index[cat].expected
}

// Close releases the underlying region mapping.
func (r *Reader) Close() error {
	if r.region == nil {
		return nil
	}
	err := r.region.Close()
	r.region = nil
	r.discovery = DiscoveryInfo{}
	return err
}
