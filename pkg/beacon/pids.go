package beacon

import (
	"github.com/golang/glog"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
)

// ProcessInfo is one decoded PID-list entry.
type ProcessInfo struct {
	PID   uint32
	PPID  uint32
	UID   uint32
	GID   uint32
	RSSKB uint64
	Comm  string
	State byte
}

// Generation is one snapshot of the guest process list. The guest writes a
// snapshot across several pages without locking the reader out; the
// generation id keeps entries from two snapshots apart.
type Generation struct {
	ID        uint32
	TotalPIDs uint32
	Entries   []ProcessInfo
	Complete  bool
}

// PIDs returns just the pids of the generation's entries.
func (g Generation) PIDs() []uint32 {
	return lo.Map(g.Entries, func(e ProcessInfo, _ int) uint32 { return e.PID })
}

func decodePIDEntry(b []byte, off int) ProcessInfo {
	return ProcessInfo{
		PID:   u32(b, off+4),
		PPID:  u32(b, off+8),
		UID:   u32(b, off+12),
		GID:   u32(b, off+16),
		RSSKB: u64(b, off+20),
		Comm:  cstring(b[off+28 : off+44]),
		State: b[off+44],
	}
}

// PIDGenerations reconciles all valid PID-list pages into generations,
// sorted by generation id ascending. Returns nil when the category was
// never indexed or holds no usable page.
func (r *Reader) PIDGenerations() []Generation {
	ci := &r.index[CategoryPIDList]
	if ci.expected == 0 {
		glog.V(1).Info("PID category not indexed")
		return nil
	}

	byID := make(map[uint32]*Generation)
	for i := 0; i < ci.expected; i++ {
		b := ci.page(i)
		if b == nil {
			continue // absent or torn this cycle
		}
		h, _ := DecodePageHeader(b)
		if h.Category != CategoryPIDList {
			continue
		}
		id := u32(b, generationOff)
		gen := byID[id]
		if gen == nil {
			gen = &Generation{ID: id, TotalPIDs: u32(b, totalPIDsOff)}
			byID[id] = gen
		}
		count := int(u32(b, pidsInPageOff))
		if count > MaxPIDsPerPage {
			count = MaxPIDsPerPage
		}
		for j := 0; j < count; j++ {
			gen.Entries = append(gen.Entries, decodePIDEntry(b, pidEntriesOff+j*pidEntrySize))
		}
	}

	gens := make([]Generation, 0, len(byID))
	for _, gen := range byID {
		gen.Complete = uint32(len(gen.Entries)) == gen.TotalPIDs
		gens = append(gens, *gen)
	}
	slices.SortFunc(gens, func(a, b Generation) bool { return a.ID < b.ID })
	return gens
}

// PIDList returns the pids of the most recent complete generation. When no
// generation is complete it falls back to the most recent partial one:
// freshest-available beats stale-but-complete. Empty when nothing was
// decoded.
func (r *Reader) PIDList() []uint32 {
	gens := r.PIDGenerations()
	if len(gens) == 0 {
		return nil
	}
	for i := len(gens) - 1; i >= 0; i-- {
		if gens[i].Complete {
			return gens[i].PIDs()
		}
	}
	return gens[len(gens)-1].PIDs()
}

// AllProcessInfo returns the entries of the generation PIDList would pick,
// keyed by pid.
func (r *Reader) AllProcessInfo() map[uint32]ProcessInfo {
	gens := r.PIDGenerations()
	if len(gens) == 0 {
		return nil
	}
	pick := gens[len(gens)-1]
	for i := len(gens) - 1; i >= 0; i-- {
		if gens[i].Complete {
			pick = gens[i]
			break
		}
	}
	return lo.SliceToMap(pick.Entries, func(e ProcessInfo) (uint32, ProcessInfo) {
		return e.PID, e
	})
}

// ProcessInfoFor looks one pid up in the best available generation.
func (r *Reader) ProcessInfoFor(pid uint32) (ProcessInfo, bool) {
	info, ok := r.AllProcessInfo()[pid]
	return info, ok
}
