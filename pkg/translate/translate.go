// Package translate maintains a per-process virtual-to-physical page
// cache fed from the beacon cameras.
package translate

import (
	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru"
)

const (
	pageSize = 4096
	pageMask = pageSize - 1

	// The guest republishes PTEs far slower than callers translate, so
	// the cache is refreshed from the beacon once per this many lookups.
	refreshEvery = 100

	// Per-pid page cache capacity. A 256k-entry cache covers 1 GiB of
	// mapped pages before anything is evicted; an evicted page simply
	// translates as unmapped until the next beacon refresh restores it.
	defaultCacheSize = 256 * 1024
)

// PTESource supplies fresh page mappings for a camera's focused pid.
// Implemented by beacon.Reader.
type PTESource interface {
	CameraPTEs(camera int, pid uint32) map[uint64]uint64
}

// Binding state of the cache. Entries can arrive from the guest before the
// companion has labeled them with a pid; they sit in a provisional bucket
// until the first concrete lookup claims them.
type bindState int

const (
	stateNoData bindState = iota
	stateProvisional
	stateBound
)

func (s bindState) String() string {
	switch s {
	case stateProvisional:
		return "provisional"
	case stateBound:
		return "bound"
	}
	return "no-data"
}

// Translator resolves virtual addresses to physical ones for a traced
// process. Zero is the "not mapped" sentinel, never a real address. Not
// safe for concurrent use.
type Translator struct {
	source  PTESource
	cameras []int

	caches    map[uint32]*lru.Cache // pid -> pageVA -> pa, pid 0 is the unattributed bucket
	state     bindState
	boundPID  uint32
	cacheSize int

	lookups       int
	adoptedWarned bool
}

// Option tweaks a Translator.
type Option func(*Translator)

// WithCacheSize overrides the per-pid page cache capacity.
func WithCacheSize(n int) Option {
	return func(t *Translator) {
		if n > 0 {
			t.cacheSize = n
		}
	}
}

// WithCameras limits which cameras feed the cache.
func WithCameras(cameras ...int) Option {
	return func(t *Translator) { t.cameras = cameras }
}

// New builds a Translator over a PTE source.
func New(source PTESource, opts ...Option) *Translator {
	t := &Translator{
		source:    source,
		cameras:   []int{1, 2},
		caches:    make(map[uint32]*lru.Cache),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetFocus clears all cached mappings when the traced process changes.
func (t *Translator) SetFocus(pid uint32) {
	if t.state == stateBound && t.boundPID == pid {
		return
	}
	for _, c := range t.caches {
		c.Purge()
	}
	t.caches = make(map[uint32]*lru.Cache)
	t.state = stateNoData
	t.boundPID = 0
	t.adoptedWarned = false
	glog.V(1).Infof("Translator focus -> pid %d, cache cleared", pid)
}

// Translate resolves pid's virtual address to a physical one, 0 when the
// page is not known to be mapped. The byte offset within the page is
// carried over from va.
func (t *Translator) Translate(pid uint32, va uint64) uint64 {
	if pid == 0 {
		return 0
	}
	t.lookups++
	if t.source != nil && t.lookups%refreshEvery == 1 {
		t.UpdateFromBeacon(pid)
	}

	cache := t.cacheFor(pid)
	if cache == nil {
		return 0
	}
	v, ok := cache.Get(va &^ uint64(pageMask))
	if !ok {
		return 0
	}
	return v.(uint64) + (va & pageMask)
}

// cacheFor finds the cache serving pid. Fallback order: exact match, then
// the unattributed bucket (relabeled to pid on first use), then — only
// while exactly one process's entries exist at all — that single cache.
// The last step bridges a companion-side race where captures are published
// under the wrong pid; it holds only because at most one process is
// focused at a time.
func (t *Translator) cacheFor(pid uint32) *lru.Cache {
	if c := t.caches[pid]; c != nil {
		t.bind(pid)
		return c
	}
	if c := t.caches[0]; c != nil {
		t.caches[pid] = c
		delete(t.caches, 0)
		t.bind(pid)
		glog.V(1).Infof("Relabeled %d provisional PTEs to pid %d", c.Len(), pid)
		return c
	}
	if t.state == stateBound && len(t.caches) == 1 {
		for owner, c := range t.caches {
			if !t.adoptedWarned {
				glog.Warningf("Using PTEs cached for pid %d to serve pid %d", owner, pid)
				t.adoptedWarned = true
			}
			return c
		}
	}
	return nil
}

func (t *Translator) bind(pid uint32) {
	if t.state != stateBound || t.boundPID != pid {
		t.state = stateBound
		t.boundPID = pid
	}
}

// UpdateFromBeacon merges freshly observed PTEs for pid from every camera.
// Entries published without an attributed pid land in the provisional
// bucket. Physical addresses arrive page-aligned from the guest.
func (t *Translator) UpdateFromBeacon(pid uint32) {
	if t.source == nil {
		return
	}
	for _, camera := range t.cameras {
		if pid != 0 {
			t.merge(pid, t.source.CameraPTEs(camera, pid))
		}
		t.merge(0, t.source.CameraPTEs(camera, 0))
	}
}

func (t *Translator) merge(pid uint32, ptes map[uint64]uint64) {
	if len(ptes) == 0 {
		return
	}
	cache := t.caches[pid]
	if cache == nil {
		var err error
		if cache, err = lru.New(t.cacheSize); err != nil {
			glog.Errorf("Failed to create PTE cache: %v", err)
			return
		}
		t.caches[pid] = cache
	}
	for va, pa := range ptes {
		cache.Add(va&^uint64(pageMask), pa)
	}
	if pid == 0 {
		if t.state == stateNoData {
			t.state = stateProvisional
		}
	} else {
		t.bind(pid)
	}
	glog.V(2).Infof("Merged %d PTEs for pid %d (state %s)", len(ptes), pid, t.state)
}

// State reports the binding state for diagnostics.
func (t *Translator) State() string { return t.state.String() }
