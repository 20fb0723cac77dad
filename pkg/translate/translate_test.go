package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned PTE maps keyed by (camera, pid) and counts
// how often it is asked.
type fakeSource struct {
	ptes  map[uint32]map[uint64]uint64
	calls int
}

func (f *fakeSource) CameraPTEs(camera int, pid uint32) map[uint64]uint64 {
	f.calls++
	return f.ptes[pid]
}

func newFakeSource(pid uint32, ptes map[uint64]uint64) *fakeSource {
	return &fakeSource{ptes: map[uint32]map[uint64]uint64{pid: ptes}}
}

func TestTranslateMappedAndUnmapped(t *testing.T) {
	source := newFakeSource(42, map[uint64]uint64{
		0x7f0000001000: 0x80001000,
	})
	tr := New(source, WithCameras(1))

	// Offset within the page carries over.
	assert.Equal(t, uint64(0x80001234), tr.Translate(42, 0x7f0000001234))
	assert.Equal(t, uint64(0x80001000), tr.Translate(42, 0x7f0000001000))

	// Unmapped page: zero sentinel, never an error.
	assert.Zero(t, tr.Translate(42, 0x7f0000009000))
}

func TestTranslateZeroPID(t *testing.T) {
	tr := New(newFakeSource(42, map[uint64]uint64{0x1000: 0x2000}))
	assert.Zero(t, tr.Translate(0, 0x1000))
}

func TestTranslateNoSource(t *testing.T) {
	tr := New(nil)
	assert.Zero(t, tr.Translate(42, 0x1000))
}

func TestRefreshRateLimited(t *testing.T) {
	source := newFakeSource(42, map[uint64]uint64{0x1000: 0x2000})
	tr := New(source, WithCameras(1))

	tr.Translate(42, 0x1000)
	afterFirst := source.calls
	require.Positive(t, afterFirst)

	// The next 99 lookups ride the cache.
	for i := 0; i < refreshEvery-1; i++ {
		tr.Translate(42, 0x1000)
	}
	assert.Equal(t, afterFirst, source.calls)

	// Lookup 101 refreshes again.
	tr.Translate(42, 0x1000)
	assert.Greater(t, source.calls, afterFirst)
}

func TestProvisionalRelabeledOnFirstLookup(t *testing.T) {
	// The companion published PTEs before attaching a pid: they arrive
	// under pid 0 and must serve the first concrete pid asked for.
	source := newFakeSource(0, map[uint64]uint64{0x5000: 0x9000})
	tr := New(source, WithCameras(1))

	assert.Equal(t, uint64(0x9080), tr.Translate(42, 0x5080))
	assert.Equal(t, "bound", tr.State())

	// Relabeling happened once; the entries now live under pid 42.
	assert.Equal(t, uint64(0x9000), tr.Translate(42, 0x5000))
}

func TestUpdateFromBeaconStates(t *testing.T) {
	source := newFakeSource(0, map[uint64]uint64{0x5000: 0x9000})
	tr := New(source, WithCameras(1))
	assert.Equal(t, "no-data", tr.State())

	tr.UpdateFromBeacon(0)
	assert.Equal(t, "provisional", tr.State())

	source.ptes[42] = map[uint64]uint64{0x6000: 0xA000}
	tr.UpdateFromBeacon(42)
	assert.Equal(t, "bound", tr.State())
}

func TestLastResortAdoption(t *testing.T) {
	source := newFakeSource(5, map[uint64]uint64{0x3000: 0x7000})
	tr := New(source, WithCameras(1))

	// Bind pid 5's entries first.
	require.Equal(t, uint64(0x7000), tr.Translate(5, 0x3000))

	// Nothing is cached for pid 6, but exactly one process's entries
	// exist; they bridge the companion's attribution race.
	assert.Equal(t, uint64(0x7010), tr.Translate(6, 0x3010))
}

func TestSetFocusClearsCache(t *testing.T) {
	source := newFakeSource(42, map[uint64]uint64{0x1000: 0x2000})
	tr := New(source, WithCameras(1))
	require.NotZero(t, tr.Translate(42, 0x1000))

	// Drop the source data, switch focus: the stale cache must not
	// leak into the new process.
	source.ptes = map[uint32]map[uint64]uint64{}
	tr.SetFocus(7)
	assert.Zero(t, tr.Translate(7, 0x1000))
	assert.Equal(t, "no-data", tr.State())
}

func TestCacheSizeOption(t *testing.T) {
	source := newFakeSource(42, map[uint64]uint64{
		0x1000: 0x2000,
		0x3000: 0x4000,
	})
	tr := New(source, WithCameras(1), WithCacheSize(1))
	tr.UpdateFromBeacon(42)

	// Capacity one: only one of the two pages survives, the other
	// translates as unmapped until the next refresh.
	hits := 0
	for _, va := range []uint64{0x1000, 0x3000} {
		if c := tr.caches[42]; c != nil {
			if _, ok := c.Get(va); ok {
				hits++
			}
		}
	}
	assert.Equal(t, 1, hits)
}
