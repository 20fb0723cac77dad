package beacon

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cameraSession(t *testing.T, pages map[int][]byte) (*Reader, []byte) {
	t.Helper()
	discovery := encodeTestPage(testPage{
		category: CategoryMaster, session: 1, version: 1,
		payload: discoveryPayload(100, [NumCategories]uint32{1, 0, 3, 0}),
	})
	all := map[int][]byte{0: discovery}
	for k, v := range pages {
		all[k] = v
	}
	region, buf := testRegion(32, all)
	r := NewReader(region)
	require.True(t, r.FindDiscovery())
	return r, buf
}

func TestCameraPTEs(t *testing.T) {
	data := encodeTestPage(testPage{
		category: CategoryCamera1, index: 1, session: 1, version: 4,
		payload: cameraDataPayload(42, []testCameraEntry{
			{pte: &[2]uint64{0x7f0000001000, 0x80001000}},
			{pte: &[2]uint64{0x7f0000002234, 0x80002000}}, // va gets page-aligned
		}),
	})
	r, _ := cameraSession(t, map[int][]byte{5: data})

	ptes := r.CameraPTEs(1, 42)
	want := map[uint64]uint64{
		0x7f0000001000: 0x80001000,
		0x7f0000002000: 0x80002000,
	}
	if diff := cmp.Diff(want, ptes); diff != "" {
		t.Errorf("PTE mismatch (-want +got):\n%s", diff)
	}

	// Another pid sees nothing from this capture.
	assert.Empty(t, r.CameraPTEs(1, 43))
	// Camera 2 has no pages at all.
	assert.Empty(t, r.CameraPTEs(2, 42))
}

func TestCameraUnattributedPTEs(t *testing.T) {
	// The companion published the capture before labeling it.
	data := encodeTestPage(testPage{
		category: CategoryCamera1, index: 1, session: 1, version: 4,
		payload: cameraDataPayload(0, []testCameraEntry{
			{pte: &[2]uint64{0x1000, 0x9000}},
		}),
	})
	r, _ := cameraSession(t, map[int][]byte{5: data})

	assert.Empty(t, r.CameraPTEs(1, 42))
	assert.Equal(t, map[uint64]uint64{0x1000: 0x9000}, r.CameraPTEs(1, 0))
}

func TestCameraSections(t *testing.T) {
	want := []Section{
		{PID: 42, VAStart: 0x400000, VAEnd: 0x500000, Perms: 5, Path: "/usr/bin/app"},
		{PID: 42, VAStart: 0x7f0000000000, VAEnd: 0x7f0000010000, Perms: 3, Path: "[heap]"},
	}
	data := encodeTestPage(testPage{
		category: CategoryCamera1, index: 2, session: 1, version: 4,
		payload: cameraDataPayload(42, []testCameraEntry{
			{section: &want[0]},
			{pte: &[2]uint64{0x400000, 0xA000}},
			{section: &want[1]},
		}),
	})
	r, _ := cameraSession(t, map[int][]byte{6: data})

	if diff := cmp.Diff(want, r.CameraSections(1, 42)); diff != "" {
		t.Errorf("Section mismatch (-want +got):\n%s", diff)
	}
}

func TestCameraFocusRoundTrip(t *testing.T) {
	control := encodeTestPage(testPage{
		category: CategoryCamera1, index: 0, session: 1, version: 6,
		payload: cameraControlPayload(0, CameraStatusIdle, 17),
	})
	r, buf := cameraSession(t, map[int][]byte{4: control})

	assert.Equal(t, uint32(17), r.CameraFocus(1))

	require.True(t, r.SetCameraFocus(1, 42))

	// The write lands in the shared region with both version words
	// bumped together.
	off := 4 * PageSize
	assert.Equal(t, uint32(42), u32(buf, off+targetPIDOff))
	assert.Equal(t, uint32(CameraStatusSwitching), u32(buf, off+statusOff))
	assert.Equal(t, uint32(7), u32(buf, off+versionTopOff))
	assert.Equal(t, uint32(7), u32(buf, off+versionBottomOff))
}

func TestSetCameraFocusWithoutControlPage(t *testing.T) {
	r, _ := cameraSession(t, nil)
	assert.False(t, r.SetCameraFocus(1, 42))
	assert.False(t, r.SetCameraFocus(3, 42))
	assert.Zero(t, r.CameraFocus(1))
}

func TestWalkEntryStreamStopsAtEndMarker(t *testing.T) {
	data := encodeTestPage(testPage{
		category: CategoryCamera1, index: 1, session: 1, version: 1,
		payload: cameraDataPayload(42, []testCameraEntry{
			{pte: &[2]uint64{0x1000, 0x2000}},
		}),
	})
	// Declare more entries than were written; the end marker terminates
	// the walk before the stream runs into garbage.
	putU32(data, entryCountOff, 50)

	r, _ := cameraSession(t, map[int][]byte{5: data})
	assert.Len(t, r.CameraPTEs(1, 42), 1)
}
