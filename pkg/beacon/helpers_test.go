package beacon

import "encoding/binary"

// Test fixtures build beacon pages the way the guest companion would,
// then assemble them into a bytes-backed Region.

type testPage struct {
	category uint32
	index    uint32
	session  uint32
	version  uint32
	payload  func(b []byte)
}

func encodeTestPage(p testPage) []byte {
	b := make([]byte, PageSize)
	binary.LittleEndian.PutUint32(b[magicOff:], Magic)
	binary.LittleEndian.PutUint32(b[categoryOff:], p.category)
	binary.LittleEndian.PutUint32(b[categoryIndexOff:], p.index)
	binary.LittleEndian.PutUint32(b[sessionIDOff:], p.session)
	binary.LittleEndian.PutUint32(b[versionTopOff:], p.version)
	if p.payload != nil {
		p.payload(b)
	}
	binary.LittleEndian.PutUint32(b[versionBottomOff:], p.version)
	return b
}

// testRegion lays pages out at the given page numbers inside a region of
// totalPages pages. The returned Region shares buf, so tests can tear
// pages in place.
func testRegion(totalPages int, pages map[int][]byte) (*Region, []byte) {
	buf := make([]byte, totalPages*PageSize)
	for pageNo, page := range pages {
		copy(buf[pageNo*PageSize:], page)
	}
	return &Region{data: buf, size: int64(len(buf))}, buf
}

func discoveryPayload(timestamp uint32, counts [NumCategories]uint32) func(b []byte) {
	return func(b []byte) {
		binary.LittleEndian.PutUint32(b[timestampOff:], timestamp)
		for i, count := range counts {
			binary.LittleEndian.PutUint32(b[descriptorsOff+i*descriptorSize+4:], count)
		}
	}
}

func pidListPayload(generation, totalPIDs uint32, entries []ProcessInfo) func(b []byte) {
	return func(b []byte) {
		binary.LittleEndian.PutUint32(b[generationOff:], generation)
		binary.LittleEndian.PutUint32(b[totalPIDsOff:], totalPIDs)
		binary.LittleEndian.PutUint32(b[pidsInPageOff:], uint32(len(entries)))
		for i, e := range entries {
			off := pidEntriesOff + i*pidEntrySize
			binary.LittleEndian.PutUint32(b[off+4:], e.PID)
			binary.LittleEndian.PutUint32(b[off+8:], e.PPID)
			binary.LittleEndian.PutUint32(b[off+12:], e.UID)
			binary.LittleEndian.PutUint32(b[off+16:], e.GID)
			binary.LittleEndian.PutUint64(b[off+20:], e.RSSKB)
			copy(b[off+28:off+44], e.Comm)
			b[off+44] = e.State
		}
	}
}

func cameraControlPayload(target, status, current uint32) func(b []byte) {
	return func(b []byte) {
		binary.LittleEndian.PutUint32(b[targetPIDOff:], target)
		binary.LittleEndian.PutUint32(b[statusOff:], status)
		binary.LittleEndian.PutUint32(b[currentPIDOff:], current)
	}
}

type testCameraEntry struct {
	section *Section
	pte     *[2]uint64 // va, pa
}

func cameraDataPayload(target uint32, entries []testCameraEntry) func(b []byte) {
	return func(b []byte) {
		binary.LittleEndian.PutUint32(b[dataTargetPIDOff:], target)
		binary.LittleEndian.PutUint32(b[entryCountOff:], uint32(len(entries)))
		off := entryStreamOff
		for _, e := range entries {
			if e.section != nil {
				b[off] = entryKindSection
				binary.LittleEndian.PutUint32(b[off+4:], e.section.PID)
				binary.LittleEndian.PutUint64(b[off+8:], e.section.VAStart)
				binary.LittleEndian.PutUint64(b[off+16:], e.section.VAEnd)
				binary.LittleEndian.PutUint32(b[off+24:], e.section.Perms)
				copy(b[off+32:off+96], e.section.Path)
				off += sectionEntrySize
				continue
			}
			b[off] = entryKindPTE
			binary.LittleEndian.PutUint64(b[off+8:], e.pte[0])
			binary.LittleEndian.PutUint64(b[off+16:], e.pte[1])
			off += pteEntrySize
		}
		if off < versionBottomOff {
			b[off] = entryKindEnd
		}
	}
}

// tearPage breaks the trailing version word of the page at pageNo so the
// next copy cycle sees it torn.
func tearPage(buf []byte, pageNo int) {
	off := pageNo*PageSize + versionBottomOff
	binary.LittleEndian.PutUint32(buf[off:], binary.LittleEndian.Uint32(buf[off:])+1)
}

// healPage restores the version words of the page at pageNo.
func healPage(buf []byte, pageNo int) {
	top := binary.LittleEndian.Uint32(buf[pageNo*PageSize+versionTopOff:])
	binary.LittleEndian.PutUint32(buf[pageNo*PageSize+versionBottomOff:], top)
}
