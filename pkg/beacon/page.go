package beacon

import "encoding/binary"

// PageHeader is the decoded common header of a beacon page plus the
// trailing version word. Decoding copies the fields out of the shared
// mapping; nothing retains a pointer into it.
type PageHeader struct {
	Magic         uint32
	Category      uint32
	CategoryIndex uint32
	SessionID     uint32
	VersionTop    uint32
	VersionBottom uint32
}

// Consistent reports whether the page carried valid magic and matching
// version words, i.e. the writer was not mid-update when the bytes were
// captured. An inconsistent page is torn for this cycle only.
func (h PageHeader) Consistent() bool {
	return h.Magic == Magic && h.VersionTop == h.VersionBottom
}

func u32(b []byte, off int) uint32 {
	if off < 0 || off+4 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint32(b[off:])
}

func u64(b []byte, off int) uint64 {
	if off < 0 || off+8 > len(b) {
		return 0
	}
	return binary.LittleEndian.Uint64(b[off:])
}

func putU32(b []byte, off int, v uint32) {
	if off < 0 || off+4 > len(b) {
		return
	}
	binary.LittleEndian.PutUint32(b[off:], v)
}

// DecodePageHeader decodes the common header from a page-sized buffer.
// Returns false if the buffer is short or the magic does not match.
func DecodePageHeader(b []byte) (PageHeader, bool) {
	if len(b) < PageSize {
		return PageHeader{}, false
	}
	h := PageHeader{
		Magic:         u32(b, magicOff),
		Category:      u32(b, categoryOff),
		CategoryIndex: u32(b, categoryIndexOff),
		SessionID:     u32(b, sessionIDOff),
		VersionTop:    u32(b, versionTopOff),
		VersionBottom: u32(b, versionBottomOff),
	}
	return h, h.Magic == Magic
}

func cstring(b []byte) string {
	var i int
	for ; i < len(b); i++ {
		if b[i] == 0 {
			break
		}
	}
	return string(b[:i])
}
