package beacon

import (
	"github.com/golang/glog"
)

// Section is one virtual-memory region reported by a camera for its
// focused process.
type Section struct {
	PID     uint32
	VAStart uint64
	VAEnd   uint64
	Perms   uint32
	Path    string
}

func cameraCategory(camera int) int {
	switch camera {
	case 1:
		return CategoryCamera1
	case 2:
		return CategoryCamera2
	}
	return -1
}

// CameraFocus returns the pid the camera is currently watching, 0 when
// the control page is absent or torn.
func (r *Reader) CameraFocus(camera int) uint32 {
	cat := cameraCategory(camera)
	if cat < 0 {
		return 0
	}
	b := r.categoryPage(cat, 0)
	if b == nil {
		return 0
	}
	return u32(b, currentPIDOff)
}

// SetCameraFocus asks the guest companion to point a camera at pid. This
// is the single host-side write in the protocol: it updates the camera
// control page in place and bumps both version words together so the
// guest's own tear check accepts it.
func (r *Reader) SetCameraFocus(camera int, pid uint32) bool {
	cat := cameraCategory(camera)
	if cat < 0 || !r.discovery.Valid {
		return false
	}
	ci := &r.index[cat]
	if ci.expected == 0 || !ci.present[0] {
		glog.Warningf("Camera %d control page not located", camera)
		return false
	}
	off := ci.offsets[0]
	if !r.region.PageInto(off, r.scratch[:]) {
		return false
	}
	h, ok := DecodePageHeader(r.scratch[:])
	if !ok || h.Category != uint32(cat) || h.CategoryIndex != 0 {
		glog.Warningf("Camera %d control page at 0x%x is not a control page", camera, off)
		return false
	}
	version := h.VersionTop + 1
	r.region.putWord(off+targetPIDOff, pid)
	r.region.putWord(off+statusOff, CameraStatusSwitching)
	r.region.putWord(off+versionTopOff, version)
	r.region.putWord(off+versionBottomOff, version)
	glog.V(1).Infof("Camera %d focus -> pid %d (control page 0x%x, version %d)",
		camera, pid, off, version)
	return true
}

// CameraPTEs collects virtual-to-physical page mappings from the camera's
// data pages for one pid. Entries captured before the companion attached a
// pid are published under pid 0; ask for pid 0 to read that bucket.
// Physical addresses are page-aligned as written by the guest.
func (r *Reader) CameraPTEs(camera int, pid uint32) map[uint64]uint64 {
	cat := cameraCategory(camera)
	if cat < 0 {
		return nil
	}
	var ptes map[uint64]uint64
	r.walkCameraPages(cat, pid, func(b []byte) {
		walkEntryStream(b, func(kind int, off int) {
			if kind != entryKindPTE {
				return
			}
			if ptes == nil {
				ptes = make(map[uint64]uint64)
			}
			va := u64(b, off+8)
			pa := u64(b, off+16)
			if pa != 0 {
				ptes[va&^uint64(PageSize-1)] = pa
			}
		})
	})
	return ptes
}

// CameraSections collects the section list the camera captured for pid.
func (r *Reader) CameraSections(camera int, pid uint32) []Section {
	cat := cameraCategory(camera)
	if cat < 0 {
		return nil
	}
	var sections []Section
	r.walkCameraPages(cat, pid, func(b []byte) {
		walkEntryStream(b, func(kind int, off int) {
			if kind != entryKindSection {
				return
			}
			sections = append(sections, Section{
				PID:     u32(b, off+4),
				VAStart: u64(b, off+8),
				VAEnd:   u64(b, off+16),
				Perms:   u32(b, off+24),
				Path:    cstring(b[off+32 : off+96]),
			})
		})
	})
	return sections
}

// walkCameraPages visits every valid data page (index >= 1) of a camera
// category whose target pid matches. pid 0 on a data page means the
// companion had not yet labeled its capture.
func (r *Reader) walkCameraPages(cat int, pid uint32, visit func(b []byte)) {
	ci := &r.index[cat]
	for i := 1; i < ci.expected; i++ {
		b := ci.page(i)
		if b == nil {
			continue
		}
		if u32(b, dataTargetPIDOff) != pid {
			continue
		}
		visit(b)
	}
}

// walkEntryStream walks the mixed section/PTE entry stream of a camera
// data page, stopping at the end marker, a bad kind, the declared entry
// count, or the payload boundary, whichever comes first.
func walkEntryStream(b []byte, visit func(kind, off int)) {
	count := int(u32(b, entryCountOff))
	off := entryStreamOff
	for n := 0; n < count && off < versionBottomOff; n++ {
		kind := int(b[off])
		var size int
		switch kind {
		case entryKindSection:
			size = sectionEntrySize
		case entryKindPTE:
			size = pteEntrySize
		case entryKindEnd:
			return
		default:
			glog.V(2).Infof("Unknown camera entry kind 0x%02x at offset %d", kind, off)
			return
		}
		if off+size > versionBottomOff {
			return
		}
		visit(kind, off)
		off += size
	}
}
