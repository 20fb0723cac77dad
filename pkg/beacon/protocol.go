// Package beacon reads the shared-memory beacon protocol written by the
// guest companion. The companion updates pages in place with no locking;
// every page carries a pair of version words and is only trusted when both
// words agree.
package beacon

const (
	// PageSize is the fixed protocol unit. All offsets and record layouts
	// below are relative to a page of this size.
	PageSize = 4096

	// Magic identifies a beacon page.
	Magic = 0x3142FACE
)

// Beacon categories.
const (
	CategoryMaster = iota
	CategoryPIDList
	CategoryCamera1
	CategoryCamera2
	NumCategories
)

// Camera status values reported on the control page.
const (
	CameraStatusIdle = iota
	CameraStatusSwitching
	CameraStatusActive
)

// Common page header layout. versionBottom sits in the last word of the
// page so a writer finishing the payload publishes it last.
const (
	magicOff         = 0
	categoryOff      = 4
	categoryIndexOff = 8
	sessionIDOff     = 12
	versionTopOff    = 16
	payloadOff       = 20
	versionBottomOff = PageSize - 4
)

// Discovery page payload (master category, index 0).
const (
	timestampOff   = payloadOff
	descriptorsOff = payloadOff + 4
	descriptorSize = 16
)

// PID list page payload.
const (
	generationOff = payloadOff
	totalPIDsOff  = payloadOff + 4
	pidsInPageOff = payloadOff + 8
	pidEntriesOff = payloadOff + 12
	pidEntrySize  = 48

	// MaxPIDsPerPage is how many 48-byte entries fit between the entry
	// array offset and the trailing version word.
	MaxPIDsPerPage = (versionBottomOff - pidEntriesOff) / pidEntrySize
)

// Camera control page payload (camera category, index 0).
const (
	targetPIDOff  = payloadOff
	statusOff     = payloadOff + 4
	currentPIDOff = payloadOff + 8
)

// Camera data page payload (camera category, index >= 1). The payload is a
// stream of mixed section and PTE entries terminated by an end marker.
const (
	dataTargetPIDOff = payloadOff
	entryCountOff    = payloadOff + 4
	continuationOff  = payloadOff + 8
	entryStreamOff   = payloadOff + 12

	entryKindSection = 0x01
	entryKindPTE     = 0x02
	entryKindEnd     = 0xFF

	sectionEntrySize = 96
	pteEntrySize     = 24
)

// Sanity bound on category_index values seen during a scan. Anything above
// this is treated as garbage rather than sized into an allocation.
const maxCategoryIndex = 10000
