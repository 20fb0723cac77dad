package beacon

// CategoryDescriptor is one row of the discovery page's category table.
type CategoryDescriptor struct {
	BaseOffset uint32
	PageCount  uint32
	WriteIndex uint32
	Sequence   uint32
}

// DiscoveryInfo describes the active guest session as announced by its
// discovery page. A fresh session gets a new SessionID and Timestamp; the
// reader keys all page validation on SessionID.
type DiscoveryInfo struct {
	Offset     int64
	Version    uint32
	SessionID  uint32
	Timestamp  uint32
	Categories [NumCategories]CategoryDescriptor
	Valid      bool
}

func decodeDiscovery(b []byte, off int64, h PageHeader) DiscoveryInfo {
	d := DiscoveryInfo{
		Offset:    off,
		Version:   h.VersionTop,
		SessionID: h.SessionID,
		Timestamp: u32(b, timestampOff),
		Valid:     true,
	}
	for i := 0; i < NumCategories; i++ {
		base := descriptorsOff + i*descriptorSize
		d.Categories[i] = CategoryDescriptor{
			BaseOffset: u32(b, base),
			PageCount:  u32(b, base+4),
			WriteIndex: u32(b, base+8),
			Sequence:   u32(b, base+12),
		}
	}
	return d
}

// isDiscoveryHeader reports whether the header names the discovery page:
// master category, index 0, consistent version words.
func isDiscoveryHeader(h PageHeader) bool {
	return h.Consistent() && h.Category == CategoryMaster && h.CategoryIndex == 0
}
