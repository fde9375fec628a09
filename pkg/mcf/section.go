package mcf

import "encoding/binary"

// mcfSectionSize is the on-disk size of one section directory entry.
const mcfSectionSize = 24

// MCFSection is a section directory entry, stored little-endian:
// Type uint32, Version uint32, Offset uint64, Size uint64.
type MCFSection struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s MCFSection) End() uint64 {
	return s.Offset + s.Size
}

func encodeSection(dst []byte, s MCFSection) bool {
	if len(dst) < mcfSectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (MCFSection, bool) {
	if len(src) < mcfSectionSize {
		return MCFSection{}, false
	}
	return MCFSection{
		Type:    binary.LittleEndian.Uint32(src[0:4]),
		Version: binary.LittleEndian.Uint32(src[4:8]),
		Offset:  binary.LittleEndian.Uint64(src[8:16]),
		Size:    binary.LittleEndian.Uint64(src[16:24]),
	}, true
}
