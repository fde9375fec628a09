package mcf

import "encoding/binary"

// mcfHeaderSize is the on-disk size of MCFHeader.
const mcfHeaderSize = 40

// MCFHeader is stored little-endian at offset 0:
//
//	0  Magic            [4]byte
//	4  Major            uint16
//	6  Minor            uint16
//	8  HeaderSize       uint32
//	12 SectionCount     uint32
//	16 SectionDirOffset uint64
//	24 FileSize         uint64
//	32 Flags            uint64
type MCFHeader struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

func (h *MCFHeader) Valid() bool {
	if string(h.Magic[:]) != MagicMCF {
		return false
	}
	if h.HeaderSize < mcfHeaderSize {
		return false
	}
	return h.SectionCount != 0
}

func (h *MCFHeader) Compatible() bool {
	return h.Major == CurrentMajor
}

func encodeHeader(dst []byte, h MCFHeader) bool {
	if len(dst) < mcfHeaderSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (MCFHeader, bool) {
	if len(src) < mcfHeaderSize {
		return MCFHeader{}, false
	}
	var h MCFHeader
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}
