package mcf

import (
	"encoding/binary"
	"errors"
	"slices"
	"strings"
)

// TensorIndexVersion is the on-disk version of the tensor index payload.
const TensorIndexVersion uint32 = 1

// Tensor index layout, all little-endian and relative to the payload start:
//
//	header  48 bytes: version, flags, count, dims count (uint32 each),
//	        entries, dims and strings offsets, strings size (uint64 each)
//	entries count * 40 bytes: name off, name len, dtype, rank, dim off,
//	        reserved (uint32 each), data off, data size (uint64 each)
//	dims    dims count * uint64
//	strings concatenated names
const (
	tiHeaderSize = 48
	tiEntrySize  = 40
)

// Tensor index flags.
const (
	// TensorIndexFlagSortedByName allows binary-search lookup.
	TensorIndexFlagSortedByName uint32 = 1 << 0
	TensorIndexFlagNamesUTF8    uint32 = 1 << 1
)

// TensorDType identifies the element encoding. Values are stable.
type TensorDType uint32

const (
	DTypeUnknown TensorDType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeF64
	DTypeI8
	DTypeU8
	DTypeI16
	DTypeU16
	DTypeI32
	DTypeU32
	DTypeI64
	DTypeU64
)

var dtypeInfo = [...]struct {
	name string
	size int
}{
	DTypeUnknown: {"unknown", 0},
	DTypeF32:     {"f32", 4},
	DTypeF16:     {"f16", 2},
	DTypeBF16:    {"bf16", 2},
	DTypeF64:     {"f64", 8},
	DTypeI8:      {"i8", 1},
	DTypeU8:      {"u8", 1},
	DTypeI16:     {"i16", 2},
	DTypeU16:     {"u16", 2},
	DTypeI32:     {"i32", 4},
	DTypeU32:     {"u32", 4},
	DTypeI64:     {"i64", 8},
	DTypeU64:     {"u64", 8},
}

// Size is the element width in bytes, 0 when unknown.
func (dt TensorDType) Size() int {
	if int(dt) >= len(dtypeInfo) {
		return 0
	}
	return dtypeInfo[dt].size
}

func (dt TensorDType) String() string {
	if int(dt) >= len(dtypeInfo) {
		return "unknown"
	}
	return dtypeInfo[dt].name
}

// TensorIndexEntry is one decoded index record. DataOff is an absolute file
// offset.
type TensorIndexEntry struct {
	NameOff  uint32
	NameLen  uint32
	DType    TensorDType
	Rank     uint32
	DimOff   uint32
	DataOff  uint64
	DataSize uint64
}

// TensorIndexRecord is the input to EncodeTensorIndexSection.
type TensorIndexRecord struct {
	Name     string
	DType    TensorDType
	Shape    []uint64
	DataOff  uint64
	DataSize uint64
}

// TensorIndex is a validated view over an index payload. It aliases the
// payload bytes.
type TensorIndex struct {
	raw        []byte
	flags      uint32
	count      int
	dimsCount  uint64
	entriesOff uint64
	dimsOff    uint64
	stringsOff uint64
}

// ParseTensorIndexSection validates the payload of a SectionTensorIndex.
func ParseTensorIndexSection(sec []byte) (*TensorIndex, error) {
	if len(sec) < tiHeaderSize {
		return nil, ErrCorruptFile
	}
	le := binary.LittleEndian
	if le.Uint32(sec[0:]) != TensorIndexVersion {
		return nil, ErrUnsupportedMinor
	}
	ti := &TensorIndex{
		raw:        sec,
		flags:      le.Uint32(sec[4:]),
		count:      int(le.Uint32(sec[8:])),
		dimsCount:  uint64(le.Uint32(sec[12:])),
		entriesOff: le.Uint64(sec[16:]),
		dimsOff:    le.Uint64(sec[24:]),
		stringsOff: le.Uint64(sec[32:]),
	}
	stringsSize := le.Uint64(sec[40:])
	if ti.count == 0 {
		return nil, ErrCorruptFile
	}

	n := uint64(len(sec))
	within := func(off, size uint64) bool { return off <= n && size <= n-off }
	if !within(ti.entriesOff, uint64(ti.count)*tiEntrySize) ||
		!within(ti.dimsOff, ti.dimsCount*8) ||
		!within(ti.stringsOff, stringsSize) {
		return nil, ErrCorruptFile
	}

	for i := range ti.count {
		e := ti.entry(i)
		if uint64(e.NameOff)+uint64(e.NameLen) > stringsSize ||
			uint64(e.DimOff)+uint64(e.Rank) > ti.dimsCount {
			return nil, ErrCorruptFile
		}
	}
	return ti, nil
}

func (ti *TensorIndex) entry(i int) TensorIndexEntry {
	b := ti.raw[ti.entriesOff+uint64(i)*tiEntrySize:]
	le := binary.LittleEndian
	return TensorIndexEntry{
		NameOff:  le.Uint32(b[0:]),
		NameLen:  le.Uint32(b[4:]),
		DType:    TensorDType(le.Uint32(b[8:])),
		Rank:     le.Uint32(b[12:]),
		DimOff:   le.Uint32(b[16:]),
		DataOff:  le.Uint64(b[24:]),
		DataSize: le.Uint64(b[32:]),
	}
}

func (ti *TensorIndex) Count() int { return ti.count }

func (ti *TensorIndex) Entry(i int) (TensorIndexEntry, error) {
	if i < 0 || i >= ti.count {
		return TensorIndexEntry{}, ErrCorruptFile
	}
	return ti.entry(i), nil
}

func (ti *TensorIndex) name(e TensorIndexEntry) string {
	off := ti.stringsOff + uint64(e.NameOff)
	return string(ti.raw[off : off+uint64(e.NameLen)])
}

func (ti *TensorIndex) Name(i int) (string, error) {
	e, err := ti.Entry(i)
	if err != nil {
		return "", err
	}
	return ti.name(e), nil
}

// Shape returns nil for a rank-0 tensor.
func (ti *TensorIndex) Shape(i int) ([]uint64, error) {
	e, err := ti.Entry(i)
	if err != nil || e.Rank == 0 {
		return nil, err
	}
	out := make([]uint64, e.Rank)
	base := ti.dimsOff + uint64(e.DimOff)*8
	for d := range out {
		out[d] = binary.LittleEndian.Uint64(ti.raw[base+uint64(d)*8:])
	}
	return out, nil
}

// Find returns the index of name, by binary search when the index is sorted.
func (ti *TensorIndex) Find(name string) (int, bool) {
	if ti == nil {
		return -1, false
	}
	if ti.flags&TensorIndexFlagSortedByName == 0 {
		for i := range ti.count {
			if ti.name(ti.entry(i)) == name {
				return i, true
			}
		}
		return -1, false
	}
	lo, hi := 0, ti.count
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch c := strings.Compare(ti.name(ti.entry(mid)), name); {
		case c == 0:
			return mid, true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return -1, false
}

// TensorData is a zero-copy view of tensor i inside f.
func (ti *TensorIndex) TensorData(f *File, i int) ([]byte, error) {
	if f == nil || f.Data == nil {
		return nil, ErrCorruptFile
	}
	e, err := ti.Entry(i)
	if err != nil {
		return nil, err
	}
	end := e.DataOff + e.DataSize
	if end < e.DataOff || end > uint64(len(f.Data)) {
		return nil, ErrCorruptFile
	}
	return f.Data[e.DataOff:end], nil
}

// EncodeTensorIndexSection builds an index payload with records sorted by
// name.
func EncodeTensorIndexSection(records []TensorIndexRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("mcf: tensor index requires at least one record")
	}
	recs := slices.Clone(records)
	slices.SortFunc(recs, func(a, b TensorIndexRecord) int { return strings.Compare(a.Name, b.Name) })

	var dimsCount, stringsSize int
	for i, r := range recs {
		if r.Name == "" {
			return nil, errors.New("mcf: tensor name must be non-empty")
		}
		if i > 0 && recs[i-1].Name == r.Name {
			return nil, errors.New("mcf: duplicate tensor name " + r.Name)
		}
		dimsCount += len(r.Shape)
		stringsSize += len(r.Name)
	}

	entriesOff := tiHeaderSize
	dimsOff := entriesOff + len(recs)*tiEntrySize
	stringsOff := dimsOff + dimsCount*8
	out := make([]byte, stringsOff+stringsSize)

	le := binary.LittleEndian
	le.PutUint32(out[0:], TensorIndexVersion)
	le.PutUint32(out[4:], TensorIndexFlagSortedByName|TensorIndexFlagNamesUTF8)
	le.PutUint32(out[8:], uint32(len(recs)))
	le.PutUint32(out[12:], uint32(dimsCount))
	le.PutUint64(out[16:], uint64(entriesOff))
	le.PutUint64(out[24:], uint64(dimsOff))
	le.PutUint64(out[32:], uint64(stringsOff))
	le.PutUint64(out[40:], uint64(stringsSize))

	dim, str := 0, 0
	for i, r := range recs {
		e := out[entriesOff+i*tiEntrySize:]
		le.PutUint32(e[0:], uint32(str))
		le.PutUint32(e[4:], uint32(len(r.Name)))
		le.PutUint32(e[8:], uint32(r.DType))
		le.PutUint32(e[12:], uint32(len(r.Shape)))
		le.PutUint32(e[16:], uint32(dim))
		le.PutUint64(e[24:], r.DataOff)
		le.PutUint64(e[32:], r.DataSize)

		for _, d := range r.Shape {
			le.PutUint64(out[dimsOff+dim*8:], d)
			dim++
		}
		str += copy(out[stringsOff+str:], r.Name)
	}
	return out, nil
}
