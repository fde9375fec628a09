package mcf

import (
	"encoding/binary"
	"errors"
	"math"
)

// IOTableVersion is the on-disk version of the IO table section payload.
const IOTableVersion uint32 = 1

const (
	ioTableHeaderSize = 16
	ioRecordSize      = 24
	ioMaxRank         = 8
)

// IORole says whether a native tensor is a graph input or output.
type IORole uint8

const (
	RoleInput  IORole = 0
	RoleOutput IORole = 1
)

func (r IORole) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	default:
		return "unknown"
	}
}

// IODType is the element encoding of a native tensor. Values are stable.
type IODType uint8

const (
	IOFloat32 IODType = iota
	IOFloat16
	IOInt8
	IOInt16
	IOInt32
	IOInt64
	IOUint8
	IOUint16
	IOUint32
	IOUint64
	IOUFixed8
	IOUFixed16
	IOUFixed32
	IOSFixed8
	IOSFixed16
	IOSFixed32
	IOBool8
	ioDTypeCount
)

// IORecord describes one native tensor of an accelerator graph.
//
// On disk a record is 24 bytes:
//
//	0  NameOff uint32 (into the strings table)
//	4  NameLen uint32
//	8  Role    uint8
//	9  DType   uint8
//	10 Rank    uint8
//	11 reserved
//	12 DimOff  uint32 (index into the dims table)
//	16 Scale   float32
//	20 Offset  int32
type IORecord struct {
	Name   string
	Role   IORole
	DType  IODType
	Dims   []uint32
	Scale  float32
	Offset int32
}

// IOTable is a parsed IO table. Records keep file order, which is the
// input (or output) order of the graph.
type IOTable struct {
	Records []IORecord
}

var errBadIOTable = errors.New("mcf: corrupt io table section")

// Inputs returns the input records in order.
func (t *IOTable) Inputs() []IORecord { return t.byRole(RoleInput) }

// Outputs returns the output records in order.
func (t *IOTable) Outputs() []IORecord { return t.byRole(RoleOutput) }

func (t *IOTable) byRole(role IORole) []IORecord {
	if t == nil {
		return nil
	}
	var out []IORecord
	for _, r := range t.Records {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// ParseIOTableSection decodes an IO table payload. Names are copied so the
// table outlives the file mapping.
func ParseIOTableSection(sec []byte) (*IOTable, error) {
	if len(sec) < ioTableHeaderSize {
		return nil, ErrCorruptFile
	}
	version := binary.LittleEndian.Uint32(sec[0:4])
	count := binary.LittleEndian.Uint32(sec[4:8])
	dimsCount := binary.LittleEndian.Uint32(sec[8:12])
	stringsSize := binary.LittleEndian.Uint32(sec[12:16])
	if version != IOTableVersion {
		return nil, ErrUnsupportedMinor
	}

	recBytes, ok := mulUint64(uint64(count), ioRecordSize)
	if !ok {
		return nil, ErrCorruptFile
	}
	dimsOff := uint64(ioTableHeaderSize) + recBytes
	stringsOff := dimsOff + uint64(dimsCount)*4
	if stringsOff+uint64(stringsSize) != uint64(len(sec)) {
		return nil, ErrCorruptFile
	}
	strs := sec[stringsOff:]

	table := &IOTable{Records: make([]IORecord, 0, count)}
	for i := range uint64(count) {
		b := sec[ioTableHeaderSize+i*ioRecordSize : ioTableHeaderSize+(i+1)*ioRecordSize]
		nameOff := uint64(binary.LittleEndian.Uint32(b[0:4]))
		nameLen := uint64(binary.LittleEndian.Uint32(b[4:8]))
		rank := uint64(b[10])
		dimOff := uint64(binary.LittleEndian.Uint32(b[12:16]))
		if b[11] != 0 || IORole(b[8]) > RoleOutput || IODType(b[9]) >= ioDTypeCount {
			return nil, errBadIOTable
		}
		if nameLen == 0 || nameOff+nameLen > uint64(stringsSize) {
			return nil, errBadIOTable
		}
		if rank > ioMaxRank || dimOff+rank > uint64(dimsCount) {
			return nil, errBadIOTable
		}
		dims := make([]uint32, rank)
		for d := range rank {
			p := dimsOff + (dimOff+d)*4
			dims[d] = binary.LittleEndian.Uint32(sec[p : p+4])
		}
		table.Records = append(table.Records, IORecord{
			Name:   string(strs[nameOff : nameOff+nameLen]),
			Role:   IORole(b[8]),
			DType:  IODType(b[9]),
			Dims:   dims,
			Scale:  math.Float32frombits(binary.LittleEndian.Uint32(b[16:20])),
			Offset: int32(binary.LittleEndian.Uint32(b[20:24])),
		})
	}
	return table, nil
}

// EncodeIOTableSection builds an IO table payload (v1). Record order is kept.
func EncodeIOTableSection(records []IORecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("mcf: io table requires at least one record")
	}
	var (
		dims []uint32
		strs []byte
	)
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.Name == "" {
			return nil, errors.New("mcf: io record name must be non-empty")
		}
		if _, dup := seen[r.Name]; dup {
			return nil, errors.New("mcf: duplicate io record " + r.Name)
		}
		seen[r.Name] = struct{}{}
		if r.Role > RoleOutput || r.DType >= ioDTypeCount {
			return nil, errBadIOTable
		}
		if len(r.Dims) > ioMaxRank {
			return nil, errors.New("mcf: io record rank too large")
		}
	}

	out := make([]byte, ioTableHeaderSize+len(records)*ioRecordSize)
	for i, r := range records {
		b := out[ioTableHeaderSize+i*ioRecordSize:]
		binary.LittleEndian.PutUint32(b[0:4], uint32(len(strs)))
		binary.LittleEndian.PutUint32(b[4:8], uint32(len(r.Name)))
		b[8] = byte(r.Role)
		b[9] = byte(r.DType)
		b[10] = byte(len(r.Dims))
		binary.LittleEndian.PutUint32(b[12:16], uint32(len(dims)))
		binary.LittleEndian.PutUint32(b[16:20], math.Float32bits(r.Scale))
		binary.LittleEndian.PutUint32(b[20:24], uint32(r.Offset))
		strs = append(strs, r.Name...)
		dims = append(dims, r.Dims...)
	}
	binary.LittleEndian.PutUint32(out[0:4], IOTableVersion)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(records)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(dims)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(strs)))

	for _, d := range dims {
		out = binary.LittleEndian.AppendUint32(out, d)
	}
	return append(out, strs...), nil
}
