// Package safetensors reads .safetensors weight files so exported checkpoints
// can feed the pack step directly. A File satisfies graph.WeightSource.
package safetensors

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

// Ext is the file extension pack uses to pick this reader.
const Ext = ".safetensors"

// maxHeader bounds the JSON header so a corrupt length prefix cannot force a
// huge allocation.
const maxHeader = 100 << 20

// TensorInfo locates one tensor inside the data region.
type TensorInfo struct {
	DType string
	Shape []int
	Start int64
	End   int64
}

// File is an open safetensors file. Tensor bytes are read on demand.
type File struct {
	path      string
	r         *os.File
	dataStart int64
	tensors   map[string]TensorInfo
}

type headerEntry struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// Open parses the header of path and validates every tensor extent against
// the file size.
func Open(path string) (*File, error) {
	const op = "safetensors.Open"
	r, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, status.Wrap(err, status.FileNotFound, op, "%s", path)
	}
	if err != nil {
		return nil, status.Wrap(err, status.Failed, op, "%s", path)
	}
	f, err := parse(r, path)
	if err != nil {
		_ = r.Close()
		return nil, err
	}
	return f, nil
}

func parse(r *os.File, path string) (*File, error) {
	const op = "safetensors.Open"
	st, err := r.Stat()
	if err != nil {
		return nil, status.Wrap(err, status.Failed, op, "%s", path)
	}
	var prefix [8]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, op, "%s: short header length", path)
	}
	n := binary.LittleEndian.Uint64(prefix[:])
	if n > maxHeader || int64(n) > st.Size()-8 {
		return nil, status.New(status.InvalidArgument, op, "%s: header length %d out of range", path, n)
	}
	header := make([]byte, n)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, op, "%s: truncated header", path)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, status.Wrap(err, status.InvalidArgument, op, "%s: header", path)
	}
	delete(raw, "__metadata__")

	dataStart := int64(8 + n)
	dataLen := st.Size() - dataStart
	tensors := make(map[string]TensorInfo, len(raw))
	for name, msg := range raw {
		var e headerEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, status.Wrap(err, status.InvalidArgument, op, "%s: tensor %s", path, name)
		}
		if len(e.DataOffsets) != 2 {
			return nil, status.New(status.InvalidArgument, op, "%s: tensor %s: data_offsets needs 2 entries", path, name)
		}
		info := TensorInfo{DType: e.DType, Shape: e.Shape, Start: e.DataOffsets[0], End: e.DataOffsets[1]}
		if info.Start < 0 || info.End < info.Start || info.End > dataLen {
			return nil, status.New(status.InvalidArgument, op, "%s: tensor %s: extent [%d,%d) outside %d data bytes",
				path, name, info.Start, info.End, dataLen)
		}
		tensors[name] = info
	}
	return &File{path: path, r: r, dataStart: dataStart, tensors: tensors}, nil
}

func (f *File) Close() error {
	if f == nil || f.r == nil {
		return nil
	}
	err := f.r.Close()
	f.r = nil
	return err
}

// Names lists the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.tensors))
	for name := range f.tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *File) Tensor(name string) (TensorInfo, bool) {
	t, ok := f.tensors[name]
	return t, ok
}

// ReadTensor returns the raw little-endian bytes of name.
func (f *File) ReadTensor(name string) ([]byte, TensorInfo, error) {
	const op = "safetensors.ReadTensor"
	t, ok := f.tensors[name]
	if !ok {
		return nil, TensorInfo{}, status.New(status.InvalidArgument, op, "%s: no tensor %q", f.path, name)
	}
	if f.r == nil {
		return nil, TensorInfo{}, status.New(status.Failed, op, "%s: file closed", f.path)
	}
	buf := make([]byte, t.End-t.Start)
	if _, err := f.r.ReadAt(buf, f.dataStart+t.Start); err != nil {
		return nil, TensorInfo{}, status.Wrap(err, status.Failed, op, "%s: tensor %s", f.path, name)
	}
	return buf, t, nil
}

// ReadTensorF32 decodes name to float32. F32, F16 and BF16 are accepted.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	const op = "safetensors.ReadTensorF32"
	raw, info, err := f.ReadTensor(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n, err := numElements(info.Shape)
	if err != nil {
		return nil, TensorInfo{}, status.Annotate(err, op, "tensor %s", name)
	}

	var width int
	var decode func([]byte) float32
	switch info.DType {
	case "F32":
		width = 4
		decode = func(b []byte) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b)) }
	case "F16":
		width = 2
		decode = func(b []byte) float32 { return tensor.HalfToFloat32(binary.LittleEndian.Uint16(b)) }
	case "BF16":
		width = 2
		decode = func(b []byte) float32 { return tensor.BFloat16ToFloat32(binary.LittleEndian.Uint16(b)) }
	default:
		return nil, TensorInfo{}, status.New(status.NotSupported, op, "tensor %s: dtype %s", name, info.DType)
	}
	if len(raw) != n*width {
		return nil, TensorInfo{}, status.New(status.InvalidArgument, op,
			"tensor %s: %d bytes for %d %s elements", name, len(raw), n, info.DType)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = decode(raw[i*width:])
	}
	return out, info, nil
}

// LoadWeight implements graph.WeightSource.
func (f *File) LoadWeight(name string) ([]float32, []int, error) {
	vals, info, err := f.ReadTensorF32(name)
	if err != nil {
		return nil, nil, err
	}
	return vals, append([]int(nil), info.Shape...), nil
}

// numElements treats an empty shape as a scalar.
func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, status.New(status.InvalidArgument, "safetensors", "negative dim %d", d)
		}
		if d > 0 && n > math.MaxInt/d {
			return 0, status.New(status.OutOfMemory, "safetensors", "shape %v overflows", shape)
		}
		n *= d
	}
	return n, nil
}

// Float32Tensor is one entry written by WriteF32.
type Float32Tensor struct {
	Shape []int
	Data  []float32
}

// WriteF32 writes tensors to path as F32 entries, ordered by name.
func WriteF32(path string, tensors map[string]Float32Tensor) error {
	const op = "safetensors.WriteF32"
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]headerEntry, len(tensors))
	var off int64
	for _, name := range names {
		t := tensors[name]
		n, err := numElements(t.Shape)
		if err != nil {
			return status.Annotate(err, op, "tensor %s", name)
		}
		if n != len(t.Data) {
			return status.New(status.InvalidArgument, op, "tensor %s: shape %v holds %d values, got %d", name, t.Shape, n, len(t.Data))
		}
		size := int64(4 * n)
		header[name] = headerEntry{DType: "F32", Shape: t.Shape, DataOffsets: []int64{off, off + size}}
		off += size
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return status.Wrap(err, status.Failed, op, "header")
	}

	buf := make([]byte, 8, 8+len(hdr)+int(off))
	binary.LittleEndian.PutUint64(buf, uint64(len(hdr)))
	buf = append(buf, hdr...)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return status.Wrap(err, status.Failed, op, "%s", path)
	}
	return nil
}
