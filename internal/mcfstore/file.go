// Package mcfstore gives typed access to the sections of a model container:
// the graph description, the IO table and the weight tensors.
package mcfstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/jiangyanpeng/simple-nn/internal/tensor"
	"github.com/jiangyanpeng/simple-nn/pkg/mcf"
)

var ErrTensorNotFound = errors.New("mcfstore: tensor not found")

// File is an opened model container. The tensor index is optional: graphs
// without weights carry no tensor sections.
type File struct {
	file  *mcf.File
	index *mcf.TensorIndex
	data  *mcf.MCFSection
}

type TensorInfo struct {
	DType    mcf.TensorDType
	Shape    []int
	DataOff  uint64
	DataSize uint64
}

// Open maps the container at path.
func Open(path string) (*File, error) {
	mf, err := mcf.Open(path)
	if err != nil {
		return nil, err
	}
	return wrap(mf)
}

// OpenBytes wraps an in-memory container image. data must outlive the File.
func OpenBytes(data []byte) (*File, error) {
	mf, err := mcf.OpenBytes(data)
	if err != nil {
		return nil, err
	}
	return wrap(mf)
}

func wrap(mf *mcf.File) (*File, error) {
	f, err := index(mf)
	if err != nil {
		_ = mf.Close()
		return nil, err
	}
	return f, nil
}

func index(mf *mcf.File) (*File, error) {
	if mf.Section(mcf.SectionGraph) == nil {
		return nil, fmt.Errorf("%w: %s", mcf.ErrMissingSection, mcf.SectionGraph)
	}
	idxSec := mf.Section(mcf.SectionTensorIndex)
	if idxSec == nil {
		return &File{file: mf}, nil
	}
	idx, err := mcf.ParseTensorIndexSection(mf.SectionData(idxSec))
	if err != nil {
		return nil, err
	}
	data := mf.Section(mcf.SectionTensorData)
	if data == nil {
		return nil, fmt.Errorf("%w: %s", mcf.ErrMissingSection, mcf.SectionTensorData)
	}
	return &File{file: mf, index: idx, data: data}, nil
}

func (f *File) Close() error {
	if f == nil || f.file == nil {
		return nil
	}
	err := f.file.Close()
	*f = File{}
	return err
}

// Container exposes the underlying section directory.
func (f *File) Container() *mcf.File {
	return f.file
}

func (f *File) section(t mcf.SectionType) ([]byte, error) {
	if f == nil || f.file == nil {
		return nil, mcf.ErrMissingSection
	}
	return f.file.RequireSection(t)
}

// GraphJSON returns the graph description payload.
func (f *File) GraphJSON() ([]byte, error) {
	return f.section(mcf.SectionGraph)
}

// IOTable parses the native tensor table. Containers built for the CPU
// runtime have none and return an error wrapping mcf.ErrMissingSection.
func (f *File) IOTable() (*mcf.IOTable, error) {
	raw, err := f.section(mcf.SectionIOTable)
	if err != nil {
		return nil, err
	}
	return mcf.ParseIOTableSection(raw)
}

// TensorNames lists stored tensors in index order.
func (f *File) TensorNames() []string {
	if f == nil || f.index == nil {
		return nil
	}
	names := make([]string, 0, f.index.Count())
	for i := range f.index.Count() {
		if name, err := f.index.Name(i); err == nil {
			names = append(names, name)
		}
	}
	return names
}

func (f *File) lookup(name string) (int, TensorInfo, error) {
	if f == nil || f.index == nil {
		return 0, TensorInfo{}, ErrTensorNotFound
	}
	i, ok := f.index.Find(name)
	if !ok {
		return 0, TensorInfo{}, ErrTensorNotFound
	}
	e, err := f.index.Entry(i)
	if err != nil {
		return 0, TensorInfo{}, err
	}
	dims, err := f.index.Shape(i)
	if err != nil {
		return 0, TensorInfo{}, err
	}
	if len(dims) == 0 {
		return 0, TensorInfo{}, fmt.Errorf("tensor %s: empty shape", name)
	}
	info := TensorInfo{DType: e.DType, Shape: make([]int, len(dims)), DataOff: e.DataOff, DataSize: e.DataSize}
	for k, d := range dims {
		if d == 0 || d > math.MaxInt32 {
			return 0, TensorInfo{}, fmt.Errorf("tensor %s: dim %d out of range", name, d)
		}
		info.Shape[k] = int(d)
	}
	return i, info, nil
}

func (f *File) Tensor(name string) (TensorInfo, error) {
	_, info, err := f.lookup(name)
	return info, err
}

// ReadTensorRaw returns a zero-copy view of the tensor payload.
func (f *File) ReadTensorRaw(name string) ([]byte, TensorInfo, error) {
	i, info, err := f.lookup(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	end := info.DataOff + info.DataSize
	if end < info.DataOff || info.DataOff < f.data.Offset || end > f.data.End() {
		return nil, TensorInfo{}, fmt.Errorf("%w: tensor %s outside the data section", mcf.ErrCorruptFile, name)
	}
	raw, err := f.index.TensorData(f.file, i)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	return raw, info, nil
}

// ReadTensorF32 decodes a f32, f16 or bf16 tensor into a new slice.
func (f *File) ReadTensorF32(name string) ([]float32, TensorInfo, error) {
	raw, info, err := f.ReadTensorRaw(name)
	if err != nil {
		return nil, TensorInfo{}, err
	}
	n := 1
	for _, d := range info.Shape {
		if n > math.MaxInt/d {
			return nil, TensorInfo{}, fmt.Errorf("tensor %s: shape %v overflows", name, info.Shape)
		}
		n *= d
	}
	width := info.DType.Size()
	if width == 0 || len(raw) != n*width {
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: %d bytes for %d %s elements", name, len(raw), n, info.DType)
	}

	out := make([]float32, n)
	le := binary.LittleEndian
	switch info.DType {
	case mcf.DTypeF32:
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(raw[4*i:]))
		}
	case mcf.DTypeF16:
		for i := range out {
			out[i] = tensor.HalfToFloat32(le.Uint16(raw[2*i:]))
		}
	case mcf.DTypeBF16:
		for i := range out {
			out[i] = tensor.BFloat16ToFloat32(le.Uint16(raw[2*i:]))
		}
	default:
		return nil, TensorInfo{}, fmt.Errorf("tensor %s: unsupported dtype %s", name, info.DType)
	}
	return out, info, nil
}

// LoadWeight reads a tensor as float32 for graph attribute binding.
func (f *File) LoadWeight(name string) ([]float32, []int, error) {
	vals, info, err := f.ReadTensorF32(name)
	if err != nil {
		return nil, nil, err
	}
	return vals, info.Shape, nil
}
