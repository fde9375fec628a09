package tensor

import (
	"fmt"
	"unsafe"

	"github.com/jiangyanpeng/simple-nn/internal/status"
)

const opTensor = "tensor"

// Shape is a rank-4 shape. Its axes are read as (N,C,H,W) for NCHW tensors
// and (N,H,W,C) for NHWC tensors.
type Shape [4]int

// MaxElements bounds the element count of a valid shape, keeping the byte
// size of any dtype inside an int and inside what the allocator accepts.
const MaxElements = 1 << 40

// NumElements returns the product of all dims. It is only meaningful for
// shapes that pass Validate.
func (s Shape) NumElements() int {
	return s[0] * s[1] * s[2] * s[3]
}

// Validate rejects non-positive dims and shapes over MaxElements.
func (s Shape) Validate() error {
	n := 1
	for i, d := range s {
		if d < 1 {
			return status.New(status.InvalidArgument, opTensor, "dim %d of %v must be >= 1", i, s)
		}
		if d > MaxElements/n {
			return status.New(status.InvalidArgument, opTensor, "shape %v exceeds %d elements", s, MaxElements)
		}
		n *= d
	}
	return nil
}

// ShapeOf pads dims of rank <= 4 with trailing 1s, so a (N,C) operand reads
// as (N,C,1,1).
func ShapeOf(dims []int) (Shape, error) {
	if len(dims) == 0 || len(dims) > 4 {
		return Shape{}, status.New(status.InvalidArgument, opTensor, "rank %d shape %v is not 1..4", len(dims), dims)
	}
	s := Shape{1, 1, 1, 1}
	copy(s[:], dims)
	return s, s.Validate()
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", s[0], s[1], s[2], s[3])
}

// Tensor is a dense rank-4 buffer. The buffer is owned by the tensor, is
// exactly NumElements*DType.Size() bytes long and is 8-byte aligned so typed
// views over it are safe. Device tensors carry no host buffer.
type Tensor struct {
	name   string
	shape  Shape
	dtype  DataType
	layout Layout
	mem    MemLocation
	data   []byte
}

// New allocates a zeroed tensor.
func New(shape Shape, layout Layout, mem MemLocation, dtype DataType) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if dtype.Size() == 0 {
		return nil, status.New(status.NotSupported, opTensor, "unsupported dtype %d", int(dtype))
	}
	if layout != NCHW && layout != NHWC {
		return nil, status.New(status.InvalidArgument, opTensor, "unknown layout %d", int(layout))
	}
	t := &Tensor{shape: shape, dtype: dtype, layout: layout, mem: mem}
	if mem == CPU {
		t.data = alignedBytes(shape.NumElements() * dtype.Size())
	}
	return t, nil
}

// FromFloat32 copies values into a new float32 CPU tensor.
func FromFloat32(shape Shape, layout Layout, values []float32) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(values) != shape.NumElements() {
		return nil, status.New(status.InvalidArgument, opTensor,
			"got %d values for shape %v", len(values), shape)
	}
	t, err := New(shape, layout, CPU, Float32)
	if err != nil {
		return nil, err
	}
	dst, _ := t.Float32s()
	copy(dst, values)
	return t, nil
}

// FromBytes copies raw into a new CPU tensor of the given type.
func FromBytes(shape Shape, layout Layout, dtype DataType, raw []byte) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if want := shape.NumElements() * dtype.Size(); dtype.Size() != 0 && len(raw) != want {
		return nil, status.New(status.InvalidArgument, opTensor,
			"got %d bytes, %s%v needs %d", len(raw), dtype, shape, want)
	}
	t, err := New(shape, layout, CPU, dtype)
	if err != nil {
		return nil, err
	}
	copy(t.data, raw)
	return t, nil
}

func alignedBytes(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), n)
}

func (t *Tensor) Name() string { return t.name }
func (t *Tensor) SetName(name string) { t.name = name }
func (t *Tensor) Shape() Shape { return t.shape }
func (t *Tensor) DType() DataType { return t.dtype }
func (t *Tensor) Layout() Layout { return t.layout }
func (t *Tensor) Mem() MemLocation { return t.mem }
func (t *Tensor) NumElements() int { return t.shape.NumElements() }
func (t *Tensor) ByteSize() int { return t.NumElements() * t.dtype.Size() }
func (t *Tensor) Dim(axis int) int { return t.shape[axis] }
func (t *Tensor) String() string { return fmt.Sprintf("%s %s%v %s", t.name, t.dtype, t.shape, t.layout) }
func (t *Tensor) Bytes() []byte { return t.data }
func (t *Tensor) Batch() int { return t.shape[0] }
func (t *Tensor) isHost() bool { return t.mem == CPU && t.data != nil }

// NCHW returns the logical (N,C,H,W) dims regardless of the storage layout.
func (t *Tensor) NCHW() (n, c, h, w int) {
	if t.layout == NHWC {
		return t.shape[0], t.shape[3], t.shape[1], t.shape[2]
	}
	return t.shape[0], t.shape[1], t.shape[2], t.shape[3]
}

// BytesAt returns length bytes starting at byte offset off.
func (t *Tensor) BytesAt(off, length int) ([]byte, error) {
	if !t.isHost() {
		return nil, status.New(status.NotSupported, opTensor, "%s has no host buffer", t.mem)
	}
	if off < 0 || length < 0 || off+length > len(t.data) {
		return nil, status.New(status.OutOfMemory, opTensor,
			"range [%d,%d) outside %d byte buffer", off, off+length, len(t.data))
	}
	return t.data[off : off+length : off+length], nil
}

// Float32s returns a float32 view over the whole buffer.
func (t *Tensor) Float32s() ([]float32, error) {
	return t.Float32sAt(0, t.NumElements())
}

// Float32sAt returns a float32 view of count elements starting at byte offset off.
func (t *Tensor) Float32sAt(off, count int) ([]float32, error) {
	if t.dtype != Float32 {
		return nil, status.New(status.NotSupported, opTensor, "tensor dtype is %s, not float32", t.dtype)
	}
	if off%4 != 0 {
		return nil, status.New(status.InvalidArgument, opTensor, "offset %d is not float32 aligned", off)
	}
	b, err := t.BytesAt(off, count*4)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return []float32{}, nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), count), nil
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := *t
	if t.data != nil {
		c.data = alignedBytes(len(t.data))
		copy(c.data, t.data)
	}
	return &c
}

// Reshape returns a copy with a new shape holding the same number of elements.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.NumElements() != t.NumElements() {
		return nil, status.New(status.InvalidArgument, opTensor,
			"cannot reshape %v to %v", t.shape, shape)
	}
	c := t.Clone()
	c.shape = shape
	return c, nil
}

// ConvertLayout materializes a copy stored in the requested layout.
func (t *Tensor) ConvertLayout(layout Layout) (*Tensor, error) {
	if layout != NCHW && layout != NHWC {
		return nil, status.New(status.InvalidArgument, opTensor, "unknown layout %d", int(layout))
	}
	if layout == t.layout {
		return t.Clone(), nil
	}
	if !t.isHost() {
		return nil, status.New(status.NotSupported, opTensor, "%s has no host buffer", t.mem)
	}
	n, c, h, w := t.NCHW()
	out := &Tensor{name: t.name, dtype: t.dtype, layout: layout, mem: t.mem}
	if layout == NHWC {
		out.shape = Shape{n, h, w, c}
	} else {
		out.shape = Shape{n, c, h, w}
	}
	out.data = alignedBytes(len(t.data))

	es := t.dtype.Size()
	hw := h * w
	for b := range n {
		base := b * c * hw * es
		for ci := range c {
			for p := range hw {
				nchw := base + (ci*hw+p)*es
				nhwc := base + (p*c+ci)*es
				if layout == NHWC {
					copy(out.data[nhwc:nhwc+es], t.data[nchw:nchw+es])
				} else {
					copy(out.data[nchw:nchw+es], t.data[nhwc:nhwc+es])
				}
			}
		}
	}
	return out, nil
}
