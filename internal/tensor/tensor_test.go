package tensor

import (
	"testing"
	"unsafe"

	"github.com/jiangyanpeng/simple-nn/internal/status"
)

func TestNewValidatesShape(t *testing.T) {
	t.Parallel()

	if _, err := New(Shape{1, 0, 2, 2}, NCHW, CPU, Float32); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("zero dim: got %v, want INVALID_ARGUMENT", err)
	}
	tt, err := New(Shape{2, 3, 4, 5}, NCHW, CPU, UFixed16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, want := len(tt.Bytes()), 2*3*4*5*2; got != want {
		t.Fatalf("buffer len = %d, want %d", got, want)
	}
	if uintptr(unsafe.Pointer(&tt.Bytes()[0]))%8 != 0 {
		t.Fatalf("buffer is not 8-byte aligned")
	}
}

func TestShapeSizeLimits(t *testing.T) {
	t.Parallel()

	if _, err := ShapeOf([]int{1 << 31, 1 << 31, 1 << 31, 4}); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("overflowing shape: got %v, want INVALID_ARGUMENT", err)
	}
	if err := (Shape{1 << 20, 1 << 20, 1, 1}).Validate(); err != nil {
		t.Fatalf("shape at the limit: %v", err)
	}
	if err := (Shape{1 << 20, 1 << 20, 2, 1}).Validate(); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("shape past the limit: got %v", err)
	}

	// Mismatched data is rejected before anything is allocated.
	if _, err := FromFloat32(Shape{1 << 20, 1 << 20, 1, 1}, NCHW, []float32{1}); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("FromFloat32 huge shape: got %v", err)
	}
	if _, err := FromBytes(Shape{1 << 20, 1 << 20, 1, 1}, NCHW, Uint8, []byte{1}); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("FromBytes huge shape: got %v", err)
	}
	if _, err := FromBytes(Shape{1, 2, 1, 1}, NCHW, Uint16, []byte{1, 2}); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("FromBytes short data: got %v", err)
	}
}

func TestFloat32sRejectsOtherTypes(t *testing.T) {
	t.Parallel()

	tt, err := New(Shape{1, 1, 1, 4}, NCHW, CPU, Uint8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := tt.Float32s(); !status.Is(err, status.NotSupported) {
		t.Fatalf("Float32s on uint8: got %v, want NOT_SUPPORTED", err)
	}
}

func TestFloat32sAtBatchSlice(t *testing.T) {
	t.Parallel()

	tt, err := FromFloat32(Shape{2, 1, 1, 3}, NCHW, []float32{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	second, err := tt.Float32sAt(3*4, 3)
	if err != nil {
		t.Fatalf("Float32sAt: %v", err)
	}
	if second[0] != 4 || second[2] != 6 {
		t.Fatalf("second batch = %v", second)
	}
	if _, err := tt.Float32sAt(4*4, 3); !status.Is(err, status.OutOfMemory) {
		t.Fatalf("overrun: got %v, want OUT_OF_MEMORY", err)
	}
}

func TestConvertLayoutInvolution(t *testing.T) {
	t.Parallel()

	shape := Shape{2, 3, 2, 4}
	vals := make([]float32, shape.NumElements())
	for i := range vals {
		vals[i] = float32(i)
	}
	src, err := FromFloat32(shape, NCHW, vals)
	if err != nil {
		t.Fatalf("FromFloat32: %v", err)
	}
	nhwc, err := src.ConvertLayout(NHWC)
	if err != nil {
		t.Fatalf("to NHWC: %v", err)
	}
	if nhwc.Shape() != (Shape{2, 2, 4, 3}) {
		t.Fatalf("NHWC shape = %v", nhwc.Shape())
	}
	hv, _ := nhwc.Float32s()
	// element (n=0,c=1,h=0,w=1) sits at index 1*8+0*4+1 in NCHW and (0*4+1)*3+1 in NHWC.
	if hv[4] != vals[9] {
		t.Fatalf("NHWC element mismatch: got %v want %v", hv[4], vals[9])
	}
	back, err := nhwc.ConvertLayout(NCHW)
	if err != nil {
		t.Fatalf("to NCHW: %v", err)
	}
	bv, _ := back.Float32s()
	for i := range vals {
		if bv[i] != vals[i] {
			t.Fatalf("round trip mismatch at %d: %v != %v", i, bv[i], vals[i])
		}
	}
	if back.Shape() != shape {
		t.Fatalf("round trip shape = %v", back.Shape())
	}
}

func TestReshapeCopies(t *testing.T) {
	t.Parallel()

	src, _ := FromFloat32(Shape{1, 2, 1, 2}, NCHW, []float32{1, 2, 3, 4})
	r, err := src.Reshape(Shape{1, 4, 1, 1})
	if err != nil {
		t.Fatalf("Reshape: %v", err)
	}
	rv, _ := r.Float32s()
	rv[0] = 42
	sv, _ := src.Float32s()
	if sv[0] != 1 {
		t.Fatalf("Reshape shares storage with source")
	}
	if _, err := src.Reshape(Shape{1, 3, 1, 1}); !status.Is(err, status.InvalidArgument) {
		t.Fatalf("bad reshape: got %v", err)
	}
}

func TestDeviceTensorHasNoHostView(t *testing.T) {
	t.Parallel()

	tt, err := New(Shape{1, 1, 1, 1}, NCHW, Device, Float32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tt.Bytes() != nil {
		t.Fatalf("device tensor exposes host bytes")
	}
	if _, err := tt.Float32s(); !status.Is(err, status.NotSupported) {
		t.Fatalf("Float32s on device: got %v", err)
	}
}

func TestShapeOfPadsTrailing(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		dims []int
		want Shape
	}{
		{[]int{1, 2}, Shape{1, 2, 1, 1}},
		{[]int{3}, Shape{3, 1, 1, 1}},
		{[]int{1, 3, 4, 5}, Shape{1, 3, 4, 5}},
	} {
		got, err := ShapeOf(tc.dims)
		if err != nil || got != tc.want {
			t.Fatalf("ShapeOf(%v) = %v, %v; want %v", tc.dims, got, err, tc.want)
		}
	}
	for _, bad := range [][]int{nil, {1, 2, 3, 4, 5}, {1, 0}} {
		if _, err := ShapeOf(bad); !status.Is(err, status.InvalidArgument) {
			t.Fatalf("ShapeOf(%v) err = %v, want INVALID_ARGUMENT", bad, err)
		}
	}
}
