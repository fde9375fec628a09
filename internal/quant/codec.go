package quant

import (
	"unsafe"

	"github.com/jiangyanpeng/simple-nn/internal/status"
	"github.com/jiangyanpeng/simple-nn/internal/tensor"
)

const opCodec = "quant.Codec"

// Codec converts float32 buffers to and from native byte buffers, dispatching
// on the native data type.
type Codec struct {
	kernel Kernel
}

type Option func(*Codec)

// WithKernel forces a kernel family instead of the detected one.
func WithKernel(k Kernel) Option {
	return func(c *Codec) { c.kernel = k }
}

func NewCodec(opts ...Option) *Codec {
	c := &Codec{kernel: KernelAuto}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kernel returns the resolved kernel family.
func (c *Codec) Kernel() Kernel {
	return c.kernel.resolve()
}

// Supports reports whether dtype can be produced from or read into float32.
func Supports(dtype tensor.DataType) bool {
	switch dtype {
	case tensor.Float32, tensor.UFixed8, tensor.UFixed16,
		tensor.Uint8, tensor.Uint16, tensor.Uint32,
		tensor.Int8, tensor.Int16, tensor.Int32, tensor.Bool8:
		return true
	}
	return false
}

// FromFloat encodes src into dst as dtype. dims are the native dims. With
// transpose set, a rank-4 native tensor is taken as (n,h,w,c) and src is read
// in NCHW order. Float32 natives are copied verbatim.
func (c *Codec) FromFloat(dst []byte, dtype tensor.DataType, p Params, src []float32, dims []int, transpose bool) error {
	n, err := checkLengths(dtype, dims, len(src), len(dst))
	if err != nil {
		return err
	}
	k := c.kernel
	four := transpose && len(dims) == 4
	src = src[:n]
	switch dtype {
	case tensor.Float32:
		copy(view[float32](dst), src)
	case tensor.UFixed8:
		if four {
			QuantizeNHWC(k, view[uint8](dst), src, p, dims)
		} else {
			Quantize(k, view[uint8](dst), src, p)
		}
	case tensor.UFixed16:
		if four {
			QuantizeNHWC(k, view[uint16](dst), src, p, dims)
		} else {
			Quantize(k, view[uint16](dst), src, p)
		}
	case tensor.Uint8:
		castFrom(view[uint8](dst), src, dims, four)
	case tensor.Uint16:
		castFrom(view[uint16](dst), src, dims, four)
	case tensor.Uint32:
		castFrom(view[uint32](dst), src, dims, four)
	case tensor.Int8:
		castFrom(view[int8](dst), src, dims, four)
	case tensor.Int16:
		castFrom(view[int16](dst), src, dims, four)
	case tensor.Int32:
		castFrom(view[int32](dst), src, dims, four)
	case tensor.Bool8:
		if four {
			BoolFromFloatNHWC(dst, src, dims)
		} else {
			BoolFromFloat(dst, src)
		}
	default:
		return status.New(status.NotSupported, opCodec, "cannot encode float32 as %s", dtype)
	}
	return nil
}

// ToFloat decodes src of type dtype into dst. With transpose set, a rank-4
// native tensor is taken as (n,h,w,c) and dst is written in NCHW order.
func (c *Codec) ToFloat(dst []float32, src []byte, dtype tensor.DataType, p Params, dims []int, transpose bool) error {
	n, err := checkLengths(dtype, dims, len(dst), len(src))
	if err != nil {
		return err
	}
	k := c.kernel
	four := transpose && len(dims) == 4
	dst = dst[:n]
	switch dtype {
	case tensor.Float32:
		copy(dst, view[float32](src))
	case tensor.UFixed8:
		if four {
			DequantizeNCHW(k, dst, view[uint8](src), p, dims)
		} else {
			Dequantize(k, dst, view[uint8](src), p)
		}
	case tensor.UFixed16:
		if four {
			DequantizeNCHW(k, dst, view[uint16](src), p, dims)
		} else {
			Dequantize(k, dst, view[uint16](src), p)
		}
	case tensor.Uint8, tensor.Bool8:
		castTo(dst, view[uint8](src), dims, four)
	case tensor.Uint16:
		castTo(dst, view[uint16](src), dims, four)
	case tensor.Uint32:
		castTo(dst, view[uint32](src), dims, four)
	case tensor.Int8:
		castTo(dst, view[int8](src), dims, four)
	case tensor.Int16:
		castTo(dst, view[int16](src), dims, four)
	case tensor.Int32:
		castTo(dst, view[int32](src), dims, four)
	default:
		return status.New(status.NotSupported, opCodec, "cannot decode %s to float32", dtype)
	}
	return nil
}

func castFrom[T Integer](dst []T, src []float32, dims []int, four bool) {
	if four {
		CastFromFloatNHWC(dst, src, dims)
		return
	}
	CastFromFloat(dst, src)
}

func castTo[T Integer](dst []float32, src []T, dims []int, four bool) {
	if four {
		CastToFloatNCHW(dst, src, dims)
		return
	}
	CastToFloat(dst, src)
}

func checkLengths(dtype tensor.DataType, dims []int, floats, raw int) (int, error) {
	if !Supports(dtype) {
		return 0, status.New(status.NotSupported, opCodec, "unsupported native type %s", dtype)
	}
	n := numElements(dims)
	if floats != n {
		return 0, status.New(status.InvalidArgument, opCodec,
			"float buffer has %d elements, native dims %v need %d", floats, dims, n)
	}
	if raw != n*dtype.Size() {
		return 0, status.New(status.InvalidArgument, opCodec,
			"native buffer has %d bytes, %s%v needs %d", raw, dtype, dims, n*dtype.Size())
	}
	return n, nil
}

func view[T any](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), len(b)/int(unsafe.Sizeof(zero)))
}
