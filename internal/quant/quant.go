// Package quant converts between float32 application tensors and the
// fixed-point or integer buffers an accelerator consumes natively.
//
// Quantization follows the unsigned fixed-point ("TF-N") convention:
//
//	q = clamp(round(v/scale - offset), 0, 2^(8*size)-1)
//	v = (q + offset) * scale
//
// Two kernel families implement every transform. The scalar family is the
// reference; the tiled family processes 8-wide lanes and 8x8/4x4 transpose
// blocks. Both evaluate the identical float32 expression per element, so their
// outputs are bit-identical.
package quant

import "math"

// Params is the per-tensor quantization encoding.
type Params struct {
	Scale  float32
	Offset int32
}

// Unsigned is the set of native fixed-point element types.
type Unsigned interface {
	~uint8 | ~uint16
}

func maxOf[T Unsigned]() float64 {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return math.MaxUint8
	default:
		return math.MaxUint16
	}
}

// quantElem is the single definition of the quantize step shared by all kernels.
func quantElem[T Unsigned](v, scale, offset float32, maxv float64) T {
	r := math.Round(float64(v/scale - offset))
	if !(r >= 0) {
		return 0
	}
	if r > maxv {
		return T(maxv)
	}
	return T(r)
}

func dequantElem[T Unsigned](q T, scale float32, offset int32) float32 {
	return float32(int32(q)+offset) * scale
}

// Quantize converts len(src) floats into dst.
func Quantize[T Unsigned](k Kernel, dst []T, src []float32, p Params) {
	if k.resolve() == KernelTiled {
		quantizeTiled(dst, src, p)
		return
	}
	quantizeScalar(dst, src, p)
}

// Dequantize converts len(src) native values into dst.
func Dequantize[T Unsigned](k Kernel, dst []float32, src []T, p Params) {
	if k.resolve() == KernelTiled {
		dequantizeTiled(dst, src, p)
		return
	}
	dequantizeScalar(dst, src, p)
}

// QuantizeNHWC quantizes an NCHW float buffer into a native NHWC buffer whose
// dims are (n,h,w,c). Dims of any other rank fall back to a flat conversion.
func QuantizeNHWC[T Unsigned](k Kernel, dst []T, src []float32, p Params, dims []int) {
	if len(dims) != 4 {
		Quantize(k, dst, src[:numElements(dims)], p)
		return
	}
	n, h, w, c := dims[0], dims[1], dims[2], dims[3]
	hw, chw := h*w, c*h*w
	tiled := k.resolve() == KernelTiled
	for i := range n {
		s, d := src[i*chw:(i+1)*chw], dst[i*chw:(i+1)*chw]
		if tiled {
			transposeQuantTiled(s, d, c, hw, p)
		} else {
			transposeQuantScalar(s, d, c, hw, p)
		}
	}
}

// DequantizeNCHW dequantizes a native NHWC buffer with dims (n,h,w,c) into an
// NCHW float buffer. Dims of any other rank fall back to a flat conversion.
func DequantizeNCHW[T Unsigned](k Kernel, dst []float32, src []T, p Params, dims []int) {
	if len(dims) != 4 {
		Dequantize(k, dst, src[:numElements(dims)], p)
		return
	}
	n, h, w, c := dims[0], dims[1], dims[2], dims[3]
	hw, chw := h*w, c*h*w
	tiled := k.resolve() == KernelTiled
	for i := range n {
		s, d := src[i*chw:(i+1)*chw], dst[i*chw:(i+1)*chw]
		if tiled {
			transposeDequantTiled(s, d, hw, c, p)
		} else {
			transposeDequantScalar(s, d, hw, c, p)
		}
	}
}

func numElements(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}
