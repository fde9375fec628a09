package quant

import "math"

// Integer is the set of element types reachable by a plain cast.
type Integer interface {
	~uint8 | ~uint16 | ~uint32 | ~int8 | ~int16 | ~int32
}

func limitsOf[T Integer]() (lo, hi float64) {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return 0, math.MaxUint8
	case uint16:
		return 0, math.MaxUint16
	case uint32:
		return 0, math.MaxUint32
	case int8:
		return math.MinInt8, math.MaxInt8
	case int16:
		return math.MinInt16, math.MaxInt16
	default:
		return math.MinInt32, math.MaxInt32
	}
}

// castElem truncates toward zero and saturates at the type bounds. NaN maps to 0.
func castElem[T Integer](v float32, lo, hi float64) T {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return 0
	case f <= lo:
		return T(lo)
	case f >= hi:
		return T(hi)
	}
	return T(math.Trunc(f))
}

// CastFromFloat converts len(src) floats into dst without scaling.
func CastFromFloat[T Integer](dst []T, src []float32) {
	lo, hi := limitsOf[T]()
	for i, v := range src {
		dst[i] = castElem[T](v, lo, hi)
	}
}

// CastFromFloatNHWC casts an NCHW float buffer into a native NHWC buffer with
// dims (n,h,w,c). Other ranks fall back to CastFromFloat.
func CastFromFloatNHWC[T Integer](dst []T, src []float32, dims []int) {
	if len(dims) != 4 {
		CastFromFloat(dst, src[:numElements(dims)])
		return
	}
	lo, hi := limitsOf[T]()
	n, h, w, c := dims[0], dims[1], dims[2], dims[3]
	hw, chw := h*w, c*h*w
	for i := range n {
		ip, op := src[i*chw:(i+1)*chw], dst[i*chw:(i+1)*chw]
		for j := range hw {
			for k := range c {
				op[j*c+k] = castElem[T](ip[k*hw+j], lo, hi)
			}
		}
	}
}

// CastToFloat converts len(src) native values into dst.
func CastToFloat[T Integer](dst []float32, src []T) {
	for i, v := range src {
		dst[i] = float32(v)
	}
}

// CastToFloatNCHW converts a native NHWC buffer with dims (n,h,w,c) into an
// NCHW float buffer. Other ranks fall back to CastToFloat.
func CastToFloatNCHW[T Integer](dst []float32, src []T, dims []int) {
	if len(dims) != 4 {
		CastToFloat(dst, src[:numElements(dims)])
		return
	}
	n, h, w, c := dims[0], dims[1], dims[2], dims[3]
	hw, chw := h*w, c*h*w
	for i := range n {
		ip, op := src[i*chw:(i+1)*chw], dst[i*chw:(i+1)*chw]
		for j := range c {
			for k := range hw {
				op[j*hw+k] = float32(ip[k*c+j])
			}
		}
	}
}

// BoolFromFloat writes 1 for every nonzero input and 0 otherwise. NaN is nonzero.
func BoolFromFloat(dst []uint8, src []float32) {
	for i, v := range src {
		if v != 0 {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}

// BoolFromFloatNHWC is BoolFromFloat with the NCHW to NHWC transpose applied.
func BoolFromFloatNHWC(dst []uint8, src []float32, dims []int) {
	if len(dims) != 4 {
		BoolFromFloat(dst, src[:numElements(dims)])
		return
	}
	n, h, w, c := dims[0], dims[1], dims[2], dims[3]
	hw, chw := h*w, c*h*w
	for i := range n {
		ip, op := src[i*chw:(i+1)*chw], dst[i*chw:(i+1)*chw]
		for j := range hw {
			for k := range c {
				if ip[k*hw+j] != 0 {
					op[j*c+k] = 1
				} else {
					op[j*c+k] = 0
				}
			}
		}
	}
}
