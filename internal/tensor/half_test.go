package tensor

import (
	"math"
	"testing"
)

func TestHalfToFloat32(t *testing.T) {
	t.Parallel()

	cases := map[uint16]float32{
		0x0000: 0,
		0x3c00: 1,
		0xc000: -2,
		0x3555: 1365.0 / 4096,
		0x7bff: 65504,
		0x0001: float32(math.Ldexp(1, -24)),
		0x0400: float32(math.Ldexp(1, -14)),
	}
	for h, want := range cases {
		if got := HalfToFloat32(h); got != want {
			t.Errorf("HalfToFloat32(0x%04x) = %g, want %g", h, got, want)
		}
	}
	if v := HalfToFloat32(0xfc00); !math.IsInf(float64(v), -1) {
		t.Errorf("-inf = %g", v)
	}
	if v := HalfToFloat32(0x7e00); !math.IsNaN(float64(v)) {
		t.Errorf("nan = %g", v)
	}
	if v := HalfToFloat32(0x8000); v != 0 || !math.Signbit(float64(v)) {
		t.Errorf("-0 = %g", v)
	}
}

func TestBFloat16ToFloat32(t *testing.T) {
	t.Parallel()

	if got := BFloat16ToFloat32(uint16(math.Float32bits(1.5) >> 16)); got != 1.5 {
		t.Errorf("1.5 = %g", got)
	}
	if got := BFloat16ToFloat32(0xbc00); got != -0.0078125 {
		t.Errorf("0xbc00 = %g", got)
	}
}
