package tensor

import (
	"math"
	"math/rand/v2"
	"testing"
)

func matMulNaive(dst, a, b []float32, m, k, n int) {
	for i := range m {
		for j := range n {
			sum := dst[i*n+j]
			for kk := range k {
				sum += a[i*k+kk] * b[kk*n+j]
			}
			dst[i*n+j] = sum
		}
	}
}

func randSlice(r *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = r.Float32()*2 - 1
	}
	return out
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestMatMulAccMatchesNaive(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for _, tc := range []struct{ m, k, n, workers int }{
		{1, 2, 1, 1},
		{3, 7, 5, 1},
		{50, 70, 45, 4},
		{64, 200, 96, 0},
		{1, 130, 9, 8},
	} {
		a := randSlice(r, tc.m*tc.k)
		b := randSlice(r, tc.k*tc.n)
		bias := randSlice(r, tc.m*tc.n)

		want := append([]float32(nil), bias...)
		got := append([]float32(nil), bias...)
		matMulNaive(want, a, b, tc.m, tc.k, tc.n)
		MatMulAcc(got, a, b, tc.m, tc.k, tc.n, tc.workers)

		if d := maxAbsDiff(want, got); d > 1e-4 {
			t.Fatalf("%dx%dx%d: max abs diff %g", tc.m, tc.k, tc.n, d)
		}
	}
}

func TestMatMulAccSmallIsExact(t *testing.T) {
	t.Parallel()

	dst := []float32{0.5}
	MatMulAcc(dst, []float32{3, 4}, []float32{1, 2}, 1, 2, 1, 1)
	if dst[0] != 11.5 {
		t.Fatalf("got %v, want 11.5", dst[0])
	}
}

func TestMatMulAccShortOperandPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	MatMulAcc(make([]float32, 1), []float32{1}, []float32{1, 2}, 1, 2, 1, 1)
}

func TestMatMulAccNoAllocs(t *testing.T) {
	a := make([]float32, 16*16)
	b := make([]float32, 16*16)
	c := make([]float32, 16*16)

	allocs := testing.AllocsPerRun(100, func() {
		MatMulAcc(c, a, b, 16, 16, 16, 1)
	})
	if allocs != 0 {
		t.Fatalf("unexpected allocs: %v", allocs)
	}
}

func BenchmarkMatMulAcc(b *testing.B) {
	r := rand.New(rand.NewPCG(3, 4))
	const m, k, n = 128, 256, 128
	a := randSlice(r, m*k)
	w := randSlice(r, k*n)
	c := make([]float32, m*n)
	for b.Loop() {
		MatMulAcc(c, a, w, m, k, n, 0)
	}
}
