package quant

func quantizeScalar[T Unsigned](dst []T, src []float32, p Params) {
	maxv := maxOf[T]()
	off := float32(p.Offset)
	for i, v := range src {
		dst[i] = quantElem[T](v, p.Scale, off, maxv)
	}
}

func dequantizeScalar[T Unsigned](dst []float32, src []T, p Params) {
	for i, q := range src {
		dst[i] = dequantElem(q, p.Scale, p.Offset)
	}
}

// transposeQuantScalar writes dst[m*i+j] = q(src[n*j+i]) for i < n, j < m.
func transposeQuantScalar[T Unsigned](src []float32, dst []T, m, n int, p Params) {
	maxv := maxOf[T]()
	off := float32(p.Offset)
	for i := range n {
		for j := range m {
			dst[m*i+j] = quantElem[T](src[n*j+i], p.Scale, off, maxv)
		}
	}
}

// transposeDequantScalar writes dst[m*i+j] = dq(src[n*j+i]) for i < n, j < m.
func transposeDequantScalar[T Unsigned](src []T, dst []float32, m, n int, p Params) {
	for i := range n {
		for j := range m {
			dst[m*i+j] = dequantElem(src[n*j+i], p.Scale, p.Offset)
		}
	}
}
