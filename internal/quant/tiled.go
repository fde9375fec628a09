package quant

const lanes = 8

func quantizeTiled[T Unsigned](dst []T, src []float32, p Params) {
	maxv := maxOf[T]()
	scale, off := p.Scale, float32(p.Offset)
	n := len(src)
	n0 := n / lanes * lanes
	dst = dst[:n]
	for i := 0; i < n0; i += lanes {
		s := src[i : i+lanes : i+lanes]
		d := dst[i : i+lanes : i+lanes]
		d[0] = quantElem[T](s[0], scale, off, maxv)
		d[1] = quantElem[T](s[1], scale, off, maxv)
		d[2] = quantElem[T](s[2], scale, off, maxv)
		d[3] = quantElem[T](s[3], scale, off, maxv)
		d[4] = quantElem[T](s[4], scale, off, maxv)
		d[5] = quantElem[T](s[5], scale, off, maxv)
		d[6] = quantElem[T](s[6], scale, off, maxv)
		d[7] = quantElem[T](s[7], scale, off, maxv)
	}
	for i := n0; i < n; i++ {
		dst[i] = quantElem[T](src[i], scale, off, maxv)
	}
}

func dequantizeTiled[T Unsigned](dst []float32, src []T, p Params) {
	scale, off := p.Scale, p.Offset
	n := len(src)
	n0 := n / lanes * lanes
	dst = dst[:n]
	for i := 0; i < n0; i += lanes {
		s := src[i : i+lanes : i+lanes]
		d := dst[i : i+lanes : i+lanes]
		d[0] = dequantElem(s[0], scale, off)
		d[1] = dequantElem(s[1], scale, off)
		d[2] = dequantElem(s[2], scale, off)
		d[3] = dequantElem(s[3], scale, off)
		d[4] = dequantElem(s[4], scale, off)
		d[5] = dequantElem(s[5], scale, off)
		d[6] = dequantElem(s[6], scale, off)
		d[7] = dequantElem(s[7], scale, off)
	}
	for i := n0; i < n; i++ {
		dst[i] = dequantElem(src[i], scale, off)
	}
}

// transposeQuantTiled computes the same mapping as transposeQuantScalar.
// The m x n source is covered by 8x8 blocks, then a 4-wide column strip,
// then a 4-tall row strip, with scalar loops for the remainders. m == 3
// (RGB planes) has a dedicated interleaving path.
func transposeQuantTiled[T Unsigned](src []float32, dst []T, m, n int, p Params) {
	if m == 3 {
		transposeQuant3xN(src, dst, n, p)
		return
	}
	maxv := maxOf[T]()
	scale, off := p.Scale, float32(p.Offset)
	m0, m1, n0, n1 := m/8*8, m%8, n/8*8, n%8

	for i := 0; i < n0; i += 8 {
		for j := 0; j < m0; j += 8 {
			quantBlock(src, dst, j*n+i, i*m+j, m, n, 8, p, maxv)
		}
	}
	if n1 >= 4 {
		for i := 0; i < m0; i += 4 {
			quantBlock(src, dst, n0+i*n, n0*m+i, m, n, 4, p, maxv)
		}
		n0 += 4
	}
	for i := n0; i < n; i++ {
		for j := range m0 {
			dst[m*i+j] = quantElem[T](src[n*j+i], scale, off, maxv)
		}
	}
	if m1 >= 4 {
		for i := 0; i < n0; i += 4 {
			quantBlock(src, dst, m0*n+i, m0+i*m, m, n, 4, p, maxv)
		}
		for i := n0; i < n; i++ {
			for j := m0; j < m0+4; j++ {
				dst[m*i+j] = quantElem[T](src[n*j+i], scale, off, maxv)
			}
		}
		m0 += 4
	}
	for i := range n {
		for j := m0; j < m; j++ {
			dst[m*i+j] = quantElem[T](src[n*j+i], scale, off, maxv)
		}
	}
}

// quantBlock transposes a size x size block whose top-left source element is
// src[so] and destination element is dst[do].
func quantBlock[T Unsigned](src []float32, dst []T, so, do, m, n, size int, p Params, maxv float64) {
	scale, off := p.Scale, float32(p.Offset)
	for r := range size {
		row := src[so+r*n : so+r*n+size]
		for c, v := range row {
			dst[do+c*m+r] = quantElem[T](v, scale, off, maxv)
		}
	}
}

// transposeQuant3xN interleaves three planes of n floats into n triples.
func transposeQuant3xN[T Unsigned](src []float32, dst []T, n int, p Params) {
	maxv := maxOf[T]()
	scale, off := p.Scale, float32(p.Offset)
	p0, p1, p2 := src[:n], src[n:2*n], src[2*n:3*n]
	n0 := n / lanes * lanes
	for i := 0; i < n0; i += lanes {
		d := dst[3*i : 3*(i+lanes)]
		for l := range lanes {
			d[3*l] = quantElem[T](p0[i+l], scale, off, maxv)
			d[3*l+1] = quantElem[T](p1[i+l], scale, off, maxv)
			d[3*l+2] = quantElem[T](p2[i+l], scale, off, maxv)
		}
	}
	for i := n0; i < n; i++ {
		dst[3*i] = quantElem[T](p0[i], scale, off, maxv)
		dst[3*i+1] = quantElem[T](p1[i], scale, off, maxv)
		dst[3*i+2] = quantElem[T](p2[i], scale, off, maxv)
	}
}

// transposeDequantTiled computes the same mapping as transposeDequantScalar.
// n == 3 and n == 4 (three or four channel images) have dedicated paths.
func transposeDequantTiled[T Unsigned](src []T, dst []float32, m, n int, p Params) {
	switch n {
	case 3:
		transposeDequantMxK(src, dst, m, 3, p)
		return
	case 4:
		transposeDequantMxK(src, dst, m, 4, p)
		return
	}
	scale, off := p.Scale, p.Offset
	m0, m1, n0, n1 := m/8*8, m%8, n/8*8, n%8

	for i := 0; i < n0; i += 8 {
		for j := 0; j < m0; j += 8 {
			dequantBlock(src, dst, j*n+i, i*m+j, m, n, 8, p)
		}
	}
	if n1 >= 4 {
		for i := 0; i < m0; i += 4 {
			dequantBlock(src, dst, n0+i*n, n0*m+i, m, n, 4, p)
		}
		n0 += 4
	}
	for i := n0; i < n; i++ {
		for j := range m0 {
			dst[m*i+j] = dequantElem(src[n*j+i], scale, off)
		}
	}
	if m1 >= 4 {
		for i := 0; i < n0; i += 4 {
			dequantBlock(src, dst, m0*n+i, m0+i*m, m, n, 4, p)
		}
		for i := n0; i < n; i++ {
			for j := m0; j < m0+4; j++ {
				dst[m*i+j] = dequantElem(src[n*j+i], scale, off)
			}
		}
		m0 += 4
	}
	for i := range n {
		for j := m0; j < m; j++ {
			dst[m*i+j] = dequantElem(src[n*j+i], scale, off)
		}
	}
}

func dequantBlock[T Unsigned](src []T, dst []float32, so, do, m, n, size int, p Params) {
	for r := range size {
		row := src[so+r*n : so+r*n+size]
		for c, q := range row {
			dst[do+c*m+r] = dequantElem(q, p.Scale, p.Offset)
		}
	}
}

// transposeDequantMxK splits m interleaved k-tuples into k planes of m floats.
func transposeDequantMxK[T Unsigned](src []T, dst []float32, m, k int, p Params) {
	scale, off := p.Scale, p.Offset
	m0 := m / lanes * lanes
	for j := 0; j < m0; j += lanes {
		s := src[k*j : k*(j+lanes)]
		for c := range k {
			plane := dst[c*m+j : c*m+j+lanes]
			for l := range lanes {
				plane[l] = dequantElem(s[k*l+c], scale, off)
			}
		}
	}
	for j := m0; j < m; j++ {
		for c := range k {
			dst[c*m+j] = dequantElem(src[k*j+c], scale, off)
		}
	}
}
