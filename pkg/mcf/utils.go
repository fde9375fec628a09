package mcf

// mcfAlign is the alignment of every section start.
const mcfAlign = 8

// rangesOverlap reports whether [a0,a1) and [b0,b1) intersect.
func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}

// mulUint64 returns a*b and false on overflow.
func mulUint64(a, b uint64) (uint64, bool) {
	if a != 0 && b > ^uint64(0)/a {
		return 0, false
	}
	return a * b, true
}
