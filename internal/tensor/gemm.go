package tensor

import (
	"runtime"
	"sync"
)

const (
	defaultTileM = 32
	defaultTileN = 32
	defaultTileK = 16

	maxTileM = 64
	maxTileN = 64
	maxTileK = 64

	// Products smaller than this run on the calling goroutine.
	parallelMinWork = 1 << 16
)

// Tile sizes are variables to allow test-time sweeps without recompilation.
var (
	tileM = defaultTileM
	tileN = defaultTileN
	tileK = defaultTileK
)

func selectGemmTiles(k int) (int, int, int) {
	if tileM != defaultTileM || tileN != defaultTileN || tileK != defaultTileK {
		return clampTile(tileM, maxTileM), clampTile(tileN, maxTileN), clampTile(tileK, maxTileK)
	}
	tk := defaultTileK
	switch {
	case k >= 192:
		tk = 32
	case k >= 96:
		tk = 24
	}
	return defaultTileM, defaultTileN, tk
}

func clampTile(value, max int) int {
	if value < 1 {
		return 1
	}
	if value > max {
		return max
	}
	return value
}

type gemmTask struct {
	dst, a, b  []float32
	k, n       int
	rs, re     int
	tm, tn, tk int
	done       chan struct{}
}

type gemmPool struct {
	size      int
	tasks     chan gemmTask
	doneSlots chan chan struct{}
}

func newGemmPool() *gemmPool {
	size := max(runtime.GOMAXPROCS(0), 1)
	p := &gemmPool{
		size:      size,
		tasks:     make(chan gemmTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for range size {
		p.doneSlots <- make(chan struct{}, size)
	}
	for range size {
		go func() {
			for t := range p.tasks {
				gemmRangeRows(t.dst, t.a, t.b, t.k, t.n, t.rs, t.re, t.tm, t.tn, t.tk)
				t.done <- struct{}{}
			}
		}()
	}
	return p
}

// The pool starts on first parallel use so short-lived tools never spawn it.
var gemmWorkPool = sync.OnceValue(newGemmPool)

// MatMulAcc accumulates the row-major product a(m×k) * b(k×n) into dst(m×n).
// For every output element the k terms are added in increasing k order, so
// the result matches a straight triple loop seeded with dst. Large products
// are split across workers by output rows; workers <= 0 means GOMAXPROCS.
func MatMulAcc(dst, a, b []float32, m, k, n, workers int) {
	if len(a) < m*k || len(b) < k*n || len(dst) < m*n {
		panic("tensor: matmul operand too short")
	}
	if m == 0 || n == 0 || k == 0 {
		return
	}
	tm, tn, tk := selectGemmTiles(k)

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, m)
	if workers <= 1 || m*k*n < parallelMinWork {
		gemmRangeRows(dst, a, b, k, n, 0, m, tm, tn, tk)
		return
	}
	pool := gemmWorkPool()
	workers = min(workers, pool.size)

	chunk := (m + workers - 1) / workers
	done := <-pool.doneSlots
	sent := 0
	for rs := 0; rs < m; rs += chunk {
		pool.tasks <- gemmTask{
			dst: dst, a: a, b: b,
			k: k, n: n,
			rs: rs, re: min(rs+chunk, m),
			tm: tm, tn: tn, tk: tk,
			done: done,
		}
		sent++
	}
	for range sent {
		<-done
	}
	pool.doneSlots <- done
}

// gemmRangeRows runs the blocked product for output rows [rs, re).
func gemmRangeRows(dst, a, b []float32, k, n, rs, re, tm, tn, tk int) {
	for i0 := rs; i0 < re; i0 += tm {
		iMax := min(i0+tm, re)
		for k0 := 0; k0 < k; k0 += tk {
			kMax := min(k0+tk, k)
			for j0 := 0; j0 < n; j0 += tn {
				jMax := min(j0+tn, n)
				blockUpdate(dst, a, b, k, n, i0, iMax, j0, jMax, k0, kMax)
			}
		}
	}
}

func blockUpdate(dst, a, b []float32, k, n, i0, iMax, j0, jMax, k0, kMax int) {
	width := jMax - j0
	for i := i0; i < iMax; i++ {
		aRow := a[i*k:]
		cOff := i*n + j0
		cRow := dst[cOff : cOff+width]

		for kk := k0; kk < kMax; kk++ {
			aik := aRow[kk]
			bOff := kk*n + j0
			bRow := b[bOff : bOff+width]

			j := 0
			for ; j+7 < width; j += 8 {
				cRow[j+0] += aik * bRow[j+0]
				cRow[j+1] += aik * bRow[j+1]
				cRow[j+2] += aik * bRow[j+2]
				cRow[j+3] += aik * bRow[j+3]
				cRow[j+4] += aik * bRow[j+4]
				cRow[j+5] += aik * bRow[j+5]
				cRow[j+6] += aik * bRow[j+6]
				cRow[j+7] += aik * bRow[j+7]
			}
			for ; j < width; j++ {
				cRow[j] += aik * bRow[j]
			}
		}
	}
}
