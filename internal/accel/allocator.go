package accel

import (
	"sync"
	"unsafe"

	"github.com/jiangyanpeng/simple-nn/internal/logger"
)

// Allocator provides the native tensor buffers of a Wrapper.
type Allocator interface {
	Malloc(size int) []byte
	Free(b []byte)
}

// UsageStats is the bookkeeping of one TrackingAllocator. It is only
// modified under that allocator's lock.
type UsageStats struct {
	Allocs     int
	Frees      int
	Live       int
	BytesInUse int64
	PeakBytes  int64
	Leaked     int
}

// TrackingAllocator records every outstanding block so Close can report and
// release what callers forgot to free.
type TrackingAllocator struct {
	mu    sync.Mutex
	stats *UsageStats
	live  map[*byte]int
	log   logger.Logger
}

// NewTrackingAllocator updates stats on every call. A nil stats gets a
// private one.
func NewTrackingAllocator(stats *UsageStats, log logger.Logger) *TrackingAllocator {
	if stats == nil {
		stats = &UsageStats{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &TrackingAllocator{stats: stats, live: make(map[*byte]int), log: log}
}

// Malloc returns a zeroed, 8-byte aligned block.
func (a *TrackingAllocator) Malloc(size int) []byte {
	if size < 0 {
		size = 0
	}
	words := make([]uint64, max(1, (size+7)/8))
	base := (*byte)(unsafe.Pointer(unsafe.SliceData(words)))
	b := unsafe.Slice(base, len(words)*8)[:size]

	a.mu.Lock()
	defer a.mu.Unlock()
	a.live[base] = size
	a.stats.Allocs++
	a.stats.Live++
	a.stats.BytesInUse += int64(size)
	a.stats.PeakBytes = max(a.stats.PeakBytes, a.stats.BytesInUse)
	return b
}

// Free releases a block from Malloc. Unknown blocks are ignored.
func (a *TrackingAllocator) Free(b []byte) {
	if cap(b) == 0 {
		return
	}
	base := unsafe.SliceData(b[:1])

	a.mu.Lock()
	defer a.mu.Unlock()
	size, ok := a.live[base]
	if !ok {
		a.log.Warn("free of unknown block", "cap", cap(b))
		return
	}
	delete(a.live, base)
	a.stats.Frees++
	a.stats.Live--
	a.stats.BytesInUse -= int64(size)
}

// Stats returns a copy of the current bookkeeping.
func (a *TrackingAllocator) Stats() UsageStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.stats
}

// Close releases every outstanding block and returns how many there were.
func (a *TrackingAllocator) Close() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	leaked := len(a.live)
	for base, size := range a.live {
		a.log.Warn("releasing unfreed block", "addr", unsafe.Pointer(base), "bytes", size)
		delete(a.live, base)
		a.stats.Live--
		a.stats.BytesInUse -= int64(size)
	}
	a.stats.Leaked += leaked
	return leaked
}
