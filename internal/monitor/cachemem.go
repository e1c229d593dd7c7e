package monitor

import (
	"math/bits"
	"time"
)

const (
	tib = 1 << 40
	gib = 1 << 30
	mib = 1 << 20
)

// defaultCacheCap derives the default cache_memory_limit from total RAM and
// pointer width when the caller never sets one explicitly: 64-bit hosts get
// min(60% RAM, 1TiB); 32-bit hosts get min(60% RAM, 800MiB) normally, or
// 1800MiB when the 32-bit address space allows the larger window.
func defaultCacheCap(totalRAMBytes uint64) int64 {
	sixtyPercent := int64(totalRAMBytes) * 60 / 100
	if bits.UintSize == 64 {
		if sixtyPercent > tib || sixtyPercent <= 0 {
			return tib
		}
		return sixtyPercent
	}
	cap32 := int64(800 * mib)
	if totalRAMBytes > 2*gib {
		cap32 = int64(1800 * mib)
	}
	if sixtyPercent > 0 && sixtyPercent < cap32 {
		return sixtyPercent
	}
	return cap32
}

// CacheMemoryMonitor samples the cache's own approximate byte footprint:
// live entry count times a fixed per-entry estimate, plus anything injected
// through the external size-accounting hook.
type CacheMemoryMonitor struct {
	base
	limit      int64 // 0 = uncapped: Sample records 0, the monitor never triggers
	hasLimit   bool
	entryCount func() int
	perEntry   int64
	externalFn func() int64
}

// NewCacheMemoryMonitor constructs a monitor. totalRAMBytes is used only to
// compute the default cap when the caller never calls SetLimit. entryCount
// reports the cache's current total live-entry count across all shards;
// perEntryEstimate is the fixed per-entry byte estimate multiplied against it.
func NewCacheMemoryMonitor(totalRAMBytes uint64, perEntryEstimate int64, entryCount func() int, externalFn func() int64) *CacheMemoryMonitor {
	if externalFn == nil {
		externalFn = func() int64 { return 0 }
	}
	m := &CacheMemoryMonitor{
		entryCount: entryCount,
		perEntry:   perEntryEstimate,
		externalFn: externalFn,
	}
	m.limit = defaultCacheCap(totalRAMBytes)
	m.recomputeWatermarks()
	return m
}

// SetLimit sets an explicit cache memory cap in bytes. Passing 0 switches to
// uncapped "never trigger" semantics (high=99, low=97, and Sample records 0);
// the cap NewCacheMemoryMonitor starts with is the RAM-derived default.
func (m *CacheMemoryMonitor) SetLimit(bytes int64) {
	m.limit = bytes
	m.hasLimit = bytes > 0
	m.recomputeWatermarks()
}

func (m *CacheMemoryMonitor) recomputeWatermarks() {
	if m.limit <= 0 {
		m.high = 99
		m.low = 97
		return
	}
	m.high = 100
	m.low = 80
}

// ApproxBytes returns the current size estimate.
func (m *CacheMemoryMonitor) ApproxBytes() int64 {
	count := 0
	if m.entryCount != nil {
		count = m.entryCount()
	}
	return int64(count)*m.perEntry + m.externalFn()
}

// Sample records the current size estimate as a percentage of the cap.
func (m *CacheMemoryMonitor) Sample() {
	if m.limit <= 0 {
		m.sample(0)
		return
	}
	percent := int(m.ApproxBytes() * 100 / m.limit)
	m.sample(percent)
}

// AboveHigh reports whether pressure is at or above the high watermark.
func (m *CacheMemoryMonitor) AboveHigh() bool { return m.aboveHigh() }

// BelowLow reports whether pressure has safely receded.
func (m *CacheMemoryMonitor) BelowLow() bool { return m.belowLow() }

// PercentToTrim mirrors PhysicalMemoryMonitor's amortized-sweep calculation.
func (m *CacheMemoryMonitor) PercentToTrim(pollingInterval time.Duration) int {
	if !m.aboveHigh() {
		return 0
	}
	const targetSweep = 5 * time.Minute
	if pollingInterval <= 0 {
		pollingInterval = 20 * time.Second
	}
	raw := int((100*int64(pollingInterval) + int64(targetSweep) - 1) / int64(targetSweep))
	return clampPercent(raw, 10, 50)
}
