package monitor

import (
	"time"

	"go.uber.org/zap"
)

// ramWatermarkTable maps "total RAM at or below this many bytes" to the high
// watermark percentage used for that machine size: smaller machines get a
// higher (later) watermark since a full GC/working-set swing is a larger
// fraction of their total memory.
var ramWatermarkTable = []struct {
	maxBytes uint64
	high     int
}{
	{1 << 30, 99},       // <= 1 GiB
	{4 << 30, 98},       // <= 4 GiB
	{8 << 30, 97},       // <= 8 GiB
	{16 << 30, 96},      // <= 16 GiB
	{1 << 63, 95},       // anything larger
}

func highWatermarkForRAM(totalBytes uint64) int {
	for _, row := range ramWatermarkTable {
		if totalBytes <= row.maxBytes {
			return row.high
		}
	}
	return 95
}

// PhysicalMemoryMonitor samples global memory load and decides what
// percentage of the cache to trim when pressure is high.
type PhysicalMemoryMonitor struct {
	base
	totalBytes uint64
	logger     *zap.Logger
}

// NewPhysicalMemoryMonitor constructs a monitor for the host's RAM.
func NewPhysicalMemoryMonitor(logger *zap.Logger) *PhysicalMemoryMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &PhysicalMemoryMonitor{logger: logger}
	total, _, ok := querySystemMemory()
	if ok {
		m.totalBytes = total
	}
	m.high = highWatermarkForRAM(m.totalBytes)
	m.low = m.high - 9
	return m
}

// Sample reads current memory load and records it. A platform query failure
// degrades to pressure 0 (trimming disabled for this tick) rather than
// erroring.
func (m *PhysicalMemoryMonitor) Sample() {
	total, avail, ok := querySystemMemory()
	if !ok || total == 0 {
		m.logger.Warn("physical memory query failed; treating pressure as 0")
		m.sample(0)
		return
	}
	used := total - avail
	percent := int(used * 100 / total)
	m.sample(percent)
}

// TotalBytes returns the total RAM sampled at construction, or 0 if the
// platform query failed.
func (m *PhysicalMemoryMonitor) TotalBytes() uint64 { return m.totalBytes }

// AboveHigh reports whether pressure is currently at or above the high
// watermark — the statistics loop's trim trigger.
func (m *PhysicalMemoryMonitor) AboveHigh() bool { return m.aboveHigh() }

// BelowLow reports whether pressure has safely receded.
func (m *PhysicalMemoryMonitor) BelowLow() bool { return m.belowLow() }

// PercentToTrim returns 0 below the high watermark; above it, a percentage
// chosen so that trimming every pollingInterval amortizes to one full pass
// over the cache in roughly five minutes, clamped to [10, 50].
func (m *PhysicalMemoryMonitor) PercentToTrim(pollingInterval time.Duration) int {
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
