package monitor

import (
	"math/bits"
	"testing"
	"time"
)

func TestDefaultCacheCapUsesSixtyPercentOfRAM(t *testing.T) {
	got := defaultCacheCap(10 * gib)
	want := int64(6 * gib)
	if got != want {
		t.Fatalf("defaultCacheCap(10GiB) = %d, want %d", got, want)
	}
}

func TestDefaultCacheCapClampsToOneTiBOn64Bit(t *testing.T) {
	if bits.UintSize != 64 {
		t.Skip("cap formula only clamps to 1TiB on 64-bit hosts")
	}
	got := defaultCacheCap(10 * tib)
	if got != tib {
		t.Fatalf("defaultCacheCap(10TiB) = %d, want %d (1TiB cap)", got, int64(tib))
	}
}

func TestNewCacheMemoryMonitorTracksApproxBytes(t *testing.T) {
	entries := 4
	m := NewCacheMemoryMonitor(16*gib, 256, func() int { return entries }, nil)
	if got := m.ApproxBytes(); got != int64(entries)*256 {
		t.Fatalf("ApproxBytes() = %d, want %d", got, int64(entries)*256)
	}
}

func TestCacheMemoryMonitorExternalHookAddsToApproxBytes(t *testing.T) {
	m := NewCacheMemoryMonitor(16*gib, 256, func() int { return 1 }, func() int64 { return 1000 })
	if got := m.ApproxBytes(); got != 256+1000 {
		t.Fatalf("ApproxBytes() = %d, want %d", got, 256+1000)
	}
}

func TestCacheMemoryMonitorSetLimitZeroUsesUncappedWatermarks(t *testing.T) {
	m := NewCacheMemoryMonitor(16*gib, 256, func() int { return 1 }, nil)
	m.SetLimit(0)
	if m.high != 99 || m.low != 97 {
		t.Fatalf("high/low = %d/%d, want 99/97 once uncapped", m.high, m.low)
	}
}

func TestCacheMemoryMonitorSampleReflectsLimit(t *testing.T) {
	m := NewCacheMemoryMonitor(0, 0, func() int { return 0 }, func() int64 { return 500 })
	m.SetLimit(1000)
	m.Sample()
	if m.pressure() != 50 {
		t.Fatalf("pressure() = %d, want 50 (500/1000)", m.pressure())
	}
	if m.AboveHigh() {
		t.Fatalf("expected AboveHigh() = false at 50%% with a capped high watermark of 100")
	}
}

func TestCacheMemoryMonitorPercentToTrim(t *testing.T) {
	m := NewCacheMemoryMonitor(0, 0, func() int { return 0 }, func() int64 { return 1000 })
	m.SetLimit(1000)
	m.Sample() // 100%, at the high watermark
	if got := m.PercentToTrim(20 * time.Second); got < 10 || got > 50 {
		t.Fatalf("PercentToTrim() = %d, want a value clamped to [10, 50]", got)
	}
}
