package cache

import (
	"testing"
	"time"
)

func TestChangeMonitorUniqueIDIsStablePerEntry(t *testing.T) {
	c := newTestCache(t)
	c.Set("k1", "v1", Policy{})

	m1 := c.CreateCacheEntryChangeMonitor([]string{"k1"})
	m2 := c.CreateCacheEntryChangeMonitor([]string{"k1"})
	defer m1.Dispose()
	defer m2.Dispose()

	if m1.UniqueID() != m2.UniqueID() {
		t.Fatalf("UniqueID() differs across monitors over the same unchanged entry: %q vs %q", m1.UniqueID(), m2.UniqueID())
	}
	if m1.UniqueID() == "" {
		t.Fatalf("expected a non-empty UniqueID")
	}
}

func TestChangeMonitorUniqueIDChangesAfterReplace(t *testing.T) {
	c := newTestCache(t)
	c.Set("k1", "v1", Policy{})
	before := c.CreateCacheEntryChangeMonitor([]string{"k1"})
	id1 := before.UniqueID()
	before.Dispose()

	time.Sleep(time.Millisecond)
	c.Set("k1", "v2", Policy{})
	after := c.CreateCacheEntryChangeMonitor([]string{"k1"})
	defer after.Dispose()

	if after.UniqueID() == id1 {
		t.Fatalf("expected UniqueID to change after the entry was replaced")
	}
}

func TestChangeMonitorDisposeStopsFurtherNotifications(t *testing.T) {
	c := newTestCache(t)
	c.Set("k1", "v1", Policy{})
	mon := c.CreateCacheEntryChangeMonitor([]string{"k1"})
	mon.Dispose()

	c.Remove("k1", ReasonRemoved)
	select {
	case <-mon.Changed():
		t.Fatalf("disposed monitor should not observe the removal that follows")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChangeMonitorOnMissingKeyNeverFires(t *testing.T) {
	c := newTestCache(t)
	mon := c.CreateCacheEntryChangeMonitor([]string{"does-not-exist"})
	defer mon.Dispose()
	if mon.UniqueID() != "" {
		t.Fatalf("UniqueID() = %q, want empty for a monitor over no live keys", mon.UniqueID())
	}
	select {
	case <-mon.Changed():
		t.Fatalf("expected Changed to never fire when nothing was watched")
	case <-time.After(50 * time.Millisecond):
	}
}
