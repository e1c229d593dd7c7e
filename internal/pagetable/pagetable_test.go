package pagetable

import "testing"

func TestAllocGetRelease(t *testing.T) {
	tb := New[int](nil)
	h := tb.Alloc(42)
	if !h.Valid() {
		t.Fatalf("expected valid handle")
	}
	v, ok := tb.Get(h)
	if !ok || v != 42 {
		t.Fatalf("Get() = %v, %v; want 42, true", v, ok)
	}
	tb.Release(h)
	if _, ok := tb.Get(h); ok {
		t.Fatalf("expected Get() to fail after Release")
	}
}

func TestGrowthAcrossPages(t *testing.T) {
	tb := New[int](nil)
	n := SlotsPerPage*2 + 1
	handles := make([]Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = tb.Alloc(i)
	}
	if tb.Len() != n {
		t.Fatalf("Len() = %d, want %d", tb.Len(), n)
	}
	for i, h := range handles {
		v, ok := tb.Get(h)
		if !ok || v != i {
			t.Fatalf("Get(%d) = %v, %v; want %d, true", i, v, ok, i)
		}
	}
}

func TestReleaseReusesSlots(t *testing.T) {
	tb := New[int](nil)
	var first []Handle
	for i := 0; i < SlotsPerPage; i++ {
		first = append(first, tb.Alloc(i))
	}
	capBefore := tb.Cap()
	for _, h := range first {
		tb.Release(h)
	}
	if tb.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tb.Len())
	}
	// Reallocating the same count should not need additional pages.
	for i := 0; i < SlotsPerPage; i++ {
		tb.Alloc(i)
	}
	if tb.Cap() > capBefore {
		t.Fatalf("Cap() grew from %d to %d on reuse", capBefore, tb.Cap())
	}
}

func TestCompactionRelocatesAndFixesBackReferences(t *testing.T) {
	var relocations int
	var lastNew Handle
	tb := New[int](func(old, new Handle) {
		relocations++
		lastNew = new
	})

	// Fill three pages, then drain two of them down to a handful of
	// entries each so both sit on the partial list simultaneously at well
	// under 50% overall occupancy - the condition compactIfUnderused acts
	// on.
	n := SlotsPerPage * 3
	handles := make([]Handle, n)
	for i := 0; i < n; i++ {
		handles[i] = tb.Alloc(i)
	}
	for i := 0; i < SlotsPerPage-5; i++ {
		tb.Release(handles[i])
	}
	for i := SlotsPerPage; i < 2*SlotsPerPage-5; i++ {
		tb.Release(handles[i])
	}

	if relocations == 0 {
		t.Fatalf("expected compaction to relocate at least one entry")
	}
	if !lastNew.Valid() {
		t.Fatalf("expected a valid relocation target")
	}
	if tb.Len() != 10+SlotsPerPage {
		t.Fatalf("Len() = %d, want %d", tb.Len(), 10+SlotsPerPage)
	}
}

func TestDrainMatching(t *testing.T) {
	tb := New[int](nil)
	for i := 0; i < 10; i++ {
		tb.Alloc(i)
	}
	drained := tb.DrainMatching(func(v int) bool { return v%2 == 0 })
	if len(drained) != 5 {
		t.Fatalf("DrainMatching returned %d values, want 5", len(drained))
	}
	if tb.Len() != 5 {
		t.Fatalf("Len() after drain = %d, want 5", tb.Len())
	}
}
