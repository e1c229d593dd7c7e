// Package wheel implements the per-shard expiration wheel: a bucketed time
// index that groups entries by absolute expiry so a flush can find and
// reclaim everything past its deadline in O(buckets) instead of scanning the
// whole shard.
//
// Thirty buckets cover a 600-second cycle in 20-second slices; an entry's
// bucket is derived purely from its absolute expiry instant, so Add/Update/
// Remove never need to consult a separate schedule. Within a bucket, slots
// are kept in a pagetable.Table so allocation stays O(1) even under heavy
// churn.
//
// © 2025 objcache authors. MIT License.
package wheel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Voskan/objcache/internal/pagetable"
)

const (
	// NumBuckets is the number of time-sliced buckets in the wheel.
	NumBuckets = 30
	// BucketSpan is the wall-clock width of one bucket.
	BucketSpan = 20 * time.Second
	// CycleSpan is the total time the wheel covers before wrapping.
	CycleSpan = NumBuckets * BucketSpan
	// MinFlushInterval bounds how often Flush is allowed to do real work.
	MinFlushInterval = time.Second

	histogramBuckets = 4
	histogramSpan    = BucketSpan / histogramBuckets // 5s resolution
)

// Ref is the opaque payload the wheel carries per entry. The owner (a
// shard) gets it back unchanged through Flush's onExpired callback.
type Ref any

// Relocatable is implemented by anything the wheel carries as a Ref that
// needs to learn its new Handle when pagetable compaction moves its slot.
// shard.Entry satisfies this by duck typing.
type Relocatable interface {
	SetExpireHandle(Handle)
}

// Handle identifies one entry's location in the wheel.
type Handle struct {
	bucket uint8
	inner  pagetable.Handle
}

// Valid reports whether h refers to a linked entry.
func (h Handle) Valid() bool { return h.inner.Valid() }

type slotData struct {
	expiry time.Time
	ref    Ref
}

type bucket struct {
	mu    sync.Mutex
	table *pagetable.Table[slotData]
	hist  [histogramBuckets]int32
}

// Wheel is one shard's expiration index.
type Wheel struct {
	buckets   [NumBuckets]bucket
	lastFlush atomic.Int64 // UnixNano of the last successful Flush
}

// New constructs an empty wheel.
func New() *Wheel {
	w := &Wheel{}
	for i := range w.buckets {
		b := uint8(i)
		w.buckets[i].table = pagetable.New[slotData](func(old, newH pagetable.Handle) {
			w.relocate(b, newH)
		})
	}
	return w
}

// relocate fixes up the owning entry's Handle after compaction moves its
// slot from one page to another within bucket b.
func (w *Wheel) relocate(b uint8, newH pagetable.Handle) {
	sd, ok := w.buckets[b].table.Get(newH)
	if !ok {
		return
	}
	if r, ok := sd.ref.(Relocatable); ok {
		r.SetExpireHandle(Handle{bucket: b, inner: newH})
	}
}

// BucketIndex returns which of the 30 buckets an absolute expiry instant
// falls into.
func BucketIndex(t time.Time) int {
	cycle := t.UnixNano() % int64(CycleSpan)
	if cycle < 0 {
		cycle += int64(CycleSpan)
	}
	return (int(cycle/int64(BucketSpan)) + 1) % NumBuckets
}

func histIndex(t time.Time) int {
	cycle := t.UnixNano() % int64(BucketSpan)
	if cycle < 0 {
		cycle += int64(BucketSpan)
	}
	idx := int(cycle / int64(histogramSpan))
	if idx >= histogramBuckets {
		idx = histogramBuckets - 1
	}
	return idx
}

// Add links a new entry into the bucket matching its expiry.
func (w *Wheel) Add(expiry time.Time, ref Ref) Handle {
	b := BucketIndex(expiry)
	bk := &w.buckets[b]
	bk.mu.Lock()
	defer bk.mu.Unlock()
	inner := bk.table.Alloc(slotData{expiry: expiry, ref: ref})
	bk.hist[histIndex(expiry)]++
	return Handle{bucket: uint8(b), inner: inner}
}

// Remove unlinks h, if still valid. Safe to call with an already-invalid
// handle.
func (w *Wheel) Remove(h Handle) {
	if !h.Valid() {
		return
	}
	bk := &w.buckets[h.bucket]
	bk.mu.Lock()
	defer bk.mu.Unlock()
	if sd, ok := bk.table.Get(h.inner); ok {
		bk.hist[histIndex(sd.expiry)]--
		bk.table.Release(h.inner)
	}
}

// Update moves h to the bucket matching newExpiry, overwriting in place
// when the bucket does not change.
func (w *Wheel) Update(h Handle, newExpiry time.Time, ref Ref) Handle {
	newBucket := uint8(BucketIndex(newExpiry))
	if h.Valid() && newBucket == h.bucket {
		bk := &w.buckets[h.bucket]
		bk.mu.Lock()
		if old, ok := bk.table.Get(h.inner); ok {
			bk.hist[histIndex(old.expiry)]--
			bk.table.Set(h.inner, slotData{expiry: newExpiry, ref: ref})
			bk.hist[histIndex(newExpiry)]++
			bk.mu.Unlock()
			return h
		}
		bk.mu.Unlock()
	}
	w.Remove(h)
	return w.Add(newExpiry, ref)
}

// Flush walks every bucket once, invoking onExpired for every ref whose
// deadline is at or before now. It is a no-op, returning false, when called
// again before MinFlushInterval has elapsed since the previous successful
// call.
func (w *Wheel) Flush(now time.Time, onExpired func(ref Ref)) bool {
	last := w.lastFlush.Load()
	if last != 0 && now.UnixNano()-last < int64(MinFlushInterval) {
		return false
	}
	if !w.lastFlush.CompareAndSwap(last, now.UnixNano()) {
		return false
	}
	for i := range w.buckets {
		w.flushBucket(&w.buckets[i], now, onExpired)
	}
	return true
}

func (w *Wheel) flushBucket(bk *bucket, now time.Time, onExpired func(ref Ref)) {
	bk.mu.Lock()
	due := false
	for _, c := range bk.hist {
		if c > 0 {
			due = true
			break
		}
	}
	if !due {
		bk.mu.Unlock()
		return
	}
	// DrainMatching pauses compaction internally for the duration of its own
	// walk, so an expired slot never gets relocated past the cursor and
	// skipped (the page-table's answer to this wheel's block_reduce rule).
	expired := bk.table.DrainMatching(func(sd slotData) bool { return !sd.expiry.After(now) })
	for _, sd := range expired {
		bk.hist[histIndex(sd.expiry)]--
	}
	bk.mu.Unlock()

	for _, sd := range expired {
		onExpired(sd.ref)
	}
}
