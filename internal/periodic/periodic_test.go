package periodic

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestCallbackFiresRepeatedly(t *testing.T) {
	var ticks int32
	c := New(10*time.Millisecond, func(time.Time) { atomic.AddInt32(&ticks, 1) })
	defer c.Stop()

	time.Sleep(55 * time.Millisecond)
	if n := atomic.LoadInt32(&ticks); n < 3 {
		t.Fatalf("ticks = %d, want at least 3 in 55ms at a 10ms interval", n)
	}
}

func TestSetIntervalChangesInterval(t *testing.T) {
	c := New(time.Hour, func(time.Time) {})
	defer c.Stop()
	c.SetInterval(25 * time.Millisecond)
	if c.Interval() != 25*time.Millisecond {
		t.Fatalf("Interval() = %v, want 25ms", c.Interval())
	}
}

func TestSetIntervalRestartsTicking(t *testing.T) {
	var ticks int32
	c := New(time.Hour, func(time.Time) { atomic.AddInt32(&ticks, 1) })
	defer c.Stop()

	c.SetInterval(10 * time.Millisecond)
	time.Sleep(55 * time.Millisecond)
	if n := atomic.LoadInt32(&ticks); n < 3 {
		t.Fatalf("ticks = %d after SetInterval, want at least 3", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := New(time.Hour, func(time.Time) {})
	c.Stop()
	c.Stop() // must not block or panic
}

func TestStopPreventsFurtherTicks(t *testing.T) {
	var ticks int32
	c := New(10*time.Millisecond, func(time.Time) { atomic.AddInt32(&ticks, 1) })
	time.Sleep(25 * time.Millisecond)
	c.Stop()
	after := atomic.LoadInt32(&ticks)
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&ticks) != after {
		t.Fatalf("ticks increased from %d to %d after Stop", after, atomic.LoadInt32(&ticks))
	}
}
