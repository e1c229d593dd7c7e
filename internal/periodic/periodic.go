// Package periodic implements a single cancellable fixed-interval background
// task — the building block behind the statistics loop and, via the host
// application, any other recurring cache maintenance work.
//
// © 2025 objcache authors. MIT License.
package periodic

import (
	"sync"
	"time"
)

// Callback runs delegate roughly every interval until Stop is called.
// Changing the interval at runtime stops and restarts the worker goroutine,
// so a tick can be skipped right after SetInterval — that trade-off is
// intentional: simplicity of a single timer loop over bookkeeping an
// in-flight wait.
type Callback struct {
	mu       sync.Mutex
	interval time.Duration
	delegate func(now time.Time)

	cancel chan struct{}
	done   chan struct{}
}

// New constructs and starts a Callback invoking delegate every interval.
func New(interval time.Duration, delegate func(now time.Time)) *Callback {
	c := &Callback{interval: interval, delegate: delegate}
	c.start()
	return c
}

func (c *Callback) start() {
	c.cancel = make(chan struct{})
	c.done = make(chan struct{})
	cancel := c.cancel
	done := c.done
	interval := c.interval
	go func() {
		defer close(done)
		timer := time.NewTimer(interval)
		defer timer.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-timer.C:
			}
			started := time.Now()
			c.delegate(started)
			elapsed := time.Since(started)

			c.mu.Lock()
			next := c.interval - elapsed
			c.mu.Unlock()
			if next < 0 {
				next = 0
			}
			timer.Reset(next)
		}
	}()
}

// SetInterval changes the tick period. The running worker is stopped and a
// fresh one started, so the very next tick may fire later or earlier than a
// strict continuation of the old schedule would predict.
func (c *Callback) SetInterval(interval time.Duration) {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.interval = interval
	c.mu.Unlock()

	close(cancel)
	<-done

	c.mu.Lock()
	c.start()
	c.mu.Unlock()
}

// Interval returns the currently configured period.
func (c *Callback) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Stop cancels the worker and waits for it to exit.
func (c *Callback) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	select {
	case <-cancel:
		// already stopped
	default:
		close(cancel)
	}
	<-done
}
