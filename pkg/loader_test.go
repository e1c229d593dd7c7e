package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetOrLoadStoresValueAndSkipsLoaderOnHit(t *testing.T) {
	c := newTestCache(t)
	var calls int32
	loader := func(ctx context.Context, key string) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "v1", nil
	}

	v, err := c.GetOrLoad(context.Background(), "k", Policy{}, loader)
	if err != nil || v != "v1" {
		t.Fatalf("GetOrLoad() = %v, %v, want v1, nil", v, err)
	}
	v2, err := c.GetOrLoad(context.Background(), "k", Policy{}, loader)
	if err != nil || v2 != "v1" {
		t.Fatalf("second GetOrLoad() = %v, %v, want v1, nil", v2, err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("loader invoked %d times, want 1", calls)
	}
}

func TestGetOrLoadPropagatesLoaderError(t *testing.T) {
	c := newTestCache(t)
	wantErr := errors.New("boom")
	loader := func(ctx context.Context, key string) (any, error) {
		return nil, wantErr
	}
	_, err := c.GetOrLoad(context.Background(), "k", Policy{}, loader)
	if err != wantErr {
		t.Fatalf("GetOrLoad() error = %v, want %v", err, wantErr)
	}
	if c.Contains("k") {
		t.Fatalf("expected nothing stored after a failed load")
	}
}

func TestGetOrLoadDeduplicatesConcurrentCallers(t *testing.T) {
	c := newTestCache(t)
	const n = 8
	var calls int32
	started := make(chan struct{}, n)
	release := make(chan struct{})

	loader := func(ctx context.Context, key string) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "v1", nil
	}

	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			v, err := c.GetOrLoad(context.Background(), "k", Policy{}, loader)
			if err != nil {
				t.Errorf("GetOrLoad() error = %v", err)
				return
			}
			results[i] = v
		}(i)
	}

	for i := 0; i < n; i++ {
		<-started
	}
	time.Sleep(10 * time.Millisecond) // let every caller reach the singleflight gate
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("loader invoked %d times concurrently, want 1", calls)
	}
	for i, v := range results {
		if v != "v1" {
			t.Fatalf("result[%d] = %v, want v1", i, v)
		}
	}
}
