package cache

// loader.go implements the singleflight-based deduplication layer behind
// Cache.GetOrLoad. The goal is to prevent a thundering herd when many
// goroutines request the same missing key simultaneously: only one loader
// invocation runs; the rest wait for its result and then go through the
// normal AddOrGetExisting path together.
//
// © 2025 objcache authors. MIT License.

import (
	"context"

	"golang.org/x/sync/singleflight"
)

type loaderGroup struct {
	g singleflight.Group
}

func newLoaderGroup() *loaderGroup {
	return &loaderGroup{}
}

func (lg *loaderGroup) load(ctx context.Context, key string, fn LoaderFunc) (any, error, bool) {
	v, err, shared := lg.g.Do(key, func() (any, error) {
		return fn(ctx, key)
	})
	if err != nil {
		return nil, err, shared
	}
	return v, nil, shared
}

// GetOrLoad returns the live value under key, or runs loader exactly once
// across all concurrent callers sharing this miss and stores its result
// under policy before returning it. If the loader errors, nothing is
// stored and the error is returned unchanged.
func (c *Cache) GetOrLoad(ctx context.Context, key string, policy Policy, loader LoaderFunc) (any, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if res := c.Get(key); res.Found {
		return res.Value, nil
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}

	val, err, _ := c.loaders.load(ctx, key, loader)
	if err != nil {
		return nil, err
	}

	result := c.AddOrGetExisting(key, val, policy)
	if result.Existing {
		return result.Value, nil
	}
	return val, nil
}
