package cache

// loaderfunc.go defines LoaderFunc, the user-supplied callback that
// produces a value when Cache.GetOrLoad misses.
//
// The loader must not call back into the same Cache it serves; doing so
// can deadlock against the singleflight group keyed on this entry. It
// should honor ctx for cancellation. If it returns an error, nothing is
// stored and the error is propagated to the caller of GetOrLoad.
//
// © 2025 objcache authors. MIT License.

import "context"

// LoaderFunc produces the value to cache under key when GetOrLoad misses.
// The same LoaderFunc may be invoked concurrently for different keys; it
// must be safe for concurrent use.
type LoaderFunc func(ctx context.Context, key string) (any, error)
