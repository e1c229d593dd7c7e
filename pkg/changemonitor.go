package cache

// changemonitor.go implements the cache's self-referential change monitor:
// a composite watcher over a set of keys in the same cache, whose Changed
// channel fires once any watched entry leaves AddedToCache.
//
// © 2025 objcache authors. MIT License.

import (
	"strconv"
	"sync"
	"time"

	"github.com/Voskan/objcache/internal/shard"
)

// ChangeMonitor watches a fixed set of keys and reports when any of them
// is removed, expires, or is evicted. Construct one via
// Cache.CreateCacheEntryChangeMonitor.
type ChangeMonitor struct {
	mu           sync.Mutex
	keys         []string
	uniqueID     string
	lastModified time.Time
	changed      chan struct{}
	fired        bool

	cache   *Cache
	watched []*shard.Entry
}

// NotifyChanged implements shard.DependentMonitor.
func (m *ChangeMonitor) NotifyChanged(key string, createdUTC time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fired {
		return
	}
	m.fired = true
	close(m.changed)
}

// Changed returns a channel that is closed exactly once, the first time any
// watched entry leaves AddedToCache.
func (m *ChangeMonitor) Changed() <-chan struct{} {
	return m.changed
}

// UniqueID returns a stable composite id derived from every watched key
// plus its entry's creation instant, in hex.
func (m *ChangeMonitor) UniqueID() string {
	return m.uniqueID
}

// LastModified returns the newest creation instant among the watched
// entries at construction time.
func (m *ChangeMonitor) LastModified() time.Time {
	return m.lastModified
}

// Dispose unregisters the monitor from every entry it watches. Safe to call
// more than once.
func (m *ChangeMonitor) Dispose() {
	m.mu.Lock()
	watched := m.watched
	m.watched = nil
	m.mu.Unlock()
	for _, e := range watched {
		e.UnregisterDependent(m)
	}
}

// newChangeMonitor registers itself as a dependent on every live entry
// named by keys, found via c's shards.
func newChangeMonitor(c *Cache, keys []string) *ChangeMonitor {
	m := &ChangeMonitor{
		keys:  append([]string(nil), keys...),
		cache: c,
	}
	m.changed = make(chan struct{})

	id := ""
	var newest time.Time
	for _, k := range keys {
		e, ok := c.shardFor(k).Entry(k)
		if !ok {
			continue
		}
		m.watched = append(m.watched, e)
		e.RegisterDependent(m)
		id += k + "|" + strconv.FormatInt(e.CreatedUTC().UnixNano(), 16) + ";"
		if e.CreatedUTC().After(newest) {
			newest = e.CreatedUTC()
		}
	}
	m.uniqueID = id
	m.lastModified = newest
	return m
}
