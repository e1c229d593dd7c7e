// Package cache implements an in-process object cache: a mapping from
// string keys to arbitrary value handles, bounded by absolute/sliding
// expiration, change-notification dependencies, and memory pressure. It
// hash-shards the key space across a fixed array of shards (internal/shard),
// each pairing a key→entry map with an expiration wheel (internal/wheel)
// and a usage ladder (internal/ladder), and runs a background statistics
// loop (internal/monitor) that trims shards under memory pressure.
//
// © 2025 objcache authors. MIT License.
package cache

import (
	"fmt"
	"hash/maphash"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Voskan/objcache/internal/metrics"
	"github.com/Voskan/objcache/internal/monitor"
	"github.com/Voskan/objcache/internal/shard"
)

var cacheIDSeq atomic.Int64

// SizeAccountingHook lets a host application register a process-wide
// aggregator that every Cache instance reports its approximate byte size
// to. Set at most once per cache via SetMemoryAccountingHook.
type SizeAccountingHook interface {
	UpdateCacheSize(bytes int64, cacheID string)
	ReleaseCache(cacheID string)
}

// AddOrGetResult is the outcome of AddOrGetExisting.
type AddOrGetResult struct {
	Existing bool
	State    EntryState
	Value    any
}

// GetResult is the outcome of Get.
type GetResult struct {
	Found bool
	State EntryState
	Value any
}

// Cache is the public surface: a fixed array of shards, a statistics loop
// that samples memory pressure, and the optional metrics/accounting
// collaborators wired in via Option.
type Cache struct {
	cfg    *config
	shards []*shard.Shard
	seed   maphash.Seed
	mask   uint64

	cacheID string

	physical *monitor.PhysicalMemoryMonitor
	cacheMem *monitor.CacheMemoryMonitor
	stats    *monitor.StatisticsLoop

	loaders *loaderGroup

	hook atomic.Pointer[SizeAccountingHook]

	watchers   sync.WaitGroup
	watcherEnd chan struct{}

	closed atomic.Bool
}

const perEntryByteEstimate = 256 // rough fixed overhead per live entry slot group

// New constructs a Cache. Shard count defaults to GOMAXPROCS rounded up to
// a power of two; see WithShardCount to override.
func New(opts ...Option) (*Cache, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	c := &Cache{
		cfg:        cfg,
		shards:     make([]*shard.Shard, cfg.shardCount),
		seed:       maphash.MakeSeed(),
		mask:       uint64(cfg.shardCount - 1),
		cacheID:    fmt.Sprintf("objcache-%d", cacheIDSeq.Add(1)),
		loaders:    newLoaderGroup(),
		watcherEnd: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = shard.New(cfg.logger)
	}

	c.physical = monitor.NewPhysicalMemoryMonitor(cfg.logger)
	c.cacheMem = monitor.NewCacheMemoryMonitor(c.physical.TotalBytes(), perEntryByteEstimate, c.Count, nil)
	if cfg.cacheLimit > 0 {
		c.cacheMem.SetLimit(cfg.cacheLimit)
	}

	var recorder monitor.StatisticsRecorder
	if cfg.registry != nil {
		recorder = metrics.New(cfg.registry)
	}
	c.stats = monitor.NewStatisticsLoop(c.physical, c.cacheMem, c.trimAll, c.Count, cfg.logger, recorder, c.reportSizeToHook)

	return c, nil
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// DefaultCache returns the lazily constructed process-wide singleton.
func DefaultCache() *Cache {
	defaultCacheOnce.Do(func() {
		c, err := New()
		if err != nil {
			panic(err) // New() with no options never errors; guards a contract violation
		}
		defaultCache = c
	})
	return defaultCache
}

func (c *Cache) hash(key string) uint64 {
	var h maphash.Hash
	h.SetSeed(c.seed)
	h.WriteString(key)
	return h.Sum64()
}

func (c *Cache) shardFor(key string) *shard.Shard {
	return c.shards[c.hash(key)&c.mask]
}

// AddOrGetExisting inserts value under key if no live entry exists;
// otherwise returns the existing entry's state and value, leaving it
// untouched apart from the usual sliding-expiration/usage bookkeeping.
func (c *Cache) AddOrGetExisting(key string, value any, policy Policy) AddOrGetResult {
	if c.closed.Load() || key == "" {
		return AddOrGetResult{}
	}
	if err := policy.validate(); err != nil {
		return AddOrGetResult{}
	}
	now := time.Now().UTC()
	res := c.shardFor(key).AddOrGetExisting(key, value, policy.toShardPolicy(), now)
	if !res.Existing {
		c.admitSentinelPair(key, policy, now)
		c.watchChangeMonitors(key, policy.ChangeMonitors)
	}
	return AddOrGetResult{Existing: res.Existing, State: res.State, Value: res.Value}
}

// Set unconditionally replaces whatever entry, if any, is live under key.
func (c *Cache) Set(key string, value any, policy Policy) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if key == "" {
		return ErrEmptyKey
	}
	if err := policy.validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	c.shardFor(key).Set(key, value, policy.toShardPolicy(), now)
	c.admitSentinelPair(key, policy, now)
	c.watchChangeMonitors(key, policy.ChangeMonitors)
	return nil
}

// Get returns the live entry's state/value, if any, sliding its expiration
// forward and recording usage as a side effect.
func (c *Cache) Get(key string) GetResult {
	if c.closed.Load() || key == "" {
		return GetResult{}
	}
	res := c.shardFor(key).Get(key, time.Now().UTC())
	return GetResult{Found: res.Found, State: res.State, Value: res.Value}
}

// Remove deletes key, returning its prior value if it was live.
func (c *Cache) Remove(key string, reason RemovedReason) (any, bool) {
	if c.closed.Load() || key == "" {
		return nil, false
	}
	return c.shardFor(key).Remove(key, reason)
}

// Contains reports whether key currently has a live, unexpired entry.
func (c *Cache) Contains(key string) bool {
	if c.closed.Load() || key == "" {
		return false
	}
	return c.shardFor(key).Contains(key, time.Now().UTC())
}

// Count returns the total number of entries tracked across all shards.
func (c *Cache) Count() int {
	total := 0
	for _, s := range c.shards {
		total += s.Count()
	}
	return total
}

// GetValues returns every live value among keys, keyed by the input key.
func (c *Cache) GetValues(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if res := c.Get(k); res.Found {
			out[k] = res.Value
		}
	}
	return out
}

// Trim evicts up to percent% of entries from each shard's usage ladder,
// after flushing expired entries. Shards are trimmed concurrently.
func (c *Cache) Trim(percent int) int {
	return c.trimAll(percent)
}

func (c *Cache) trimAll(percent int) int {
	now := time.Now().UTC()
	var removed atomic.Int64
	var g errgroup.Group
	for _, s := range c.shards {
		s := s
		g.Go(func() error {
			removed.Add(int64(s.Trim(percent, now)))
			return nil
		})
	}
	_ = g.Wait()
	return int(removed.Load())
}

// CreateCacheEntryChangeMonitor returns a composite change monitor whose
// Changed channel fires when any of the watched keys leaves AddedToCache.
func (c *Cache) CreateCacheEntryChangeMonitor(keys []string) *ChangeMonitor {
	return newChangeMonitor(c, keys)
}

// SetMemoryAccountingHook registers hook exactly once; subsequent calls
// return ErrAlreadySet.
func (c *Cache) SetMemoryAccountingHook(hook SizeAccountingHook) error {
	if !c.hook.CompareAndSwap(nil, &hook) {
		return ErrAlreadySet
	}
	return nil
}

// reportSizeToHook reports the cache-memory monitor's current byte estimate
// to whatever SizeAccountingHook was registered via
// SetMemoryAccountingHook, if any. Invoked by the statistics loop on every
// tick.
func (c *Cache) reportSizeToHook() {
	h := c.hook.Load()
	if h == nil {
		return
	}
	(*h).UpdateCacheSize(c.cacheMem.ApproxBytes(), c.cacheID)
}

// Close stops the background statistics loop and every change-monitor
// watcher goroutine, then drains each shard without firing removal
// callbacks (the default-configuration suppression of ReasonDisposing).
func (c *Cache) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.stats.Close()
	close(c.watcherEnd)
	c.watchers.Wait()
	for _, s := range c.shards {
		s.Close(false)
	}
	if h := c.hook.Load(); h != nil {
		(*h).ReleaseCache(c.cacheID)
	}
}

// watchChangeMonitors spawns one goroutine per external change_monitor
// supplied on a Policy, removing key with ReasonChangeMonitorChanged the
// first time that monitor signals.
func (c *Cache) watchChangeMonitors(key string, monitors []ChangeMonitorSource) {
	for _, wm := range monitors {
		wm := wm
		c.watchers.Add(1)
		go func() {
			defer c.watchers.Done()
			select {
			case <-wm.Changed():
				c.Remove(key, ReasonChangeMonitorChanged)
			case <-c.watcherEnd:
			}
		}()
	}
}

// admitSentinelPair implements the update-sentinel pair: when policy
// carries an UpdateCallback, the real entry is kept NotRemovable/never
// expiring and a sentinel entry keyed "OnUpdateSentinel"+key is inserted
// with the real deadline; the sentinel's expiration fires the callback.
func (c *Cache) admitSentinelPair(key string, policy Policy, now time.Time) {
	if policy.UpdateCallback == nil {
		return
	}
	sentinelKey := "OnUpdateSentinel" + key
	realExpiry := policy.AbsoluteExpiration
	if policy.SlidingExpiration > 0 {
		realExpiry = now.Add(policy.SlidingExpiration)
	}

	sentinelPolicy := shard.Policy{
		AbsoluteExpiry: realExpiry,
		Priority:       Default,
		RemovedCallback: func(_ string, _ any, reason RemovedReason) {
			if reason != ReasonExpired {
				return
			}
			cur := c.Get(key)
			newValue, newPolicy, ok := policy.UpdateCallback(key, cur.Value)
			if !ok {
				c.Remove(key, ReasonExpired)
				return
			}
			if err := c.Set(key, newValue, newPolicy); err != nil {
				c.Remove(key, ReasonExpired)
			}
		},
	}
	c.shardFor(sentinelKey).Set(sentinelKey, nil, sentinelPolicy, now)

	if e, ok := c.shardFor(sentinelKey).Entry(sentinelKey); ok {
		e.MarkSentinelFor(key)
	}
}

// Capabilities reports the fixed feature set this in-memory provider
// supports.
func (c *Cache) Capabilities() Capabilities {
	return AllCapabilities
}
