package cache

// config.go defines the functional options accepted by New, along with the
// Policy type applications supply per entry. All fields get sensible
// defaults in defaultConfig; options just capture pointers to external
// collaborators (logger, registry, memory caps).
//
// © 2025 objcache authors. MIT License.

import (
	"math/bits"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Voskan/objcache/internal/shard"
)

// EntryState mirrors the lifecycle stage of a cached entry.
type EntryState = shard.State

// Re-exported entry states, spelled the way callers expect from the
// external surface.
const (
	EntryNotInCache        = shard.NotInCache
	EntryAddingToCache     = shard.AddingToCache
	EntryAddedToCache      = shard.AddedToCache
	EntryRemovingFromCache = shard.RemovingFromCache
	EntryRemovedFromCache  = shard.RemovedFromCache
	EntryClosed            = shard.Closed
)

// RemovedReason explains why a removal callback fired.
type RemovedReason = shard.RemovedReason

const (
	ReasonRemoved               = shard.ReasonRemoved
	ReasonExpired               = shard.ReasonExpired
	ReasonEvicted               = shard.ReasonEvicted
	ReasonChangeMonitorChanged  = shard.ReasonChangeMonitorChanged
	ReasonCacheSpecificEviction = shard.ReasonCacheSpecificEviction
	ReasonDisposing             = shard.ReasonDisposing
)

// Priority controls whether an entry participates in usage-ladder eviction.
type Priority = shard.Priority

const (
	Default      = shard.Default
	NotRemovable = shard.NotRemovable
)

// RemovedCallback fires at most once per entry, synchronously, from
// whichever actor performs the final release.
type RemovedCallback = shard.RemovedCallback

// UpdateCallback fires when an update-sentinel entry expires. It gets a
// chance to refresh the real value instead of letting it be removed; Policy
// here is the public Policy type, not the internal shard.Policy the entry
// itself is stored under (the sentinel mechanism lives entirely at the
// Cache layer — see admitSentinelPair in cache.go).
type UpdateCallback func(key string, value any) (newValue any, newPolicy Policy, ok bool)

// Capabilities is a bit-flag set describing what the cache instance
// supports; every bit is currently always set, matching the in-memory
// provider's fixed feature set.
type Capabilities uint32

const (
	InMemoryProvider Capabilities = 1 << iota
	CacheEntryChangeMonitors
	AbsoluteExpirations
	SlidingExpirations
	CacheEntryUpdateCallback
	CacheEntryRemovedCallback
)

// AllCapabilities is what DefaultCache and every New cache report.
const AllCapabilities = InMemoryProvider | CacheEntryChangeMonitors | AbsoluteExpirations |
	SlidingExpirations | CacheEntryUpdateCallback | CacheEntryRemovedCallback

// maxSlidingExpiry bounds Policy.SlidingExpiration to a sane upper limit;
// anything longer should just use an absolute expiration instead.
const maxSlidingExpiry = 365 * 24 * time.Hour

// ChangeMonitorSource is satisfied by anything the caller registers as a
// change_monitor on a Policy: an external collaborator (outside this
// package's scope) that signals on Changed() when it wants the entry
// removed.
type ChangeMonitorSource interface {
	Changed() <-chan struct{}
}

// Policy carries the admission options for one entry.
type Policy struct {
	AbsoluteExpiration time.Time
	SlidingExpiration  time.Duration
	Priority           Priority
	ChangeMonitors     []ChangeMonitorSource
	RemovedCallback    RemovedCallback
	UpdateCallback     UpdateCallback
}

// NeverExpires is the Policy.AbsoluteExpiration sentinel meaning "no
// absolute deadline" (aliases the internal MaxTime instant).
var NeverExpires = shard.MaxTime

func (p Policy) validate() error {
	if !p.AbsoluteExpiration.IsZero() && p.SlidingExpiration > 0 {
		return ErrInvalidPolicy
	}
	if p.SlidingExpiration < 0 || p.SlidingExpiration > maxSlidingExpiry {
		return ErrInvalidPolicy
	}
	if p.RemovedCallback != nil && p.UpdateCallback != nil {
		return ErrInvalidPolicy
	}
	if p.Priority != Default && p.Priority != NotRemovable {
		return ErrInvalidPolicy
	}
	return nil
}

func (p Policy) toShardPolicy() shard.Policy {
	// UpdateCallback is deliberately not threaded through: the
	// update-sentinel pair is assembled and invoked entirely at the Cache
	// layer (admitSentinelPair), since its signature returns a public
	// Policy the shard package cannot reference without an import cycle.
	// When an update callback is present, the real entry is forced
	// NotRemovable/never-expiring; the sentinel entry alone carries the
	// real deadline.
	if p.UpdateCallback != nil {
		return shard.Policy{
			Priority:        NotRemovable,
			RemovedCallback: p.RemovedCallback,
		}
	}
	return shard.Policy{
		AbsoluteExpiry:  p.AbsoluteExpiration,
		SlidingExpiry:   p.SlidingExpiration,
		Priority:        p.Priority,
		RemovedCallback: p.RemovedCallback,
	}
}

// config bundles every knob that influences cache behavior. All fields are
// immutable once the Cache is constructed.
type config struct {
	shardCount int
	logger     *zap.Logger
	registry   *prometheus.Registry
	cacheLimit int64 // bytes; 0 = use RAM-derived default

	pollingInterval time.Duration
}

func defaultConfig() *config {
	return &config{
		shardCount:      nextPowerOfTwo(runtime.GOMAXPROCS(0)),
		logger:          zap.NewNop(),
		pollingInterval: 20 * time.Second,
	}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// Option configures a Cache at construction time.
type Option func(*config)

// WithShardCount overrides the default shard count (GOMAXPROCS rounded up
// to a power of two). n is itself rounded up to the next power of two.
func WithShardCount(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.shardCount = nextPowerOfTwo(n)
		}
	}
}

// WithLogger plugs an external zap.Logger. The cache only logs slow/rare
// events (trims, callback panics); nothing on the hot path.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the cache
// instance. Passing nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithCacheMemoryLimit sets an explicit cache memory cap in bytes,
// overriding the RAM-derived default.
func WithCacheMemoryLimit(bytes int64) Option {
	return func(c *config) {
		if bytes > 0 {
			c.cacheLimit = bytes
		}
	}
}

// WithPollingInterval overrides the statistics loop's default 20s tick.
func WithPollingInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollingInterval = d
		}
	}
}
