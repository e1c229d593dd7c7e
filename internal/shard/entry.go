// Package shard implements the concurrency unit of the cache: a key→entry
// map guarded by one mutex, paired with one expiration wheel and one usage
// ladder. Entry is the per-item metadata record; Shard wires it to both
// indices and exposes the atomic add-or-get/set/remove/flush operations the
// public Cache dispatches into by key hash.
//
// © 2025 objcache authors. MIT License.
package shard

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Voskan/objcache/internal/ladder"
	"github.com/Voskan/objcache/internal/wheel"
)

// State is the lifecycle stage of an Entry. It only ever advances, one step
// at a time, through a compare-and-swap.
type State uint32

const (
	NotInCache State = iota
	AddingToCache
	AddedToCache
	RemovingFromCache
	RemovedFromCache
	Closed
)

func (s State) String() string {
	switch s {
	case NotInCache:
		return "NotInCache"
	case AddingToCache:
		return "AddingToCache"
	case AddedToCache:
		return "AddedToCache"
	case RemovingFromCache:
		return "RemovingFromCache"
	case RemovedFromCache:
		return "RemovedFromCache"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Priority controls whether an entry is eligible for usage-ladder eviction.
type Priority uint8

const (
	Default Priority = iota
	NotRemovable
)

// RemovedReason explains why a removal callback fired.
type RemovedReason uint8

const (
	ReasonRemoved RemovedReason = iota + 1
	ReasonExpired
	ReasonEvicted
	ReasonChangeMonitorChanged
	ReasonCacheSpecificEviction
	ReasonDisposing
)

// RemovedCallback is invoked at most once per entry, never with
// ReasonDisposing unless the cache is being torn down with callbacks
// enabled.
type RemovedCallback func(key string, value any, reason RemovedReason)

// UpdateCallback is invoked when an update-sentinel entry expires; it gets a
// chance to refresh the real value instead of letting it be removed.
type UpdateCallback func(key string, value any) (newValue any, newPolicy Policy, ok bool)

// MaxTime is the "never expires" sentinel.
var MaxTime = time.Unix(1<<62, 0).UTC()

// Policy carries the admission options for one entry.
type Policy struct {
	// AbsoluteExpiry is the zero value when unset; use MaxTime for "never".
	AbsoluteExpiry  time.Time
	SlidingExpiry   time.Duration
	Priority        Priority
	RemovedCallback RemovedCallback
	UpdateCallback  UpdateCallback
}

// ComputeAbsoluteExpiry applies "absolute_expiry = sliding > 0 ? created +
// sliding : given_absolute".
func (p Policy) ComputeAbsoluteExpiry(created time.Time) time.Time {
	if p.SlidingExpiry > 0 {
		return created.Add(p.SlidingExpiry)
	}
	if p.AbsoluteExpiry.IsZero() {
		return MaxTime
	}
	return p.AbsoluteExpiry
}

// DependentMonitor is notified when an entry it depends on leaves
// AddedToCache. The cache's self-referential ChangeMonitor is the only
// implementation shipped.
type DependentMonitor interface {
	NotifyChanged(key string, createdUTC time.Time)
}

const (
	// MinUpdateDelta is the minimum forward movement (or any backward
	// movement) required before a sliding-expiration refresh is applied.
	MinUpdateDelta = time.Second
	// CorrelatedRequestTimeout debounces usage-ladder updates triggered by
	// bursts of Get calls against the same entry.
	CorrelatedRequestTimeout = time.Second
	// MinLadderLifetime is the minimum remaining lifetime an entry with a
	// finite expiry must have to be worth tracking in the usage ladder.
	MinLadderLifetime = 10 * time.Second
)

// Entry is one cached key/value plus its metadata, state, and back-links
// into the shard's wheel and ladder.
type Entry struct {
	key   string
	value atomic.Value // any

	state atomic.Uint32

	createdUTC time.Time

	metaMu            sync.Mutex
	absoluteExpiryUTC time.Time
	slidingExpiry     time.Duration
	lastUsageUTC      time.Time
	expireHandle      wheel.Handle
	usageHandle       ladder.Handle

	priority Priority

	removedCallback RemovedCallback
	updateCallback  UpdateCallback

	// sentinelFor, when non-empty, names the real entry's key that this
	// entry is the update-sentinel for.
	sentinelFor string

	depMu      sync.Mutex
	dependents []DependentMonitor

	released atomic.Bool
}

// NewEntry constructs an entry in state NotInCache; the shard is
// responsible for transitioning it to AddingToCache as part of insertion.
func NewEntry(key string, value any, policy Policy, now time.Time) *Entry {
	e := &Entry{
		key:               key,
		createdUTC:        now,
		absoluteExpiryUTC: policy.ComputeAbsoluteExpiry(now),
		slidingExpiry:     policy.SlidingExpiry,
		lastUsageUTC:      now,
		priority:          policy.Priority,
		removedCallback:   policy.RemovedCallback,
		updateCallback:    policy.UpdateCallback,
	}
	e.value.Store(boxValue(value))
	return e
}

// boxValue/unboxValue let Entry.value hold a literal nil via atomic.Value,
// which otherwise rejects storing untyped nil.
type valueBox struct{ v any }

func boxValue(v any) valueBox { return valueBox{v} }

// Key returns the entry's key.
func (e *Entry) Key() string { return e.key }

// Value returns the entry's current value.
func (e *Entry) Value() any {
	if b, ok := e.value.Load().(valueBox); ok {
		return b.v
	}
	return nil
}

// SetValue overwrites the stored value (used by the update-callback path).
func (e *Entry) SetValue(v any) { e.value.Store(boxValue(v)) }

// CreatedUTC returns the entry's creation instant.
func (e *Entry) CreatedUTC() time.Time { return e.createdUTC }

// Priority returns the entry's eviction priority.
func (e *Entry) Priority() Priority { return e.priority }

// SentinelFor returns the real entry's key if this entry is an
// update-sentinel, or "" otherwise.
func (e *Entry) SentinelFor() string { return e.sentinelFor }

// MarkSentinelFor records that this entry is the update-sentinel for key.
func (e *Entry) MarkSentinelFor(key string) { e.sentinelFor = key }

// State returns the current lifecycle state.
func (e *Entry) State() State { return State(e.state.Load()) }

// Transition attempts the single compare-and-swap step from -> to. Only the
// caller that wins may proceed with the corresponding side effects.
func (e *Entry) Transition(from, to State) bool {
	return e.state.CompareAndSwap(uint32(from), uint32(to))
}

// AbsoluteExpiry returns the entry's current absolute expiry.
func (e *Entry) AbsoluteExpiry() time.Time {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return e.absoluteExpiryUTC
}

// IsExpired reports whether now is at or past the entry's deadline.
func (e *Entry) IsExpired(now time.Time) bool {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return !e.absoluteExpiryUTC.After(now)
}

// ExpireHandle returns the entry's current wheel handle.
func (e *Entry) ExpireHandle() wheel.Handle {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return e.expireHandle
}

// SetExpireHandle records a new wheel handle for the entry.
func (e *Entry) SetExpireHandle(h wheel.Handle) {
	e.metaMu.Lock()
	e.expireHandle = h
	e.metaMu.Unlock()
}

// UsageHandle returns the entry's current ladder handle.
func (e *Entry) UsageHandle() ladder.Handle {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	return e.usageHandle
}

// SetUsageHandle records a new ladder handle for the entry.
func (e *Entry) SetUsageHandle(h ladder.Handle) {
	e.metaMu.Lock()
	e.usageHandle = h
	e.metaMu.Unlock()
}

// TouchSliding advances the absolute expiry to now+sliding when the entry
// has a sliding expiration and the new deadline differs from the current
// one by at least MinUpdateDelta, or is earlier (always honoured). It
// returns the new deadline and whether it actually changed.
func (e *Entry) TouchSliding(now time.Time) (time.Time, bool) {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	if e.slidingExpiry <= 0 {
		return e.absoluteExpiryUTC, false
	}
	candidate := now.Add(e.slidingExpiry)
	delta := candidate.Sub(e.absoluteExpiryUTC)
	if delta < 0 {
		delta = -delta
	}
	if delta < MinUpdateDelta && candidate.After(e.absoluteExpiryUTC) {
		return e.absoluteExpiryUTC, false
	}
	e.absoluteExpiryUTC = candidate
	return candidate, true
}

// TouchUsage records now as the last-usage instant, provided at least
// CorrelatedRequestTimeout has elapsed since the previous update. Returns
// whether it actually updated.
func (e *Entry) TouchUsage(now time.Time) bool {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	if now.Sub(e.lastUsageUTC) < CorrelatedRequestTimeout {
		return false
	}
	e.lastUsageUTC = now
	return true
}

// EligibleForLadder reports whether, at admission time, this entry should
// be registered in the usage ladder: priority must be Default, and if it
// has a finite expiry, at least MinLadderLifetime must remain.
func (e *Entry) EligibleForLadder(now time.Time) bool {
	if e.priority == NotRemovable {
		return false
	}
	exp := e.AbsoluteExpiry()
	if exp.Equal(MaxTime) {
		return true
	}
	return exp.Sub(now) >= MinLadderLifetime
}

// RegisterDependent adds d to the list of monitors notified when this entry
// leaves AddedToCache.
func (e *Entry) RegisterDependent(d DependentMonitor) {
	e.depMu.Lock()
	e.dependents = append(e.dependents, d)
	e.depMu.Unlock()
}

// UnregisterDependent removes d from the dependent list.
func (e *Entry) UnregisterDependent(d DependentMonitor) {
	e.depMu.Lock()
	defer e.depMu.Unlock()
	for i, existing := range e.dependents {
		if existing == d {
			e.dependents = append(e.dependents[:i], e.dependents[i+1:]...)
			return
		}
	}
}

// notifyDependents fires NotifyChanged on every registered dependent. Called
// once, when the entry transitions out of AddedToCache.
func (e *Entry) notifyDependents() {
	e.depMu.Lock()
	deps := append([]DependentMonitor(nil), e.dependents...)
	e.depMu.Unlock()
	for _, d := range deps {
		d.NotifyChanged(e.key, e.createdUTC)
	}
}
