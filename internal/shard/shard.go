package shard

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/objcache/internal/ladder"
	"github.com/Voskan/objcache/internal/wheel"
)

// insertBlockTimeout bounds how long AddOrGetExisting/Set will wait on the
// insert-block gate while a wheel flush is splicing a batch of expired
// entries out of the map.
const insertBlockTimeout = 10 * time.Second

// AddResult is the outcome of AddOrGetExisting.
type AddResult struct {
	Existing bool
	State    State
	Value    any
}

// GetResult is the outcome of Get.
type GetResult struct {
	Found bool
	State State
	Value any
}

// Shard is the concurrency unit of the cache: one key→entry map guarded by
// a single mutex, one expiration wheel, one usage ladder, and the
// insert-block gate the wheel uses to briefly quiesce admissions while it
// splices a large expired batch out of the map.
type Shard struct {
	mu      sync.Mutex
	entries map[string]*Entry

	wheel  *wheel.Wheel
	ladder *ladder.Ladder

	gateMu         sync.Mutex
	gate           chan struct{}
	useInsertBlock atomic.Bool

	logger *zap.Logger
}

// New constructs an empty shard.
func New(logger *zap.Logger) *Shard {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Shard{
		entries: make(map[string]*Entry),
		wheel:   wheel.New(),
		ladder:  ladder.New(),
		logger:  logger,
	}
	s.gate = make(chan struct{})
	close(s.gate) // start open
	return s
}

func (s *Shard) blockInserts() {
	s.gateMu.Lock()
	s.gate = make(chan struct{}) // fresh, unclosed channel == shut gate
	s.useInsertBlock.Store(true)
	s.gateMu.Unlock()
}

func (s *Shard) unblockInserts() {
	s.gateMu.Lock()
	close(s.gate)
	s.useInsertBlock.Store(false)
	s.gateMu.Unlock()
}

func (s *Shard) waitForGate() {
	if !s.useInsertBlock.Load() {
		return
	}
	s.gateMu.Lock()
	gate := s.gate
	s.gateMu.Unlock()
	select {
	case <-gate:
	case <-time.After(insertBlockTimeout):
	}
}

// AddOrGetExisting inserts value under key if no live entry exists;
// otherwise it returns the existing entry's state and value untouched
// except for the usual sliding-expiration/usage bookkeeping.
func (s *Shard) AddOrGetExisting(key string, value any, policy Policy, now time.Time) AddResult {
	candidate := NewEntry(key, value, policy, now)
	if candidate.EligibleForLadder(now) {
		s.waitForGate()
	}

	var existing *Entry
	var stale *Entry
	added := false

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok {
		// A key present under AddingToCache is a concurrent add still in
		// flight (between its own s.mu.Unlock and linkNew's CAS to
		// AddedToCache below); it is just as live as AddedToCache for
		// collision purposes and must not be preempted, or the loser's
		// removal callback would fire wrongly reasoned (ReasonExpired) for
		// an entry that was never actually live. See shard_test.go's
		// TestAddOrGetExistingCollisionIsRaceFree.
		if (cur.State() == AddedToCache || cur.State() == AddingToCache) && !cur.IsExpired(now) {
			existing = cur
		} else {
			if cur.Transition(AddedToCache, RemovingFromCache) || cur.Transition(AddingToCache, RemovingFromCache) {
				stale = cur
			}
			candidate.Transition(NotInCache, AddingToCache)
			s.entries[key] = candidate
			added = true
		}
	} else {
		candidate.Transition(NotInCache, AddingToCache)
		s.entries[key] = candidate
		added = true
	}
	s.mu.Unlock()

	if existing != nil {
		// Only touch (sliding/usage bookkeeping) once the winner has fully
		// linked the entry into the wheel/ladder; touching it mid-flight
		// could register it a second time once linkNew runs.
		if existing.State() == AddedToCache {
			s.touch(existing, now)
		}
		return AddResult{Existing: true, State: existing.State(), Value: existing.Value()}
	}

	if added {
		s.linkNew(candidate, now)
	}
	if stale != nil {
		s.unlinkEntry(stale)
		s.releaseEntry(stale, ReasonExpired)
	}
	return AddResult{}
}

// Set unconditionally replaces whatever entry (if any) is live under key.
func (s *Shard) Set(key string, value any, policy Policy, now time.Time) {
	candidate := NewEntry(key, value, policy, now)
	var displaced *Entry
	reason := ReasonRemoved

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok {
		if cur.IsExpired(now) {
			reason = ReasonExpired
		}
		if cur.Transition(AddedToCache, RemovingFromCache) || cur.Transition(AddingToCache, RemovingFromCache) {
			displaced = cur
		}
	}
	candidate.Transition(NotInCache, AddingToCache)
	s.entries[key] = candidate
	s.mu.Unlock()

	s.linkNew(candidate, now)

	if displaced != nil {
		s.unlinkEntry(displaced)
		s.releaseEntry(displaced, reason)
	}
}

// Get returns the live entry's state/value, if any, sliding its expiration
// forward and recording usage as a side effect.
func (s *Shard) Get(key string, now time.Time) GetResult {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && e.IsExpired(now) {
		if e.Transition(AddedToCache, RemovingFromCache) || e.Transition(AddingToCache, RemovingFromCache) {
			delete(s.entries, key)
			s.mu.Unlock()
			s.unlinkEntry(e)
			s.releaseEntry(e, ReasonExpired)
			return GetResult{}
		}
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return GetResult{}
	}
	s.touch(e, now)
	return GetResult{Found: true, State: e.State(), Value: e.Value()}
}

func (s *Shard) touch(e *Entry, now time.Time) {
	if newExp, changed := e.TouchSliding(now); changed {
		h := s.wheel.Update(e.ExpireHandle(), newExp, e)
		e.SetExpireHandle(h)
	}
	if e.TouchUsage(now) {
		if h := e.UsageHandle(); h.Valid() {
			s.ladder.Touch(h, now)
		}
	}
}

// Remove deletes key atomically, returning its prior value if it was live.
func (s *Shard) Remove(key string, reason RemovedReason) (any, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if !(e.Transition(AddedToCache, RemovingFromCache) || e.Transition(AddingToCache, RemovingFromCache)) {
		s.mu.Unlock()
		return nil, false
	}
	delete(s.entries, key)
	s.mu.Unlock()

	val := e.Value()
	s.unlinkEntry(e)
	s.releaseEntry(e, reason)
	return val, true
}

// Contains reports whether key currently has a live, unexpired entry.
func (s *Shard) Contains(key string, now time.Time) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	return ok && e.State() == AddedToCache && !e.IsExpired(now)
}

// Count returns the number of entries currently tracked (including ones not
// yet flushed past their deadline).
func (s *Shard) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entry returns the raw entry for key, for callers (the cache's change
// monitor) that need to inspect metadata beyond Get's state/value pair.
func (s *Shard) Entry(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e, ok
}

// linkNew registers a freshly inserted entry with the wheel/ladder and
// advances it to AddedToCache, undoing the registration if that CAS loses
// the race to a concurrent remove.
func (s *Shard) linkNew(e *Entry, now time.Time) {
	exp := e.AbsoluteExpiry()
	if !exp.Equal(MaxTime) {
		e.SetExpireHandle(s.wheel.Add(exp, e))
	}
	if e.EligibleForLadder(now) {
		e.SetUsageHandle(s.ladder.Add(e, now))
	}
	if !e.Transition(AddingToCache, AddedToCache) {
		s.unlinkEntry(e)
	}
}

func (s *Shard) unlinkEntry(e *Entry) {
	if h := e.ExpireHandle(); h.Valid() {
		s.wheel.Remove(h)
		e.SetExpireHandle(wheel.Handle{})
	}
	if h := e.UsageHandle(); h.Valid() {
		s.ladder.Remove(h)
		e.SetUsageHandle(ladder.Handle{})
	}
}

// releaseEntry fires the at-most-once removal callback and notifies
// dependent change monitors. Safe to call more than once; only the first
// call has any effect.
func (s *Shard) releaseEntry(e *Entry, reason RemovedReason) {
	if !e.released.CompareAndSwap(false, true) {
		return
	}
	e.Transition(e.State(), RemovedFromCache)
	e.notifyDependents()
	if e.removedCallback != nil {
		s.invokeRemovedCallback(e, reason)
	}
	e.Transition(RemovedFromCache, Closed)
}

func (s *Shard) invokeRemovedCallback(e *Entry, reason RemovedReason) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("removal callback panicked",
				zap.String("key", e.key),
				zap.Any("recovered", r),
			)
		}
	}()
	e.removedCallback(e.key, e.Value(), reason)
}

// FlushExpired walks the wheel once (subject to its own once-per-second
// throttle) and removes everything past its deadline, briefly quiescing
// inserts that would register with the ladder while the splice runs.
func (s *Shard) FlushExpired(now time.Time) int {
	s.blockInserts()
	defer s.unblockInserts()

	removed := 0
	s.wheel.Flush(now, func(ref wheel.Ref) {
		e, ok := ref.(*Entry)
		if !ok {
			return
		}
		s.mu.Lock()
		cur, present := s.entries[e.key]
		ours := present && cur == e
		if ours {
			ours = e.Transition(AddedToCache, RemovingFromCache) || e.Transition(AddingToCache, RemovingFromCache)
		}
		if ours {
			delete(s.entries, e.key)
		}
		s.mu.Unlock()
		if !ours {
			return
		}
		e.SetExpireHandle(wheel.Handle{})
		if h := e.UsageHandle(); h.Valid() {
			s.ladder.Remove(h)
			e.SetUsageHandle(ladder.Handle{})
		}
		s.releaseEntry(e, ReasonExpired)
		removed++
	})
	return removed
}

// Trim flushes expired entries and then evicts up to percent% of the
// remaining usage-ladder population, LRU-first.
func (s *Shard) Trim(percent int, now time.Time) int {
	s.FlushExpired(now)
	if percent <= 0 {
		return 0
	}
	total := s.ladder.Len()
	target := total * percent / 100
	if target <= 0 {
		return 0
	}
	return s.ladder.FlushUnderUsed(target, now, func(ref ladder.Ref) {
		e, ok := ref.(*Entry)
		if !ok {
			return
		}
		s.mu.Lock()
		cur, present := s.entries[e.key]
		ours := present && cur == e
		if ours {
			ours = e.Transition(AddedToCache, RemovingFromCache)
		}
		if ours {
			delete(s.entries, e.key)
		}
		s.mu.Unlock()
		if !ours {
			return
		}
		e.SetUsageHandle(ladder.Handle{})
		if h := e.ExpireHandle(); h.Valid() {
			s.wheel.Remove(h)
			e.SetExpireHandle(wheel.Handle{})
		}
		s.releaseEntry(e, ReasonEvicted)
	})
}

// LadderLen returns the number of entries currently tracked by the usage
// ladder.
func (s *Shard) LadderLen() int { return s.ladder.Len() }

// Close drains the shard. Removal callbacks only fire if
// fireDisposingCallbacks is set, matching the default configuration's
// suppression of ReasonDisposing.
func (s *Shard) Close(fireDisposingCallbacks bool) {
	s.mu.Lock()
	all := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	for _, e := range all {
		e.Transition(e.State(), RemovingFromCache)
		s.unlinkEntry(e)
		if fireDisposingCallbacks {
			s.releaseEntry(e, ReasonDisposing)
			continue
		}
		if e.released.CompareAndSwap(false, true) {
			e.notifyDependents()
			e.Transition(RemovedFromCache, Closed)
		}
	}
}
