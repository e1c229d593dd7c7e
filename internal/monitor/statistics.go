package monitor

import (
	"time"

	"go.uber.org/zap"

	"github.com/Voskan/objcache/internal/periodic"
)

const (
	defaultPollingInterval = 20 * time.Second
	highPressureInterval   = 5 * time.Second
	idleInterval           = 30 * time.Second
)

// TrimFunc performs the actual eviction work; it returns how many entries
// were removed.
type TrimFunc func(percent int) (removed int)

// CountFunc reports the current number of live entries.
type CountFunc func() int

// StatisticsLoop is the periodic timer that samples both memory monitors
// on every tick, adjusts its own polling interval based on pressure, and
// asks the cache to trim when pressure crosses the high watermark.
type StatisticsLoop struct {
	physical *PhysicalMemoryMonitor
	cacheMem *CacheMemoryMonitor
	trim     TrimFunc
	count    CountFunc
	logger   *zap.Logger
	metrics  StatisticsRecorder
	onSample func()

	callback *periodic.Callback
}

// StatisticsRecorder receives observability callbacks the loop emits each
// tick; Cache wires this to its metrics sink (or a no-op when metrics are
// disabled).
type StatisticsRecorder interface {
	RecordTrim(percent int, countBefore, countTrimmed int, duration time.Duration)
	RecordPressure(physical, cacheMem int)
}

type nopRecorder struct{}

func (nopRecorder) RecordTrim(int, int, int, time.Duration) {}
func (nopRecorder) RecordPressure(int, int)                 {}

// NopRecorder is a StatisticsRecorder that discards everything.
var NopRecorder StatisticsRecorder = nopRecorder{}

// NewStatisticsLoop constructs and starts the loop. onSample, if non-nil, is
// invoked once per tick after both monitors have been sampled; Cache wires
// this to push the cache-memory estimate out through any registered
// SizeAccountingHook.
func NewStatisticsLoop(physical *PhysicalMemoryMonitor, cacheMem *CacheMemoryMonitor, trim TrimFunc, count CountFunc, logger *zap.Logger, metrics StatisticsRecorder, onSample func()) *StatisticsLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NopRecorder
	}
	s := &StatisticsLoop{
		physical: physical,
		cacheMem: cacheMem,
		trim:     trim,
		count:    count,
		logger:   logger,
		metrics:  metrics,
		onSample: onSample,
	}
	s.callback = periodic.New(defaultPollingInterval, s.tick)
	return s
}

func (s *StatisticsLoop) tick(now time.Time) {
	s.physical.Sample()
	s.cacheMem.Sample()
	s.metrics.RecordPressure(s.physical.pressure(), s.cacheMem.pressure())
	if s.onSample != nil {
		s.onSample()
	}

	interval := s.callback.Interval()
	switch {
	case s.physical.AboveHigh() || s.cacheMem.AboveHigh():
		interval = highPressureInterval
	case s.physical.BelowLow() && s.cacheMem.BelowLow():
		interval = idleInterval
	default:
		interval = defaultPollingInterval
	}
	if interval != s.callback.Interval() {
		// SetInterval restarts the worker goroutine from within its own
		// tick, which would deadlock (SetInterval waits for the very
		// goroutine calling it to exit); defer the restart to a fresh
		// goroutine instead.
		go s.callback.SetInterval(interval)
	}

	percent := s.physical.PercentToTrim(s.callback.Interval())
	if cp := s.cacheMem.PercentToTrim(s.callback.Interval()); cp > percent {
		percent = cp
	}
	if percent == 0 {
		return
	}

	before := 0
	if s.count != nil {
		before = s.count()
	}
	start := time.Now()
	trimmed := s.trim(percent)
	elapsed := time.Since(start)

	s.logger.Debug("statistics loop trimmed cache",
		zap.Int("percent", percent),
		zap.Int("count_before", before),
		zap.Int("count_trimmed", trimmed),
		zap.Duration("duration", elapsed),
	)
	s.metrics.RecordTrim(percent, before, trimmed, elapsed)
}

// Close stops the loop.
func (s *StatisticsLoop) Close() {
	s.callback.Stop()
}
