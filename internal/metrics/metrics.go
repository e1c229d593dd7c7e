// Package metrics is a thin abstraction over Prometheus so the cache can be
// used with or without metrics. When the caller passes a
// *prometheus.Registry via cache.WithMetrics, Recorder wraps labeled
// collectors registered on it; otherwise a no-op sink is used and the
// statistics loop's hot path does not pay for a label lookup.
//
// © 2025 objcache authors. MIT License.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Voskan/objcache/internal/monitor"
)

// Recorder implements monitor.StatisticsRecorder.
type Recorder struct {
	trims          *prometheus.CounterVec
	trimmedEntries *prometheus.CounterVec
	trimDuration   *prometheus.HistogramVec
	pressure       *prometheus.GaugeVec
}

var _ monitor.StatisticsRecorder = (*Recorder)(nil)

// New registers collectors on reg and returns a Recorder. reg must not be
// nil; callers wanting no metrics should use monitor.NopRecorder instead.
func New(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		trims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objcache",
			Name:      "trim_runs_total",
			Help:      "Number of statistics-loop-triggered trim passes.",
		}, nil),
		trimmedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objcache",
			Name:      "trimmed_entries_total",
			Help:      "Number of entries evicted by trim passes.",
		}, nil),
		trimDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "objcache",
			Name:      "trim_duration_seconds",
			Help:      "Duration of each trim pass.",
			Buckets:   prometheus.DefBuckets,
		}, nil),
		pressure: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "objcache",
			Name:      "pressure_percent",
			Help:      "Most recent pressure sample, by source.",
		}, []string{"source"}),
	}
	reg.MustRegister(r.trims, r.trimmedEntries, r.trimDuration, r.pressure)
	// Create the label-less counter series up front so they read 0 before
	// the first trim that evicts anything.
	r.trims.WithLabelValues()
	r.trimmedEntries.WithLabelValues()
	return r
}

// RecordTrim implements monitor.StatisticsRecorder.
func (r *Recorder) RecordTrim(percent, countBefore, countTrimmed int, duration time.Duration) {
	if countTrimmed <= 0 {
		return
	}
	r.trims.WithLabelValues().Inc()
	r.trimmedEntries.WithLabelValues().Add(float64(countTrimmed))
	r.trimDuration.WithLabelValues().Observe(duration.Seconds())
}

// RecordPressure implements monitor.StatisticsRecorder.
func (r *Recorder) RecordPressure(physical, cacheMem int) {
	r.pressure.WithLabelValues("physical").Set(float64(physical))
	r.pressure.WithLabelValues("cache").Set(float64(cacheMem))
}
