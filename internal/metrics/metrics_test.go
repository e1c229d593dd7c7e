package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTrimIgnoresNoopPasses(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordTrim(10, 100, 0, time.Millisecond)
	if got := testutil.ToFloat64(r.trims); got != 0 {
		t.Fatalf("trims = %v, want 0 after a trim that evicted nothing", got)
	}
}

func TestRecordTrimAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordTrim(10, 100, 5, time.Millisecond)
	r.RecordTrim(20, 95, 3, time.Millisecond)

	if got := testutil.ToFloat64(r.trims); got != 2 {
		t.Fatalf("trims = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.trimmedEntries); got != 8 {
		t.Fatalf("trimmedEntries = %v, want 8", got)
	}
}

func TestRecordPressureSetsBothSourceLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.RecordPressure(75, 40)
	if got := testutil.ToFloat64(r.pressure.WithLabelValues("physical")); got != 75 {
		t.Fatalf("physical pressure = %v, want 75", got)
	}
	if got := testutil.ToFloat64(r.pressure.WithLabelValues("cache")); got != 40 {
		t.Fatalf("cache pressure = %v, want 40", got)
	}
}
