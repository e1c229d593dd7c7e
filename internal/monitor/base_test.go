package monitor

import "testing"

func TestBaseAboveHighBelowLow(t *testing.T) {
	b := &base{high: 90, low: 80}
	if b.aboveHigh() {
		t.Fatalf("expected aboveHigh() = false before any sample")
	}
	if !b.belowLow() {
		t.Fatalf("expected belowLow() = true before any sample (nothing sampled yet)")
	}

	b.sample(95)
	if !b.aboveHigh() {
		t.Fatalf("expected aboveHigh() = true at 95 with high=90")
	}
	if b.belowLow() {
		t.Fatalf("expected belowLow() = false at 95 with low=80")
	}

	b.sample(50)
	if b.aboveHigh() {
		t.Fatalf("expected aboveHigh() = false at 50 with high=90")
	}
	if !b.belowLow() {
		t.Fatalf("expected belowLow() = true at 50 with low=80")
	}
}

func TestBaseSampleClampsToPercentRange(t *testing.T) {
	b := &base{high: 50, low: 10}
	b.sample(150)
	if b.pressure() != 100 {
		t.Fatalf("pressure() = %d, want 100 after an out-of-range sample", b.pressure())
	}
	b.sample(-20)
	if b.pressure() != 0 {
		t.Fatalf("pressure() = %d, want 0 after a negative sample", b.pressure())
	}
}

func TestClampPercent(t *testing.T) {
	cases := []struct{ p, lo, hi, want int }{
		{5, 10, 50, 10},
		{60, 10, 50, 50},
		{25, 10, 50, 25},
	}
	for _, c := range cases {
		if got := clampPercent(c.p, c.lo, c.hi); got != c.want {
			t.Fatalf("clampPercent(%d, %d, %d) = %d, want %d", c.p, c.lo, c.hi, got, c.want)
		}
	}
}
