package metrics

import "testing"

func TestHistogramPercentileEmpty(t *testing.T) {
	h := NewHistogram()
	if p := h.Percentile(0.5); p != 0 {
		t.Fatalf("expected 0 for empty histogram, got %d", p)
	}
}

func TestHistogramPercentileBasic(t *testing.T) {
	h := NewHistogram()
	for _, v := range []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10} {
		h.Add(v)
	}
	if got := h.Percentile(0.5); got != 5 {
		t.Fatalf("p50 = %d, want 5", got)
	}
	if got := h.Percentile(1.0); got != 10 {
		t.Fatalf("p100 = %d, want 10", got)
	}
}

func TestHistogramPercentileSatisfiesCumulativeBound(t *testing.T) {
	h := NewHistogram()
	values := []int64{5, 5, 5, 10, 10, 20, 30, 30, 30, 30}
	for _, v := range values {
		h.Add(v)
	}
	total := h.Total()
	for _, p := range StandardPercentiles {
		b := h.Percentile(p)
		target := int64(p * float64(total))
		if target < 1 {
			target = 1
		}
		var cumulative int64
		for _, v := range values {
			if v <= b {
				cumulative++
			}
		}
		if cumulative < target {
			t.Fatalf("p=%v bucket=%d cumulative=%d < target=%d", p, b, cumulative, target)
		}
	}
}

func TestHistogramNegativeClampsToZero(t *testing.T) {
	h := NewHistogram()
	h.Add(-5)
	if got := h.Percentile(1.0); got != 0 {
		t.Fatalf("expected negative input clamped to 0, got %d", got)
	}
}
