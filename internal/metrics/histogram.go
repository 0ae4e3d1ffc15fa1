package metrics

import "sort"

// Histogram is an integer-millisecond-bucket counter used to compute
// percentiles on demand rather than maintaining them incrementally.
type Histogram struct {
	buckets map[int64]int64
	total   int64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{buckets: make(map[int64]int64)}
}

// Add records one observation at elapsedMS.
func (h *Histogram) Add(elapsedMS int64) {
	if elapsedMS < 0 {
		elapsedMS = 0
	}
	h.buckets[elapsedMS]++
	h.total++
}

// Total returns the number of observations recorded.
func (h *Histogram) Total() int64 { return h.total }

// Percentile returns the smallest bucket b such that the cumulative count
// of observations at or below b is >= ceil(total * p), for p in (0, 1].
// It returns 0 if the histogram is empty.
func (h *Histogram) Percentile(p float64) int64 {
	if h.total == 0 {
		return 0
	}
	target := int64(p * float64(h.total))
	if target < 1 {
		target = 1
	}
	if float64(target) < p*float64(h.total) {
		target++ // ceiling
	}

	buckets := h.sortedKeys()
	var cumulative int64
	for _, b := range buckets {
		cumulative += h.buckets[b]
		if cumulative >= target {
			return b
		}
	}
	return buckets[len(buckets)-1]
}

func (h *Histogram) sortedKeys() []int64 {
	keys := make([]int64, 0, len(h.buckets))
	for k := range h.buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// StandardPercentiles are the percentiles reported in a metrics snapshot.
var StandardPercentiles = []float64{0.50, 0.75, 0.98, 0.99, 0.999, 0.9999}
