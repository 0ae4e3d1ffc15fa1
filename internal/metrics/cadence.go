package metrics

// MitigationStrategy selects how a user's expected pass cadence is derived
// from its observed pass durations, per the aggregator's coordinated-
// omission policy.
type MitigationStrategy string

const (
	MitigationDisabled MitigationStrategy = "disabled"
	MitigationAverage  MitigationStrategy = "average"
	MitigationMinimum  MitigationStrategy = "minimum"
	MitigationMaximum  MitigationStrategy = "maximum"
)

// CadenceTracker accumulates a single user's observed main-loop pass
// durations and flags passes that ran long enough to have silently omitted
// request samples. One tracker is owned per user; it is not safe for
// concurrent use.
type CadenceTracker struct {
	strategy MitigationStrategy

	seeded   bool
	expected int64 // current expected cadence, in milliseconds
	passes   int64 // count of passes folded into "expected" so far
}

// NewCadenceTracker returns a tracker for the given strategy. Disabled
// trackers always report no gap.
func NewCadenceTracker(strategy MitigationStrategy) *CadenceTracker {
	return &CadenceTracker{strategy: strategy}
}

// Observe records the duration of one full pass through the main task list
// and reports whether it exceeded twice the expected cadence. gapMS is the
// portion of passDurationMS attributable to omitted samples (zero unless
// overCadence is true).
func (c *CadenceTracker) Observe(passDurationMS int64) (expectedMS int64, overCadence bool, gapMS int64) {
	if c.strategy == MitigationDisabled || c.strategy == "" {
		return passDurationMS, false, 0
	}

	if !c.seeded {
		c.expected = passDurationMS
		c.passes = 1
		c.seeded = true
		return c.expected, false, 0
	}

	expectedMS = c.expected
	if passDurationMS > expectedMS*2 {
		overCadence = true
		gapMS = passDurationMS - expectedMS
	}

	switch c.strategy {
	case MitigationAverage:
		c.passes++
		c.expected = c.expected + (passDurationMS-c.expected)/c.passes
	case MitigationMinimum:
		if passDurationMS < c.expected {
			c.expected = passDurationMS
		}
	case MitigationMaximum:
		if passDurationMS > c.expected {
			c.expected = passDurationMS
		}
	}

	return expectedMS, overCadence, gapMS
}

// SynthesizedSamples returns the elapsed-millisecond values of the
// additional request samples implied by a gap of gapMS beyond the expected
// cadenceMS, one per extra cadence the gap contained, each expressed as the
// remaining gap after subtracting that many cadence periods.
func SynthesizedSamples(gapMS, cadenceMS int64) []int64 {
	if cadenceMS <= 0 || gapMS <= 0 {
		return nil
	}
	extra := gapMS/cadenceMS - 1
	if extra < 1 {
		return nil
	}
	samples := make([]int64, 0, extra)
	for j := int64(1); j <= extra; j++ {
		samples = append(samples, gapMS-j*cadenceMS)
	}
	return samples
}
