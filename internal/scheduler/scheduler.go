// Package scheduler allocates task sets to simulated users, and tasks
// within a set to the main/on-start/on-stop lists, honoring weights,
// sequence groups, and one of three deterministic-or-random policies.
package scheduler

import (
	"math/rand"
)

// Policy selects how buckets of weighted items are interleaved into the
// final allocation order.
type Policy string

const (
	RoundRobin Policy = "round-robin"
	Serial     Policy = "serial"
	Random     Policy = "random"
)

// gcd returns the greatest common divisor of a and b.
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// GCD returns the greatest common divisor of all weights. It returns 1
// for an empty or all-zero input so callers never divide by zero.
func GCD(weights []int) int {
	result := 0
	for _, w := range weights {
		result = gcd(result, w)
	}
	if result == 0 {
		return 1
	}
	return result
}

// Buckets returns, for each index i, weights[i]/gcd(weights) copies of i —
// the bucket construction described in the scheduler component: weights
// are reduced by their greatest common divisor before allocation, so {10, 6}
// yields buckets of 5 and 3 entries. A weight below the divisor still gets
// one entry.
func Buckets(weights []int) [][]int {
	return BucketsReduced(weights, GCD(weights))
}

// BucketsReduced builds buckets with weights reduced by a caller-supplied
// divisor g rather than the slice's own GCD. Task sets use it so every
// sequence group of the set divides by the one GCD computed across the
// whole set's task weights, keeping a task's multiplicity weight/gcd(set)
// even when its group holds a single task.
func BucketsReduced(weights []int, g int) [][]int {
	if g < 1 {
		g = 1
	}
	buckets := make([][]int, len(weights))
	for i, w := range weights {
		count := w / g
		if count < 1 {
			count = 1
		}
		b := make([]int, count)
		for j := range b {
			b[j] = i
		}
		buckets[i] = b
	}
	return buckets
}

// Allocate produces an ordered slice of length n, assembled from the
// buckets according to policy. round-robin and serial are deterministic;
// random uses the supplied rng and gives no reproducibility guarantee.
func Allocate(buckets [][]int, n int, policy Policy, rng *rand.Rand) []int {
	switch policy {
	case Serial:
		return allocateSerial(buckets, n)
	case Random:
		return allocateRandom(buckets, n, rng)
	default:
		return allocateRoundRobin(buckets, n)
	}
}

func allocateSerial(buckets [][]int, n int) []int {
	out := make([]int, 0, n)
	for {
		for _, b := range buckets {
			for _, v := range b {
				out = append(out, v)
				if len(out) == n {
					return out
				}
			}
		}
		if totalLen(buckets) == 0 {
			break
		}
	}
	return out
}

func allocateRoundRobin(buckets [][]int, n int) []int {
	out := make([]int, 0, n)
	cursors := make([]int, len(buckets))
	total := totalLen(buckets)
	if total == 0 {
		return out
	}
	for len(out) < n {
		progressed := false
		for i, b := range buckets {
			if cursors[i] < len(b) {
				out = append(out, b[cursors[i]])
				cursors[i]++
				progressed = true
				if len(out) == n {
					return out
				}
			}
		}
		if !progressed {
			// every bucket drained this lap; start a new lap
			for i := range cursors {
				cursors[i] = 0
			}
		}
	}
	return out
}

func allocateRandom(buckets [][]int, n int, rng *rand.Rand) []int {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	// work on a mutable copy so repeated calls don't disturb the caller's buckets
	cursors := make([][]int, len(buckets))
	for i, b := range buckets {
		cp := make([]int, len(b))
		copy(cp, b)
		rng.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
		cursors[i] = cp
	}

	out := make([]int, 0, n)
	for len(out) < n {
		nonEmpty := make([]int, 0, len(cursors))
		for i, b := range cursors {
			if len(b) > 0 {
				nonEmpty = append(nonEmpty, i)
			}
		}
		if len(nonEmpty) == 0 {
			// all buckets exhausted: reshuffle and start a new lap
			for i, b := range buckets {
				cp := make([]int, len(b))
				copy(cp, b)
				rng.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
				cursors[i] = cp
			}
			continue
		}
		pick := nonEmpty[rng.Intn(len(nonEmpty))]
		b := cursors[pick]
		out = append(out, b[0])
		cursors[pick] = b[1:]
	}
	return out
}

func totalLen(buckets [][]int) int {
	total := 0
	for _, b := range buckets {
		total += len(b)
	}
	return total
}
