// Package throttle implements the global request throttle: a fixed-
// capacity token bucket that bounds the aggregate request rate across every
// simulated user, independent of how many users are running.
package throttle

import (
	"time"
)

// Throttle gates requests to a steady-state rate of N per second. Users
// acquire a token before issuing a request; a dedicated producer goroutine
// refills the channel at the configured rate. A nil *Throttle means
// throttling is disabled, and callers should skip acquisition entirely.
type Throttle struct {
	tokens   chan struct{}
	shutdown chan bool
	rate     int
}

// New returns a Throttle producing ratePerSecond tokens a second, with the
// channel pre-filled to ratePerSecond-1 tokens so the first second of the
// attack isn't throttled down to a single burst. ratePerSecond must be
// positive; callers with throttling disabled should not call New at all.
func New(ratePerSecond int) *Throttle {
	t := &Throttle{
		tokens:   make(chan struct{}, ratePerSecond),
		shutdown: make(chan bool, 1),
		rate:     ratePerSecond,
	}
	for i := 0; i < ratePerSecond-1; i++ {
		t.tokens <- struct{}{}
	}
	return t
}

// Acquire blocks until a token is available or ctx-like cancellation is
// signaled via done. It returns false if done fires first.
func (t *Throttle) Acquire(done <-chan struct{}) bool {
	if t == nil {
		return true
	}
	select {
	case <-t.tokens:
		return true
	case <-done:
		return false
	}
}

// Run produces tokens at the configured rate until Shutdown is called. It
// runs in its own goroutine; the supervisor starts it at the beginning of
// each Starting phase and shuts it down in Stopping.
func (t *Throttle) Run() {
	if t == nil {
		return
	}
	interval := time.Second / time.Duration(t.rate)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
				// channel full: steady state already reached, drop this tick
			}
		case <-t.shutdown:
			for {
				select {
				case <-t.tokens:
				default:
					return
				}
			}
		}
	}
}

// Shutdown signals the producer loop to drain and exit, matching the
// supervisor sending a single false value to the throttle's control input.
func (t *Throttle) Shutdown() {
	if t == nil {
		return
	}
	select {
	case t.shutdown <- false:
	default:
	}
}

// Len reports the number of tokens currently buffered, for the ops metrics
// gauge.
func (t *Throttle) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tokens)
}
