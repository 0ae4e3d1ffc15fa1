package metrics

import (
	"sync"
)

// Options controls which optional aggregations the Aggregator performs,
// mirroring the configuration flags that gate them.
type Options struct {
	TrackTasks        bool
	TrackErrorSummary bool
	TrackStatusCodes  bool
}

// Snapshot is a point-in-time, read-only copy of the aggregator's state,
// suitable for a running-metrics display or a controller "metrics" reply.
type Snapshot struct {
	Requests map[string]RequestSnapshot
	Tasks    map[string]TaskSnapshot
	Errors   map[string]ErrorAggregate
}

// RequestSnapshot is the reportable view of a RequestAggregate: counters
// plus the standard percentile set computed on demand.
type RequestSnapshot struct {
	Method           string
	Name             string
	Counter          int64
	Success          int64
	Fail             int64
	AvgElapsedMS     float64
	MinElapsedMS     int64
	MaxElapsedMS     int64
	SynthesizedCount int64
	StatusCodes      map[int]int64
	Percentiles      map[float64]int64
}

// TaskSnapshot is the reportable view of a TaskAggregate.
type TaskSnapshot struct {
	Name         string
	Counter      int64
	Success      int64
	Fail         int64
	AvgElapsedMS float64
	Percentiles  map[float64]int64
}

// Aggregator consumes a single unbounded channel of Records and folds them
// into running per-request, per-task, and per-error aggregates. It is
// driven by one goroutine (Run); Snapshot and Reset may be called
// concurrently from any goroutine. A nil *Aggregator means metrics tracking
// is disabled (NoMetrics): DrainAvailable, Reset, and Snapshot are no-ops on
// a nil receiver (Snapshot returns a zero Snapshot), mirroring the
// throttle's nil-means-disabled convention, so the supervisor never needs
// to branch on whether metrics are enabled. Send, Close, and Run are not
// nil-safe; callers holding a possibly-nil Aggregator check it first.
type Aggregator struct {
	opts Options

	mu       sync.RWMutex
	requests map[string]*RequestAggregate
	tasks    map[string]*TaskAggregate
	errors   map[string]*ErrorAggregate

	in chan Record
}

// NewAggregator returns an Aggregator with an unbounded-in-practice input
// channel of the given buffer size. Callers send records with Send and
// close the channel (via Close) once every user has stopped.
func NewAggregator(opts Options, bufferSize int) *Aggregator {
	return &Aggregator{
		opts:     opts,
		requests: make(map[string]*RequestAggregate),
		tasks:    make(map[string]*TaskAggregate),
		errors:   make(map[string]*ErrorAggregate),
		in:       make(chan Record, bufferSize),
	}
}

// Send enqueues a record. It blocks if the buffer is full, applying
// backpressure to the emitting user rather than dropping samples.
func (a *Aggregator) Send(r Record) {
	a.in <- r
}

// Close signals that no further records will be sent.
func (a *Aggregator) Close() {
	close(a.in)
}

// Run drains the input channel and folds every record into the running
// aggregates until the channel is closed. It returns once draining is
// complete, matching the supervisor's final drain on Stopping exit.
func (a *Aggregator) Run() {
	for r := range a.in {
		a.fold(r)
	}
}

// DrainAvailable folds every record currently buffered on the channel
// without blocking, matching the supervisor's twice-per-second drain while
// Running. It returns the number of records folded.
func (a *Aggregator) DrainAvailable() int {
	if a == nil {
		return 0
	}
	n := 0
	for {
		select {
		case r, ok := <-a.in:
			if !ok {
				return n
			}
			a.fold(r)
			n++
		default:
			return n
		}
	}
}

func (a *Aggregator) fold(r Record) {
	switch {
	case r.Request != nil:
		a.foldRequest(r.Request)
	case r.Task != nil:
		if a.opts.TrackTasks {
			a.foldTask(r.Task)
		}
	case r.Error != nil:
		if a.opts.TrackErrorSummary {
			a.foldError(r.Error)
		}
	}
}

func (a *Aggregator) foldRequest(r *RequestRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := RequestKey(r.Method, r.Name)
	agg := a.requests[key]
	if agg == nil {
		agg = newRequestAggregate(r.Method, r.Name)
		a.requests[key] = agg
	}

	if !a.opts.TrackStatusCodes {
		r = &RequestRecord{ // avoid mutating the caller's record
			TimestampMS: r.TimestampMS, Method: r.Method, Name: r.Name,
			ElapsedMS: r.ElapsedMS, Success: r.Success, Update: r.Update,
			UserID: r.UserID, ErrorString: r.ErrorString,
			GapMS: r.GapMS, CadenceMS: r.CadenceMS,
		}
	}
	agg.recordRaw(r)
	ObserveRequest(r.Method, r.Name, float64(r.ElapsedMS)/1000, r.Success)

	if !r.Success && a.opts.TrackErrorSummary && r.ErrorString != "" {
		a.foldErrorLocked(r.Method, r.Name, r.ErrorString)
	}

	if r.Update && r.GapMS > 0 && r.CadenceMS > 0 {
		for _, elapsed := range SynthesizedSamples(r.GapMS, r.CadenceMS) {
			agg.recordSynthesized(elapsed, r.Success)
			SynthesizedSamplesTotal.WithLabelValues(r.Method, r.Name).Inc()
		}
	}
}

func (a *Aggregator) foldTask(r *TaskRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()

	agg := a.tasks[r.TaskName]
	if agg == nil {
		agg = newTaskAggregate(r.TaskName)
		a.tasks[r.TaskName] = agg
	}
	agg.record(r)
	ObserveTask(r.TaskName, r.Success)
}

func (a *Aggregator) foldError(r *ErrorRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.foldErrorLocked(r.Method, r.Name, r.ErrorString)
}

func (a *Aggregator) foldErrorLocked(method, name, errString string) {
	key := ErrorKey(method, name, errString)
	agg := a.errors[key]
	if agg == nil {
		agg = &ErrorAggregate{Method: method, Name: name, ErrorString: errString}
		a.errors[key] = agg
	}
	agg.Occurrences++
	ObserveError(method, name, errString)
}

// Snapshot returns a read-only copy of the current aggregate state,
// including percentiles computed on demand from each histogram.
func (a *Aggregator) Snapshot() Snapshot {
	if a == nil {
		return Snapshot{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := Snapshot{
		Requests: make(map[string]RequestSnapshot, len(a.requests)),
		Tasks:    make(map[string]TaskSnapshot, len(a.tasks)),
		Errors:   make(map[string]ErrorAggregate, len(a.errors)),
	}

	for key, agg := range a.requests {
		statusCodes := make(map[int]int64, len(agg.StatusCodes))
		for code, n := range agg.StatusCodes {
			statusCodes[code] = n
		}
		snap.Requests[key] = RequestSnapshot{
			Method:           agg.Method,
			Name:             agg.Name,
			Counter:          agg.Counter,
			Success:          agg.Success,
			Fail:             agg.Fail,
			AvgElapsedMS:     agg.AvgElapsedMS(),
			MinElapsedMS:     agg.MinElapsedMS,
			MaxElapsedMS:     agg.MaxElapsedMS,
			SynthesizedCount: agg.SynthesizedCount,
			StatusCodes:      statusCodes,
			Percentiles:      percentiles(agg.Histogram),
		}
	}

	for name, agg := range a.tasks {
		avg := 0.0
		if agg.Histogram.Total() > 0 {
			avg = float64(agg.SumElapsedMS) / float64(agg.Histogram.Total())
		}
		snap.Tasks[name] = TaskSnapshot{
			Name:         agg.Name,
			Counter:      agg.Counter,
			Success:      agg.Success,
			Fail:         agg.Fail,
			AvgElapsedMS: avg,
			Percentiles:  percentiles(agg.Histogram),
		}
	}

	for key, agg := range a.errors {
		snap.Errors[key] = *agg
	}

	return snap
}

func percentiles(h *Histogram) map[float64]int64 {
	out := make(map[float64]int64, len(StandardPercentiles))
	for _, p := range StandardPercentiles {
		out[p] = h.Percentile(p)
	}
	return out
}

// Reset zeroes every aggregate, matching the reset-on-launch behavior when
// Starting transitions to Running with reset enabled.
func (a *Aggregator) Reset() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = make(map[string]*RequestAggregate)
	a.tasks = make(map[string]*TaskAggregate)
	a.errors = make(map[string]*ErrorAggregate)
}
