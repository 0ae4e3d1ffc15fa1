package metrics

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

// RequestKey returns the aggregate key for a method+name pair, "METHOD
// name", as described in the data model.
func RequestKey(method, name string) string {
	return fmt.Sprintf("%s %s", method, name)
}

// RequestAggregate holds the running counters for one "METHOD name" key.
type RequestAggregate struct {
	Method string
	Name   string

	Counter int64
	Success int64
	Fail    int64

	SumElapsedMS int64
	MinElapsedMS int64
	MaxElapsedMS int64

	Histogram *Histogram

	StatusCodes map[int]int64

	// Synthesized tracks coordinated-omission-synthesized samples
	// separately from the raw histogram, so reports can distinguish raw
	// observations from mitigation-synthesized ones.
	Synthesized      *Histogram
	SynthesizedCount int64
}

func newRequestAggregate(method, name string) *RequestAggregate {
	return &RequestAggregate{
		Method:      method,
		Name:        name,
		Histogram:   NewHistogram(),
		StatusCodes: make(map[int]int64),
		Synthesized: NewHistogram(),
	}
}

// AvgElapsedMS returns the mean elapsed time across raw (non-synthesized)
// observations, or 0 if none were recorded.
func (a *RequestAggregate) AvgElapsedMS() float64 {
	if a.Histogram.Total() == 0 {
		return 0
	}
	return float64(a.SumElapsedMS) / float64(a.Histogram.Total())
}

func (a *RequestAggregate) recordRaw(r *RequestRecord) {
	a.Counter++
	if r.Success {
		a.Success++
	} else {
		a.Fail++
	}

	a.SumElapsedMS += r.ElapsedMS
	if a.Histogram.Total() == 0 || r.ElapsedMS < a.MinElapsedMS {
		a.MinElapsedMS = r.ElapsedMS
	}
	if r.ElapsedMS > a.MaxElapsedMS {
		a.MaxElapsedMS = r.ElapsedMS
	}
	a.Histogram.Add(r.ElapsedMS)

	if r.Status != 0 {
		a.StatusCodes[r.Status]++
	}
}

func (a *RequestAggregate) recordSynthesized(elapsedMS int64, success bool) {
	a.Counter++
	a.SynthesizedCount++
	if success {
		a.Success++
	} else {
		a.Fail++
	}
	a.Synthesized.Add(elapsedMS)
}

// Percentile returns the p-th percentile elapsed time in milliseconds over
// the raw (non-synthesized) histogram.
func (a *RequestAggregate) Percentile(p float64) int64 {
	return a.Histogram.Percentile(p)
}

// ErrorAggregate holds the occurrence count for one (method, name,
// error_string) triple, keyed by hash per the data model.
type ErrorAggregate struct {
	Method      string
	Name        string
	ErrorString string
	Occurrences int64
}

// ErrorKey returns the stable hash key used to bucket error aggregates.
func ErrorKey(method, name, errString string) string {
	h := sha1.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(errString))
	return hex.EncodeToString(h.Sum(nil))
}

// TaskAggregate holds the running counters for one task, keyed by name.
type TaskAggregate struct {
	Name         string
	Counter      int64
	Success      int64
	Fail         int64
	SumElapsedMS int64
	Histogram    *Histogram
}

func newTaskAggregate(name string) *TaskAggregate {
	return &TaskAggregate{Name: name, Histogram: NewHistogram()}
}

func (a *TaskAggregate) record(r *TaskRecord) {
	a.Counter++
	if r.Success {
		a.Success++
	} else {
		a.Fail++
	}
	a.SumElapsedMS += r.ElapsedMS
	a.Histogram.Add(r.ElapsedMS)
}
