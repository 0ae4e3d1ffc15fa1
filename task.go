// Package swanling is a distributed HTTP load-generation framework. Callers
// register one or more TaskSets of TaskFuncs and hand them to an Attack,
// which spawns a population of simulated Users that execute the tasks in a
// weighted, possibly sequenced order while the engine collects per-request,
// per-task, and per-error metrics.
package swanling

import (
	"fmt"
)

// TaskFunc is a unit of load, usually issuing one HTTP request against a
// User. It returns an error to signal a failed task invocation — the user
// loop records the failure as a task metric and continues to the next task.
type TaskFunc func(user *User) error

// Task is an immutable description of one TaskFunc: a name (purely
// informational, may be empty), a scheduling weight, an optional sequence
// group, and whether it runs once at user start or stop instead of being
// part of the repeating main loop.
//
// In a language with cheap closures a Task would simply hold a captured
// closure; here a Task holds a plain func value and any captured state the
// caller needs must be closed over by the caller when constructing the
// TaskFunc (or carried on a small struct with a bound method, for the
// "closure with borrowed captures" pattern described in the engine's design
// notes).
type Task struct {
	Name     string
	Weight   int
	Sequence int
	OnStart  bool
	OnStop   bool
	Function TaskFunc
}

// NewTask returns a Task with weight 1, unsequenced, running as part of the
// main loop. Use the SetX methods (each returns the receiver, following the
// engine's builder-chain convention) to customize it before registering it
// on a TaskSet.
func NewTask(name string, fn TaskFunc) *Task {
	return &Task{Name: name, Weight: 1, Function: fn}
}

// SetWeight sets the task's scheduling weight; it must be positive.
func (t *Task) SetWeight(weight int) *Task {
	t.Weight = weight
	return t
}

// SetSequence puts the task in the given sequence group (0 = unsequenced).
// Sequence groups run in ascending order before unsequenced tasks.
func (t *Task) SetSequence(sequence int) *Task {
	t.Sequence = sequence
	return t
}

// SetOnStart marks the task to run once when a user starts, instead of
// participating in the repeating main loop.
func (t *Task) SetOnStart() *Task {
	t.OnStart = true
	return t
}

// SetOnStop marks the task to run once when a user stops.
func (t *Task) SetOnStop() *Task {
	t.OnStop = true
	return t
}

func (t *Task) validate() error {
	if t.Weight < 1 {
		return fmt.Errorf("task %q: weight must be positive, got %d", t.Name, t.Weight)
	}
	if t.Sequence < 0 {
		return fmt.Errorf("task %q: sequence must be non-negative, got %d", t.Name, t.Sequence)
	}
	if t.Function == nil {
		return fmt.Errorf("task %q: function must not be nil", t.Name)
	}
	return nil
}

// WeightedEntry is one (task index, task name) pair in a derived scheduling
// list — the output of the scheduler component.
type WeightedEntry struct {
	TaskIndex int
	TaskName  string
}

// TaskSet is a named, weighted, ordered collection of Tasks executed by a
// population of Users against one optional per-set host override.
type TaskSet struct {
	Name   string
	Weight int

	MinWaitMS int64
	MaxWaitMS int64

	// Host, if non-empty, overrides the attack's global host for every User
	// allocated to this TaskSet.
	Host string

	Tasks []*Task

	// WeightedOnStart, WeightedMain, WeightedOnStop are populated by the
	// scheduler once allocation runs; they are nil before that.
	WeightedOnStart []WeightedEntry
	WeightedMain    []WeightedEntry
	WeightedOnStop  []WeightedEntry
}

// NewTaskSet returns a TaskSet with weight 1 and a zero wait window.
func NewTaskSet(name string) *TaskSet {
	return &TaskSet{Name: name, Weight: 1}
}

// SetWeight sets the task set's scheduling weight; it must be positive.
func (ts *TaskSet) SetWeight(weight int) *TaskSet {
	ts.Weight = weight
	return ts
}

// SetWait sets the inter-task wait window in milliseconds; min must be <=
// max. A zero window produces no sleep between tasks.
func (ts *TaskSet) SetWait(minMS, maxMS int64) *TaskSet {
	ts.MinWaitMS = minMS
	ts.MaxWaitMS = maxMS
	return ts
}

// SetHost overrides the global host for users allocated to this task set.
func (ts *TaskSet) SetHost(host string) *TaskSet {
	ts.Host = host
	return ts
}

// RegisterTask appends a task to the set and returns ts, so registration
// calls can be chained: ts.RegisterTask(t1).RegisterTask(t2).
func (ts *TaskSet) RegisterTask(t *Task) *TaskSet {
	ts.Tasks = append(ts.Tasks, t)
	return ts
}

func (ts *TaskSet) validate() error {
	if ts.Name == "" {
		return fmt.Errorf("task set must have a name")
	}
	if ts.Weight < 1 {
		return fmt.Errorf("task set %q: weight must be positive, got %d", ts.Name, ts.Weight)
	}
	if ts.MinWaitMS > ts.MaxWaitMS {
		return fmt.Errorf("task set %q: min_wait_ms (%d) must be <= max_wait_ms (%d)", ts.Name, ts.MinWaitMS, ts.MaxWaitMS)
	}
	if len(ts.Tasks) == 0 {
		return fmt.Errorf("task set %q: must register at least one task", ts.Name)
	}
	for _, t := range ts.Tasks {
		if err := t.validate(); err != nil {
			return fmt.Errorf("task set %q: %w", ts.Name, err)
		}
	}
	return nil
}
