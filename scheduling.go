package swanling

import (
	"sort"

	internalscheduler "github.com/swanling/swanling/internal/scheduler"
	internaluser "github.com/swanling/swanling/internal/user"
)

// taskSetSchedule is the scheduler's output for one task set: the derived
// on-start/main/on-stop weighted lists and the task table they index into,
// computed once per Execute rather than per spawned user.
type taskSetSchedule struct {
	tasks   []internaluser.TaskSpec
	onStart []internaluser.Entry
	main    []internaluser.Entry
	onStop  []internaluser.Entry
}

// buildTaskSetSchedule derives a task set's three weighted lists: tasks are
// split into on-start, main, and on-stop categories, and within each
// category further split into ascending sequence groups followed by the
// unsequenced remainder, each group allocated independently so a sequence
// group's own weights don't bleed into another group's ordering.
func buildTaskSetSchedule(ts *TaskSet, policy internalscheduler.Policy) taskSetSchedule {
	specs := make([]internaluser.TaskSpec, len(ts.Tasks))
	for i, t := range ts.Tasks {
		specs[i] = internaluser.TaskSpec{Name: t.Name, Function: adaptTaskFunc(t.Function)}
	}

	// A task flagged both on-start and on-stop lands in both lists; flagged
	// tasks never reach the main list.
	var onStartIdx, mainIdx, onStopIdx []int
	for i, t := range ts.Tasks {
		if t.OnStart {
			onStartIdx = append(onStartIdx, i)
		}
		if t.OnStop {
			onStopIdx = append(onStopIdx, i)
		}
		if !t.OnStart && !t.OnStop {
			mainIdx = append(mainIdx, i)
		}
	}

	// One GCD across every task weight in the set, shared by all groups: a
	// task's multiplicity is weight/gcd(set) even when its category or
	// sequence group holds that task alone.
	allWeights := make([]int, len(ts.Tasks))
	for i, t := range ts.Tasks {
		allWeights[i] = t.Weight
	}
	setGCD := internalscheduler.GCD(allWeights)

	sched := taskSetSchedule{tasks: specs}
	sched.onStart = scheduleSequencedGroup(onStartIdx, ts.Tasks, setGCD, policy)
	sched.main = scheduleSequencedGroup(mainIdx, ts.Tasks, setGCD, policy)
	sched.onStop = scheduleSequencedGroup(onStopIdx, ts.Tasks, setGCD, policy)

	ts.WeightedOnStart = weightedEntries(sched.onStart)
	ts.WeightedMain = weightedEntries(sched.main)
	ts.WeightedOnStop = weightedEntries(sched.onStop)
	return sched
}

func weightedEntries(entries []internaluser.Entry) []WeightedEntry {
	if entries == nil {
		return nil
	}
	out := make([]WeightedEntry, len(entries))
	for i, e := range entries {
		out[i] = WeightedEntry{TaskIndex: e.TaskIndex, TaskName: e.TaskName}
	}
	return out
}

// scheduleSequencedGroup groups indices by ascending sequence number
// (0 = unsequenced, scheduled last) and allocates each group independently,
// concatenating the results in sequence order. setGCD is the GCD of the
// whole task set's weights, applied to every group's bucket construction.
func scheduleSequencedGroup(indices []int, tasks []*Task, setGCD int, policy internalscheduler.Policy) []internaluser.Entry {
	bySeq := make(map[int][]int)
	for _, i := range indices {
		bySeq[tasks[i].Sequence] = append(bySeq[tasks[i].Sequence], i)
	}

	var seqs []int
	for s := range bySeq {
		if s != 0 {
			seqs = append(seqs, s)
		}
	}
	sort.Ints(seqs)

	var out []internaluser.Entry
	for _, s := range seqs {
		out = append(out, scheduleGroup(bySeq[s], tasks, setGCD, policy)...)
	}
	out = append(out, scheduleGroup(bySeq[0], tasks, setGCD, policy)...)
	return out
}

// scheduleGroup allocates one flat group of task indices (already filtered
// to a single category/sequence) by weight, producing one full pass over
// every task in the group in the policy's order.
func scheduleGroup(indices []int, tasks []*Task, setGCD int, policy internalscheduler.Policy) []internaluser.Entry {
	if len(indices) == 0 {
		return nil
	}

	weights := make([]int, len(indices))
	for i, ti := range indices {
		weights[i] = tasks[ti].Weight
	}

	buckets := internalscheduler.BucketsReduced(weights, setGCD)
	total := 0
	for _, b := range buckets {
		total += len(b)
	}

	order := internalscheduler.Allocate(buckets, total, policy, nil)
	entries := make([]internaluser.Entry, len(order))
	for i, localIdx := range order {
		globalIdx := indices[localIdx]
		entries[i] = internaluser.Entry{TaskIndex: globalIdx, TaskName: tasks[globalIdx].Name}
	}
	return entries
}

// adaptTaskFunc wraps a public TaskFunc (bound to *User) as the user
// package's Handle-bound TaskFunc, so internal/user never imports the root
// package.
func adaptTaskFunc(fn TaskFunc) internaluser.TaskFunc {
	return func(h *internaluser.Handle) error {
		return fn(&User{handle: h})
	}
}
