package user

import (
	"math/rand"
	"time"

	"github.com/swanling/swanling/internal/metrics"
	"github.com/swanling/swanling/internal/recorder"
)

// TaskFunc is a unit of load bound to a Handle rather than the public
// package's User, so this package never imports the root package and stays
// free of an import cycle.
type TaskFunc func(h *Handle) error

// TaskSpec is the scheduler's view of one task: just enough to invoke it
// and label its metrics.
type TaskSpec struct {
	Name     string
	Function TaskFunc
}

// Entry is one (task index, task name) pair in a derived weighted list.
type Entry struct {
	TaskIndex int
	TaskName  string
}

// Plan is everything a user needs to run: the three derived weighted
// lists, the task table they index into, the inter-task wait window, the
// owning task-set index (for task-metric labeling), and the coordinated-
// omission mitigation strategy.
type Plan struct {
	TaskSetIndex int
	Tasks        []TaskSpec

	// Host overrides the attack's global host for this user's handle, when
	// non-empty (a task set's per-set host override).
	Host string

	OnStart []Entry
	Main    []Entry
	OnStop  []Entry

	MinWaitMS int64
	MaxWaitMS int64

	Mitigation MitigationConfig
}

// MitigationConfig carries the coordinated-omission settings relevant to
// one user's main loop.
type MitigationConfig struct {
	Strategy   metrics.MitigationStrategy
	TrackTasks bool
}

// Command is sent on a user's control channel by the supervisor.
type Command int

const (
	// Exit tells the user to finish its current task, run on-stop tasks,
	// and return from Run.
	Exit Command = iota
)

// Run executes the on-start/main/on-stop sequence described in the user
// runtime component. It returns once the user has exited, either because
// cmd delivered Exit or ctx-style cancellation arrived via done. With an
// empty Main list it runs the on-start and on-stop tasks and returns at once.
func Run(h *Handle, plan Plan, cmd <-chan Command, done <-chan struct{}) {
	runPhase(h, plan, plan.OnStart)

	if len(plan.Main) > 0 {
		mainLoop(h, plan, cmd, done)
	}

	runPhase(h, plan, plan.OnStop)
}

func runPhase(h *Handle, plan Plan, entries []Entry) {
	for _, e := range entries {
		invokeTask(h, plan, e)
	}
}

func mainLoop(h *Handle, plan Plan, cmd <-chan Command, done <-chan struct{}) {
	tracker := metrics.NewCadenceTracker(plan.Mitigation.Strategy)
	var pendingGapMS, pendingCadenceMS int64

	for {
		loopStart := time.Now()

		for _, e := range plan.Main {
			if pendingGapMS > 0 {
				h.nextRequestGap(pendingGapMS, pendingCadenceMS)
				pendingGapMS, pendingCadenceMS = 0, 0
			}
			invokeTask(h, plan, e)

			if exited := waitOrExit(h, plan, cmd, done); exited {
				return
			}
		}

		passDurationMS := time.Since(loopStart).Milliseconds()
		expected, over, gap := tracker.Observe(passDurationMS)
		if over {
			pendingGapMS = gap
			pendingCadenceMS = expected
		}

		select {
		case c := <-cmd:
			if c == Exit {
				return
			}
		default:
		}
	}
}

// nextRequestGap arms the next emitted request record with the observed
// coordinated-omission gap, so the aggregator can synthesize the samples
// that would otherwise have been silently omitted.
func (h *Handle) nextRequestGap(gapMS, cadenceMS int64) {
	h.armedGapMS = gapMS
	h.armedCadenceMS = cadenceMS
}

func invokeTask(h *Handle, plan Plan, e Entry) {
	if e.TaskIndex < 0 || e.TaskIndex >= len(plan.Tasks) {
		return
	}
	spec := plan.Tasks[e.TaskIndex]
	if spec.Function == nil {
		return
	}

	start := time.Now()
	err := spec.Function(h)
	elapsed := time.Since(start)

	r := metrics.NewTaskRecord(plan.TaskSetIndex, e.TaskIndex, e.TaskName, elapsed, err == nil, h.UserID)
	if plan.Mitigation.TrackTasks && h.agg != nil {
		h.agg.Send(metrics.Record{Task: &r})
	}
	if h.rec != nil {
		h.rec.Send(recorder.Entry{Task: &recorder.TaskEntry{
			TimestampMS: r.TimestampMS, TaskSetIndex: r.TaskSetIndex, TaskIndex: r.TaskIndex,
			TaskName: r.TaskName, ElapsedMS: r.ElapsedMS, Success: r.Success, UserID: r.UserID,
		}})
	}
}

// waitOrExit sleeps a uniformly random duration in [min_wait_ms,
// max_wait_ms], checking for Exit at roughly 1-second granularity, and
// returns true if the user should stop.
func waitOrExit(h *Handle, plan Plan, cmd <-chan Command, done <-chan struct{}) bool {
	if plan.MaxWaitMS <= 0 {
		select {
		case c := <-cmd:
			return c == Exit
		case <-done:
			return true
		default:
			return false
		}
	}

	total := plan.MinWaitMS
	if plan.MaxWaitMS > plan.MinWaitMS {
		total += rand.Int63n(plan.MaxWaitMS - plan.MinWaitMS + 1)
	}

	remaining := total
	const tick = time.Second
	for remaining > 0 {
		step := tick
		if time.Duration(remaining)*time.Millisecond < tick {
			step = time.Duration(remaining) * time.Millisecond
		}
		timer := time.NewTimer(step)
		select {
		case c := <-cmd:
			timer.Stop()
			if c == Exit {
				return true
			}
		case <-done:
			timer.Stop()
			return true
		case <-timer.C:
		}
		remaining -= step.Milliseconds()
		h.cumulativeSleepMS += step.Milliseconds()
	}
	return false
}
