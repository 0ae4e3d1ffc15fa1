package swanling

import (
	"testing"

	internalscheduler "github.com/swanling/swanling/internal/scheduler"
)

func TestBuildTaskSetScheduleSeparatesStartMainStop(t *testing.T) {
	ts := NewTaskSet("mixed").
		RegisterTask(noopTask("start").SetOnStart()).
		RegisterTask(noopTask("main")).
		RegisterTask(noopTask("stop").SetOnStop())

	sched := buildTaskSetSchedule(ts, internalscheduler.RoundRobin)

	if len(sched.onStart) != 1 || sched.onStart[0].TaskName != "start" {
		t.Fatalf("onStart = %+v, want one entry named %q", sched.onStart, "start")
	}
	if len(sched.main) != 1 || sched.main[0].TaskName != "main" {
		t.Fatalf("main = %+v, want one entry named %q", sched.main, "main")
	}
	if len(sched.onStop) != 1 || sched.onStop[0].TaskName != "stop" {
		t.Fatalf("onStop = %+v, want one entry named %q", sched.onStop, "stop")
	}
}

func TestBuildTaskSetScheduleDualFlaggedTaskAppearsInBothLists(t *testing.T) {
	ts := NewTaskSet("dual").
		RegisterTask(noopTask("both").SetOnStart().SetOnStop()).
		RegisterTask(noopTask("main"))

	sched := buildTaskSetSchedule(ts, internalscheduler.RoundRobin)

	if len(sched.onStart) != 1 || sched.onStart[0].TaskName != "both" {
		t.Fatalf("onStart = %+v, want the dual-flagged task", sched.onStart)
	}
	if len(sched.onStop) != 1 || sched.onStop[0].TaskName != "both" {
		t.Fatalf("onStop = %+v, want the dual-flagged task", sched.onStop)
	}
	if len(sched.main) != 1 || sched.main[0].TaskName != "main" {
		t.Fatalf("main = %+v, want only the unflagged task", sched.main)
	}
}

// TestBuildTaskSetScheduleOrdersBySequence covers a mixed-weight sequenced
// set: t1(seq=1,w=2), t1b(seq=2,w=2), t2(seq=2), t3(seq=3).
// Each sequence group is allocated independently and the groups concatenate
// in ascending sequence order.
func TestBuildTaskSetScheduleOrdersBySequence(t *testing.T) {
	t1 := noopTask("t1")
	t1.SetSequence(1)
	t1.SetWeight(2)
	t1b := noopTask("t1b")
	t1b.SetSequence(2)
	t1b.SetWeight(2)
	t2 := noopTask("t2")
	t2.SetSequence(2)
	t3 := noopTask("t3")
	t3.SetSequence(3)

	ts := NewTaskSet("sequenced").RegisterTask(t1).RegisterTask(t1b).RegisterTask(t2).RegisterTask(t3)
	sched := buildTaskSetSchedule(ts, internalscheduler.RoundRobin)

	// The set's weights are {2,2,1,1}, gcd 1, so every group divides by 1:
	// t1 keeps both its entries even though it is alone in its group.
	if len(sched.main) != 6 {
		t.Fatalf("got %d main entries, want 6 (2 + 3 + 1)", len(sched.main))
	}
	if sched.main[0].TaskName != "t1" || sched.main[1].TaskName != "t1" {
		t.Fatalf("first group = %+v, want t1 twice", sched.main[:2])
	}

	// group 2 (t1b weight=2, t2 weight=1): three entries total, round-robin
	// ordered by their relative weight within the group.
	group2 := sched.main[2:5]
	counts := map[string]int{}
	for _, e := range group2 {
		counts[e.TaskName]++
	}
	if counts["t1b"] != 2 || counts["t2"] != 1 {
		t.Fatalf("sequence group 2 counts = %+v, want t1b:2 t2:1", counts)
	}

	// group 3 (t3 alone) comes last.
	if sched.main[5].TaskName != "t3" {
		t.Fatalf("last entry = %+v, want t3", sched.main[5])
	}
}

func TestBuildTaskSetScheduleUnsequencedRunsLast(t *testing.T) {
	seq := noopTask("seq")
	seq.SetSequence(1)
	unseq := noopTask("unseq")

	ts := NewTaskSet("mix").RegisterTask(unseq).RegisterTask(seq)
	sched := buildTaskSetSchedule(ts, internalscheduler.RoundRobin)

	if len(sched.main) != 2 {
		t.Fatalf("got %d entries, want 2", len(sched.main))
	}
	if sched.main[0].TaskName != "seq" {
		t.Fatalf("first entry = %q, want the sequenced task to run before the unsequenced one", sched.main[0].TaskName)
	}
	if sched.main[1].TaskName != "unseq" {
		t.Fatalf("second entry = %q, want the unsequenced task last", sched.main[1].TaskName)
	}
}
