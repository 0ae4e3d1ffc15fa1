package attack

import (
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swanling/swanling/internal/controller"
	"github.com/swanling/swanling/internal/metrics"
	"github.com/swanling/swanling/internal/user"
)

func TestSupervisorRunsOneAttackThenShutsDown(t *testing.T) {
	var invocations atomic.Int64

	buildPlan := func(host string, n int) ([]user.Plan, error) {
		plans := make([]user.Plan, n)
		for i := range plans {
			plans[i] = user.Plan{
				Tasks: []user.TaskSpec{{Name: "noop", Function: func(h *user.Handle) error {
					invocations.Add(1)
					return nil
				}}},
				Main:      []user.Entry{{TaskIndex: 0, TaskName: "noop"}},
				MaxWaitMS: 0,
			}
		}
		return plans, nil
	}

	requests := make(chan controller.Request)
	agg := metrics.NewAggregator(metrics.Options{}, 64)
	go agg.Run()

	sup := New(Config{
		Initial: RunState{
			Host:              "http://example.invalid",
			Users:             1,
			HatchRate:         1000,
			RunTime:           20 * time.Millisecond,
			ShutdownAfterStop: true,
		},
		BuildPlan:  buildPlan,
		Aggregator: agg,
		Requests:   requests,
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not reach Shutdown in time")
	}

	if invocations.Load() == 0 {
		t.Fatalf("expected the task function to run at least once")
	}
}

func TestSupervisorAcceptsHostRequestWhileIdle(t *testing.T) {
	requests := make(chan controller.Request)
	agg := metrics.NewAggregator(metrics.Options{}, 16)
	go agg.Run()

	sup := New(Config{
		Initial: RunState{
			NoAutostart: true,
		},
		BuildPlan:  func(host string, n int) ([]user.Plan, error) { return nil, nil },
		Aggregator: agg,
		Requests:   requests,
	})

	go sup.Run()
	defer sup.RequestCancel()

	respCh := make(chan controller.Reply, 1)
	requests <- controller.Request{Command: controller.CmdHost, Value: "http://example.com", Reply: respCh}

	select {
	case reply := <-respCh:
		if !reply.Success {
			t.Fatalf("expected host command to succeed while idle, got %+v", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for host command reply")
	}
}

func TestSupervisorStopCommandInterruptsStarting(t *testing.T) {
	buildPlan := func(host string, n int) ([]user.Plan, error) {
		plans := make([]user.Plan, n)
		for i := range plans {
			plans[i] = user.Plan{
				Tasks: []user.TaskSpec{{Name: "noop", Function: func(h *user.Handle) error { return nil }}},
				Main:  []user.Entry{{TaskIndex: 0, TaskName: "noop"}},
			}
		}
		return plans, nil
	}

	requests := make(chan controller.Request, 1)
	agg := metrics.NewAggregator(metrics.Options{}, 64)
	go agg.Run()

	sup := New(Config{
		Initial: RunState{
			Host: "http://example.invalid",
			// a slow hatch keeps the supervisor in Starting long enough for
			// the stop command to arrive mid-spawn
			Users:     100,
			HatchRate: 2,
		},
		BuildPlan:  buildPlan,
		Aggregator: agg,
		Requests:   requests,
	})

	done := make(chan error, 1)
	go func() { done <- sup.Run() }()

	deadline := time.After(5 * time.Second)
	for sup.Phase() != Starting {
		select {
		case <-deadline:
			t.Fatalf("supervisor never reached Starting")
		case <-time.After(5 * time.Millisecond):
		}
	}

	respCh := make(chan controller.Reply, 1)
	requests <- controller.Request{Command: controller.CmdStop, Reply: respCh}
	select {
	case reply := <-respCh:
		if !reply.Success {
			t.Fatalf("stop during Starting should succeed, got %+v", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop reply while Starting")
	}

	for sup.Phase() != Idle {
		select {
		case <-deadline:
			t.Fatalf("supervisor never returned to Idle after stop")
		case <-time.After(5 * time.Millisecond):
		}
	}

	respCh = make(chan controller.Reply, 1)
	requests <- controller.Request{Command: controller.CmdShutdown, Reply: respCh}
	<-respCh

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor did not reach Shutdown after shutdown command")
	}
}

func TestRunStateJSONRoundTrip(t *testing.T) {
	state := RunState{
		Host:      "http://example.test",
		Users:     20,
		HatchRate: 2.5,
		RunTime:   90 * time.Second,
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got RunState
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != state {
		t.Fatalf("round trip changed the value: %+v != %+v", got, state)
	}
}

func TestPhaseString(t *testing.T) {
	cases := map[Phase]string{
		Idle: "idle", Starting: "starting", Running: "running",
		Stopping: "stopping", Shutdown: "shutdown",
	}
	for phase, want := range cases {
		if got := phase.String(); got != want {
			t.Fatalf("Phase(%d).String() = %q, want %q", phase, got, want)
		}
	}
}
