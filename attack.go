package swanling

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/swanling/swanling/internal/attack"
	"github.com/swanling/swanling/internal/config"
	"github.com/swanling/swanling/internal/controller"
	"github.com/swanling/swanling/internal/metrics"
	"github.com/swanling/swanling/internal/recorder"
	internalscheduler "github.com/swanling/swanling/internal/scheduler"
	"github.com/swanling/swanling/internal/throttle"
	internaluser "github.com/swanling/swanling/internal/user"
)

// Attack is the public entry point: it owns the registered task sets and
// the effective configuration, and assembles every internal component
// (scheduler, metrics aggregator, throttle, recorder, controller listeners,
// and the attack supervisor) when Execute runs.
type Attack struct {
	id       uuid.UUID
	cfg      *config.Config
	taskSets []*TaskSet
	log      *logrus.Logger

	// testStart and testStop run once per Starting→Stopping cycle: testStart
	// after every user has been spawned, testStop after every user has exited.
	testStart func()
	testStop  func()

	// agg is retained after Execute returns so Snapshot can report the
	// run's final metrics; nil if metrics tracking was disabled.
	agg *metrics.Aggregator
}

// NewAttack returns an Attack bound to cfg. cfg is validated, together with
// the registered task sets, when Execute runs. id is a fresh run identifier,
// reported in the attack's log fields (run_id) and returned by ID — useful
// for correlating one run's metrics and logs when many runs are driven from
// the same binary.
func NewAttack(cfg *config.Config) *Attack {
	return &Attack{id: uuid.New(), cfg: cfg}
}

// ID returns this run's identifier.
func (a *Attack) ID() uuid.UUID { return a.id }

// Snapshot returns the most recent metrics snapshot from the last (or
// still-running) Execute call. It returns a zero Snapshot before the first
// Execute call, or if the configuration disabled metrics tracking.
func (a *Attack) Snapshot() metrics.Snapshot { return a.agg.Snapshot() }

// RegisterTaskSet appends ts to the attack and returns a, following the
// engine's builder-chain convention.
func (a *Attack) RegisterTaskSet(ts *TaskSet) *Attack {
	a.taskSets = append(a.taskSets, ts)
	return a
}

// WithLogger overrides the operational logger built from the engine's
// default applog configuration.
func (a *Attack) WithLogger(log *logrus.Logger) *Attack {
	a.log = log
	return a
}

// WithTestStart registers fn to run once when the population has finished
// spawning, before the run officially begins.
func (a *Attack) WithTestStart(fn func()) *Attack {
	a.testStart = fn
	return a
}

// WithTestStop registers fn to run once after every user has exited and the
// final metrics drain has completed.
func (a *Attack) WithTestStop(fn func()) *Attack {
	a.testStop = fn
	return a
}

// Execute validates the attack's configuration and task sets, wires up
// every internal component, and runs the attack supervisor's state machine
// until it reaches Shutdown (or ctx is canceled). It blocks for the
// lifetime of the run.
func (a *Attack) Execute(ctx context.Context) error {
	if err := a.cfg.Validate(len(a.taskSets)); err != nil {
		return err
	}
	for _, ts := range a.taskSets {
		if err := ts.validate(); err != nil {
			return err
		}
	}

	log := a.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	entry := log.WithField("run_id", a.id.String())

	policy := internalscheduler.Policy(a.cfg.SchedulerPolicy)
	mitigation := metrics.MitigationStrategy(a.cfg.CoordinatedOmissionMitigation)

	schedules := make([]taskSetSchedule, len(a.taskSets))
	for i, ts := range a.taskSets {
		schedules[i] = buildTaskSetSchedule(ts, policy)
	}

	var agg *metrics.Aggregator
	if !a.cfg.NoMetrics {
		agg = metrics.NewAggregator(metrics.Options{
			TrackTasks:        !a.cfg.NoTaskMetrics,
			TrackErrorSummary: !a.cfg.NoErrorSummary,
			TrackStatusCodes:  a.cfg.StatusCodes,
		}, 4096)
		go agg.Run()
		defer agg.Close()
	}
	a.agg = agg

	var thr *throttle.Throttle
	if a.cfg.ThrottleRequests > 0 {
		thr = throttle.New(a.cfg.ThrottleRequests)
	}

	recCfg := recorder.Config{
		Request: toFileSink(a.cfg.RequestLog),
		Task:    toFileSink(a.cfg.TaskLog),
		Error:   toFileSink(a.cfg.ErrorLog),
		Debug:   toFileSink(a.cfg.DebugLog),
	}
	var rec *recorder.Sink
	if recCfg.Enabled() {
		rec = recorder.New(recCfg, entry.WithField("component", "recorder"))
	}

	var metricsServer *metrics.Server
	if !a.cfg.NoMetrics && a.cfg.RunningMetricsIntervalSeconds > 0 {
		metricsServer = metrics.NewServer(":9753", "/metrics", entry.WithField("component", "metrics-server"))
		if err := metricsServer.Start(); err != nil {
			entry.WithField("error", err).Warn("failed to start prometheus metrics server")
			metricsServer = nil
		}
	}

	session := &atomic.Int64{}
	requests := make(chan controller.Request, 16)

	listenerCtx, cancelListeners := context.WithCancel(ctx)
	defer cancelListeners()

	group, groupCtx := errgroup.WithContext(listenerCtx)

	var lineListener *controller.LineListener
	if a.cfg.ControllerLineAddr != "" {
		lineListener = controller.NewLineListener(a.cfg.ControllerLineAddr, requests, session, entry.WithField("component", "controller-line"))
		group.Go(func() error { return lineListener.Serve(groupCtx) })
	}

	var framedListener *controller.FramedListener
	if a.cfg.ControllerFramedAddr != "" {
		framedListener = controller.NewFramedListener(a.cfg.ControllerFramedAddr, requests, session, entry.WithField("component", "controller-framed"))
		group.Go(func() error { return framedListener.Serve(groupCtx) })
	}

	sup := attack.New(attack.Config{
		Initial: attack.RunState{
			Host:           a.cfg.Host,
			Users:          a.cfg.Users,
			HatchRate:      a.cfg.HatchRate,
			RunTime:        a.cfg.RunTime,
			NoAutostart:    a.cfg.NoAutostart,
			NoResetMetrics: a.cfg.NoResetMetrics,
		},
		BuildPlan:  a.buildPlan(schedules, policy, mitigation),
		Hooks:      attack.TestHooks{OnStart: a.testStart, OnStop: a.testStop},
		Aggregator: agg,
		Recorder:   rec,
		Throttle:   thr,
		Requests:   requests,
		Log:        entry.WithField("component", "supervisor"),

		RunningMetricsInterval: time.Duration(a.cfg.RunningMetricsIntervalSeconds) * time.Second,
	})

	go func() {
		<-ctx.Done()
		sup.RequestCancel()
	}()

	runErr := sup.Run()

	cancelListeners()
	if lineListener != nil {
		_ = lineListener.Stop()
	}
	if framedListener != nil {
		_ = framedListener.Stop()
	}
	_ = group.Wait()

	if metricsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Stop(stopCtx)
	}

	return runErr
}

// buildPlan returns the attack.PlanBuilder the supervisor invokes on every
// Starting transition: it allocates the n users across task sets by weight
// (using the same policy that orders tasks within a set), then hands each
// user its task set's precomputed schedule.
func (a *Attack) buildPlan(schedules []taskSetSchedule, policy internalscheduler.Policy, mitigation metrics.MitigationStrategy) func(host string, n int) ([]internaluser.Plan, error) {
	weights := make([]int, len(a.taskSets))
	for i, ts := range a.taskSets {
		weights[i] = ts.Weight
	}
	trackTasks := !a.cfg.NoTaskMetrics

	return func(host string, n int) ([]internaluser.Plan, error) {
		if len(a.taskSets) == 0 {
			return nil, fmt.Errorf("no task sets registered")
		}

		buckets := internalscheduler.Buckets(weights)
		order := internalscheduler.Allocate(buckets, n, policy, nil)

		plans := make([]internaluser.Plan, n)
		for i, tsIdx := range order {
			ts := a.taskSets[tsIdx]
			sched := schedules[tsIdx]
			plans[i] = internaluser.Plan{
				TaskSetIndex: tsIdx,
				Tasks:        sched.tasks,
				Host:         ts.Host,
				OnStart:      sched.onStart,
				Main:         sched.main,
				OnStop:       sched.onStop,
				MinWaitMS:    ts.MinWaitMS,
				MaxWaitMS:    ts.MaxWaitMS,
				Mitigation: internaluser.MitigationConfig{
					Strategy:   mitigation,
					TrackTasks: trackTasks,
				},
			}
		}
		return plans, nil
	}
}

func toFileSink(f config.FileLogConfig) recorder.FileSink {
	return recorder.FileSink{
		Filename:   f.Path,
		Format:     recorder.Format(f.Format),
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Compress:   true,
	}
}
