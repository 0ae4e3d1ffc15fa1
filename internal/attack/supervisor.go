// Package attack implements the attack supervisor: the single owner of the
// run state machine (Idle→Starting→Running→Stopping→Shutdown, with Idle
// reachable again), responsible for spawning and joining users, draining
// the metrics channel, and answering controller requests.
package attack

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swanling/swanling/internal/controller"
	"github.com/swanling/swanling/internal/metrics"
	"github.com/swanling/swanling/internal/recorder"
	"github.com/swanling/swanling/internal/throttle"
	"github.com/swanling/swanling/internal/user"
)

// Phase is one state of the supervisor's run state machine.
type Phase int

const (
	Idle Phase = iota
	Starting
	Running
	Stopping
	Shutdown
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// PlanBuilder constructs a fresh population plan for n users against host.
// It is supplied by the root package, which owns Task/TaskSet and the
// scheduler wiring; this package never imports the root package to avoid a
// cycle.
type PlanBuilder func(host string, n int) ([]user.Plan, error)

// RunState is the mutable configuration the supervisor owns and controller
// commands may mutate, guarded by mu.
type RunState struct {
	Host              string
	Users             int
	HatchRate         float64
	RunTime           time.Duration
	NoAutostart       bool
	NoResetMetrics    bool
	ShutdownAfterStop bool
}

// TestHooks are invoked at the start and end of a Running window, if set.
type TestHooks struct {
	OnStart func()
	OnStop  func()
}

// Supervisor runs the state machine described in the attack supervisor
// component. One Supervisor owns one Aggregator, one throttle, and one
// recorder sink for the lifetime of the process.
type Supervisor struct {
	mu    sync.Mutex
	state RunState

	buildPlan PlanBuilder
	hooks     TestHooks

	agg      *metrics.Aggregator
	rec      *recorder.Sink
	throttle *throttle.Throttle
	requests <-chan controller.Request
	log      *logrus.Entry

	phase          Phase
	started        time.Time
	cancel         atomic.Bool
	displayMetrics bool

	users []runningUser

	// Spawn progress across Starting iterations. spawnPlans is nil outside
	// of an active spawn cycle; spawnNextAt is the instant the next user is
	// due, advanced by one hatch interval per launch.
	spawnPlans  []user.Plan
	spawnNext   int
	spawnNextAt time.Time

	// stopCh is closed when Stopping begins, waking any user blocked on a
	// throttle token or mid-wait so the join below cannot hang.
	stopCh chan struct{}

	// cycleActive is true from the first spawn of a Starting cycle until
	// Stopping tears the cycle down; it guards the per-cycle teardown
	// (recorder join, stop hook) against a Stopping entered straight from
	// Idle by a cancel signal.
	cycleActive bool

	runningMetricsInterval time.Duration
	metricsTick            time.Time

	idleBannerShown bool
}

type runningUser struct {
	cmd  chan user.Command
	done chan struct{}
}

// Config groups everything the supervisor needs at construction time.
type Config struct {
	Initial    RunState
	BuildPlan  PlanBuilder
	Hooks      TestHooks
	Aggregator *metrics.Aggregator
	Recorder   *recorder.Sink
	Throttle   *throttle.Throttle
	Requests   <-chan controller.Request
	Log        *logrus.Entry

	// RunningMetricsInterval is how often a metrics snapshot is logged
	// while Running. Zero disables the periodic display.
	RunningMetricsInterval time.Duration
}

// New returns a Supervisor in the Idle phase.
func New(cfg Config) *Supervisor {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{
		state:                  cfg.Initial,
		buildPlan:              cfg.BuildPlan,
		hooks:                  cfg.Hooks,
		agg:                    cfg.Aggregator,
		rec:                    cfg.Recorder,
		throttle:               cfg.Throttle,
		requests:               cfg.Requests,
		log:                    log,
		runningMetricsInterval: cfg.RunningMetricsInterval,
		phase:                  Idle,
	}
}

// RequestCancel sets the cancel flag checked once per loop iteration,
// matching the signal-handler integration described in the error model.
func (s *Supervisor) RequestCancel() { s.cancel.Store(true) }

// Phase returns the current phase.
func (s *Supervisor) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Run executes the state machine until Shutdown. It performs one phase
// step per iteration and yields briefly between iterations, per the
// concurrency model's cooperative scheduling.
func (s *Supervisor) Run() error {
	for {
		s.mu.Lock()
		phase := s.phase
		nUsers := len(s.users)
		s.mu.Unlock()

		metrics.AttackState.Set(float64(phase))
		metrics.UsersActive.Set(float64(nUsers))
		metrics.ThrottleQueueDepth.Set(float64(s.throttle.Len()))

		if phase == Shutdown {
			return nil
		}

		switch phase {
		case Idle:
			s.stepIdle()
		case Starting:
			s.stepStarting()
		case Running:
			s.stepRunning()
		case Stopping:
			s.stepStopping()
		}

		s.agg.DrainAvailable()
		s.handleOneRequest()
		s.checkCancel()

		time.Sleep(10 * time.Millisecond)
	}
}

func (s *Supervisor) checkCancel() {
	if !s.cancel.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ShutdownAfterStop = true
	if s.phase == Idle {
		s.displayMetrics = false
	}
	if s.phase == Starting || s.phase == Running || s.phase == Idle {
		s.phase = Stopping
	}
}

func (s *Supervisor) stepIdle() {
	s.mu.Lock()
	noAutostart := s.state.NoAutostart
	s.mu.Unlock()

	if noAutostart {
		if !s.idleBannerShown {
			s.log.Info("idle: waiting for a start command")
			s.idleBannerShown = true
		}
		return
	}

	s.resetRunState()
	s.mu.Lock()
	s.phase = Starting
	s.mu.Unlock()
}

func (s *Supervisor) resetRunState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = time.Time{}
	s.idleBannerShown = false
}

func (s *Supervisor) stepStarting() {
	s.mu.Lock()
	host, n, hatchRate := s.state.Host, s.state.Users, s.state.HatchRate
	noReset := s.state.NoResetMetrics
	s.mu.Unlock()

	if s.spawnPlans == nil {
		plans, err := s.buildPlan(host, n)
		if err != nil {
			s.log.WithField("error", err).Error("starting: failed to build plan")
			s.mu.Lock()
			s.phase = Idle
			s.mu.Unlock()
			return
		}
		s.spawnPlans = plans
		s.spawnNext = 0
		s.spawnNextAt = time.Now()
		s.stopCh = make(chan struct{})
		s.cycleActive = true
		s.displayMetrics = true

		// The throttle producer and recorder sink live for one Starting→
		// Stopping cycle; both are re-armed here so a controller start after
		// a previous stop gets working instances again.
		go s.throttle.Run()
		if s.rec != nil {
			s.rec.Start()
		}

		s.log.WithFields(logrus.Fields{"users": len(plans), "hatch_rate": hatchRate}).Info("starting: spawning users")
	}

	interval := time.Millisecond
	if hatchRate > 0 {
		interval = time.Duration(float64(time.Second) / hatchRate)
		if interval <= 0 {
			interval = time.Millisecond
		}
	}

	// Sleep toward the next spawn instant, capped so controller requests and
	// the cancel flag are still observed between iterations.
	if wait := time.Until(s.spawnNextAt); wait > 0 {
		if wait > 50*time.Millisecond {
			wait = 50 * time.Millisecond
		}
		time.Sleep(wait)
	}

	for s.spawnNext < len(s.spawnPlans) && !time.Now().Before(s.spawnNextAt) {
		plan := s.spawnPlans[s.spawnNext]
		cmd := make(chan user.Command, 1)
		done := make(chan struct{})
		s.users = append(s.users, runningUser{cmd: cmd, done: done})
		go s.runUser(s.spawnNext, host, plan, cmd, done, s.stopCh)
		s.spawnNext++
		s.spawnNextAt = s.spawnNextAt.Add(interval)
	}

	if s.spawnNext < len(s.spawnPlans) {
		return
	}

	// Let the last user settle before the run officially begins.
	time.Sleep(100 * time.Millisecond)
	s.spawnPlans = nil

	if !noReset {
		s.agg.Reset()
	}

	if s.hooks.OnStart != nil {
		s.hooks.OnStart()
	}

	s.metricsTick = time.Now()
	s.mu.Lock()
	s.started = time.Now()
	s.phase = Running
	s.mu.Unlock()
}

func (s *Supervisor) runUser(id int, host string, plan user.Plan, cmd chan user.Command, done chan struct{}, stop <-chan struct{}) {
	defer close(done)

	userHost := host
	if plan.Host != "" {
		userHost = plan.Host
	}

	h, err := user.NewHandle(id, userHost, s.throttle, s.agg, s.rec, s.log)
	if err != nil {
		s.log.WithField("error", err).WithField("user_id", id).Error("failed to construct user handle")
		return
	}
	h.SetDone(stop)
	user.Run(h, plan, cmd, stop)
}

func (s *Supervisor) stepRunning() {
	s.mu.Lock()
	runTime := s.state.RunTime
	started := s.started
	s.mu.Unlock()

	time.Sleep(490 * time.Millisecond)

	if s.runningMetricsInterval > 0 && time.Since(s.metricsTick) >= s.runningMetricsInterval {
		s.metricsTick = time.Now()
		s.logSnapshot("running metrics")
	}

	if runTime > 0 && time.Since(started) >= runTime {
		s.mu.Lock()
		s.phase = Stopping
		s.mu.Unlock()
	}
}

// logSnapshot logs a compact metrics summary; the full per-request table is
// available over the controller's metrics command and the final report.
func (s *Supervisor) logSnapshot(msg string) {
	snap := s.agg.Snapshot()
	var total, failed int64
	for _, r := range snap.Requests {
		total += r.Counter
		failed += r.Fail
	}
	s.log.WithFields(logrus.Fields{
		"requests": total,
		"failures": failed,
		"errors":   len(snap.Errors),
	}).Info(msg)
}

func (s *Supervisor) stepStopping() {
	// A stop mid-Starting abandons the unspawned remainder of the plan.
	s.spawnPlans = nil

	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}

	for _, ru := range s.users {
		select {
		case ru.cmd <- user.Exit:
		default:
		}
	}
	for _, ru := range s.users {
		<-ru.done
	}
	s.users = nil

	s.throttle.Shutdown()

	if s.cycleActive && s.rec != nil {
		s.rec.Stop()
	}

	for s.agg.DrainAvailable() > 0 {
	}

	if s.cycleActive && s.hooks.OnStop != nil {
		s.hooks.OnStop()
	}
	s.cycleActive = false

	s.mu.Lock()
	shutdownAfterStop := s.state.ShutdownAfterStop
	s.mu.Unlock()

	if shutdownAfterStop {
		s.mu.Lock()
		s.phase = Shutdown
		s.mu.Unlock()
		return
	}

	if s.displayMetrics {
		s.logSnapshot("attack stopped")
	}
	s.mu.Lock()
	s.phase = Idle
	s.mu.Unlock()
}

func (s *Supervisor) handleOneRequest() {
	select {
	case req := <-s.requests:
		reply := s.handleRequest(req)
		select {
		case req.Reply <- reply:
		default:
		}
	default:
	}
}

func (s *Supervisor) handleRequest(req controller.Request) controller.Reply {
	switch req.Command {
	case controller.CmdHost:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.phase != Idle {
			return controller.Reply{Text: "error: host can only be set while idle", Success: false}
		}
		s.state.Host = req.Value
		return controller.Reply{Text: "ok", Success: true}

	case controller.CmdUsers:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.phase != Idle {
			return controller.Reply{Text: "error: users can only be set while idle", Success: false}
		}
		var n int
		if _, err := fmt.Sscanf(req.Value, "%d", &n); err != nil || n < 1 {
			return controller.Reply{Text: "error: invalid user count", Success: false}
		}
		s.state.Users = n
		return controller.Reply{Text: "ok", Success: true}

	case controller.CmdHatchRate:
		s.mu.Lock()
		defer s.mu.Unlock()
		var rate float64
		if _, err := fmt.Sscanf(req.Value, "%g", &rate); err != nil || rate <= 0 {
			return controller.Reply{Text: "error: invalid hatch rate", Success: false}
		}
		s.state.HatchRate = rate
		return controller.Reply{Text: "ok", Success: true}

	case controller.CmdRunTime:
		d, err := controller.ParseRunTime(req.Value)
		if err != nil {
			return controller.Reply{Text: fmt.Sprintf("error: %s", err), Success: false}
		}
		s.mu.Lock()
		wasRunning := s.phase == Running
		started := s.started
		s.state.RunTime = d
		s.mu.Unlock()
		if wasRunning && d > 0 && time.Since(started) >= d {
			s.mu.Lock()
			s.phase = Stopping
			s.mu.Unlock()
		}
		return controller.Reply{Text: "ok", Success: true}

	case controller.CmdConfig, controller.CmdConfigJSON:
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()
		if req.Command == controller.CmdConfigJSON {
			return jsonReply(state)
		}
		return controller.Reply{Text: fmt.Sprintf("%+v", state), Success: true}

	case controller.CmdMetrics, controller.CmdMetricsJSON:
		snap := s.agg.Snapshot()
		if req.Command == controller.CmdMetricsJSON {
			return jsonReply(snap)
		}
		return controller.Reply{Text: fmt.Sprintf("%+v", snap), Success: true}

	case controller.CmdStart:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.phase != Idle || s.state.Host == "" {
			return controller.Reply{Text: "error: start requires idle phase and a valid host", Success: false}
		}
		s.phase = Starting
		return controller.Reply{Text: "starting", Success: true}

	case controller.CmdStop:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.phase != Starting && s.phase != Running {
			return controller.Reply{Text: "error: stop requires starting or running phase", Success: false}
		}
		s.state.ShutdownAfterStop = false
		s.state.NoAutostart = true
		s.phase = Stopping
		return controller.Reply{Text: "stopping", Success: true}

	case controller.CmdShutdown:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.state.ShutdownAfterStop = true
		if s.phase == Idle {
			s.phase = Shutdown
		} else {
			s.phase = Stopping
		}
		return controller.Reply{Text: "shutting down", Success: true}

	default:
		return controller.Reply{Text: "error: unsupported command", Success: false}
	}
}

func jsonReply(v interface{}) controller.Reply {
	b, err := json.Marshal(v)
	if err != nil {
		return controller.Reply{Text: fmt.Sprintf("error: %s", err), Success: false}
	}
	return controller.Reply{Text: string(b), Success: true}
}
