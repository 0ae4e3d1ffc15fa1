// Package config holds the effective configuration of a swanling attack and
// validates the cross-field constraints described in the engine's
// configuration and defaults component.
package config

import (
	"fmt"
	"time"
)

// SchedulerPolicy selects how task sets and tasks are allocated to users.
type SchedulerPolicy string

const (
	RoundRobin SchedulerPolicy = "round-robin"
	Serial     SchedulerPolicy = "serial"
	Random     SchedulerPolicy = "random"
)

// CoordinatedOmissionMitigation selects the cadence-estimation strategy used
// by the metrics aggregator when synthesizing omitted samples.
type CoordinatedOmissionMitigation string

const (
	COMitigationDisabled CoordinatedOmissionMitigation = "disabled"
	COMitigationAverage  CoordinatedOmissionMitigation = "average"
	COMitigationMinimum  CoordinatedOmissionMitigation = "minimum"
	COMitigationMaximum  CoordinatedOmissionMitigation = "maximum"
)

// LogFormat selects the on-disk encoding used by the record sink.
type LogFormat string

const (
	LogFormatCSV  LogFormat = "csv"
	LogFormatJSON LogFormat = "json"
	LogFormatRaw  LogFormat = "raw"
)

// Config is the effective, merged configuration for one attack run. It is
// the result of folding explicit flags, programmatic defaults set by the
// library caller, and the engine's own defaults — see Resolved.
type Config struct {
	Host string

	Users     int
	HatchRate float64
	RunTime   time.Duration

	SchedulerPolicy SchedulerPolicy

	ThrottleRequests int

	NoAutostart                   bool
	NoResetMetrics                bool
	NoMetrics                     bool
	NoTaskMetrics                 bool
	NoErrorSummary                bool
	StatusCodes                   bool
	CoordinatedOmissionMitigation CoordinatedOmissionMitigation

	RunningMetricsIntervalSeconds int

	ControllerLineAddr   string // empty disables the line-oriented controller
	ControllerFramedAddr string // empty disables the framed (websocket) controller

	Manager       bool
	Worker        bool
	ExpectWorkers int

	RequestLog FileLogConfig
	TaskLog    FileLogConfig
	ErrorLog   FileLogConfig
	DebugLog   FileLogConfig

	// explicit records which fields were set explicitly (a CLI flag the
	// operator passed, or a With* builder call); programmatic records which
	// fields were filled in by a programmatic default (a config file, or a
	// library caller registering defaults). Together they let Resolved
	// report the three-way provenance of a value: explicit beats
	// programmatic beats the engine default.
	explicit     map[string]bool
	programmatic map[string]bool
}

// FileLogConfig configures one of the record-sink's four output files.
type FileLogConfig struct {
	Path   string
	Format LogFormat
}

func (f FileLogConfig) enabled() bool { return f.Path != "" }

// New returns a Config populated entirely with engine defaults. Library
// callers mutate the returned value (or use the With* builder methods,
// which return the receiver so calls chain) before calling Validate.
func New() *Config {
	return &Config{
		Users:                         1,
		HatchRate:                     1,
		SchedulerPolicy:               RoundRobin,
		RunningMetricsIntervalSeconds: 15,
		CoordinatedOmissionMitigation: COMitigationDisabled,
		explicit:                      make(map[string]bool),
		programmatic:                  make(map[string]bool),
	}
}

// markExplicit records that field was set deliberately, distinguishing it
// from a value left at its engine default for the three-way resolution
// described in the configuration component.
func (c *Config) markExplicit(field string) {
	if c.explicit == nil {
		c.explicit = make(map[string]bool)
	}
	c.explicit[field] = true
}

// MarkExplicit records that field was set explicitly outside the With*
// builders — the CLI uses it to flag every field whose flag the operator
// actually passed, so file-sourced defaults never overwrite a flag.
func (c *Config) MarkExplicit(field string) { c.markExplicit(field) }

// markProgrammatic records that field was filled in by a programmatic
// default (a config file or library-registered default) rather than an
// explicit flag or the engine default.
func (c *Config) markProgrammatic(field string) {
	if c.programmatic == nil {
		c.programmatic = make(map[string]bool)
	}
	c.programmatic[field] = true
}

// IsExplicit reports whether field was set explicitly rather than by a
// programmatic default or left at its engine default.
func (c *Config) IsExplicit(field string) bool {
	return c.explicit[field]
}

// IsProgrammatic reports whether field was filled in by a programmatic
// default.
func (c *Config) IsProgrammatic(field string) bool {
	return c.programmatic[field]
}

// WithHost sets the global target host and returns c.
func (c *Config) WithHost(host string) *Config {
	c.Host = host
	c.markExplicit("Host")
	return c
}

// WithUsers sets the simulated user population.
func (c *Config) WithUsers(n int) *Config {
	c.Users = n
	c.markExplicit("Users")
	return c
}

// WithHatchRate sets the users-per-second spawn rate during Starting.
func (c *Config) WithHatchRate(rate float64) *Config {
	c.HatchRate = rate
	c.markExplicit("HatchRate")
	return c
}

// WithRunTime sets the duration after which Running transitions to
// Stopping. Zero means "run until canceled".
func (c *Config) WithRunTime(d time.Duration) *Config {
	c.RunTime = d
	c.markExplicit("RunTime")
	return c
}

// WithSchedulerPolicy sets the task-set/task allocation policy.
func (c *Config) WithSchedulerPolicy(p SchedulerPolicy) *Config {
	c.SchedulerPolicy = p
	c.markExplicit("SchedulerPolicy")
	return c
}

// WithThrottleRequests enables the global request throttle at n requests
// per second. Zero disables throttling.
func (c *Config) WithThrottleRequests(n int) *Config {
	c.ThrottleRequests = n
	c.markExplicit("ThrottleRequests")
	return c
}

// WithCoordinatedOmissionMitigation selects the cadence-estimation strategy.
func (c *Config) WithCoordinatedOmissionMitigation(m CoordinatedOmissionMitigation) *Config {
	c.CoordinatedOmissionMitigation = m
	c.markExplicit("CoordinatedOmissionMitigation")
	return c
}

// WithControllers sets the listen addresses for the two controller
// transports. An empty address disables that transport.
func (c *Config) WithControllers(lineAddr, framedAddr string) *Config {
	c.ControllerLineAddr = lineAddr
	c.ControllerFramedAddr = framedAddr
	c.markExplicit("Controllers")
	return c
}

// ValidationError reports a single configuration rejection, naming the
// offending option, its value, and why it was rejected.
type ValidationError struct {
	Option string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid option %s=%v: %s", e.Option, e.Value, e.Reason)
}

// Validate enforces the cross-field constraints of the configuration
// component. It never mutates c. taskSetCount is the number of registered
// task sets, which must be at least one; the shape of each task set is not
// checked here.
func (c *Config) Validate(taskSetCount int) error {
	if taskSetCount < 1 {
		return &ValidationError{Option: "task sets", Value: taskSetCount, Reason: "at least one task set must be registered"}
	}

	if c.Worker && c.Manager {
		return &ValidationError{Option: "worker/manager", Value: true, Reason: "worker and manager modes are mutually exclusive"}
	}
	if c.Worker && c.Host != "" {
		return &ValidationError{Option: "host", Value: c.Host, Reason: "host may not be set in worker mode"}
	}
	if c.Manager && c.DebugLog.enabled() {
		return &ValidationError{Option: "debug-log", Value: c.DebugLog.Path, Reason: "debug log may not be set in manager mode"}
	}

	if c.Users < 1 {
		return &ValidationError{Option: "users", Value: c.Users, Reason: "must be at least 1"}
	}
	if c.Manager {
		if c.ExpectWorkers < 1 {
			return &ValidationError{Option: "expect-workers", Value: c.ExpectWorkers, Reason: "must be at least 1 in manager mode"}
		}
		if c.ExpectWorkers > c.Users {
			return &ValidationError{Option: "expect-workers", Value: c.ExpectWorkers, Reason: "must not exceed users"}
		}
	}

	if c.ThrottleRequests != 0 {
		if c.ThrottleRequests < 1 || c.ThrottleRequests > 1_000_000 {
			return &ValidationError{Option: "throttle-requests", Value: c.ThrottleRequests, Reason: "must be in [1, 1000000] when nonzero"}
		}
		if c.Manager {
			return &ValidationError{Option: "throttle-requests", Value: c.ThrottleRequests, Reason: "not allowed with manager mode"}
		}
	}

	if c.NoAutostart && c.ControllerLineAddr == "" && c.ControllerFramedAddr == "" {
		return &ValidationError{Option: "no-autostart", Value: true, Reason: "at least one controller transport must remain enabled, otherwise the load test would be unreachable"}
	}

	if c.CoordinatedOmissionMitigation != COMitigationDisabled {
		if c.NoMetrics {
			return &ValidationError{Option: "coordinated-omission-mitigation", Value: c.CoordinatedOmissionMitigation, Reason: "disallowed with no-metrics"}
		}
		if c.SchedulerPolicy == Random {
			return &ValidationError{Option: "coordinated-omission-mitigation", Value: c.CoordinatedOmissionMitigation, Reason: "disallowed with the random scheduler"}
		}
	}

	for _, lf := range []struct {
		name string
		cfg  FileLogConfig
	}{
		{"request-log", c.RequestLog},
		{"task-log", c.TaskLog},
		{"error-log", c.ErrorLog},
		{"debug-log", c.DebugLog},
	} {
		if lf.cfg.Format != "" && lf.cfg.Path == "" {
			return &ValidationError{Option: lf.name + "-format", Value: lf.cfg.Format, Reason: "requires the matching log file option to be set"}
		}
	}

	return nil
}
