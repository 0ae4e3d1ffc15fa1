// Package cmd implements the swanling reference CLI: it parses flags (and
// an optional config file) into an engine Config, registers a small
// demonstration task set, and runs the attack until it reaches Shutdown.
// Library callers embedding swanling in their own binary do not need this
// package at all — it exists the way the engine's own closure examples do,
// to show the library wired end to end.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/swanling/swanling/internal/config"
)

var (
	cfgFile string
	flagCfg = config.New()
)

var rootCmd = &cobra.Command{
	Use:   "swanling",
	Short: "swanling is a distributed HTTP load-generation framework",
	Long: `swanling spawns a population of simulated users against a target host,
each independently executing a weighted, possibly sequenced set of tasks,
while collecting per-request, per-task, and per-error metrics.

Live control is available over a line-oriented TCP controller and a
websocket-framed controller, letting a remote client reconfigure, start,
stop, or shut down a running attack.`,
	Version:      "0.1.0",
	SilenceUsage: true,
	RunE:         runAttack,
}

// Execute runs the root command. It is called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&cfgFile, "config-file", "c", "", "config file (yaml/toml/json) of programmatic defaults, applied under any explicit flag")

	flags.StringVarP(&flagCfg.Host, "host", "H", "", "host to load test, e.g. http://10.21.32.33")
	flags.IntVarP(&flagCfg.Users, "users", "u", flagCfg.Users, "number of simulated users")
	flags.Float64VarP(&flagCfg.HatchRate, "hatch-rate", "r", flagCfg.HatchRate, "users started per second during the Starting phase")
	flags.DurationVarP(&flagCfg.RunTime, "run-time", "t", 0, "stop after this long, e.g. 30s, 20m, 1h30m (0 runs until canceled or stopped)")
	flags.StringVar((*string)(&flagCfg.SchedulerPolicy), "scheduler", string(flagCfg.SchedulerPolicy), "task allocation policy: round-robin, serial, random")
	flags.IntVar(&flagCfg.ThrottleRequests, "throttle-requests", 0, "maximum aggregate requests per second across all users (0 disables throttling)")

	flags.BoolVar(&flagCfg.NoAutostart, "no-autostart", false, "wait for a controller start command instead of starting immediately")
	flags.BoolVar(&flagCfg.NoResetMetrics, "no-reset-metrics", false, "don't reset metrics once all users have started")
	flags.BoolVar(&flagCfg.NoMetrics, "no-metrics", false, "don't track metrics at all")
	flags.BoolVar(&flagCfg.NoTaskMetrics, "no-task-metrics", false, "don't track per-task metrics")
	flags.BoolVar(&flagCfg.NoErrorSummary, "no-error-summary", false, "don't track the error summary")
	flags.BoolVar(&flagCfg.StatusCodes, "status-codes", false, "track per-status-code counters on every request aggregate")
	flags.StringVar((*string)(&flagCfg.CoordinatedOmissionMitigation), "co-mitigation", string(flagCfg.CoordinatedOmissionMitigation), "coordinated-omission mitigation strategy: disabled, average, minimum, maximum")
	flags.IntVar(&flagCfg.RunningMetricsIntervalSeconds, "running-metrics", flagCfg.RunningMetricsIntervalSeconds, "seconds between running-metrics snapshots (0 disables)")

	flags.StringVar(&flagCfg.ControllerLineAddr, "controller-line-addr", "0.0.0.0:5116", "line-protocol controller listen address (empty disables it)")
	flags.StringVar(&flagCfg.ControllerFramedAddr, "controller-framed-addr", "0.0.0.0:5117", "websocket-framed controller listen address (empty disables it)")

	flags.BoolVar(&flagCfg.Manager, "manager", false, "enable distributed load test manager mode")
	flags.BoolVar(&flagCfg.Worker, "worker", false, "enable distributed load test worker mode")
	flags.IntVar(&flagCfg.ExpectWorkers, "expect-workers", 0, "number of workers the manager should expect")

	flags.StringVar(&flagCfg.RequestLog.Path, "request-log", "", "request log file path")
	flags.StringVar((*string)(&flagCfg.RequestLog.Format), "request-format", "", "request log format: csv, json, raw")
	flags.StringVar(&flagCfg.TaskLog.Path, "task-log", "", "task log file path")
	flags.StringVar((*string)(&flagCfg.TaskLog.Format), "task-format", "", "task log format: csv, json, raw")
	flags.StringVar(&flagCfg.ErrorLog.Path, "error-log", "", "error log file path")
	flags.StringVar((*string)(&flagCfg.ErrorLog.Format), "error-format", "", "error log format: csv, json, raw")
	flags.StringVar(&flagCfg.DebugLog.Path, "debug-log", "", "debug log file path")
	flags.StringVar((*string)(&flagCfg.DebugLog.Format), "debug-format", "", "debug log format: csv, json, raw")

	if err := viper.BindPFlags(flags); err != nil {
		exitWithError("failed to bind flags", err)
	}
}

// exitWithError prints an error message and exits with code 1, matching
// the engine's exit-code convention: 0 on clean Shutdown, non-zero for a
// setup-time rejection.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
