package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swanling/swanling"
	"github.com/swanling/swanling/internal/applog"
)

// flagFields maps each CLI flag to the config field it binds, so flags the
// operator actually passed can be marked explicit before file defaults
// apply — a config file must never overwrite a flag from the command line.
var flagFields = map[string]string{
	"host":                   "Host",
	"users":                  "Users",
	"hatch-rate":             "HatchRate",
	"run-time":               "RunTime",
	"scheduler":              "SchedulerPolicy",
	"throttle-requests":      "ThrottleRequests",
	"no-autostart":           "NoAutostart",
	"no-reset-metrics":       "NoResetMetrics",
	"no-metrics":             "NoMetrics",
	"no-task-metrics":        "NoTaskMetrics",
	"no-error-summary":       "NoErrorSummary",
	"status-codes":           "StatusCodes",
	"co-mitigation":          "CoordinatedOmissionMitigation",
	"running-metrics":        "RunningMetricsIntervalSeconds",
	"controller-line-addr":   "Controllers",
	"controller-framed-addr": "Controllers",
	"manager":                "Manager",
	"worker":                 "Worker",
	"expect-workers":         "ExpectWorkers",
	"request-log":            "RequestLog",
	"request-format":         "RequestLog",
	"task-log":               "TaskLog",
	"task-format":            "TaskLog",
	"error-log":              "ErrorLog",
	"error-format":           "ErrorLog",
	"debug-log":              "DebugLog",
	"debug-format":           "DebugLog",
}

// runAttack builds the effective configuration from flags and an optional
// config file, registers the reference task set, and runs the attack until
// it reaches Shutdown or a process signal arrives.
func runAttack(cmd *cobra.Command, args []string) error {
	cfg := flagCfg
	for flag, field := range flagFields {
		if cmd.Flags().Changed(flag) {
			cfg.MarkExplicit(field)
		}
	}
	if cfgFile != "" {
		if err := cfg.FileDefaults(cfgFile); err != nil {
			return err
		}
	}

	log := applog.New(applog.Config{Level: "info"})

	atk := swanling.NewAttack(cfg).
		WithLogger(log).
		RegisterTaskSet(websiteTaskSet())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := atk.Execute(ctx)

	printSnapshot(os.Stdout, atk.Snapshot())

	return runErr
}
