// Package controller implements the two controller transports: a
// line-oriented TCP protocol and a framed (websocket) JSON protocol. Both
// parse the same command grammar and forward typed requests to the attack
// supervisor over a shared channel, awaiting a single-shot reply.
package controller

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Command identifies one controller command, independent of which
// transport received it.
type Command string

const (
	CmdHelp        Command = "help"
	CmdExit        Command = "exit"
	CmdHost        Command = "host"
	CmdUsers       Command = "users"
	CmdHatchRate   Command = "hatchrate"
	CmdRunTime     Command = "runtime"
	CmdConfig      Command = "config"
	CmdConfigJSON  Command = "configjson"
	CmdMetrics     Command = "metrics"
	CmdMetricsJSON Command = "metricsjson"
	CmdStart       Command = "start"
	CmdStop        Command = "stop"
	CmdShutdown    Command = "shutdown"
)

// Local reports whether a command is answered by the session itself,
// without being forwarded to the supervisor.
func (c Command) Local() bool {
	return c == CmdHelp || c == CmdExit
}

// Request is one parsed, validated command, forwarded on the shared
// request channel to the attack supervisor. Reply carries the single-shot
// response channel; the session blocks on it after sending.
type Request struct {
	SessionID int64
	Command   Command
	Value     string
	Reply     chan Reply
}

// Reply is the supervisor's answer to one Request.
type Reply struct {
	Text    string
	Success bool
}

var (
	reHost      = regexp.MustCompile(`(?i)^host\s+(\S+)$`)
	reUsers     = regexp.MustCompile(`(?i)^users\s+(\d+)$`)
	reHatchRate = regexp.MustCompile(`(?i)^hatchrate\s+([0-9]*\.?[0-9]+)$`)
	reRunTime   = regexp.MustCompile(`(?i)^runtime\s+(\S+)$`)
	reDuration  = regexp.MustCompile(`^(\d+)$|^(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)
)

// Parse matches raw input against the command grammar and returns a
// Command and its value (if any). An unrecognized line returns an error
// that the caller renders as an error reply without disconnecting.
func Parse(line string) (Command, string, error) {
	trimmed := strings.TrimSpace(line)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "help", "?":
		return CmdHelp, "", nil
	case "exit", "quit":
		return CmdExit, "", nil
	case "config":
		return CmdConfig, "", nil
	case "configjson":
		return CmdConfigJSON, "", nil
	case "metrics":
		return CmdMetrics, "", nil
	case "metricsjson":
		return CmdMetricsJSON, "", nil
	case "start":
		return CmdStart, "", nil
	case "stop":
		return CmdStop, "", nil
	case "shutdown":
		return CmdShutdown, "", nil
	}

	if m := reHost.FindStringSubmatch(trimmed); m != nil {
		if err := validateHost(m[1]); err != nil {
			return "", "", err
		}
		return CmdHost, m[1], nil
	}
	if m := reUsers.FindStringSubmatch(trimmed); m != nil {
		return CmdUsers, m[1], nil
	}
	if m := reHatchRate.FindStringSubmatch(trimmed); m != nil {
		return CmdHatchRate, m[1], nil
	}
	if m := reRunTime.FindStringSubmatch(trimmed); m != nil {
		if _, err := ParseRunTime(m[1]); err != nil {
			return "", "", err
		}
		return CmdRunTime, m[1], nil
	}

	return "", "", fmt.Errorf("unrecognized command: %q", trimmed)
}

func validateHost(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("host must start with http:// or https://, got %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("host %q does not parse: %w", raw, err)
	}
	if u.Host == "" {
		return fmt.Errorf("host %q has no authority component", raw)
	}
	return nil
}

// ParseRunTime accepts either a bare integer number of seconds or an
// XhYmZs-style duration and returns the equivalent time.Duration.
func ParseRunTime(raw string) (time.Duration, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	m := reDuration.FindStringSubmatch(raw)
	if m == nil || (m[2] == "" && m[3] == "" && m[4] == "") {
		return 0, fmt.Errorf("invalid runtime %q: want seconds or XhYmZs", raw)
	}
	var d time.Duration
	if m[2] != "" {
		h, _ := strconv.Atoi(m[2])
		d += time.Duration(h) * time.Hour
	}
	if m[3] != "" {
		mins, _ := strconv.Atoi(m[3])
		d += time.Duration(mins) * time.Minute
	}
	if m[4] != "" {
		s, _ := strconv.Atoi(m[4])
		d += time.Duration(s) * time.Second
	}
	return d, nil
}

// HelpText is the local reply to "help"/"?".
const HelpText = `available commands:
  help, ?                 show this text
  exit, quit               disconnect
  host <url>               set target host (idle only)
  users <int>              set user count (idle only)
  hatchrate <float>        set hatch rate
  runtime <duration>       set run time (seconds or XhYmZs)
  config, configjson       show configuration
  metrics, metricsjson     show metrics snapshot
  start                    begin the attack (idle only)
  stop                     stop the attack, return to idle
  shutdown                 stop the attack and exit`
