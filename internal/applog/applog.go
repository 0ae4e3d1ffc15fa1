// Package applog implements the engine's operational logger: structured
// logrus entries rendered through a pattern-based formatter, optionally
// rotated to disk with lumberjack. This is separate from internal/recorder,
// which serializes raw request/task/error records rather than operational
// diagnostics.
package applog

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the operational logger.
type Config struct {
	Level   string // trace/debug/info/warn/error
	Pattern string // e.g. "%time [%level] %field %msg\n"
	Time    string // time.Format layout

	File FileConfig
}

// FileConfig rotates the operational log to disk in addition to stdout,
// when Filename is non-empty.
type FileConfig struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (f FileConfig) enabled() bool { return f.Filename != "" }

// New builds a configured *logrus.Logger. An invalid level falls back to
// Info rather than erroring, since operational logging should never be the
// reason the engine fails to start.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetReportCaller(true)

	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "%time [%level] %field%msg\n"
	}
	timeLayout := cfg.Time
	if timeLayout == "" {
		timeLayout = "2006-01-02T15:04:05.000Z07:00"
	}
	logger.SetFormatter(&patternFormatter{pattern: pattern, time: timeLayout})

	var writers []io.Writer
	writers = append(writers, os.Stdout)
	if cfg.File.enabled() {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File.Filename,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}
	logger.SetOutput(io.MultiWriter(writers...))

	return logger
}
