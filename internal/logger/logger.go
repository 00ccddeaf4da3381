// Package logger configures the process-wide structured logger.
//
// Output always goes to stderr: stdout carries the MCP protocol.
package logger

import (
	"io"
	stdlog "log"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
)

// Config selects level and format.
type Config struct {
	Level      string
	JSON       bool
	Output     io.Writer
	TimeFormat string
}

var defaultLogger = New(Config{})

// ParseLevel maps a level name to a charm level. Unknown names mean info.
func ParseLevel(level string) charmlog.Level {
	l, err := charmlog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return charmlog.InfoLevel
	}
	return l
}

// New builds a logger without touching the default one.
func New(cfg Config) *charmlog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}

	l := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Level:           ParseLevel(cfg.Level),
	})
	if cfg.JSON {
		l.SetFormatter(charmlog.JSONFormatter)
	} else {
		l.SetFormatter(charmlog.TextFormatter)
	}
	return l
}

// Setup replaces the default logger. Libraries that write through the
// standard log package are routed into it at warn level.
func Setup(cfg Config) *charmlog.Logger {
	defaultLogger = New(cfg)
	stdlog.SetFlags(0)
	stdlog.SetOutput(defaultLogger.StandardLog(charmlog.StandardLogOptions{
		ForceLevel: charmlog.WarnLevel,
	}).Writer())
	return defaultLogger
}

// Default returns the process-wide logger.
func Default() *charmlog.Logger {
	return defaultLogger
}

func Debug(msg string, keyvals ...any) {
	defaultLogger.Debug(msg, keyvals...)
}

func Info(msg string, keyvals ...any) {
	defaultLogger.Info(msg, keyvals...)
}

func Warn(msg string, keyvals ...any) {
	defaultLogger.Warn(msg, keyvals...)
}

func Error(msg string, keyvals ...any) {
	defaultLogger.Error(msg, keyvals...)
}

// With returns a child of the default logger carrying keyvals.
func With(keyvals ...any) *charmlog.Logger {
	return defaultLogger.With(keyvals...)
}
