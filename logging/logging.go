// Package logging constructs the process-wide *slog.Logger, rotated
// through lumberjack when a log directory is configured, with a runtime
// level that can be raised or lowered without swapping the logger's
// identity.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps a *slog.Logger whose underlying level can be changed live
// (the verbose/log_level command verbs), by swapping the handler's level
// var rather than constructing a new *slog.Logger — every component that
// captured the original logger keeps observing the new level.
type Logger struct {
	level *slog.LevelVar
	*slog.Logger
}

// New constructs a logger writing JSON lines to a rotating file under
// logDir/port_agent_<port>.log if logDir is non-empty, or to stdout
// otherwise. levelName is one of {debug, info, warn, warning, error}.
func New(logDir string, port int, levelName string) *Logger {
	lv := &slog.LevelVar{}
	lv.Set(parseLevel(levelName))

	opts := &slog.HandlerOptions{Level: lv}

	var handler slog.Handler
	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			handler = slog.NewJSONHandler(os.Stdout, opts)
		} else {
			path := filepath.Join(logDir, fmt.Sprintf("port_agent_%d.log", port))
			writer := &lumberjack.Logger{
				Filename:   path,
				MaxSize:    50,
				MaxBackups: 10,
				MaxAge:     30,
				Compress:   true,
			}
			handler = slog.NewJSONHandler(writer, opts)
		}
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return &Logger{level: lv, Logger: slog.New(handler)}
}

// SetLevel raises or lowers the live level. Handling the "verbose"
// (raise-once, to debug) verb and the "log_level <level>" verb both funnel
// through this call.
func (l *Logger) SetLevel(levelName string) {
	l.level.Set(parseLevel(levelName))
}

// RaiseToDebug implements the `verbose` command verb.
func (l *Logger) RaiseToDebug() {
	l.level.Set(slog.LevelDebug)
}

// Level reports the current live level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
