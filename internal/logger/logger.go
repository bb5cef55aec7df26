package logger

import (
	"log"
	"os"
)

// Verbosity levels mirror the original bridge's integer `debug` config key:
// 0 silences everything but errors, 4 is the most verbose (trace).
const (
	LevelError = 0
	LevelWarn  = 1
	LevelInfo  = 2
	LevelDebug = 3
	LevelTrace = 4
)

// GlobalLevel is the process-wide verbosity, set once from config at startup.
var GlobalLevel = LevelError

// Logger wraps the standard logger with a verbosity gate.
type Logger struct {
	*log.Logger
	level int
}

// NewLogger creates a logger writing to stdout (or a file, if given) at the
// requested verbosity and sets GlobalLevel to that verbosity. The
// package-level Log* helpers check GlobalLevel but write through the
// standard log package, not through the returned Logger.
func NewLogger(level int, file string) *Logger {
	output := os.Stdout
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			log.Printf("failed to open log file %s: %v", file, err)
		} else {
			output = f
		}
	}

	l := &Logger{
		Logger: log.New(output, "", log.LstdFlags),
		level:  level,
	}
	GlobalLevel = level
	return l
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.level >= LevelError {
		l.Printf(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LevelWarn {
		l.Printf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LevelInfo {
		l.Printf(format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LevelDebug {
		l.Printf(format, args...)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) {
	if l.level >= LevelTrace {
		l.Printf(format, args...)
	}
}

// Package-level helpers bound to GlobalLevel, for call sites that don't
// carry a *Logger (mirrors the teacher's LogInfo/LogWarn/... globals).
func LogError(format string, args ...interface{}) {
	if GlobalLevel >= LevelError {
		log.Printf("[ERROR] "+format, args...)
	}
}

func LogWarn(format string, args ...interface{}) {
	if GlobalLevel >= LevelWarn {
		log.Printf("[WARN] "+format, args...)
	}
}

func LogInfo(format string, args ...interface{}) {
	if GlobalLevel >= LevelInfo {
		log.Printf("[INFO] "+format, args...)
	}
}

func LogDebug(format string, args ...interface{}) {
	if GlobalLevel >= LevelDebug {
		log.Printf("[DEBUG] "+format, args...)
	}
}

func LogTrace(format string, args ...interface{}) {
	if GlobalLevel >= LevelTrace {
		log.Printf("[TRACE] "+format, args...)
	}
}

func IsDebugEnabled() bool { return GlobalLevel >= LevelDebug }
