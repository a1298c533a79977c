// Package logger provides a thread-safe, levelled logger backed by the
// standard library's log package.
package logger

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level represents a logging verbosity level.
type Level int

const (
	// LevelDebug emits all messages.
	LevelDebug Level = iota
	// LevelInfo emits INFO, WARN and ERROR messages.
	LevelInfo
	// LevelWarn emits WARN and ERROR messages.
	LevelWarn
	// LevelError emits only ERROR messages.
	LevelError
)

// Logger is a structured, levelled logger.
//
// Thread-safety: log.Logger (from the standard library) serialises writes to
// the underlying io.Writer with its own mutex. The Logger wrapper adds a
// second mutex only for the level field so that SetLevel may be called
// concurrently with logging methods.
type Logger struct {
	infoLog  *log.Logger
	warnLog  *log.Logger
	errorLog *log.Logger
	debugLog *log.Logger
	mu       sync.RWMutex
	level    Level
}

// New creates a Logger that writes to stderr at the given minimum level.
// log.Ldate|log.Ltime|log.Lmicroseconds gives microsecond-resolution
// timestamps, useful when correlating sensor ticks with client traffic.
func New(level Level) *Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	return &Logger{
		infoLog:  log.New(os.Stderr, "INFO  ", flags),
		warnLog:  log.New(os.Stderr, "WARN  ", flags),
		errorLog: log.New(os.Stderr, "ERROR ", flags),
		debugLog: log.New(os.Stderr, "DEBUG ", flags),
		level:    level,
	}
}

// SetLevel changes the minimum log level at runtime. Safe for concurrent use.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

func (l *Logger) currentLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Info logs a message at INFO level.
func (l *Logger) Info(msg string) {
	if l.currentLevel() <= LevelInfo {
		l.infoLog.Output(2, msg) //nolint:errcheck
	}
}

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.Info(fmt.Sprintf(format, args...))
}

// Warn logs a message at WARN level. Used for recoverable conditions such as
// a malformed persisted file that the caller falls back from instead of
// failing.
func (l *Logger) Warn(msg string) {
	if l.currentLevel() <= LevelWarn {
		l.warnLog.Output(2, msg) //nolint:errcheck
	}
}

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.Warn(fmt.Sprintf(format, args...))
}

// Error logs a message at ERROR level.
func (l *Logger) Error(msg string) {
	if l.currentLevel() <= LevelError {
		l.errorLog.Output(2, msg) //nolint:errcheck
	}
}

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.Error(fmt.Sprintf(format, args...))
}

// Debug logs a message at DEBUG level.
func (l *Logger) Debug(msg string) {
	if l.currentLevel() <= LevelDebug {
		l.debugLog.Output(2, msg) //nolint:errcheck
	}
}

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.Debug(fmt.Sprintf(format, args...))
}
