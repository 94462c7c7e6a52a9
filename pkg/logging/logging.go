// Package logging provides the leveled logger used by the benchmark harness.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string log level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", level)
	}
}

// Logger is a rank-aware leveled logger. Every rank of a run gets its own
// logger so output lines identify which rank produced them.
type Logger struct {
	mu     sync.Mutex
	level  Level
	output io.Writer
	rank   int
}

// New creates a logger with the specified level and output.
func New(level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}
	return &Logger{level: level, output: output, rank: -1}
}

// WithRank returns a copy of the logger tagged with a rank id.
func (l *Logger) WithRank(rank int) *Logger {
	return &Logger{level: l.level, output: l.output, rank: rank}
}

// SetLevel changes the minimum level emitted.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	msg := fmt.Sprintf(format, args...)
	if l.rank >= 0 {
		fmt.Fprintf(l.output, "%s [%s] rank=%d %s\n", ts, level, l.rank, msg)
	} else {
		fmt.Fprintf(l.output, "%s [%s] %s\n", ts, level, msg)
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

// Nop returns a logger that discards everything. Used by tests and by
// components that were handed no logger.
func Nop() *Logger {
	return &Logger{level: ERROR + 1, output: io.Discard, rank: -1}
}
