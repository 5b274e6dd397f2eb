// Package console writes timestamped, severity-tagged log lines for the
// dev server and the build command.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level is the severity tag of a log line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelOK    Level = "OK"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
)

// Logger prints lines of the form "[15:04:05] LEVEL message".
// Errors go to the error writer, everything else to the output writer.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	err    io.Writer
	color  bool
	now    func() time.Time
	prefix string
}

// New creates a Logger writing to stdout and stderr.
// Colors are disabled when NO_COLOR is set.
func New() *Logger {
	return &Logger{
		out:   os.Stdout,
		err:   os.Stderr,
		color: os.Getenv("NO_COLOR") == "",
		now:   time.Now,
	}
}

// NewWriter creates a Logger writing to out and errOut without colors.
func NewWriter(out, errOut io.Writer) *Logger {
	return &Logger{out: out, err: errOut, now: time.Now}
}

// Discard returns a Logger that drops every line.
func Discard() *Logger {
	return NewWriter(io.Discard, io.Discard)
}

// WithPrefix returns a Logger that prefixes messages with p.
func (l *Logger) WithPrefix(p string) *Logger {
	return &Logger{out: l.out, err: l.err, color: l.color, now: l.now, prefix: p}
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.write(LevelInfo, format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) {
	l.write(LevelWarn, format, args...)
}

// Error logs an error to the error writer.
func (l *Logger) Error(format string, args ...any) {
	l.write(LevelError, format, args...)
}

// Success logs a completed step.
func (l *Logger) Success(format string, args ...any) {
	l.write(LevelOK, format, args...)
}

func (l *Logger) write(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.prefix != "" {
		msg = l.prefix + ": " + msg
	}
	w := l.out
	if level == LevelError {
		w = l.err
	}
	timestamp := l.now().Format("15:04:05")

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.color {
		fmt.Fprintf(w, "[%s] %s %s\n", timestamp, level, msg)
		return
	}
	fmt.Fprintf(w, "%s[%s]%s %s%s%s %s\n",
		colorGray, timestamp, colorReset,
		levelColor(level), level, colorReset, msg)
}

func levelColor(level Level) string {
	switch level {
	case LevelError:
		return colorRed
	case LevelWarn:
		return colorYellow
	case LevelOK:
		return colorGreen
	default:
		return ""
	}
}
