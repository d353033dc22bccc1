package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the severity of a log message
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string onto a Level. Unknown values fall back to info.
func ParseLevel(value string) Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// sink is the process-wide destination shared by all component loggers.
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
}

var defaultSink = &sink{out: os.Stderr, level: LevelInfo}

// Configure sets the minimum level and destination for every component logger.
func Configure(level Level, out io.Writer) {
	defaultSink.mu.Lock()
	defer defaultSink.mu.Unlock()
	defaultSink.level = level
	if out != nil {
		defaultSink.out = out
	}
}

// ComponentLogger prefixes every line with the component it was created for.
type ComponentLogger struct {
	sink      *sink
	component string
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) *ComponentLogger {
	return &ComponentLogger{sink: defaultSink, component: component}
}

// NewWriterLogger returns a component logger with its own destination, mostly for tests.
func NewWriterLogger(component string, level Level, out io.Writer) *ComponentLogger {
	return &ComponentLogger{sink: &sink{out: out, level: level}, component: component}
}

func (l *ComponentLogger) log(level Level, format string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if level < l.sink.level {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2025-09-30 12:34:56 [INFO] [Component] file.go:123 - Message
	component := l.component
	if component == "" {
		component = "AIDESK"
	}
	fmt.Fprintf(l.sink.out, "%s [%s] [%s] %s:%d - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, component, file, line, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *ComponentLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *ComponentLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *ComponentLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *ComponentLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}
