package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level represents log severity
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

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

// zerologLevel maps a Level onto the zerolog level scale
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a component-scoped structured logger backed by zerolog
type Logger struct {
	level     Level
	component string
	output    io.Writer
	context   map[string]interface{}
	zl        zerolog.Logger
}

// NewLogger creates a logger for a component.
// A nil output writes JSON lines to stdout.
func NewLogger(component string, level Level, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zl := zerolog.New(output).
		Level(level.zerologLevel()).
		With().
		Timestamp().
		Str("component", component).
		Logger()

	return &Logger{
		level:     level,
		component: component,
		output:    output,
		zl:        zl,
	}
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return NewLogger("nop", ERROR, io.Discard)
}

// Component returns the component name the logger was created with
func (l *Logger) Component() string {
	return l.component
}

// Named derives a logger for another component sharing the same output and level
func (l *Logger) Named(component string) *Logger {
	child := NewLogger(component, l.level, l.output)
	if len(l.context) > 0 {
		return child.WithFields(l.context)
	}
	return child
}

// Zerolog exposes the underlying zerolog logger for libraries that want one
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// WithContext returns a new Logger with an added context field
func (l *Logger) WithContext(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithFields returns a new Logger with multiple context fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.context)+len(fields))
	for k, v := range l.context {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	return &Logger{
		level:     l.level,
		component: l.component,
		output:    l.output,
		context:   merged,
		zl:        l.zl.With().Fields(fields).Logger(),
	}
}

// log writes a log entry through zerolog
func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}

	var ev *zerolog.Event
	switch level {
	case DEBUG:
		ev = l.zl.Debug()
	case WARN:
		ev = l.zl.Warn()
	case ERROR:
		ev = l.zl.Error()
	default:
		ev = l.zl.Info()
	}

	// Skip log() and the level method so the caller is the call site
	ev.Caller(2).Msg(sanitizeMessage(fmt.Sprintf(format, args...)))
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// sanitizeMessage removes control characters except \n and \t to prevent log injection
func sanitizeMessage(msg string) string {
	var sb strings.Builder
	for _, r := range msg {
		if r == '\n' || r == '\t' || r >= 0x20 {
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(' ')
	}
	return sb.String()
}
