package logx

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents logging severity.
type Level uint8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
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
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Logger is a leveled line logger with optional structured fields.
type Logger struct {
	mu    sync.Mutex
	out   io.Writer
	level Level
	exit  func(int)
}

// NewLogger creates a logger writing to out.
func NewLogger(out io.Writer, level Level) *Logger {
	return &Logger{out: out, level: level, exit: os.Exit}
}

// SetLevel changes the minimum logged level.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) log(level Level, msg string, fields Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" | ")
	b.WriteString(level.String())
	b.WriteString(" | ")
	b.WriteString(msg)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
	if level == LevelFatal {
		l.exit(1)
	}
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil) }

// Info logs at info level.
func (l *Logger) Info(msg string) { l.log(LevelInfo, msg, nil) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string) { l.log(LevelWarn, msg, nil) }

// Error logs at error level.
func (l *Logger) Error(msg string) { l.log(LevelError, msg, nil) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil)
}

// WithFields creates an entry on this logger carrying structured fields.
func (l *Logger) WithFields(fields Fields) *Entry {
	return &Entry{logger: l, fields: fields}
}

var defaultLogger = NewLogger(os.Stderr, ParseLevel(os.Getenv("LOG_LEVEL")))

// SetLevel sets the level of the default logger.
func SetLevel(level Level) { defaultLogger.SetLevel(level) }

// Debug logs at debug level.
func Debug(msg string) { defaultLogger.log(LevelDebug, msg, nil) }

// Info logs at info level.
func Info(msg string) { defaultLogger.log(LevelInfo, msg, nil) }

// Warn logs at warn level.
func Warn(msg string) { defaultLogger.log(LevelWarn, msg, nil) }

// Error logs at error level.
func Error(msg string) { defaultLogger.log(LevelError, msg, nil) }

// Fatal logs at fatal level and exits.
func Fatal(msg string) { defaultLogger.log(LevelFatal, msg, nil) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	defaultLogger.log(LevelDebug, fmt.Sprintf(format, args...), nil)
}

// Infof logs a formatted message at info level.
func Infof(format string, args ...interface{}) {
	defaultLogger.log(LevelInfo, fmt.Sprintf(format, args...), nil)
}

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) {
	defaultLogger.log(LevelWarn, fmt.Sprintf(format, args...), nil)
}

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) {
	defaultLogger.log(LevelError, fmt.Sprintf(format, args...), nil)
}

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...interface{}) {
	defaultLogger.log(LevelFatal, fmt.Sprintf(format, args...), nil)
}

// WithFields creates an entry carrying structured fields.
func WithFields(fields Fields) *Entry {
	return &Entry{logger: defaultLogger, fields: fields}
}

// WithField creates an entry with a single field.
func WithField(key string, value interface{}) *Entry {
	return WithFields(Fields{key: value})
}

// WithError creates an entry with an error field.
func WithError(err error) *Entry {
	return WithFields(Fields{"error": err})
}
