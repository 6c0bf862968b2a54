package orm

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int32

const (
	// LogLevelDebug is used for every executed statement
	LogLevelDebug LogLevel = iota
	// LogLevelInfo for connection and sync lifecycle messages
	LogLevelInfo
	// LogLevelWarn for retried statements and ignored options
	LogLevelWarn
	// LogLevelError for failed statements
	LogLevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel accepts debug, info, warn(ing) and error, case insensitive.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug, nil
	case "info", "":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	}
	return LogLevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidOptions, s)
}

// Logger is the interface for structured logging.
// Implementations can use any logging library, see NewZapLogger for zap.
type Logger interface {
	// Debug logs a debug-level message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info-level message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning-level message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error-level message with optional fields
	Error(msg string, fields ...Field)

	// With creates a new logger with the given fields pre-populated
	With(fields ...Field) Logger

	// SetLevel sets the minimum log level
	SetLevel(level LogLevel)
}

// Field represents a structured logging field (key-value pair)
type Field struct {
	Key   string
	Value interface{}
}

// F is a shorthand constructor for Field
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Common field constructors for convenience
func String(key, value string) Field             { return Field{key, value} }
func Int(key string, value int) Field            { return Field{key, value} }
func Int64(key string, value int64) Field        { return Field{key, value} }
func Float64(key string, value float64) Field    { return Field{key, value} }
func Bool(key string, value bool) Field          { return Field{key, value} }
func Error(err error) Field                      { return Field{"error", err} }
func Duration(key string, d time.Duration) Field { return Field{key, d} }
func Any(key string, value interface{}) Field    { return Field{key, value} }

// DefaultLogger writes one line per message through the standard log package.
// The level can be changed concurrently with logging.
type DefaultLogger struct {
	logger   *log.Logger
	minLevel *atomic.Int32
	fields   []Field
}

// NewDefaultLogger creates a logger on stdout with the specified minimum level
func NewDefaultLogger(minLevel LogLevel) *DefaultLogger {
	return NewWriterLogger(os.Stdout, minLevel)
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(w io.Writer, minLevel LogLevel) *DefaultLogger {
	lvl := new(atomic.Int32)
	lvl.Store(int32(minLevel))
	return &DefaultLogger{
		logger:   log.New(w, "", log.LstdFlags),
		minLevel: lvl,
	}
}

// NewNoopLogger creates a logger that doesn't log anything (useful for testing)
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, fields) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log(LogLevelInfo, msg, fields) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log(LogLevelWarn, msg, fields) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, fields) }

// With creates a new logger with pre-populated fields. The level is shared with the parent.
func (l *DefaultLogger) With(fields ...Field) Logger {
	newFields := make([]Field, 0, len(l.fields)+len(fields))
	newFields = append(newFields, l.fields...)
	newFields = append(newFields, fields...)

	return &DefaultLogger{
		logger:   l.logger,
		minLevel: l.minLevel,
		fields:   newFields,
	}
}

// SetLevel sets the minimum log level
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.minLevel.Store(int32(level))
}

func (l *DefaultLogger) log(level LogLevel, msg string, fields []Field) {
	if LogLevel(l.minLevel.Load()) > level {
		return
	}

	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(level.String())
	sb.WriteString("] ")
	sb.WriteString(msg)
	if len(l.fields)+len(fields) > 0 {
		sb.WriteString(" |")
		for _, field := range l.fields {
			fmt.Fprintf(&sb, " %s=%v", field.Key, field.Value)
		}
		for _, field := range fields {
			fmt.Fprintf(&sb, " %s=%v", field.Key, field.Value)
		}
	}

	l.logger.Println(sb.String())
}

// NoopLogger is a logger that doesn't log anything
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
func (n *NoopLogger) With(fields ...Field) Logger       { return n }
func (n *NoopLogger) SetLevel(level LogLevel)           {}

// Global default logger - can be replaced by applications
var defaultLogger atomic.Pointer[loggerHolder]

type loggerHolder struct{ Logger }

func init() {
	defaultLogger.Store(&loggerHolder{NewNoopLogger()})
}

// SetDefaultLogger sets the logger used by instances created without Options.Logging.
func SetDefaultLogger(logger Logger) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	defaultLogger.Store(&loggerHolder{logger})
}

// GetDefaultLogger returns the current default logger
func GetDefaultLogger() Logger {
	return defaultLogger.Load().Logger
}

// Convenience functions for logging with the default logger
func Debug(msg string, fields ...Field) {
	GetDefaultLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Field) {
	GetDefaultLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Field) {
	GetDefaultLogger().Warn(msg, fields...)
}

func LogError(msg string, fields ...Field) {
	GetDefaultLogger().Error(msg, fields...)
}
