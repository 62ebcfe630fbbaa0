package logger

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"seeker/internal"
)

// Level represents the severity level of a log message
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
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

// Emoji returns the emoji prefix for a log level
func (l Level) Emoji() string {
	switch l {
	case DEBUG:
		return "🔍"
	case INFO:
		return "ℹ️"
	case WARN:
		return "⚠️"
	case ERROR:
		return "❌"
	default:
		return "📝"
	}
}

// logrusLevel maps a Level onto the logrus severity scale
func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel parses a level name, case-insensitively. Unknown names map to INFO.
func ParseLevel(levelStr string) Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger defines the interface for structured logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	WithField(key, value string) Logger
	WithSession(sessionID string) Logger
	WithComponent(component string) Logger
}

// LoggerConfig holds configuration for the logger
type LoggerConfig interface {
	GetMinLogLevel() Level
	ShouldMaskAPIKeys() bool
}

// ContextLogger implements the Logger interface on top of a logrus logger,
// tagging every line with the request and chat session found in its context
type ContextLogger struct {
	ctx       context.Context
	config    LoggerConfig
	base      *logrus.Logger
	fields    map[string]string
	sessionID string
	component string
}

// contextKey is used for storing logger in context
type contextKey string

const (
	loggerContextKey contextKey = "logger"
)

// New creates a new ContextLogger writing through the logrus standard logger
func New(ctx context.Context, config LoggerConfig) Logger {
	return NewWithBase(ctx, config, logrus.StandardLogger())
}

// NewWithBase creates a new ContextLogger writing through base
func NewWithBase(ctx context.Context, config LoggerConfig, base *logrus.Logger) Logger {
	return &ContextLogger{
		ctx:       ctx,
		config:    config,
		base:      base,
		fields:    make(map[string]string),
		sessionID: internal.GetSessionID(ctx),
	}
}

// FromContext returns a logger from context, or creates a new one if none exists
func FromContext(ctx context.Context, config LoggerConfig) Logger {
	if logger, ok := ctx.Value(loggerContextKey).(Logger); ok {
		return logger
	}
	return New(ctx, config)
}

// IntoContext creates a logger for ctx and stores it there for ConditionalLogger and FromContext
func IntoContext(ctx context.Context, config LoggerConfig) (context.Context, Logger) {
	logger := New(ctx, config)
	return context.WithValue(ctx, loggerContextKey, logger), logger
}

// WithContext stores the logger in context for later retrieval
func (l *ContextLogger) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, loggerContextKey, l)
}

func (l *ContextLogger) clone() *ContextLogger {
	fields := make(map[string]string, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return &ContextLogger{
		ctx:       l.ctx,
		config:    l.config,
		base:      l.base,
		fields:    fields,
		sessionID: l.sessionID,
		component: l.component,
	}
}

// WithField adds a field to the logger context
func (l *ContextLogger) WithField(key, value string) Logger {
	c := l.clone()
	c.fields[key] = value
	return c
}

// WithSession tags subsequent lines with a chat session ID
func (l *ContextLogger) WithSession(sessionID string) Logger {
	c := l.clone()
	c.sessionID = sessionID
	return c
}

// WithComponent sets the component for the logger
func (l *ContextLogger) WithComponent(component string) Logger {
	c := l.clone()
	c.component = component
	return c
}

func (l *ContextLogger) shouldLog(level Level) bool {
	return level >= l.config.GetMinLogLevel()
}

// formatMessage renders the emoji-prefixed message text; identifiers travel as fields
func (l *ContextLogger) formatMessage(level Level, format string, args ...interface{}) string {
	message := fmt.Sprintf(format, args...)
	if l.config.ShouldMaskAPIKeys() {
		message = MaskSecrets(message)
	}
	return fmt.Sprintf("%s %s", level.Emoji(), message)
}

func (l *ContextLogger) entry() *logrus.Entry {
	fields := logrus.Fields{
		"request_id": internal.GetRequestID(l.ctx),
	}
	if l.sessionID != "" {
		fields["session_id"] = l.sessionID
	}
	if l.component != "" {
		fields["component"] = l.component
	}
	for k, v := range l.fields {
		fields[k] = v
	}
	return l.base.WithFields(fields)
}

func (l *ContextLogger) log(level Level, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.entry().Log(level.logrusLevel(), l.formatMessage(level, format, args...))
}

// Debug logs a debug level message
func (l *ContextLogger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

// Info logs an info level message
func (l *ContextLogger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

// Warn logs a warning level message
func (l *ContextLogger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

// Error logs an error level message
func (l *ContextLogger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(sk-[A-Za-z0-9]{2})[A-Za-z0-9_\-]{6,}`), "${1}***"},
	{regexp.MustCompile(`(AIza)[0-9A-Za-z_\-]{20,}`), "${1}***"},
	{regexp.MustCompile(`(?i)(Bearer\s+)\S+`), "${1}***"},
}

// MaskSecrets hides API keys and bearer tokens in free text
func MaskSecrets(message string) string {
	for _, p := range secretPatterns {
		message = p.re.ReplaceAllString(message, p.repl)
	}
	return message
}
