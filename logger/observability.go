package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ObservabilityLogger writes structured JSON lines for log shipping.
// The file is rotated by size so a long-running server never fills the disk.
type ObservabilityLogger struct {
	logger  *logrus.Logger
	rotator *lumberjack.Logger
}

// Component constants for consistent labeling
const (
	ComponentParser         = "parser"
	ComponentSession        = "session"
	ComponentStream         = "stream"
	ComponentStore          = "store"
	ComponentAPI            = "api"
	ComponentConfig         = "configuration"
	ComponentCircuitBreaker = "circuit_breaker"
	ComponentServer         = "server"
)

// Category constants for log classification
const (
	CategoryRequest    = "request"
	CategorySuccess    = "success"
	CategoryWarning    = "warning"
	CategoryError      = "error"
	CategoryHealth     = "health"
	CategoryFailover   = "failover"
	CategoryParse      = "parse"
	CategoryTransition = "transition"
	CategoryDebug      = "debug"
)

const serviceName = "seeker"

// RotationConfig bounds the size and age of the JSON log files
type RotationConfig struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultRotationConfig returns the rotation policy used by the server
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 28,
		Compress:   true,
	}
}

// NewObservabilityLogger creates a JSON logger writing to seeker.jsonl in logDir
func NewObservabilityLogger(logDir string, level Level, rotation RotationConfig) (*ObservabilityLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "seeker.jsonl"),
		MaxSize:    rotation.MaxSizeMB,
		MaxBackups: rotation.MaxBackups,
		MaxAge:     rotation.MaxAgeDays,
		Compress:   rotation.Compress,
	}

	obs := NewObservabilityLoggerWithWriter(rotator, level)
	obs.rotator = rotator
	return obs, nil
}

// NewObservabilityLoggerWithWriter creates a JSON logger writing to out
func NewObservabilityLoggerWithWriter(out io.Writer, level Level) *ObservabilityLogger {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetLevel(level.logrusLevel())

	return &ObservabilityLogger{logger: logger}
}

// Close closes the log file
func (o *ObservabilityLogger) Close() error {
	if o.rotator != nil {
		return o.rotator.Close()
	}
	return nil
}

// ConfigureStandardLogger sets up the process-wide logrus logger that the
// parser and the emoji console logger write through
func ConfigureStandardLogger(out io.Writer, level Level) {
	logrus.SetOutput(out)
	logrus.SetLevel(level.logrusLevel())
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
}

func (o *ObservabilityLogger) createEntry(component, category, requestID string, fields map[string]interface{}) *logrus.Entry {
	entry := o.logger.WithFields(logrus.Fields{
		"service":   serviceName,
		"component": component,
		"category":  category,
	})

	if requestID != "" {
		entry = entry.WithField("request_id", requestID)
	}

	if fields != nil {
		entry = entry.WithFields(fields)
	}

	return entry
}

// Debug logs a debug message
func (o *ObservabilityLogger) Debug(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Debug(message)
}

// Info logs an info message
func (o *ObservabilityLogger) Info(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Info(message)
}

// Warn logs a warning message
func (o *ObservabilityLogger) Warn(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Warn(message)
}

// Error logs an error message
func (o *ObservabilityLogger) Error(component, category, requestID, message string, fields map[string]interface{}) {
	o.createEntry(component, category, requestID, fields).Error(message)
}

// Query logs a research query arriving for a chat session
func (o *ObservabilityLogger) Query(requestID, sessionID string, queryLength int) {
	o.Info(ComponentAPI, CategoryRequest, requestID, "Research query received", map[string]interface{}{
		"session_id":   sessionID,
		"query_length": queryLength,
	})
}

// SessionTransition logs a streaming session moving between states
func (o *ObservabilityLogger) SessionTransition(requestID, sessionID, from, to string) {
	o.Debug(ComponentSession, CategoryTransition, requestID, "Session state changed", map[string]interface{}{
		"session_id": sessionID,
		"from":       from,
		"to":         to,
	})
}

// ParseOutcome logs how a finished response was parsed
func (o *ObservabilityLogger) ParseOutcome(requestID, sessionID, protocol string, issues []error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["session_id"] = sessionID
	fields["protocol"] = protocol
	fields["issue_count"] = len(issues)
	if len(issues) > 0 {
		messages := make([]string, 0, len(issues))
		for _, issue := range issues {
			messages = append(messages, issue.Error())
		}
		fields["issues"] = messages
		o.Warn(ComponentParser, CategoryParse, requestID, "Response parsed with recovered issues", fields)
		return
	}
	o.Info(ComponentParser, CategoryParse, requestID, "Response parsed", fields)
}

// StreamFailure logs a transport error that ended a streaming session
func (o *ObservabilityLogger) StreamFailure(requestID, sessionID string, err error, fragments int) {
	o.Error(ComponentStream, CategoryError, requestID, "Token stream failed", map[string]interface{}{
		"session_id": sessionID,
		"error":      err.Error(),
		"fragments":  fragments,
	})
}

// CircuitBreakerEvent logs circuit breaker state changes
func (o *ObservabilityLogger) CircuitBreakerEvent(requestID, endpoint, message string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["endpoint"] = endpoint
	o.Info(ComponentCircuitBreaker, CategoryHealth, requestID, message, fields)
}
