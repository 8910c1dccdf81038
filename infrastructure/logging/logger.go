// Package logging provides structured logging with trace ID support
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// CaseIDKey is the context key for the case being worked on
	CaseIDKey ContextKey = "case_id"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
	component string
}

// New creates a new Logger instance
func New(component, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{
		Logger:    logger,
		component: component,
	}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT environment variables.
// Defaults to "info" and "json" when unset.
func NewFromEnv(component string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(component, level, format)
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("component", l.component)

	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if caseID := ctx.Value(CaseIDKey); caseID != nil {
		entry = entry.WithField("case_id", caseID)
	}

	return entry
}

// WithCase creates a new logger entry scoped to a case
func (l *Logger) WithCase(caseID string) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"case_id":   caseID,
	})
}

// WithFields creates a new logger entry with custom fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["component"] = l.component
	return l.Logger.WithFields(fields)
}

// WithError creates a new logger entry with error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"component": l.component,
		"error":     err.Error(),
	})
}

// Context helper functions

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// WithCaseID adds a case ID to the context
func WithCaseID(ctx context.Context, caseID string) context.Context {
	return context.WithValue(ctx, CaseIDKey, caseID)
}

// GetCaseID retrieves the case ID from context
func GetCaseID(ctx context.Context) string {
	if caseID, ok := ctx.Value(CaseIDKey).(string); ok {
		return caseID
	}
	return ""
}

// Structured logging helpers

// LogRequest logs an HTTP request
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("HTTP request")
}

// LogJob logs the outcome of a driver job (processing or render)
func (l *Logger) LogJob(caseID, job, outcome string, duration time.Duration, err error) {
	entry := l.WithCase(caseID).WithFields(logrus.Fields{
		"job":         job,
		"outcome":     outcome,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithError(err).Error("Job finished")
	} else {
		entry.Info("Job finished")
	}
}

// LogFileResult logs a per-file extraction outcome
func (l *Logger) LogFileResult(caseID, file, status string, score int, duration time.Duration) {
	l.WithCase(caseID).WithFields(logrus.Fields{
		"file":        file,
		"status":      status,
		"score":       score,
		"duration_ms": duration.Milliseconds(),
	}).Info("File processed")
}

// LogWorkerInvocation logs an external collaborator call at DEBUG with full detail
func (l *Logger) LogWorkerInvocation(caseID, worker, command string, args []string, duration time.Duration, err error) {
	entry := l.WithCase(caseID).WithFields(logrus.Fields{
		"worker":      worker,
		"command":     command,
		"args":        args,
		"duration_ms": duration.Milliseconds(),
	})

	if err != nil {
		entry.WithField("worker_error", err.Error()).Debug("Worker invocation failed")
	} else {
		entry.Debug("Worker invocation completed")
	}
}

// LogManifestSkip logs a manifest line that could not be interpreted
func (l *Logger) LogManifestSkip(caseID string, lineNo int, raw, reason string) {
	l.WithCase(caseID).WithFields(logrus.Fields{
		"line_no": lineNo,
		"raw":     raw,
		"reason":  reason,
	}).Warn("Skipping manifest line")
}
