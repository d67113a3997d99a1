package audit

import (
	"context"
	"time"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs one audit event
	Log(ctx context.Context, event *Event) error

	// LogMutation logs a mutation event with before/after values
	LogMutation(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, changes *ChangeDetails, reason string) error

	// LogDenied logs an access denial
	LogDenied(ctx context.Context, eventType EventType, tenantID, userID string, resourceType ResourceType, resourceID, message string) error

	// LogFailure logs a failed operation
	LogFailure(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, err error) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// contextKey is the type for context keys
type contextKey string

const loggerKey contextKey = "audit_logger"

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
// when none is set
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok {
		return logger
	}
	return &noOpLogger{}
}

func newEvent(eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Metadata:  make(map[string]interface{}),
	}
}

// NoOp returns a logger that discards every event
func NoOp() Logger {
	return &noOpLogger{}
}

type noOpLogger struct{}

func (l *noOpLogger) Log(ctx context.Context, event *Event) error { return nil }

func (l *noOpLogger) LogMutation(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, changes *ChangeDetails, reason string) error {
	return nil
}

func (l *noOpLogger) LogDenied(ctx context.Context, eventType EventType, tenantID, userID string, resourceType ResourceType, resourceID, message string) error {
	return nil
}

func (l *noOpLogger) LogFailure(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, err error) error {
	return nil
}

func (l *noOpLogger) Close() error { return nil }
