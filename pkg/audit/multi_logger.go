package audit

import (
	"context"
	"fmt"
	"strings"
)

// MultiLogger fans one audit event out to several loggers. Every logger
// receives every event; errors are collected rather than short-circuiting
// so one failing sink cannot silence the others.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that writes to all given loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs to all underlying loggers
func (l *MultiLogger) Log(ctx context.Context, event *Event) error {
	var errs []string
	for _, logger := range l.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("audit sink errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LogMutation logs a mutation event with before/after values
func (l *MultiLogger) LogMutation(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, changes *ChangeDetails, reason string) error {
	event := newEvent(eventType, EventStatusSuccess)
	event.Actor = actor
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Reason = reason
	return l.Log(ctx, event)
}

// LogDenied logs an access denial
func (l *MultiLogger) LogDenied(ctx context.Context, eventType EventType, tenantID, userID string, resourceType ResourceType, resourceID, message string) error {
	event := newEvent(eventType, EventStatusDenied)
	event.TenantID = tenantID
	event.UserID = userID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return l.Log(ctx, event)
}

// LogFailure logs a failed operation
func (l *MultiLogger) LogFailure(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, err error) error {
	event := newEvent(eventType, EventStatusFailure)
	event.Actor = actor
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return l.Log(ctx, event)
}

// Close closes all underlying loggers
func (l *MultiLogger) Close() error {
	var errs []string
	for _, logger := range l.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("audit close errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
