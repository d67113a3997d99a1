package audit

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/vertiqo/entitle/pkg/observability"
)

// FileLogger implements audit logging to a newline-delimited JSON file.
// Used as a durable secondary sink alongside the database logger.
type FileLogger struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
}

// NewFileLogger creates a file-based audit logger appending to path
func NewFileLogger(path string) (*FileLogger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &FileLogger{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Log writes one audit event as a JSON line and flushes immediately.
// Audit events are too important to lose to a buffer on crash.
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	if event.RequestID == "" {
		event.RequestID = observability.GetRequestID(ctx)
	}

	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return l.writer.Flush()
}

// LogMutation logs a mutation event with before/after values
func (l *FileLogger) LogMutation(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, changes *ChangeDetails, reason string) error {
	event := newEvent(eventType, EventStatusSuccess)
	event.Actor = actor
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Reason = reason
	return l.Log(ctx, event)
}

// LogDenied logs an access denial
func (l *FileLogger) LogDenied(ctx context.Context, eventType EventType, tenantID, userID string, resourceType ResourceType, resourceID, message string) error {
	event := newEvent(eventType, EventStatusDenied)
	event.TenantID = tenantID
	event.UserID = userID
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = message
	return l.Log(ctx, event)
}

// LogFailure logs a failed operation
func (l *FileLogger) LogFailure(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, err error) error {
	event := newEvent(eventType, EventStatusFailure)
	event.Actor = actor
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	return l.Log(ctx, event)
}

// Close flushes and closes the underlying file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}
