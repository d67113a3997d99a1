package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	events []*Event
	err    error
	closed bool
}

func (l *recordingLogger) Log(ctx context.Context, event *Event) error {
	if l.err != nil {
		return l.err
	}
	l.events = append(l.events, event)
	return nil
}

func (l *recordingLogger) LogMutation(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, changes *ChangeDetails, reason string) error {
	event := newEvent(eventType, EventStatusSuccess)
	event.Actor = actor
	return l.Log(ctx, event)
}

func (l *recordingLogger) LogDenied(ctx context.Context, eventType EventType, tenantID, userID string, resourceType ResourceType, resourceID, message string) error {
	return l.Log(ctx, newEvent(eventType, EventStatusDenied))
}

func (l *recordingLogger) LogFailure(ctx context.Context, eventType EventType, actor string, resourceType ResourceType, resourceID string, err error) error {
	return l.Log(ctx, newEvent(eventType, EventStatusFailure))
}

func (l *recordingLogger) Close() error {
	l.closed = true
	return nil
}

func TestMultiLoggerFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	multi := NewMultiLogger(a, b)

	require.NoError(t, multi.LogMutation(context.Background(), EventTypeTenantRebind, "ops", ResourceTypeTenant, "tenant-1", nil, "upgrade"))

	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestMultiLoggerFailingSinkDoesNotSilenceOthers(t *testing.T) {
	broken := &recordingLogger{err: errors.New("disk full")}
	healthy := &recordingLogger{}
	multi := NewMultiLogger(broken, healthy)

	err := multi.Log(context.Background(), newEvent(EventTypeOverrideDelete, EventStatusSuccess))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, healthy.events, 1)
}

func TestMultiLoggerClose(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	multi := NewMultiLogger(a, b)

	require.NoError(t, multi.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestFromContextFallsBackToNoOp(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	assert.NoError(t, logger.Log(context.Background(), newEvent(EventTypeOverrideCreate, EventStatusSuccess)))
}

func TestWithLoggerRoundTrip(t *testing.T) {
	rec := &recordingLogger{}
	ctx := WithLogger(context.Background(), rec)

	require.NoError(t, FromContext(ctx).Log(ctx, newEvent(EventTypeVersionRetire, EventStatusSuccess)))
	assert.Len(t, rec.events, 1)
}
