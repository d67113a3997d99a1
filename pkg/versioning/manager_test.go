package versioning

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/observability"
)

type fakeInvalidator struct {
	tenants       []string
	businessTypes []string
}

func (f *fakeInvalidator) InvalidateTenant(ctx context.Context, tenantID string) error {
	f.tenants = append(f.tenants, tenantID)
	return nil
}

func (f *fakeInvalidator) InvalidateBusinessType(ctx context.Context, businessType string) error {
	f.businessTypes = append(f.businessTypes, businessType)
	return nil
}

type recordingAuditor struct {
	audit.Logger
	events []audit.EventType
}

func (r *recordingAuditor) LogMutation(ctx context.Context, eventType audit.EventType, actor string, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, reason string) error {
	r.events = append(r.events, eventType)
	return nil
}

func (r *recordingAuditor) LogFailure(ctx context.Context, eventType audit.EventType, actor string, resourceType audit.ResourceType, resourceID string, err error) error {
	r.events = append(r.events, eventType)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeInvalidator, *recordingAuditor) {
	t.Helper()
	inv := &fakeInvalidator{}
	auditor := &recordingAuditor{Logger: audit.NoOp()}
	log := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return NewManager(NewStore(setupTestDB(t)), log, metrics, auditor, inv), inv, auditor
}

func TestManagerPublishInvalidatesBusinessType(t *testing.T) {
	m, inv, auditor := newTestManager(t)
	ctx := context.Background()

	draft, err := m.CreateDraft(ctx, "clinic", clinicModules(), clinicFeatures(), nil, "config@vertiqo")
	require.NoError(t, err)

	v, err := m.Publish(ctx, draft.ID, "config@vertiqo")
	require.NoError(t, err)
	assert.Equal(t, 1, v.VersionNumber)

	// Floating tenants flip at publish, so the whole business type is invalidated
	assert.Equal(t, []string{"clinic"}, inv.businessTypes)
	assert.Contains(t, auditor.events, audit.EventTypeVersionPublish)
}

func TestManagerPublishFailureIsAudited(t *testing.T) {
	m, inv, auditor := newTestManager(t)
	ctx := context.Background()

	draft, err := m.CreateDraft(ctx, "clinic", nil, nil, nil, "config@vertiqo")
	require.NoError(t, err)

	_, err = m.Publish(ctx, draft.ID, "config@vertiqo")
	require.Error(t, err)
	assert.Empty(t, inv.businessTypes)
	assert.Contains(t, auditor.events, audit.EventTypeVersionPublish)
}

func TestManagerRebindInvalidatesTenant(t *testing.T) {
	m, inv, auditor := newTestManager(t)
	ctx := context.Background()

	draft, err := m.CreateDraft(ctx, "clinic", clinicModules(), clinicFeatures(), nil, "config@vertiqo")
	require.NoError(t, err)
	v, err := m.Publish(ctx, draft.ID, "config@vertiqo")
	require.NoError(t, err)

	_, err = m.Store().EnsureBinding(ctx, "tenant-1", "clinic")
	require.NoError(t, err)

	entry, err := m.Rebind(ctx, "tenant-1", &v.ID, "pin to v1", "ops@vertiqo", RebindOptions{})
	require.NoError(t, err)
	assert.Equal(t, v.ID, *entry.ToVersionID)
	assert.Equal(t, []string{"tenant-1"}, inv.tenants)
	assert.Contains(t, auditor.events, audit.EventTypeTenantRebind)
}

func TestManagerRetire(t *testing.T) {
	m, inv, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		draft, err := m.CreateDraft(ctx, "clinic", clinicModules(), clinicFeatures(), nil, "config@vertiqo")
		require.NoError(t, err)
		_, err = m.Publish(ctx, draft.ID, "config@vertiqo")
		require.NoError(t, err)
	}

	versions, err := m.Store().List(ctx, "clinic")
	require.NoError(t, err)
	require.Len(t, versions, 2)

	retired, err := m.Retire(ctx, versions[0].ID, "ops@vertiqo", "superseded", RetireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateRetired, retired.State)
	assert.Len(t, inv.businessTypes, 3)
}

func TestManagerGetPublishedVersion(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	draft, err := m.CreateDraft(ctx, "clinic", clinicModules(), clinicFeatures(), nil, "config@vertiqo")
	require.NoError(t, err)
	v, err := m.Publish(ctx, draft.ID, "config@vertiqo")
	require.NoError(t, err)

	latest, err := m.GetPublishedVersion(ctx, "clinic", nil)
	require.NoError(t, err)
	assert.Equal(t, v.ID, latest.ID)

	one := 1
	byNumber, err := m.GetPublishedVersion(ctx, "clinic", &one)
	require.NoError(t, err)
	assert.Equal(t, v.ID, byNumber.ID)

	_, err = m.GetPublishedVersion(ctx, "food-truck", nil)
	var notFound *VersionNotFoundError
	require.ErrorAs(t, err, &notFound)
}
