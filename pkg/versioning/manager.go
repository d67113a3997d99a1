package versioning

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/observability"
)

// Invalidator invalidates cached entitlement views after a version or
// binding change. Publishing a new version flips every floating tenant of
// the business type at once, so invalidation fans out business-wide.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
	InvalidateBusinessType(ctx context.Context, businessType string) error
}

// Manager drives the version lifecycle: draft, publish, retire, rebind.
// Every transition is audit-logged and followed by cache invalidation.
type Manager struct {
	store       *Store
	log         *observability.Logger
	metrics     *observability.Metrics
	auditor     audit.Logger
	invalidator Invalidator
}

// NewManager creates a version manager
func NewManager(store *Store, log *observability.Logger, metrics *observability.Metrics, auditor audit.Logger, invalidator Invalidator) *Manager {
	if auditor == nil {
		auditor = audit.NoOp()
	}
	return &Manager{
		store:       store,
		log:         log,
		metrics:     metrics,
		auditor:     auditor,
		invalidator: invalidator,
	}
}

// Store exposes the underlying store for read paths
func (m *Manager) Store() *Store {
	return m.store
}

// CreateDraft creates a new draft version for a business type
func (m *Manager) CreateDraft(ctx context.Context, businessType string, modules, features []SnapshotEntry, effectiveAt *time.Time, createdBy string) (*BusinessTypeVersion, error) {
	v, err := m.store.CreateDraft(ctx, businessType, modules, features, effectiveAt, createdBy)
	if err != nil {
		return nil, err
	}

	m.log.WithField("version_id", v.ID).WithField("business_type", businessType).Info("Created draft version")
	if err := m.auditor.LogMutation(ctx, audit.EventTypeVersionDraft, createdBy, audit.ResourceTypeVersion, v.ID, nil, ""); err != nil {
		m.log.WithError(err).Warn("Failed to audit draft creation")
	}
	return v, nil
}

// UpdateDraft replaces a draft's snapshots
func (m *Manager) UpdateDraft(ctx context.Context, id string, modules, features []SnapshotEntry, effectiveAt *time.Time) (*BusinessTypeVersion, error) {
	return m.store.UpdateDraft(ctx, id, modules, features, effectiveAt)
}

// Publish validates and publishes a draft. Floating tenants of the
// business type pick up the new snapshot immediately, so their cached
// views are invalidated.
func (m *Manager) Publish(ctx context.Context, id, actor string) (*BusinessTypeVersion, error) {
	v, err := m.store.Publish(ctx, id)
	if err != nil {
		if auditErr := m.auditor.LogFailure(ctx, audit.EventTypeVersionPublish, actor, audit.ResourceTypeVersion, id, err); auditErr != nil {
			m.log.WithError(auditErr).Warn("Failed to audit publish failure")
		}
		return nil, err
	}

	m.log.WithField("version_id", v.ID).
		WithField("business_type", v.BusinessType).
		WithField("version_number", v.VersionNumber).
		Info("Published version")
	if m.metrics != nil {
		m.metrics.VersionPublishesTotal.WithLabelValues(v.BusinessType).Inc()
	}

	changes := &audit.ChangeDetails{
		After: map[string]interface{}{
			"state":          string(StatePublished),
			"version_number": v.VersionNumber,
		},
	}
	if err := m.auditor.LogMutation(ctx, audit.EventTypeVersionPublish, actor, audit.ResourceTypeVersion, v.ID, changes, ""); err != nil {
		m.log.WithError(err).Warn("Failed to audit publish")
	}

	if m.invalidator != nil {
		if err := m.invalidator.InvalidateBusinessType(ctx, v.BusinessType); err != nil {
			m.log.WithError(err).WithField("business_type", v.BusinessType).Warn("Failed to invalidate views after publish")
		}
	}
	return v, nil
}

// Retire retires a published version
func (m *Manager) Retire(ctx context.Context, id, actor, reason string, opts RetireOptions) (*BusinessTypeVersion, error) {
	v, err := m.store.Retire(ctx, id, opts)
	if err != nil {
		return nil, err
	}

	m.log.WithField("version_id", v.ID).WithField("business_type", v.BusinessType).Info("Retired version")
	if m.metrics != nil {
		m.metrics.VersionRetiresTotal.WithLabelValues(v.BusinessType).Inc()
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"state": string(StatePublished)},
		After:  map[string]interface{}{"state": string(StateRetired)},
	}
	if err := m.auditor.LogMutation(ctx, audit.EventTypeVersionRetire, actor, audit.ResourceTypeVersion, v.ID, changes, reason); err != nil {
		m.log.WithError(err).Warn("Failed to audit retire")
	}

	if m.invalidator != nil {
		if err := m.invalidator.InvalidateBusinessType(ctx, v.BusinessType); err != nil {
			m.log.WithError(err).WithField("business_type", v.BusinessType).Warn("Failed to invalidate views after retire")
		}
	}
	return v, nil
}

// Rebind moves a tenant to another version and invalidates its cached
// view. toVersionID nil returns the tenant to floating.
func (m *Manager) Rebind(ctx context.Context, tenantID string, toVersionID *string, reason, actor string, opts RebindOptions) (*HistoryEntry, error) {
	entry, err := m.store.Rebind(ctx, tenantID, toVersionID, reason, actor, opts)
	if err != nil {
		return nil, err
	}

	m.log.WithField("tenant_id", tenantID).
		WithField("from", strOrFloating(entry.FromVersionID)).
		WithField("to", strOrFloating(entry.ToVersionID)).
		Info("Rebound tenant")
	if m.metrics != nil {
		m.metrics.RebindsTotal.WithLabelValues(entry.BusinessType, strconv.FormatBool(opts.Rollback)).Inc()
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"pinned_version_id": strOrFloating(entry.FromVersionID)},
		After:  map[string]interface{}{"pinned_version_id": strOrFloating(entry.ToVersionID)},
	}
	if err := m.auditor.LogMutation(ctx, audit.EventTypeTenantRebind, actor, audit.ResourceTypeTenant, tenantID, changes, reason); err != nil {
		m.log.WithError(err).Warn("Failed to audit rebind")
	}

	if m.invalidator != nil {
		if err := m.invalidator.InvalidateTenant(ctx, tenantID); err != nil {
			m.log.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to invalidate views after rebind")
		}
	}
	return entry, nil
}

// GetPublishedVersion resolves a published version, latest when
// versionNumber is nil.
func (m *Manager) GetPublishedVersion(ctx context.Context, businessType string, versionNumber *int) (*BusinessTypeVersion, error) {
	if versionNumber != nil {
		return m.store.GetPublished(ctx, businessType, *versionNumber)
	}
	v, err := m.store.GetLatestPublished(ctx, businessType)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, &VersionNotFoundError{VersionID: fmt.Sprintf("%s/latest", businessType), BusinessType: businessType}
	}
	return v, nil
}

func strOrFloating(id *string) string {
	if id == nil {
		return "floating"
	}
	return *id
}
