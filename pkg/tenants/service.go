package tenants

import (
	"context"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/observability"
)

// Invalidator invalidates a tenant's cached entitlement view after a
// plan, addon or role change.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) error
}

// Binder creates the tenant's version binding when the business type is
// assigned. Wired to the versioning store.
type Binder interface {
	BindTenant(ctx context.Context, tenantID, businessType string) error
}

// Service wraps the store with audit logging and cache invalidation.
// Every entitlement-relevant mutation invalidates the tenant's view;
// stale grants outliving a plan downgrade would widen access silently.
type Service struct {
	store       *Store
	log         *observability.Logger
	auditor     audit.Logger
	invalidator Invalidator
	binder      Binder
}

// NewService creates a tenant service
func NewService(store *Store, log *observability.Logger, auditor audit.Logger, invalidator Invalidator, binder Binder) *Service {
	if auditor == nil {
		auditor = audit.NoOp()
	}
	return &Service{
		store:       store,
		log:         log,
		auditor:     auditor,
		invalidator: invalidator,
		binder:      binder,
	}
}

// Store exposes the underlying store for read paths
func (s *Service) Store() *Store {
	return s.store
}

// Create provisions a tenant and its version binding
func (s *Service) Create(ctx context.Context, t *Tenant) error {
	if err := s.store.Create(ctx, t); err != nil {
		return err
	}

	if s.binder != nil {
		if err := s.binder.BindTenant(ctx, t.ID, t.BusinessType); err != nil {
			return err
		}
	}

	s.log.WithField("tenant_id", t.ID).WithField("business_type", t.BusinessType).Info("Created tenant")
	return nil
}

// SetPlan changes a tenant's plan, audited with the old and new codes
func (s *Service) SetPlan(ctx context.Context, tenantID, planCode, actor, reason string) error {
	old, err := s.store.SetPlan(ctx, tenantID, planCode)
	if err != nil {
		return err
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"plan_code": old},
		After:  map[string]interface{}{"plan_code": planCode},
	}
	if err := s.auditor.LogMutation(ctx, audit.EventTypeTenantPlanChange, actor, audit.ResourceTypePlan, tenantID, changes, reason); err != nil {
		s.log.WithError(err).Warn("Failed to audit plan change")
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// AddAddon activates an addon on a tenant
func (s *Service) AddAddon(ctx context.Context, tenantID, addonCode, actor string) error {
	if err := s.store.AddAddon(ctx, tenantID, addonCode); err != nil {
		return err
	}

	changes := &audit.ChangeDetails{After: map[string]interface{}{"addon_code": addonCode}}
	if err := s.auditor.LogMutation(ctx, audit.EventTypeTenantAddonChange, actor, audit.ResourceTypeTenant, tenantID, changes, ""); err != nil {
		s.log.WithError(err).Warn("Failed to audit addon change")
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// RemoveAddon deactivates an addon on a tenant
func (s *Service) RemoveAddon(ctx context.Context, tenantID, addonCode, actor string) error {
	if err := s.store.RemoveAddon(ctx, tenantID, addonCode); err != nil {
		return err
	}

	changes := &audit.ChangeDetails{Before: map[string]interface{}{"addon_code": addonCode}}
	if err := s.auditor.LogMutation(ctx, audit.EventTypeTenantAddonChange, actor, audit.ResourceTypeTenant, tenantID, changes, ""); err != nil {
		s.log.WithError(err).Warn("Failed to audit addon change")
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// AssignRole sets a user's role within a tenant
func (s *Service) AssignRole(ctx context.Context, tenantID, userID, roleID, actor string) error {
	old, err := s.store.GetUserRole(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := s.store.AssignRole(ctx, tenantID, userID, roleID, actor); err != nil {
		return err
	}

	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"role_id": old},
		After:  map[string]interface{}{"role_id": roleID},
	}
	if err := s.auditor.LogMutation(ctx, audit.EventTypeTenantRoleChange, actor, audit.ResourceTypeRole, userID, changes, ""); err != nil {
		s.log.WithError(err).Warn("Failed to audit role change")
	}

	s.invalidate(ctx, tenantID)
	return nil
}

// RemoveRole clears a user's role within a tenant
func (s *Service) RemoveRole(ctx context.Context, tenantID, userID, actor string) error {
	old, err := s.store.GetUserRole(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	if err := s.store.RemoveRole(ctx, tenantID, userID); err != nil {
		return err
	}

	changes := &audit.ChangeDetails{Before: map[string]interface{}{"role_id": old}}
	if err := s.auditor.LogMutation(ctx, audit.EventTypeTenantRoleChange, actor, audit.ResourceTypeRole, userID, changes, ""); err != nil {
		s.log.WithError(err).Warn("Failed to audit role change")
	}

	s.invalidate(ctx, tenantID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.InvalidateTenant(ctx, tenantID); err != nil {
		s.log.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to invalidate entitlement view")
	}
}
