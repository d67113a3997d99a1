package catalog

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a referenced catalog entry does not exist
var ErrNotFound = errors.New("catalog entry not found")

// NotFoundError wraps ErrNotFound with the kind and code that missed
type NotFoundError struct {
	Kind string
	Code string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Code)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Source is the read-only catalog dependency injected into the
// entitlement engine. Implementations must be safe for concurrent use.
type Source interface {
	// GetRolePermissions returns the permission codes granted by a role
	GetRolePermissions(ctx context.Context, roleID string) ([]PermissionCode, error)

	// GetPlanPermissions returns the permission codes granted by a plan
	GetPlanPermissions(ctx context.Context, planCode string) ([]PermissionCode, error)

	// GetAddonPermissions returns the permission codes granted by an addon
	GetAddonPermissions(ctx context.Context, addonCode string) ([]PermissionCode, error)

	// PermissionExists reports whether a permission code is registered.
	// Used by the composer to detect mappings referencing unknown codes.
	PermissionExists(ctx context.Context, code PermissionCode) (bool, error)

	// GetFeature returns one feature definition
	GetFeature(ctx context.Context, code string) (*Feature, error)

	// GetModule returns one module definition
	GetModule(ctx context.Context, code string) (*Module, error)

	// ListGlobalFeatures returns every globally-scoped feature
	ListGlobalFeatures(ctx context.Context) ([]Feature, error)

	// ListGlobalModules returns every globally-scoped module
	ListGlobalModules(ctx context.Context) ([]Module, error)

	// GetLegacyMapping returns the flat module/feature mapping for a
	// business type, for business types with no versioning configured
	GetLegacyMapping(ctx context.Context, businessType string) (*LegacyMapping, error)
}
