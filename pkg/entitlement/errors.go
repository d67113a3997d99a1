package entitlement

import (
	"fmt"

	"github.com/vertiqo/entitle/pkg/catalog"
)

// CatalogIntegrityError reports a role, plan or addon mapping referencing
// a permission code that does not exist in the catalog. This is a
// configuration bug: it is always fatal and never retried, because
// silently dropping the code would mask a broken deployment.
type CatalogIntegrityError struct {
	Code       catalog.PermissionCode
	Referencer string
}

func (e *CatalogIntegrityError) Error() string {
	return fmt.Sprintf("catalog integrity violation: %s references unknown permission %q", e.Referencer, e.Code)
}

// IncompleteEntitlementError reports a missing tenant-side record (role,
// plan, or required configuration). The caller receives a zero-permission
// view alongside this error: the system fails closed, never open.
type IncompleteEntitlementError struct {
	TenantID string
	UserID   string
	Missing  string
}

func (e *IncompleteEntitlementError) Error() string {
	return fmt.Sprintf("incomplete entitlement for tenant %s user %s: missing %s", e.TenantID, e.UserID, e.Missing)
}
