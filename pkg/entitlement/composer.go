package entitlement

import (
	"context"
	"fmt"
	"sort"

	"github.com/vertiqo/entitle/pkg/catalog"
)

// PermissionSet is a deduplicated set of permission codes
type PermissionSet map[catalog.PermissionCode]struct{}

// Has reports whether the set contains a code
func (s PermissionSet) Has(code catalog.PermissionCode) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the set's codes sorted for stable output
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s))
	for code := range s {
		out = append(out, string(code))
	}
	sort.Strings(out)
	return out
}

// Composer unions the permission sets granted by a role, a plan and any
// addons. Grants are strictly additive: nothing in the system removes a
// permission granted by another layer.
type Composer struct {
	catalog catalog.Source
}

// NewComposer creates a composer reading from the given catalog
func NewComposer(source catalog.Source) *Composer {
	return &Composer{catalog: source}
}

// Compose resolves each input against the catalog and returns the
// deduplicated union. A mapping referencing an unknown permission code is
// a CatalogIntegrityError, never a silent drop.
func (c *Composer) Compose(ctx context.Context, roleID, planCode string, addonCodes []string) (PermissionSet, error) {
	set := make(PermissionSet)

	rolePerms, err := c.catalog.GetRolePermissions(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %s: %w", roleID, err)
	}
	if err := c.add(ctx, set, rolePerms, fmt.Sprintf("role %s", roleID)); err != nil {
		return nil, err
	}

	planPerms, err := c.catalog.GetPlanPermissions(ctx, planCode)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan %s: %w", planCode, err)
	}
	if err := c.add(ctx, set, planPerms, fmt.Sprintf("plan %s", planCode)); err != nil {
		return nil, err
	}

	for _, addonCode := range addonCodes {
		addonPerms, err := c.catalog.GetAddonPermissions(ctx, addonCode)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve addon %s: %w", addonCode, err)
		}
		if err := c.add(ctx, set, addonPerms, fmt.Sprintf("addon %s", addonCode)); err != nil {
			return nil, err
		}
	}

	return set, nil
}

func (c *Composer) add(ctx context.Context, set PermissionSet, codes []catalog.PermissionCode, referencer string) error {
	for _, code := range codes {
		exists, err := c.catalog.PermissionExists(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to check permission %s: %w", code, err)
		}
		if !exists {
			return &CatalogIntegrityError{Code: code, Referencer: referencer}
		}
		set[code] = struct{}{}
	}
	return nil
}
