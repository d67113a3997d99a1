package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store handles tenant persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new tenant store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new tenant
func (s *Store) Create(ctx context.Context, t *Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Slug == "" {
		t.Slug = generateSlug(t.Name)
	}
	if t.Status == "" {
		t.Status = TenantStatusActive
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	query := `
		INSERT INTO tenants (id, slug, name, business_type, status, plan_code, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`
	_, err := s.db.ExecContext(ctx, query, t.ID, t.Slug, t.Name, t.BusinessType, t.Status, t.PlanCode, now)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// Get retrieves a tenant by id
func (s *Store) Get(ctx context.Context, id string) (*Tenant, error) {
	return s.getBy(ctx, "id", id)
}

// GetBySlug retrieves a tenant by slug
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.getBy(ctx, "slug", slug)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*Tenant, error) {
	query := fmt.Sprintf(`
		SELECT id, slug, name, business_type, status, plan_code, created_at, updated_at
		FROM tenants
		WHERE %s = $1
	`, column)

	var t Tenant
	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&t.ID, &t.Slug, &t.Name, &t.BusinessType, &t.Status, &t.PlanCode, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{TenantID: value}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// SetPlan replaces a tenant's active plan and returns the previous code
func (s *Store) SetPlan(ctx context.Context, tenantID, planCode string) (string, error) {
	var old string
	err := s.db.QueryRowContext(ctx, `SELECT plan_code FROM tenants WHERE id = $1`, tenantID).Scan(&old)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{TenantID: tenantID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to read tenant plan: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE tenants SET plan_code = $1, updated_at = $2 WHERE id = $3`,
		planCode, time.Now(), tenantID)
	if err != nil {
		return "", fmt.Errorf("failed to set tenant plan: %w", err)
	}
	return old, nil
}

// GetPlan returns a tenant's active plan code
func (s *Store) GetPlan(ctx context.Context, tenantID string) (string, error) {
	var plan string
	err := s.db.QueryRowContext(ctx, `SELECT plan_code FROM tenants WHERE id = $1`, tenantID).Scan(&plan)
	if err == sql.ErrNoRows {
		return "", &NotFoundError{TenantID: tenantID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to get tenant plan: %w", err)
	}
	return plan, nil
}

// AddAddon activates an addon on a tenant. Re-adding an active addon is
// a no-op.
func (s *Store) AddAddon(ctx context.Context, tenantID, addonCode string) error {
	query := `
		INSERT INTO tenant_addons (tenant_id, addon_code, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, addon_code) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, tenantID, addonCode, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add addon: %w", err)
	}
	return nil
}

// RemoveAddon deactivates an addon on a tenant
func (s *Store) RemoveAddon(ctx context.Context, tenantID, addonCode string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenant_addons WHERE tenant_id = $1 AND addon_code = $2`,
		tenantID, addonCode)
	if err != nil {
		return fmt.Errorf("failed to remove addon: %w", err)
	}
	return nil
}

// GetAddons returns a tenant's active addon codes. An empty list is a
// valid state, not an error.
func (s *Store) GetAddons(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT addon_code FROM tenant_addons WHERE tenant_id = $1 ORDER BY addon_code`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get addons: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan addon: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// AssignRole sets a user's role within a tenant, replacing any prior
// assignment
func (s *Store) AssignRole(ctx context.Context, tenantID, userID, roleID, grantedBy string) error {
	query := `
		INSERT INTO tenant_user_roles (tenant_id, user_id, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role_id = $3, granted_by = $4, granted_at = $5
	`
	_, err := s.db.ExecContext(ctx, query, tenantID, userID, roleID, grantedBy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RemoveRole clears a user's role within a tenant
func (s *Store) RemoveRole(ctx context.Context, tenantID, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenant_user_roles WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove role: %w", err)
	}
	return nil
}

// GetUserRole returns the role id assigned to a user within a tenant, or
// empty when the user has none
func (s *Store) GetUserRole(ctx context.Context, tenantID, userID string) (string, error) {
	var roleID string
	err := s.db.QueryRowContext(ctx, `SELECT role_id FROM tenant_user_roles WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID).Scan(&roleID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user role: %w", err)
	}
	return roleID, nil
}

// generateSlug creates a URL-friendly slug from a name
func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")

	var b strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}
