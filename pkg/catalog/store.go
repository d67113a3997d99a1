package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store is the PostgreSQL-backed catalog. It implements Source for the
// engine's read path and carries the admin write path used by seeding.
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertPermission registers or updates a permission definition.
// Deprecation is the only mutable field; codes are never deleted.
func (s *Store) UpsertPermission(ctx context.Context, p *Permission) error {
	query := `
		INSERT INTO permissions (code, description, deprecated, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET description = EXCLUDED.description, deprecated = EXCLUDED.deprecated
	`
	if !p.Code.Valid() {
		return fmt.Errorf("invalid permission code %q: want resource.action", p.Code)
	}
	_, err := s.db.ExecContext(ctx, query, p.Code, p.Description, p.Deprecated, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

// UpsertRole creates or updates a role and its permission mapping
func (s *Store) UpsertRole(ctx context.Context, r *Role) error {
	permsJSON, err := json.Marshal(r.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal role permissions: %w", err)
	}

	query := `
		INSERT INTO roles (id, name, display_name, tenant_id, is_system, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, display_name = EXCLUDED.display_name,
		    permissions = EXCLUDED.permissions, updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, r.ID, r.Name, r.DisplayName, r.TenantID, r.IsSystem, string(permsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert role: %w", err)
	}
	return nil
}

// UpsertPlan creates or updates a plan's permission mapping
func (s *Store) UpsertPlan(ctx context.Context, p *Plan) error {
	permsJSON, err := json.Marshal(p.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal plan permissions: %w", err)
	}

	query := `
		INSERT INTO plans (code, name, permissions, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, permissions = EXCLUDED.permissions
	`
	_, err = s.db.ExecContext(ctx, query, p.Code, p.Name, string(permsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert plan: %w", err)
	}
	return nil
}

// UpsertAddon creates or updates an addon's permission mapping
func (s *Store) UpsertAddon(ctx context.Context, a *Addon) error {
	permsJSON, err := json.Marshal(a.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal addon permissions: %w", err)
	}

	query := `
		INSERT INTO addons (code, name, permissions, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, permissions = EXCLUDED.permissions
	`
	_, err = s.db.ExecContext(ctx, query, a.Code, a.Name, string(permsJSON), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert addon: %w", err)
	}
	return nil
}

// UpsertFeature creates or updates a feature definition
func (s *Store) UpsertFeature(ctx context.Context, f *Feature) error {
	if !f.Scope.Valid() {
		return fmt.Errorf("invalid feature scope %q", f.Scope)
	}
	query := `
		INSERT INTO features (code, name, scope, default_enabled, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, scope = EXCLUDED.scope,
		    default_enabled = EXCLUDED.default_enabled, description = EXCLUDED.description
	`
	_, err := s.db.ExecContext(ctx, query, f.Code, f.Name, f.Scope, f.DefaultEnabled, f.Description, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert feature: %w", err)
	}
	return nil
}

// UpsertModule creates or updates a module definition
func (s *Store) UpsertModule(ctx context.Context, m *Module) error {
	if !m.Scope.Valid() {
		return fmt.Errorf("invalid module scope %q", m.Scope)
	}
	query := `
		INSERT INTO modules (code, name, scope, default_enabled, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE
		SET name = EXCLUDED.name, scope = EXCLUDED.scope,
		    default_enabled = EXCLUDED.default_enabled, description = EXCLUDED.description
	`
	_, err := s.db.ExecContext(ctx, query, m.Code, m.Name, m.Scope, m.DefaultEnabled, m.Description, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert module: %w", err)
	}
	return nil
}

// UpsertLegacyMapping replaces the flat mapping for a business type
func (s *Store) UpsertLegacyMapping(ctx context.Context, lm *LegacyMapping) error {
	query := `
		INSERT INTO business_flat_maps (business_type, modules, features, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_type) DO UPDATE
		SET modules = EXCLUDED.modules, features = EXCLUDED.features, updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, lm.BusinessType, pq.Array(lm.Modules), pq.Array(lm.Features), time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert legacy mapping: %w", err)
	}
	return nil
}

// GetRolePermissions implements Source
func (s *Store) GetRolePermissions(ctx context.Context, roleID string) ([]PermissionCode, error) {
	query := `SELECT permissions FROM roles WHERE id = $1`

	var permsJSON string
	err := s.db.QueryRowContext(ctx, query, roleID).Scan(&permsJSON)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "role", Code: roleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role permissions: %w", err)
	}

	var codes []PermissionCode
	if err := json.Unmarshal([]byte(permsJSON), &codes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal role permissions: %w", err)
	}
	return codes, nil
}

// GetPlanPermissions implements Source
func (s *Store) GetPlanPermissions(ctx context.Context, planCode string) ([]PermissionCode, error) {
	return s.mappedPermissions(ctx, "plans", "plan", planCode)
}

// GetAddonPermissions implements Source
func (s *Store) GetAddonPermissions(ctx context.Context, addonCode string) ([]PermissionCode, error) {
	return s.mappedPermissions(ctx, "addons", "addon", addonCode)
}

func (s *Store) mappedPermissions(ctx context.Context, table, kind, code string) ([]PermissionCode, error) {
	query := fmt.Sprintf(`SELECT permissions FROM %s WHERE code = $1`, table)

	var permsJSON string
	err := s.db.QueryRowContext(ctx, query, code).Scan(&permsJSON)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: kind, Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s permissions: %w", kind, err)
	}

	var codes []PermissionCode
	if err := json.Unmarshal([]byte(permsJSON), &codes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s permissions: %w", kind, err)
	}
	return codes, nil
}

// PermissionExists implements Source
func (s *Store) PermissionExists(ctx context.Context, code PermissionCode) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM permissions WHERE code = $1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check permission existence: %w", err)
	}
	return exists, nil
}

// GetFeature implements Source
func (s *Store) GetFeature(ctx context.Context, code string) (*Feature, error) {
	query := `
		SELECT code, name, scope, default_enabled, description, created_at
		FROM features
		WHERE code = $1
	`

	var f Feature
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&f.Code, &f.Name, &f.Scope, &f.DefaultEnabled, &description, &f.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "feature", Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}
	f.Description = description.String
	return &f, nil
}

// GetModule implements Source
func (s *Store) GetModule(ctx context.Context, code string) (*Module, error) {
	query := `
		SELECT code, name, scope, default_enabled, description, created_at
		FROM modules
		WHERE code = $1
	`

	var m Module
	var description sql.NullString
	err := s.db.QueryRowContext(ctx, query, code).Scan(
		&m.Code, &m.Name, &m.Scope, &m.DefaultEnabled, &description, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "module", Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get module: %w", err)
	}
	m.Description = description.String
	return &m, nil
}

// ListGlobalFeatures implements Source
func (s *Store) ListGlobalFeatures(ctx context.Context) ([]Feature, error) {
	query := `
		SELECT code, name, scope, default_enabled, description, created_at
		FROM features
		WHERE scope = $1
		ORDER BY code ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ScopeGlobal)
	if err != nil {
		return nil, fmt.Errorf("failed to list global features: %w", err)
	}
	defer rows.Close()

	var features []Feature
	for rows.Next() {
		var f Feature
		var description sql.NullString
		if err := rows.Scan(&f.Code, &f.Name, &f.Scope, &f.DefaultEnabled, &description, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		f.Description = description.String
		features = append(features, f)
	}
	return features, rows.Err()
}

// ListGlobalModules implements Source
func (s *Store) ListGlobalModules(ctx context.Context) ([]Module, error) {
	query := `
		SELECT code, name, scope, default_enabled, description, created_at
		FROM modules
		WHERE scope = $1
		ORDER BY code ASC
	`

	rows, err := s.db.QueryContext(ctx, query, ScopeGlobal)
	if err != nil {
		return nil, fmt.Errorf("failed to list global modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		var m Module
		var description sql.NullString
		if err := rows.Scan(&m.Code, &m.Name, &m.Scope, &m.DefaultEnabled, &description, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		m.Description = description.String
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// GetLegacyMapping implements Source
func (s *Store) GetLegacyMapping(ctx context.Context, businessType string) (*LegacyMapping, error) {
	query := `SELECT business_type, modules, features FROM business_flat_maps WHERE business_type = $1`

	lm := &LegacyMapping{}
	err := s.db.QueryRowContext(ctx, query, businessType).Scan(
		&lm.BusinessType, pq.Array(&lm.Modules), pq.Array(&lm.Features),
	)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Kind: "legacy mapping", Code: businessType}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get legacy mapping: %w", err)
	}
	return lm, nil
}
