// Package migrations defines the relational schema for the entitlement
// engine and applies it at startup. The schema spans the catalog, tenant,
// override and versioning stores, so it lives in one place rather than
// per package; cross-table constraints (foreign keys, the uniqueness
// rules the stores rely on) are declared here and nowhere else.
package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vertiqo/entitle/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create catalog tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS permissions (
					code VARCHAR(255) PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					deprecated BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS roles (
					id VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					display_name VARCHAR(255) NOT NULL,
					tenant_id VARCHAR(255),
					is_system BOOLEAN NOT NULL DEFAULT FALSE,
					permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS plans (
					code VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS addons (
					code VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					permissions JSONB NOT NULL DEFAULT '[]',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS features (
					code VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					scope VARCHAR(20) NOT NULL,
					default_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS modules (
					code VARCHAR(255) PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					scope VARCHAR(20) NOT NULL,
					default_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					description TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS business_flat_maps (
					business_type VARCHAR(255) PRIMARY KEY,
					modules TEXT[] NOT NULL DEFAULT '{}',
					features TEXT[] NOT NULL DEFAULT '{}',
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_roles_tenant_id ON roles(tenant_id);
			`,
		},
		{
			Version:     2,
			Description: "Create tenant tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenants (
					id UUID PRIMARY KEY,
					slug VARCHAR(255) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL,
					business_type VARCHAR(255) NOT NULL,
					status VARCHAR(20) NOT NULL,
					plan_code VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS tenant_addons (
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					addon_code VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, addon_code)
				);

				CREATE TABLE IF NOT EXISTS tenant_user_roles (
					tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
					user_id VARCHAR(255) NOT NULL,
					role_id VARCHAR(255) NOT NULL,
					granted_by VARCHAR(255) NOT NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (tenant_id, user_id)
				);

				CREATE INDEX idx_tenants_business_type ON tenants(business_type);
				CREATE INDEX idx_tenant_user_roles_user_id ON tenant_user_roles(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create override tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS overrides (
					id BIGSERIAL PRIMARY KEY,
					kind VARCHAR(20) NOT NULL,
					code VARCHAR(255) NOT NULL,
					scope VARCHAR(20) NOT NULL,
					scope_key VARCHAR(255),
					enabled BOOLEAN NOT NULL,
					reason TEXT NOT NULL,
					created_by VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP,
					deleted_at TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS override_audit (
					id BIGSERIAL PRIMARY KEY,
					override_id BIGINT NOT NULL REFERENCES overrides(id) ON DELETE CASCADE,
					operation VARCHAR(20) NOT NULL,
					old_enabled BOOLEAN,
					new_enabled BOOLEAN,
					actor VARCHAR(255) NOT NULL,
					reason TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_overrides_active
					ON overrides (kind, code, scope, COALESCE(scope_key, ''))
					WHERE deleted_at IS NULL;
				CREATE INDEX idx_overrides_scope ON overrides (scope, scope_key) WHERE deleted_at IS NULL;
				CREATE INDEX idx_overrides_deleted_at ON overrides (deleted_at) WHERE deleted_at IS NOT NULL;
				CREATE INDEX idx_override_audit_override_id ON override_audit (override_id);
			`,
		},
		{
			Version:     4,
			Description: "Create version tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS business_type_versions (
					id UUID PRIMARY KEY,
					business_type VARCHAR(255) NOT NULL,
					version_number INT NOT NULL DEFAULT 0,
					state VARCHAR(20) NOT NULL,
					module_snapshot JSONB NOT NULL DEFAULT '[]',
					feature_snapshot JSONB NOT NULL DEFAULT '[]',
					effective_at TIMESTAMP,
					created_by VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					published_at TIMESTAMP,
					retired_at TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS business_type_registry (
					business_type VARCHAR(255) PRIMARY KEY,
					latest_version_number INT NOT NULL,
					latest_version_id UUID REFERENCES business_type_versions(id)
				);

				CREATE UNIQUE INDEX idx_versions_number
					ON business_type_versions (business_type, version_number)
					WHERE state != 'draft';
				CREATE INDEX idx_versions_business_type ON business_type_versions (business_type, state);
			`,
		},
		{
			Version:     5,
			Description: "Create tenant binding tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_version_bindings (
					tenant_id UUID PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
					business_type VARCHAR(255) NOT NULL,
					pinned_version_id UUID REFERENCES business_type_versions(id),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS tenant_business_type_history (
					id BIGSERIAL PRIMARY KEY,
					tenant_id UUID NOT NULL,
					business_type VARCHAR(255) NOT NULL,
					from_version_id UUID,
					to_version_id UUID,
					reason TEXT NOT NULL,
					actor VARCHAR(255) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_bindings_pinned_version ON tenant_version_bindings (pinned_version_id);
				CREATE INDEX idx_binding_history_tenant ON tenant_business_type_history (tenant_id, created_at);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, log *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS entitle_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM entitle_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		if log != nil {
			log.WithField("version", migration.Version).Infof("Running migration: %s", migration.Description)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO entitle_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
