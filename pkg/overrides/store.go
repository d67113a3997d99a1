package overrides

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vertiqo/entitle/pkg/catalog"
)

// uniqueViolation is the Postgres error code raised by the partial
// unique index on active overrides.
const uniqueViolation = "23505"

// Store handles override persistence and its append-only audit trail
type Store struct {
	db *sql.DB
}

// NewStore creates a new override store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new active override and its audit entry in one
// transaction. A racing create for the same (kind, code, scope, scopeKey)
// surfaces as *ConflictError.
func (s *Store) Create(ctx context.Context, o *Override) error {
	if o.Scope == catalog.ScopeGlobal && o.ScopeKey != nil {
		return fmt.Errorf("global overrides must not carry a scope key")
	}
	if o.Scope != catalog.ScopeGlobal && (o.ScopeKey == nil || *o.ScopeKey == "") {
		return fmt.Errorf("%s overrides require a scope key", o.Scope)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO overrides (kind, code, scope, scope_key, enabled, reason, created_by, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		RETURNING id
	`
	now := time.Now()
	err = tx.QueryRowContext(ctx, query,
		o.Kind, o.Code, o.Scope, o.ScopeKey, o.Enabled, o.Reason, o.CreatedBy, now, o.ExpiresAt,
	).Scan(&o.ID)
	if err != nil {
		return asConflict(err, o)
	}
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := appendAudit(ctx, tx, &AuditEntry{
		OverrideID: o.ID,
		Operation:  "create",
		NewEnabled: &o.Enabled,
		Actor:      o.CreatedBy,
		Reason:     o.Reason,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit override create: %w", err)
	}
	return nil
}

// Update flips the enabled state of an existing override, appending the
// old/new values to the audit trail in the same transaction.
func (s *Store) Update(ctx context.Context, id int64, enabled bool, reason, actor string) (*Override, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old bool
	err = tx.QueryRowContext(ctx, `SELECT enabled FROM overrides WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&old)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("override not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock override: %w", err)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `UPDATE overrides SET enabled = $1, reason = $2, updated_at = $3 WHERE id = $4`,
		enabled, reason, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update override: %w", err)
	}

	if err := appendAudit(ctx, tx, &AuditEntry{
		OverrideID: id,
		Operation:  "update",
		OldEnabled: &old,
		NewEnabled: &enabled,
		Actor:      actor,
		Reason:     reason,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit override update: %w", err)
	}

	return s.Get(ctx, id)
}

// Delete soft-deletes an override. The row remains for the audit trail;
// resolution treats it as absent from this point on.
func (s *Store) Delete(ctx context.Context, id int64, reason, actor string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old bool
	err = tx.QueryRowContext(ctx, `SELECT enabled FROM overrides WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id).Scan(&old)
	if err == sql.ErrNoRows {
		return fmt.Errorf("override not found: %d", id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock override: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE overrides SET deleted_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}

	if err := appendAudit(ctx, tx, &AuditEntry{
		OverrideID: id,
		Operation:  "delete",
		OldEnabled: &old,
		Actor:      actor,
		Reason:     reason,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit override delete: %w", err)
	}
	return nil
}

// Get retrieves one override by id, soft-deleted included
func (s *Store) Get(ctx context.Context, id int64) (*Override, error) {
	query := `
		SELECT id, kind, code, scope, scope_key, enabled, reason, created_by, created_at, updated_at, expires_at, deleted_at
		FROM overrides
		WHERE id = $1
	`
	o, err := scanOverride(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("override not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get override: %w", err)
	}
	return o, nil
}

// GetActive returns the active override for an exact (kind, code, scope,
// scopeKey), or nil when absent. Should the uniqueness invariant ever be
// violated, the most recently created row wins deterministically.
func (s *Store) GetActive(ctx context.Context, kind catalog.GateKind, code string, scope catalog.Scope, scopeKey *string) (*Override, error) {
	query := `
		SELECT id, kind, code, scope, scope_key, enabled, reason, created_by, created_at, updated_at, expires_at, deleted_at
		FROM overrides
		WHERE kind = $1 AND code = $2 AND scope = $3
		  AND (scope_key = $4 OR (scope_key IS NULL AND $4 IS NULL))
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT 1
	`
	o, err := scanOverride(s.db.QueryRowContext(ctx, query, kind, code, scope, scopeKey))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active override: %w", err)
	}
	return o, nil
}

// ListForScope returns all active overrides at one scope/scopeKey pair,
// keyed for batch resolution.
func (s *Store) ListForScope(ctx context.Context, scope catalog.Scope, scopeKey *string) ([]Override, error) {
	query := `
		SELECT id, kind, code, scope, scope_key, enabled, reason, created_by, created_at, updated_at, expires_at, deleted_at
		FROM overrides
		WHERE scope = $1
		  AND (scope_key = $2 OR (scope_key IS NULL AND $2 IS NULL))
		  AND deleted_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, scope, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListAudit returns the audit trail for one override, oldest first
func (s *Store) ListAudit(ctx context.Context, overrideID int64) ([]AuditEntry, error) {
	query := `
		SELECT id, override_id, operation, old_enabled, new_enabled, actor, reason, created_at
		FROM override_audit
		WHERE override_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, overrideID)
	if err != nil {
		return nil, fmt.Errorf("failed to list override audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var oldEnabled, newEnabled sql.NullBool
		if err := rows.Scan(&e.ID, &e.OverrideID, &e.Operation, &oldEnabled, &newEnabled, &e.Actor, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if oldEnabled.Valid {
			v := oldEnabled.Bool
			e.OldEnabled = &v
		}
		if newEnabled.Valid {
			v := newEnabled.Bool
			e.NewEnabled = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeDeleted hard-deletes overrides soft-deleted before cutoff.
// Called by the maintenance sweeper, never by request paths.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM overrides WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted overrides: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func appendAudit(ctx context.Context, tx *sql.Tx, e *AuditEntry) error {
	query := `
		INSERT INTO override_audit (override_id, operation, old_enabled, new_enabled, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.ExecContext(ctx, query, e.OverrideID, e.Operation, e.OldEnabled, e.NewEnabled, e.Actor, e.Reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append override audit: %w", err)
	}
	return nil
}

func asConflict(err error, o *Override) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return &ConflictError{Kind: o.Kind, Code: o.Code, Scope: o.Scope, ScopeKey: o.ScopeKey}
	}
	return fmt.Errorf("failed to create override: %w", err)
}

func scanOverride(scanner interface{ Scan(dest ...interface{}) error }) (*Override, error) {
	var o Override
	var scopeKey sql.NullString
	var expiresAt, deletedAt sql.NullTime

	err := scanner.Scan(
		&o.ID, &o.Kind, &o.Code, &o.Scope, &scopeKey, &o.Enabled,
		&o.Reason, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &expiresAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if scopeKey.Valid {
		v := scopeKey.String
		o.ScopeKey = &v
	}
	if expiresAt.Valid {
		v := expiresAt.Time
		o.ExpiresAt = &v
	}
	if deletedAt.Valid {
		v := deletedAt.Time
		o.DeletedAt = &v
	}
	return &o, nil
}
