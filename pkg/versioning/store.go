package versioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store handles version, binding and history persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new versioning store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateDraft creates a new draft version. Drafts carry no version
// number until publish assigns one.
func (s *Store) CreateDraft(ctx context.Context, businessType string, modules, features []SnapshotEntry, effectiveAt *time.Time, createdBy string) (*BusinessTypeVersion, error) {
	moduleJSON, err := json.Marshal(modules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal module snapshot: %w", err)
	}
	featureJSON, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature snapshot: %w", err)
	}

	v := &BusinessTypeVersion{
		ID:              uuid.NewString(),
		BusinessType:    businessType,
		State:           StateDraft,
		ModuleSnapshot:  modules,
		FeatureSnapshot: features,
		EffectiveAt:     effectiveAt,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	query := `
		INSERT INTO business_type_versions (id, business_type, version_number, state, module_snapshot, feature_snapshot, effective_at, created_by, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		v.ID, v.BusinessType, v.State, string(moduleJSON), string(featureJSON), v.EffectiveAt, v.CreatedBy, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create draft version: %w", err)
	}
	return v, nil
}

// UpdateDraft replaces a draft's snapshots. Published and retired
// versions are immutable; only drafts may be edited.
func (s *Store) UpdateDraft(ctx context.Context, id string, modules, features []SnapshotEntry, effectiveAt *time.Time) (*BusinessTypeVersion, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.State != StateDraft {
		return nil, fmt.Errorf("version %s is %s and immutable", id, current.State)
	}

	moduleJSON, err := json.Marshal(modules)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal module snapshot: %w", err)
	}
	featureJSON, err := json.Marshal(features)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature snapshot: %w", err)
	}

	query := `
		UPDATE business_type_versions
		SET module_snapshot = $1, feature_snapshot = $2, effective_at = $3, updated_at = $4
		WHERE id = $5 AND state = $6
	`
	_, err = s.db.ExecContext(ctx, query, string(moduleJSON), string(featureJSON), effectiveAt, time.Now(), id, StateDraft)
	if err != nil {
		return nil, fmt.Errorf("failed to update draft version: %w", err)
	}
	return s.Get(ctx, id)
}

// Get retrieves one version by id
func (s *Store) Get(ctx context.Context, id string) (*BusinessTypeVersion, error) {
	query := `
		SELECT id, business_type, version_number, state, module_snapshot, feature_snapshot, effective_at, created_by, created_at, updated_at, published_at, retired_at
		FROM business_type_versions
		WHERE id = $1
	`
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, &VersionNotFoundError{VersionID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	return v, nil
}

// GetPublished retrieves a specific published version by number
func (s *Store) GetPublished(ctx context.Context, businessType string, versionNumber int) (*BusinessTypeVersion, error) {
	query := `
		SELECT id, business_type, version_number, state, module_snapshot, feature_snapshot, effective_at, created_by, created_at, updated_at, published_at, retired_at
		FROM business_type_versions
		WHERE business_type = $1 AND version_number = $2 AND state = $3
	`
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, businessType, versionNumber, StatePublished))
	if err == sql.ErrNoRows {
		return nil, &VersionNotFoundError{VersionID: fmt.Sprintf("%s/v%d", businessType, versionNumber), BusinessType: businessType}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get published version: %w", err)
	}
	return v, nil
}

// GetLatestPublished returns the business type's current latest published
// version, or nil when the business type has no published version at all.
// Callers treat nil as "versioning not configured" and fall back to the
// legacy flat mapping.
func (s *Store) GetLatestPublished(ctx context.Context, businessType string) (*BusinessTypeVersion, error) {
	query := `
		SELECT v.id, v.business_type, v.version_number, v.state, v.module_snapshot, v.feature_snapshot, v.effective_at, v.created_by, v.created_at, v.updated_at, v.published_at, v.retired_at
		FROM business_type_versions v
		JOIN business_type_registry r ON r.latest_version_id = v.id
		WHERE r.business_type = $1
	`
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, businessType))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest published version: %w", err)
	}
	return v, nil
}

// List returns all versions for a business type, newest first
func (s *Store) List(ctx context.Context, businessType string) ([]BusinessTypeVersion, error) {
	query := `
		SELECT id, business_type, version_number, state, module_snapshot, feature_snapshot, effective_at, created_by, created_at, updated_at, published_at, retired_at
		FROM business_type_versions
		WHERE business_type = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, businessType)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var out []BusinessTypeVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// Publish transitions a draft to published. The version number and the
// registry's latest pointer advance in the same transaction, so a crash
// mid-publish can never leave the registry pointing at an unvalidated
// version.
func (s *Store) Publish(ctx context.Context, id string) (*BusinessTypeVersion, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.State != StateDraft {
		return nil, &InvalidTransitionError{VersionID: id, From: v.State, To: StatePublished}
	}

	now := time.Now()
	if err := v.validateForPublish(now); err != nil {
		return nil, err
	}
	if v.EffectiveAt == nil {
		v.EffectiveAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest int
	err = tx.QueryRowContext(ctx, `SELECT latest_version_number FROM business_type_registry WHERE business_type = $1`, v.BusinessType).Scan(&latest)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read version registry: %w", err)
	}
	next := latest + 1

	res, err := tx.ExecContext(ctx, `
		UPDATE business_type_versions
		SET state = $1, version_number = $2, effective_at = $3, published_at = $4, updated_at = $4
		WHERE id = $5 AND state = $6
	`, StatePublished, next, v.EffectiveAt, now, id, StateDraft)
	if err != nil {
		return nil, fmt.Errorf("failed to publish version: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, &InvalidTransitionError{VersionID: id, From: StatePublished, To: StatePublished}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO business_type_registry (business_type, latest_version_number, latest_version_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (business_type) DO UPDATE SET latest_version_number = $2, latest_version_id = $3
	`, v.BusinessType, next, id)
	if err != nil {
		return nil, fmt.Errorf("failed to advance version registry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit publish: %w", err)
	}
	return s.Get(ctx, id)
}

// Retire transitions a published version to retired. Without the force
// option the business type must keep at least one other published
// version. If the retired version was the latest, the registry repoints
// to the highest-numbered remaining published version.
func (s *Store) Retire(ctx context.Context, id string, opts RetireOptions) (*BusinessTypeVersion, error) {
	v, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if v.State != StatePublished {
		return nil, &InvalidTransitionError{VersionID: id, From: v.State, To: StateRetired}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var others int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM business_type_versions
		WHERE business_type = $1 AND state = $2 AND id != $3
	`, v.BusinessType, StatePublished, id).Scan(&others)
	if err != nil {
		return nil, fmt.Errorf("failed to count published versions: %w", err)
	}
	if others == 0 && !opts.Force {
		return nil, fmt.Errorf("version %s is the only published version for %s; pass force to retire it", id, v.BusinessType)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE business_type_versions SET state = $1, retired_at = $2, updated_at = $2 WHERE id = $3
	`, StateRetired, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to retire version: %w", err)
	}

	var latestID sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT latest_version_id FROM business_type_registry WHERE business_type = $1`, v.BusinessType).Scan(&latestID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read version registry: %w", err)
	}

	if latestID.Valid && latestID.String == id {
		var nextID sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM business_type_versions
			WHERE business_type = $1 AND state = $2
			ORDER BY version_number DESC
			LIMIT 1
		`, v.BusinessType, StatePublished).Scan(&nextID)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to find replacement latest version: %w", err)
		}

		_, err = tx.ExecContext(ctx, `UPDATE business_type_registry SET latest_version_id = $1 WHERE business_type = $2`, nextID, v.BusinessType)
		if err != nil {
			return nil, fmt.Errorf("failed to repoint version registry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit retire: %w", err)
	}
	return s.Get(ctx, id)
}

// EnsureBinding creates a floating binding for a tenant if none exists
func (s *Store) EnsureBinding(ctx context.Context, tenantID, businessType string) (*TenantVersionBinding, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_version_bindings (tenant_id, business_type, pinned_version_id, created_at, updated_at)
		VALUES ($1, $2, NULL, $3, $3)
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID, businessType, now)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure binding: %w", err)
	}
	return s.GetBinding(ctx, tenantID)
}

// BindTenant ensures a floating binding exists for a tenant. It is the
// hook the tenant provisioning path calls on create.
func (s *Store) BindTenant(ctx context.Context, tenantID, businessType string) error {
	_, err := s.EnsureBinding(ctx, tenantID, businessType)
	return err
}

// GetBinding returns a tenant's binding, or nil when the tenant has none
func (s *Store) GetBinding(ctx context.Context, tenantID string) (*TenantVersionBinding, error) {
	query := `
		SELECT tenant_id, business_type, pinned_version_id, created_at, updated_at
		FROM tenant_version_bindings
		WHERE tenant_id = $1
	`
	var b TenantVersionBinding
	var pinned sql.NullString
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(&b.TenantID, &b.BusinessType, &pinned, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get binding: %w", err)
	}
	if pinned.Valid {
		v := pinned.String
		b.PinnedVersionID = &v
	}
	return &b, nil
}

// Rebind moves a tenant to another version, or back to floating when
// toVersionID is nil. The binding write and the history append share one
// transaction; a tenant can never end up rebound without a history row.
func (s *Store) Rebind(ctx context.Context, tenantID string, toVersionID *string, reason, actor string, opts RebindOptions) (*HistoryEntry, error) {
	binding, err := s.GetBinding(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if binding == nil {
		return nil, fmt.Errorf("tenant %s has no version binding", tenantID)
	}

	if toVersionID != nil {
		target, err := s.Get(ctx, *toVersionID)
		if err != nil {
			return nil, err
		}
		if target.BusinessType != binding.BusinessType {
			return nil, &VersionNotFoundError{VersionID: *toVersionID, BusinessType: binding.BusinessType}
		}
		if target.State == StateRetired && !opts.Rollback {
			return nil, &RetiredTargetError{VersionID: *toVersionID}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE tenant_version_bindings SET pinned_version_id = $1, updated_at = $2 WHERE tenant_id = $3
	`, toVersionID, now, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to update binding: %w", err)
	}

	entry := &HistoryEntry{
		TenantID:      tenantID,
		BusinessType:  binding.BusinessType,
		FromVersionID: binding.PinnedVersionID,
		ToVersionID:   toVersionID,
		Reason:        reason,
		Actor:         actor,
		CreatedAt:     now,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_business_type_history (tenant_id, business_type, from_version_id, to_version_id, reason, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, entry.TenantID, entry.BusinessType, entry.FromVersionID, entry.ToVersionID, entry.Reason, entry.Actor, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to append binding history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rebind: %w", err)
	}
	return entry, nil
}

// ListHistory returns a tenant's binding history, oldest first
func (s *Store) ListHistory(ctx context.Context, tenantID string) ([]HistoryEntry, error) {
	query := `
		SELECT id, tenant_id, business_type, from_version_id, to_version_id, reason, actor, created_at
		FROM tenant_business_type_history
		WHERE tenant_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list binding history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var from, to sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.BusinessType, &from, &to, &e.Reason, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if from.Valid {
			v := from.String
			e.FromVersionID = &v
		}
		if to.Valid {
			v := to.String
			e.ToVersionID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// EffectiveVersion resolves the version a tenant currently observes:
// the pinned version when the binding is pinned, otherwise the business
// type's latest published version. Returns nil when the business type has
// no versioning configured, which callers treat as legacy flat-mapping
// mode.
func (s *Store) EffectiveVersion(ctx context.Context, tenantID, businessType string) (*BusinessTypeVersion, error) {
	binding, err := s.GetBinding(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if binding != nil && binding.Pinned() {
		return s.Get(ctx, *binding.PinnedVersionID)
	}
	return s.GetLatestPublished(ctx, businessType)
}

func scanVersion(scanner interface{ Scan(dest ...interface{}) error }) (*BusinessTypeVersion, error) {
	var v BusinessTypeVersion
	var moduleJSON, featureJSON string
	var effectiveAt, publishedAt, retiredAt sql.NullTime

	err := scanner.Scan(
		&v.ID, &v.BusinessType, &v.VersionNumber, &v.State, &moduleJSON, &featureJSON,
		&effectiveAt, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt, &publishedAt, &retiredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(moduleJSON), &v.ModuleSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal module snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(featureJSON), &v.FeatureSnapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal feature snapshot: %w", err)
	}

	if effectiveAt.Valid {
		t := effectiveAt.Time
		v.EffectiveAt = &t
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		v.PublishedAt = &t
	}
	if retiredAt.Valid {
		t := retiredAt.Time
		v.RetiredAt = &t
	}
	return &v, nil
}
