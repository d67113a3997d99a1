package overrides

import (
	"fmt"
	"time"

	"github.com/vertiqo/entitle/pkg/catalog"
)

// Override is a scoped enabled/disabled declaration for one feature or
// module. At most one active override may exist per (kind, code, scope,
// scopeKey); the database enforces this with a partial unique index, not
// application logic.
type Override struct {
	ID        int64            `json:"id"`
	Kind      catalog.GateKind `json:"kind"`
	Code      string           `json:"code"`
	Scope     catalog.Scope    `json:"scope"`
	ScopeKey  *string          `json:"scope_key,omitempty"` // nil for global scope
	Enabled   bool             `json:"enabled"`
	Reason    string           `json:"reason"`
	CreatedBy string           `json:"created_by"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	DeletedAt *time.Time       `json:"deleted_at,omitempty"`
}

// Active reports whether the override participates in resolution at t.
// Soft-deleted and expired overrides are absent, never "false".
func (o *Override) Active(t time.Time) bool {
	if o.DeletedAt != nil {
		return false
	}
	if o.ExpiresAt != nil && !o.ExpiresAt.After(t) {
		return false
	}
	return true
}

// AuditEntry is one append-only record of an override mutation. Entries
// are written in the same transaction as the mutation itself; the audit
// trail cannot disagree with the table it describes.
type AuditEntry struct {
	ID         int64     `json:"id"`
	OverrideID int64     `json:"override_id"`
	Operation  string    `json:"operation"` // create, update, delete
	OldEnabled *bool     `json:"old_enabled,omitempty"`
	NewEnabled *bool     `json:"new_enabled,omitempty"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConflictError reports a concurrent write racing on the active-override
// uniqueness invariant. Callers should re-read and retry.
type ConflictError struct {
	Kind     catalog.GateKind
	Code     string
	Scope    catalog.Scope
	ScopeKey *string
}

func (e *ConflictError) Error() string {
	key := "<global>"
	if e.ScopeKey != nil {
		key = *e.ScopeKey
	}
	return fmt.Sprintf("concurrent override conflict for %s %q at scope %s/%s", e.Kind, e.Code, e.Scope, key)
}
