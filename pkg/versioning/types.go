package versioning

import (
	"fmt"
	"strings"
	"time"
)

// VersionState is the lifecycle state of a BusinessTypeVersion
type VersionState string

const (
	StateDraft     VersionState = "draft"
	StatePublished VersionState = "published"
	StateRetired   VersionState = "retired"
)

// SnapshotEntry is one frozen module or feature in a version snapshot.
// Once the version is published the entry never changes; corrections
// require a new version.
type SnapshotEntry struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	DefaultEnabled bool   `json:"default_enabled"`
}

// BusinessTypeVersion is an immutable numbered snapshot of a business
// type's module and feature configuration. VersionNumber is assigned at
// publish and increases monotonically per business type.
type BusinessTypeVersion struct {
	ID              string          `json:"id"`
	BusinessType    string          `json:"business_type"`
	VersionNumber   int             `json:"version_number"`
	State           VersionState    `json:"state"`
	ModuleSnapshot  []SnapshotEntry `json:"module_snapshot"`
	FeatureSnapshot []SnapshotEntry `json:"feature_snapshot"`
	EffectiveAt     *time.Time      `json:"effective_at,omitempty"`
	CreatedBy       string          `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	RetiredAt       *time.Time      `json:"retired_at,omitempty"`
}

// validateForPublish checks the publish preconditions against now.
// A draft with an empty module snapshot, duplicate codes, or a past
// effectiveAt never reaches the published state.
func (v *BusinessTypeVersion) validateForPublish(now time.Time) error {
	var problems []string

	if len(v.ModuleSnapshot) == 0 {
		problems = append(problems, "module snapshot is empty")
	}
	if dup := firstDuplicate(v.ModuleSnapshot); dup != "" {
		problems = append(problems, fmt.Sprintf("duplicate module code %q", dup))
	}
	if dup := firstDuplicate(v.FeatureSnapshot); dup != "" {
		problems = append(problems, fmt.Sprintf("duplicate feature code %q", dup))
	}
	if v.EffectiveAt != nil && v.EffectiveAt.Before(now) {
		problems = append(problems, "effectiveAt is in the past")
	}

	if len(problems) > 0 {
		return &PublishValidationError{VersionID: v.ID, Problems: problems}
	}
	return nil
}

func firstDuplicate(entries []SnapshotEntry) string {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Code] {
			return e.Code
		}
		seen[e.Code] = true
	}
	return ""
}

// TenantVersionBinding records which version a tenant observes. A nil
// PinnedVersionID means the tenant floats to the latest published version
// of its business type.
type TenantVersionBinding struct {
	TenantID        string    `json:"tenant_id"`
	BusinessType    string    `json:"business_type"`
	PinnedVersionID *string   `json:"pinned_version_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Pinned reports whether the binding is pinned to a specific version
func (b *TenantVersionBinding) Pinned() bool {
	return b.PinnedVersionID != nil
}

// HistoryEntry is one append-only record of a binding transition. The
// history log is the sole source of truth for what a tenant observed on
// any given date; FromVersionID carries the rollback snapshot of the
// prior binding.
type HistoryEntry struct {
	ID            int64     `json:"id"`
	TenantID      string    `json:"tenant_id"`
	BusinessType  string    `json:"business_type"`
	FromVersionID *string   `json:"from_version_id,omitempty"`
	ToVersionID   *string   `json:"to_version_id,omitempty"`
	Reason        string    `json:"reason"`
	Actor         string    `json:"actor"`
	CreatedAt     time.Time `json:"created_at"`
}

// RebindOptions modifies rebind behavior
type RebindOptions struct {
	// Rollback allows a retired version as the target. Retired versions
	// are otherwise one-way historical markers, never future targets.
	Rollback bool
}

// RetireOptions modifies retire behavior
type RetireOptions struct {
	// Force allows retiring the only published version of a business
	// type. Without it the transition is rejected to protect business
	// types that still have active tenants.
	Force bool
}

// VersionNotFoundError reports a version that does not exist or does not
// belong to the expected business type
type VersionNotFoundError struct {
	VersionID    string
	BusinessType string
}

func (e *VersionNotFoundError) Error() string {
	if e.BusinessType != "" {
		return fmt.Sprintf("version %s not found for business type %s", e.VersionID, e.BusinessType)
	}
	return fmt.Sprintf("version %s not found", e.VersionID)
}

// RetiredTargetError reports a rebind targeting a retired version without
// the rollback flag
type RetiredTargetError struct {
	VersionID string
}

func (e *RetiredTargetError) Error() string {
	return fmt.Sprintf("version %s is retired and cannot be a rebind target without rollback", e.VersionID)
}

// PublishValidationError reports why a draft failed publish validation
type PublishValidationError struct {
	VersionID string
	Problems  []string
}

func (e *PublishValidationError) Error() string {
	return fmt.Sprintf("version %s failed publish validation: %s", e.VersionID, strings.Join(e.Problems, "; "))
}

// InvalidTransitionError reports a state machine violation, such as
// publishing an already published version
type InvalidTransitionError struct {
	VersionID string
	From      VersionState
	To        VersionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("version %s cannot transition from %s to %s", e.VersionID, e.From, e.To)
}
