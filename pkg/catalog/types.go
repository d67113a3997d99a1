package catalog

import (
	"strings"
	"time"
)

// PermissionCode identifies an atomic capability using the
// "resource.action" convention, e.g. "bookings.read".
type PermissionCode string

// Valid reports whether the code follows the resource.action convention
func (c PermissionCode) Valid() bool {
	parts := strings.Split(string(c), ".")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// Resource returns the resource half of the code
func (c PermissionCode) Resource() string {
	if i := strings.IndexByte(string(c), '.'); i > 0 {
		return string(c)[:i]
	}
	return string(c)
}

// Permission is an atomic authorization capability. Permissions are
// immutable once referenced by any role/plan/addon mapping; they are
// never deleted, only deprecated.
type Permission struct {
	Code        PermissionCode `json:"code"`
	Description string         `json:"description,omitempty"`
	Deprecated  bool           `json:"deprecated"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Role is a named set of permission codes, either system-wide
// (TenantID nil) or custom to one tenant.
type Role struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name,omitempty"`
	TenantID    *string          `json:"tenant_id,omitempty"`
	IsSystem    bool             `json:"is_system"`
	Permissions []PermissionCode `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Plan maps a subscription plan to the permission codes it grants
type Plan struct {
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Permissions []PermissionCode `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Addon maps a purchasable add-on to the permission codes it grants
type Addon struct {
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Permissions []PermissionCode `json:"permissions"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Scope tags where an override for a feature or module may be declared.
// It constrains override declaration sites, not who can query the gate.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeBusiness Scope = "business"
	ScopeTenant   Scope = "tenant"
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeBusiness, ScopeTenant:
		return true
	}
	return false
}

// GateKind distinguishes features from modules. Both share the same
// override and resolution semantics; modules are the coarser unit.
type GateKind string

const (
	KindFeature GateKind = "feature"
	KindModule  GateKind = "module"
)

// Feature is a gateable capability with a declaration scope and a
// global default enabled state.
type Feature struct {
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Scope          Scope     `json:"scope"`
	DefaultEnabled bool      `json:"default_enabled"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Module is a gateable product area, identical in shape to Feature
type Module struct {
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Scope          Scope     `json:"scope"`
	DefaultEnabled bool      `json:"default_enabled"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LegacyMapping is the flat business type to module/feature mapping
// that predates versioned snapshots. It is consulted only when a
// business type has no published version.
type LegacyMapping struct {
	BusinessType string   `json:"business_type"`
	Modules      []string `json:"modules"`
	Features     []string `json:"features"`
}
