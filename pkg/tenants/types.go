package tenants

import (
	"fmt"
	"time"
)

// TenantStatus represents tenant account status
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// Tenant represents one customer account. A tenant belongs to exactly one
// business type and carries exactly one active plan at any instant.
type Tenant struct {
	ID           string       `json:"id"`
	Slug         string       `json:"slug"`
	Name         string       `json:"name"`
	BusinessType string       `json:"business_type"`
	Status       TenantStatus `json:"status"`
	PlanCode     string       `json:"plan_code"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// RoleAssignment maps one user to one role within a tenant
type RoleAssignment struct {
	TenantID  string    `json:"tenant_id"`
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	GrantedBy string    `json:"granted_by"`
	GrantedAt time.Time `json:"granted_at"`
}

// AddonAssignment is one active addon on a tenant
type AddonAssignment struct {
	TenantID  string    `json:"tenant_id"`
	AddonCode string    `json:"addon_code"`
	CreatedAt time.Time `json:"created_at"`
}

// NotFoundError reports a missing tenant
type NotFoundError struct {
	TenantID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tenant not found: %s", e.TenantID)
}
