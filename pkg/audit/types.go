package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Override lifecycle events
	EventTypeOverrideCreate EventType = "override.create"
	EventTypeOverrideUpdate EventType = "override.update"
	EventTypeOverrideDelete EventType = "override.delete"

	// Version lifecycle events
	EventTypeVersionDraft   EventType = "version.draft_create"
	EventTypeVersionPublish EventType = "version.publish"
	EventTypeVersionRetire  EventType = "version.retire"

	// Tenant binding and account events
	EventTypeTenantRebind      EventType = "tenant.rebind"
	EventTypeTenantPlanChange  EventType = "tenant.plan_change"
	EventTypeTenantRoleChange  EventType = "tenant.role_change"
	EventTypeTenantAddonChange EventType = "tenant.addon_change"

	// Entitlement resolution events
	EventTypeEntitlementDenied     EventType = "entitlement.denied"
	EventTypeEntitlementIncomplete EventType = "entitlement.incomplete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource an event touches
type ResourceType string

const (
	ResourceTypeOverride ResourceType = "override"
	ResourceTypeVersion  ResourceType = "version"
	ResourceTypeTenant   ResourceType = "tenant"
	ResourceTypePlan     ResourceType = "plan"
	ResourceTypeRole     ResourceType = "role"
	ResourceTypeFeature  ResourceType = "feature"
	ResourceTypeModule   ResourceType = "module"
)

// Event represents a single audit log entry
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	Actor    string `json:"actor,omitempty"`
	TenantID string `json:"tenant_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`

	// Additional details
	Reason       string                 `json:"reason,omitempty"`
	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Changes tracking (before/after for mutations)
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for mutations
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*Event, error) {
	var event Event
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	Actor    string
	TenantID string

	EventTypes []EventType
	Status     *EventStatus

	ResourceType ResourceType
	ResourceID   string

	Limit  int
	Offset int
}

// RetentionPolicy defines how long audit logs are kept
type RetentionPolicy struct {
	RetentionDays int
}

// DefaultRetentionPolicy returns the default retention policy. Compliance
// reconstruction needs at least a year of history.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{RetentionDays: 365}
}
