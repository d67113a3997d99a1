// Package tenants stores tenant accounts and the per-tenant state the
// entitlement builder reads: the active plan, the active addons, and the
// role each user holds within the tenant.
package tenants
