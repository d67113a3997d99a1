// Package entitlement builds the effective entitlement view for a user
// in a tenant: the additive union of role, plan and addon permissions,
// plus every feature and module gate resolved through the override
// precedence chain against the tenant's versioned snapshot or legacy
// mapping. Views are cached in a two-tier LRU/Redis cache and proactively
// invalidated by the mutation paths.
package entitlement
