// Package api exposes the entitlement engine over HTTP: entitlement
// queries, override management, the business type version lifecycle,
// tenant provisioning and the audit trail. Mutating endpoints record
// audit events and fan out cache invalidation before responding.
package api
