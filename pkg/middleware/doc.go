// Package middleware provides the HTTP request plumbing in front of the
// entitlement API: request IDs, gateway identity extraction, per-request
// entitlement view resolution with permission, feature and module
// guards, and per-tenant rate limiting.
package middleware
