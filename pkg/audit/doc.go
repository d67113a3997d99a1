// Package audit records who changed entitlement configuration and why.
//
// Every override mutation, version transition, and tenant rebind emits one
// Event. The database logger persists events for search and export; the
// file logger provides a durable NDJSON secondary sink; MultiLogger fans
// out to both. Events answer the support and compliance question "why is
// this tenant missing X" without reconstructing state by hand.
package audit
