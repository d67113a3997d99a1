// Package catalog supplies the immutable reference data the entitlement
// engine resolves against: permission codes, role/plan/addon grant
// mappings, feature and module definitions, and the legacy flat
// business-type mappings.
//
// The engine consumes the catalog exclusively through the Source
// interface, injected explicitly rather than reached as ambient state,
// so tests run against fixture catalogs (MemorySource) and production
// runs against Postgres (Store) behind an in-process LRU (CachedSource).
//
// Deployments may also ship the catalog as a declarative YAML seed file
// (LoadSeed); Watcher hot-reloads it on change, rejecting any edit that
// fails validation rather than serving a partially-applied catalog.
package catalog
