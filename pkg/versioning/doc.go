// Package versioning manages immutable business type configuration
// versions and the binding between tenants and versions.
//
// A BusinessTypeVersion moves draft -> published -> retired. Published
// snapshots are frozen forever; the registry's latest pointer advances
// atomically with each publish. Tenants either pin to a version or float
// to the latest published one, and every binding change lands in an
// append-only history log.
package versioning
