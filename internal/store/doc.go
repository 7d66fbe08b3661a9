// Package store provides persistent storage for the license gateway.
//
// # Architecture
//
// The store package is interface-driven:
//
//   - GrantStore: entitlement grants, including the atomic usage increment
//   - PrincipalStore: human accounts
//   - TenantStore: tenants and memberships
//   - ProductStore: the product catalog
//   - Store: all of the above plus Ping and Close
//
// Two implementations satisfy Store:
//
//   - SQLiteStore (modernc.org/sqlite), the default for single-node deployments
//   - PostgresStore (pgx stdlib driver), for shared deployments
//
// Both are constructed explicitly by the composition root and passed to the
// components that need them. There is no package-level handle.
//
// # Uniqueness
//
// Grants live in one table. Two partial unique indexes keep the scopes apart:
//
//	(tenant_id, product_key)               WHERE principal_id IS NULL
//	(tenant_id, principal_id, product_key) WHERE principal_id IS NOT NULL
//
// Upserts target the matching index with ON CONFLICT ... WHERE, so repeated
// create/upgrade calls never produce a second row for the same key.
//
// # Usage counters
//
// Usage lives inside the grant's meta JSON. IncrementUsage rewrites the counter
// with a single UPDATE (json_set on SQLite, jsonb_set on Postgres), optionally
// guarded by the limit, so concurrent increments never lose updates.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as fixed-width RFC3339 text with nanoseconds in UTC
// so they compare lexically.
package store
