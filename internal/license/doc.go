// Package license defines the entitlement domain types.
//
// A Grant authorizes a tenant (org scope, no principal) or a single member of
// a tenant (member scope) to use a product at a Plan. Plans are a closed
// enumeration ranked free < trial < starter < pro < enterprise; the rank table
// in plan.go is the only source of ordering.
//
// Grant metadata (Meta) carries two sections:
//
//	limits  per-feature caps; absent, 0 or -1 means unlimited
//	usage   per-feature consumed counts
//
// Usage counters are only ever read or written through the grant that owns
// them. There is no aggregation across grants.
package license
