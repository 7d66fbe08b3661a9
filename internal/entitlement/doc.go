// Package entitlement decides whether a tenant or one of its members may use a
// product, meters per-feature quotas, and manages the license lifecycle.
//
// Resolution checks the org-wide grant first and falls back to the member
// grant. A grant is effective when its status is active and its valid-until
// time is unset or in the future. Quota increments are a single conditional
// update in the store, so concurrent consumers never overshoot a limit.
package entitlement
