// Package session mints access/refresh token pairs after authentication and
// rotates them on refresh.
//
// Refresh tokens carry only subject and email; roles and tenant memberships are
// re-derived from the store every time a pair is issued. When a Denylist is
// configured each refresh token can be redeemed once, and logout revokes it.
package session
