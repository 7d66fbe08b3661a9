// Package auth provides authentication and authorization for license-gateway.
//
// # Tokens
//
// TokenCodec signs HS256 JWTs with the configured jwt_secret (at least 32 bytes).
// Access tokens carry:
//
//   - sub: principal id, stringified
//   - email
//   - roles: lower-cased role names; a super principal also carries "super"
//   - tenants: ids of the tenants the principal belonged to at issuance
//   - typ: "access"
//
// Refresh tokens carry only sub, email, a jti and typ "refresh". Roles and
// tenants are re-derived from the store whenever a refresh token is redeemed.
//
// Every verification failure (bad signature, expiry, malformed, wrong type)
// wraps ErrInvalidToken.
//
// # Credentials
//
// Authenticator checks passwords with bcrypt and API keys by sha256 digest.
// Only active principals may authenticate.
//
// # HTTP
//
//	RequireAuth(codec, logger) // bearer token -> Identity in context
//	RequireSuper()             // super role only
//
// # Tenant policy
//
// Policy checks live memberships: super identities bypass, other identities
// need a membership in the tenant and, where required, an owner or admin role.
package auth
