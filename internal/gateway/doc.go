// Package gateway serves the license gateway over HTTP.
//
// # Overview
//
// The Gateway struct owns every long-lived component: the store, the token
// codec, the session issuer, the entitlement resolver, the license manager,
// the quota accountant and the expiry sweeper. New opens the store and the
// optional Redis denylist from config; NewWithStore takes them ready-made.
//
// # Lifecycle
//
// Run listens on server.http_addr, starts the sweeper and blocks until the
// context is canceled. Shutdown stops the HTTP server, joins the sweeper and
// closes the store and denylist, collecting every close error.
//
// # HTTP API
//
// Sessions:
//
//   - POST /auth/login - email/password or api_key; sets the refresh cookie
//   - POST /auth/refresh - rotates the refresh cookie (or body token)
//   - POST /auth/logout - clears the cookie and denylists the token
//   - GET /auth/me - the identity in the access token
//
// Licenses (routes.go lists the full table):
//
//   - GET /api/licenses/plans - the plan catalog
//   - GET /api/licenses/tenants/{tenantID} - org and member grants
//   - POST /api/licenses/tenants/{tenantID}/products/{productKey}[/upgrade]
//   - POST /api/licenses/sweep - expire lapsed grants now
//
// Product-gated endpoints take the tenant from the X-Tenant-ID header and
// resolve the caller's effective grant before the handler runs:
//
//   - GET /api/products/{productKey}/access
//   - POST /api/products/{productKey}/usage
//   - GET /api/products/{productKey}/premium
//
// Errors render as {"success":false,"error":{"code":...,"message":...}} with
// the status mapped from the code.
//
// # Health
//
//   - GET /health - liveness
//   - GET /health/ready - pings the store and the denylist
package gateway
