// ABOUTME: Route table for the license gateway HTTP API
// ABOUTME: Binds method+path patterns to handlers and their auth middleware

package gateway

import (
	"net/http"

	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/license"
	"github.com/2389/license-gateway/internal/obs"
)

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	authed := func(h http.HandlerFunc, mws ...middleware) http.Handler {
		return chain(h, append([]middleware{auth.RequireAuth(g.codec, g.logger)}, mws...)...)
	}
	super := auth.RequireSuper()
	licensed := g.requireLicense

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		mux.Handle("GET "+g.config.Metrics.Path, obs.Handler())
	}

	// Sessions
	mux.Handle("POST /auth/login", g.limiter.middleware(http.HandlerFunc(g.handleLogin)))
	mux.HandleFunc("POST /auth/refresh", g.handleRefresh)
	mux.HandleFunc("POST /auth/logout", g.handleLogout)
	mux.Handle("GET /auth/me", authed(g.handleMe))

	// License catalog and administration
	mux.HandleFunc("GET /api/licenses/plans", g.handlePlans)
	mux.Handle("GET /api/licenses/products", authed(g.handleProducts))
	mux.Handle("POST /api/licenses/sweep", authed(g.handleSweep, super))
	mux.Handle("GET /api/licenses/tenants/{tenantID}", authed(g.handleListLicenses))
	mux.Handle("GET /api/licenses/tenants/{tenantID}/products/{productKey}", authed(g.handleGetLicense))
	mux.Handle("POST /api/licenses/tenants/{tenantID}/products/{productKey}", authed(g.handleCreateLicense))
	mux.Handle("POST /api/licenses/tenants/{tenantID}/products/{productKey}/upgrade", authed(g.handleUpgradeLicense))
	mux.Handle("DELETE /api/licenses/tenants/{tenantID}/products/{productKey}", authed(g.handleRevokeLicense, super))
	mux.Handle("GET /api/licenses/tenants/{tenantID}/members/{principalID}", authed(g.handleListMemberLicenses))
	mux.Handle("POST /api/licenses/tenants/{tenantID}/members/{principalID}/products/{productKey}", authed(g.handleAssignMember))
	mux.Handle("DELETE /api/licenses/tenants/{tenantID}/members/{principalID}/products/{productKey}", authed(g.handleRevokeMember))

	// Tenants
	mux.Handle("POST /api/tenants", authed(g.handleCreateTenant))
	mux.Handle("GET /api/tenants/{tenantID}/members", authed(g.handleListMembers))
	mux.Handle("POST /api/tenants/{tenantID}/members", authed(g.handleAddMember))
	mux.Handle("DELETE /api/tenants/{tenantID}/members/{principalID}", authed(g.handleRemoveMember))

	// Product-gated endpoints
	mux.Handle("GET /api/products/{productKey}/access", authed(g.handleProductAccess, licensed))
	mux.Handle("POST /api/products/{productKey}/usage", authed(g.handleProductUsage, licensed))
	mux.Handle("GET /api/products/{productKey}/premium",
		authed(g.handleProductPremium, licensed, requirePlan(license.PlanPro, license.PlanEnterprise)))
}
