// ABOUTME: HTTP handlers for license administration and the plan catalog
// ABOUTME: Tenant routes check membership roles live; revoke and sweep are super-only

package gateway

import (
	"net/http"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/entitlement"
	"github.com/2389/license-gateway/internal/license"
	"github.com/2389/license-gateway/internal/store"
)

// grantRequest is the body of create and assign calls.
type grantRequest struct {
	Plan       string       `json:"plan"`
	Status     string       `json:"status"`
	ValidUntil *string      `json:"valid_until"`
	Meta       license.Meta `json:"meta"`
}

func (req grantRequest) options() (entitlement.GrantOptions, error) {
	validUntil, err := parseTime("valid_until", req.ValidUntil)
	if err != nil {
		return entitlement.GrantOptions{}, err
	}
	return entitlement.GrantOptions{
		Status:     license.Status(req.Status),
		ValidUntil: validUntil,
		Meta:       req.Meta,
	}, nil
}

// upgradeRequest is the body of an upgrade call.
type upgradeRequest struct {
	Plan            string       `json:"plan"`
	ExtensionMonths int          `json:"extension_months"`
	ValidUntil      *string      `json:"valid_until"`
	Meta            license.Meta `json:"meta"`
}

// tenantRoute parses {tenantID} and applies the policy check.
func (g *Gateway) tenantRoute(r *http.Request, roles ...store.TenantRole) (int64, error) {
	tenantID, err := pathInt64(r, "tenantID")
	if err != nil {
		return 0, err
	}
	if err := g.policy.RequireRole(r.Context(), auth.FromContext(r.Context()), tenantID, roles...); err != nil {
		return 0, err
	}
	return tenantID, nil
}

func (g *Gateway) handlePlans(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{"plans": license.Catalog()})
}

func (g *Gateway) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := g.store.ListProducts(r.Context(), true)
	if err != nil {
		g.logger.Error("listing products", "error", err)
		apperr.Write(w, apperr.Internal("listing products", err))
		return
	}
	if products == nil {
		products = []*store.Product{}
	}
	writeData(w, http.StatusOK, map[string]any{"products": products})
}

func (g *Gateway) handleListLicenses(w http.ResponseWriter, r *http.Request) {
	tenantID, err := g.tenantRoute(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	views, err := g.licenses.List(r.Context(), tenantID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"licenses": views})
}

func (g *Gateway) handleGetLicense(w http.ResponseWriter, r *http.Request) {
	tenantID, err := g.tenantRoute(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	eg, err := g.resolver.ResolveOrg(r.Context(), tenantID, r.PathValue("productKey"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"license": eg.Grant, "license_type": eg.Scope})
}

func (g *Gateway) handleCreateLicense(w http.ResponseWriter, r *http.Request) {
	tenantID, err := g.tenantRoute(r, store.TenantRoleOwner)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		apperr.Write(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		apperr.Write(w, err)
		return
	}

	grant, err := g.licenses.CreateOrUpdate(r.Context(), tenantID, r.PathValue("productKey"), req.Plan, opts)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"license": grant})
}

func (g *Gateway) handleUpgradeLicense(w http.ResponseWriter, r *http.Request) {
	tenantID, err := g.tenantRoute(r, store.TenantRoleOwner)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req upgradeRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		apperr.Write(w, err)
		return
	}
	validUntil, err := parseTime("valid_until", req.ValidUntil)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	grant, err := g.licenses.Upgrade(r.Context(), tenantID, r.PathValue("productKey"), req.Plan, entitlement.UpgradeOptions{
		ExtensionMonths: req.ExtensionMonths,
		ValidUntil:      validUntil,
		Meta:            req.Meta,
	})
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"license": grant})
}

func (g *Gateway) handleRevokeLicense(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathInt64(r, "tenantID")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ok, err := g.licenses.Revoke(r.Context(), tenantID, r.PathValue("productKey"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if !ok {
		apperr.Write(w, apperr.New(apperr.CodeNotFound, "license not found"))
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (g *Gateway) handleListMemberLicenses(w http.ResponseWriter, r *http.Request) {
	tenantID, principalID, err := g.memberRoute(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := g.policy.RequireSelfOrRole(r.Context(), auth.FromContext(r.Context()), tenantID, principalID,
		store.TenantRoleOwner, store.TenantRoleAdmin); err != nil {
		apperr.Write(w, err)
		return
	}
	views, err := g.licenses.ListMember(r.Context(), tenantID, principalID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"licenses": views})
}

func (g *Gateway) handleAssignMember(w http.ResponseWriter, r *http.Request) {
	tenantID, principalID, err := g.memberRoute(r, store.TenantRoleOwner, store.TenantRoleAdmin)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req grantRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		apperr.Write(w, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		apperr.Write(w, err)
		return
	}

	grant, err := g.licenses.AssignMember(r.Context(), tenantID, principalID, r.PathValue("productKey"), req.Plan, opts)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"license": grant})
}

func (g *Gateway) handleRevokeMember(w http.ResponseWriter, r *http.Request) {
	tenantID, principalID, err := g.memberRoute(r, store.TenantRoleOwner, store.TenantRoleAdmin)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	ok, err := g.licenses.RevokeMember(r.Context(), tenantID, principalID, r.PathValue("productKey"))
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if !ok {
		apperr.Write(w, apperr.New(apperr.CodeNotFound, "license not found"))
		return
	}
	writeData(w, http.StatusOK, nil)
}

func (g *Gateway) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := g.licenses.SweepExpired(r.Context())
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"expired": n})
}

// memberRoute parses {tenantID} and {principalID}. With roles it also applies
// the role check; without, the caller does its own.
func (g *Gateway) memberRoute(r *http.Request, roles ...store.TenantRole) (int64, int64, error) {
	tenantID, err := pathInt64(r, "tenantID")
	if err != nil {
		return 0, 0, err
	}
	principalID, err := pathInt64(r, "principalID")
	if err != nil {
		return 0, 0, err
	}
	if len(roles) > 0 {
		if err := g.policy.RequireRole(r.Context(), auth.FromContext(r.Context()), tenantID, roles...); err != nil {
			return 0, 0, err
		}
	}
	return tenantID, principalID, nil
}
