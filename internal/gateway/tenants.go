// ABOUTME: HTTP handlers for tenants and their memberships
// ABOUTME: Authorization lives in the tenant service; handlers only parse and render

package gateway

import (
	"net/http"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/store"
)

type createTenantRequest struct {
	Name string `json:"name"`
}

type addMemberRequest struct {
	PrincipalID int64  `json:"principal_id"`
	Role        string `json:"role"`
}

func (g *Gateway) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		apperr.Write(w, err)
		return
	}
	t, err := g.tenants.Create(r.Context(), auth.FromContext(r.Context()), req.Name)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{"tenant": t})
}

func (g *Gateway) handleListMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathInt64(r, "tenantID")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	members, err := g.tenants.ListMembers(r.Context(), auth.FromContext(r.Context()), tenantID)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if members == nil {
		members = []*store.Membership{}
	}
	writeData(w, http.StatusOK, map[string]any{"members": members})
}

func (g *Gateway) handleAddMember(w http.ResponseWriter, r *http.Request) {
	tenantID, err := pathInt64(r, "tenantID")
	if err != nil {
		apperr.Write(w, err)
		return
	}
	var req addMemberRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		apperr.Write(w, err)
		return
	}
	if req.PrincipalID <= 0 {
		apperr.Write(w, apperr.New(apperr.CodeInvalidInput, "principal_id is required"))
		return
	}
	role := store.TenantRole(req.Role)
	if role == "" {
		role = store.TenantRoleUser
	}

	if err := g.tenants.AddMember(r.Context(), auth.FromContext(r.Context()), tenantID, req.PrincipalID, role); err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusCreated, nil)
}

func (g *Gateway) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	tenantID, principalID, err := g.memberRoute(r)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	if err := g.tenants.RemoveMember(r.Context(), auth.FromContext(r.Context()), tenantID, principalID); err != nil {
		apperr.Write(w, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}
