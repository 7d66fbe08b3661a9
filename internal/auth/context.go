// ABOUTME: Authenticated identity and roles carried through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating identity via context

package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/2389/license-gateway/internal/store"
)

// Role is a principal-level role asserted in access tokens.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleExpert  Role = "expert"
	RoleClient  Role = "client"
	// RoleSuper grants cross-tenant bypass of ownership and membership checks.
	RoleSuper Role = "super"
)

// ParseRole lower-cases s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleAdmin, RoleManager, RoleExpert, RoleClient, RoleSuper:
		return r, true
	}
	return "", false
}

// RolesFor derives token roles for a principal. The stored role comes first;
// super is appended when the principal is super or matches superEmail.
func RolesFor(p *store.Principal, superEmail string) []Role {
	roles := []Role{}
	if r, ok := ParseRole(string(p.Role)); ok {
		roles = append(roles, r)
	}
	isSuper := p.Role == store.PrincipalRoleSuper ||
		(superEmail != "" && strings.EqualFold(p.Email, superEmail))
	if isSuper && !slices.Contains(roles, RoleSuper) {
		roles = append(roles, RoleSuper)
	}
	return roles
}

func roleStrings(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = strings.ToLower(string(r))
	}
	return out
}

// Identity is the verified principal behind a request.
// Tenants is the membership snapshot taken when the token was issued.
type Identity struct {
	PrincipalID int64   `json:"id"`
	Email       string  `json:"email"`
	Roles       []Role  `json:"roles"`
	Tenants     []int64 `json:"tenants"`
}

// HasRole reports whether the identity carries r.
func (i *Identity) HasRole(r Role) bool {
	return slices.Contains(i.Roles, r)
}

// IsSuper reports whether the identity bypasses tenant checks.
func (i *Identity) IsSuper() bool {
	return i.HasRole(RoleSuper)
}

// InTenant reports whether tenantID is in the token's tenant snapshot.
func (i *Identity) InTenant(tenantID int64) bool {
	return slices.Contains(i.Tenants, tenantID)
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustFromContext retrieves the Identity from the context, panicking if not present.
func MustFromContext(ctx context.Context) *Identity {
	id := FromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}
