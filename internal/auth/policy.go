// ABOUTME: Tenant access policy backed by live membership lookups
// ABOUTME: Super identities bypass every check; others need a membership with a qualifying role

package auth

import (
	"context"
	"errors"
	"slices"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/store"
)

// MembershipReader reads tenant memberships.
type MembershipReader interface {
	GetMembership(ctx context.Context, tenantID, principalID int64) (*store.Membership, error)
}

// Policy decides whether an identity may act on a tenant.
type Policy struct {
	members MembershipReader
}

// NewPolicy creates a policy over members.
func NewPolicy(members MembershipReader) *Policy {
	return &Policy{members: members}
}

// RequireMember allows any member of the tenant.
func (p *Policy) RequireMember(ctx context.Context, id *Identity, tenantID int64) error {
	return p.RequireRole(ctx, id, tenantID)
}

// RequireRole allows members holding one of roles; no roles means any member.
func (p *Policy) RequireRole(ctx context.Context, id *Identity, tenantID int64, roles ...store.TenantRole) error {
	if id == nil {
		return apperr.ErrUnauthorized
	}
	if id.IsSuper() {
		return nil
	}

	m, err := p.members.GetMembership(ctx, tenantID, id.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.CodeForbidden, "not a member of this tenant")
	}
	if err != nil {
		return apperr.Internal("loading membership", err)
	}
	if len(roles) > 0 && !slices.Contains(roles, m.Role) {
		return apperr.New(apperr.CodeForbidden, "insufficient tenant role")
	}
	return nil
}

// RequireSelfOrRole allows the principal itself, or members holding one of roles.
func (p *Policy) RequireSelfOrRole(ctx context.Context, id *Identity, tenantID, principalID int64, roles ...store.TenantRole) error {
	if id != nil && id.PrincipalID == principalID {
		return p.RequireMember(ctx, id, tenantID)
	}
	return p.RequireRole(ctx, id, tenantID, roles...)
}
