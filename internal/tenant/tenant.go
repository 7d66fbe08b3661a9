// ABOUTME: Tenant and membership management with ownership rules
// ABOUTME: The creator becomes owner; the last owner of a tenant can never be removed

package tenant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/store"
)

// Service manages tenants and their members.
type Service struct {
	store  store.TenantStore
	policy *auth.Policy
	logger *slog.Logger
}

// NewService creates a tenant service over s.
func NewService(s store.TenantStore, logger *slog.Logger) *Service {
	return &Service{
		store:  s,
		policy: auth.NewPolicy(s),
		logger: logger.With("component", "tenant"),
	}
}

// Create creates a tenant owned by the calling principal.
func (s *Service) Create(ctx context.Context, caller *auth.Identity, name string) (*store.Tenant, error) {
	if caller == nil {
		return nil, apperr.ErrUnauthorized
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "tenant name is required")
	}

	t, err := s.store.CreateTenant(ctx, name, caller.PrincipalID)
	switch {
	case errors.Is(err, store.ErrTenantExists):
		return nil, apperr.Wrap(apperr.CodeConflict, "tenant name already exists", err)
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.Wrap(apperr.CodeUserNotFound, "creator does not exist", err)
	case err != nil:
		s.logger.Error("creating tenant", "error", err)
		return nil, apperr.Internal("creating tenant", err)
	}

	s.logger.Info("tenant created", "tenant_id", t.ID, "owner", caller.PrincipalID)
	return t, nil
}

// AddMember adds a principal to a tenant. Owners and super principals only.
func (s *Service) AddMember(ctx context.Context, caller *auth.Identity, tenantID, principalID int64, role store.TenantRole) error {
	if !role.Valid() {
		return apperr.New(apperr.CodeInvalidInput, "role must be owner, admin or user")
	}
	if err := s.policy.RequireRole(ctx, caller, tenantID, store.TenantRoleOwner); err != nil {
		return err
	}

	err := s.store.AddMember(ctx, tenantID, principalID, role)
	switch {
	case errors.Is(err, store.ErrMembershipExists):
		return apperr.Wrap(apperr.CodeConflict, "principal is already a member", err)
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, "tenant or principal not found", err)
	case err != nil:
		s.logger.Error("adding member", "error", err, "tenant_id", tenantID)
		return apperr.Internal("adding member", err)
	}

	s.logger.Info("member added", "tenant_id", tenantID, "principal_id", principalID, "role", role)
	return nil
}

// RemoveMember removes a principal from a tenant. Owners and super principals only.
func (s *Service) RemoveMember(ctx context.Context, caller *auth.Identity, tenantID, principalID int64) error {
	if err := s.policy.RequireRole(ctx, caller, tenantID, store.TenantRoleOwner); err != nil {
		return err
	}

	err := s.store.RemoveMember(ctx, tenantID, principalID)
	switch {
	case errors.Is(err, store.ErrLastOwner):
		return apperr.Wrap(apperr.CodeConflict, "cannot remove the last owner of a tenant", err)
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, "membership not found", err)
	case err != nil:
		s.logger.Error("removing member", "error", err, "tenant_id", tenantID)
		return apperr.Internal("removing member", err)
	}

	s.logger.Info("member removed", "tenant_id", tenantID, "principal_id", principalID)
	return nil
}

// ListMembers returns a tenant's members. Members and super principals only.
func (s *Service) ListMembers(ctx context.Context, caller *auth.Identity, tenantID int64) ([]*store.Membership, error) {
	if err := s.policy.RequireMember(ctx, caller, tenantID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, tenantID)
	if err != nil {
		s.logger.Error("listing members", "error", err, "tenant_id", tenantID)
		return nil, apperr.Internal("listing members", err)
	}
	return members, nil
}

// TenantsOf returns the ids of the tenants a principal belongs to.
func (s *Service) TenantsOf(ctx context.Context, principalID int64) ([]int64, error) {
	ids, err := s.store.ListTenantIDsForPrincipal(ctx, principalID)
	if err != nil {
		s.logger.Error("listing tenants", "error", err, "principal_id", principalID)
		return nil, apperr.Internal("listing tenants", err)
	}
	return ids, nil
}
