// ABOUTME: Tests for the tenant service against a temp-dir SQLite store
// ABOUTME: Covers ownership checks, duplicates and last-owner protection

package tenant

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/store"
)

func setupTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createPrincipal(t *testing.T, s *store.SQLiteStore, email string) *auth.Identity {
	t.Helper()
	p := &store.Principal{Email: email}
	require.NoError(t, s.CreatePrincipal(context.Background(), p))
	return &auth.Identity{PrincipalID: p.ID, Email: email, Roles: []auth.Role{auth.RoleClient}}
}

func TestService_CreateAndMembers(t *testing.T) {
	s := setupTestStore(t)
	svc := NewService(s, slog.Default())
	ctx := context.Background()

	owner := createPrincipal(t, s, "owner@example.com")
	member := createPrincipal(t, s, "member@example.com")
	outsider := createPrincipal(t, s, "outsider@example.com")

	tenant, err := svc.Create(ctx, owner, "Acme")
	require.NoError(t, err)

	_, err = svc.Create(ctx, member, "acme")
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	_, err = svc.Create(ctx, owner, "   ")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	require.NoError(t, svc.AddMember(ctx, owner, tenant.ID, member.PrincipalID, store.TenantRoleUser))

	err = svc.AddMember(ctx, owner, tenant.ID, member.PrincipalID, store.TenantRoleUser)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err))

	err = svc.AddMember(ctx, member, tenant.ID, outsider.PrincipalID, store.TenantRoleUser)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err), "plain members cannot add members")

	err = svc.AddMember(ctx, owner, tenant.ID, outsider.PrincipalID, "boss")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))

	members, err := svc.ListMembers(ctx, member, tenant.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	_, err = svc.ListMembers(ctx, outsider, tenant.ID)
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err))

	ids, err := svc.TenantsOf(ctx, member.PrincipalID)
	require.NoError(t, err)
	assert.Equal(t, []int64{tenant.ID}, ids)
}

func TestService_RemoveMember(t *testing.T) {
	s := setupTestStore(t)
	svc := NewService(s, slog.Default())
	ctx := context.Background()

	owner := createPrincipal(t, s, "owner@example.com")
	member := createPrincipal(t, s, "member@example.com")
	super := &auth.Identity{PrincipalID: 999, Roles: []auth.Role{auth.RoleSuper}}

	tenant, err := svc.Create(ctx, owner, "Acme")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, owner, tenant.ID, member.PrincipalID, store.TenantRoleUser))

	err = svc.RemoveMember(ctx, owner, tenant.ID, owner.PrincipalID)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err), "last owner is protected")

	err = svc.RemoveMember(ctx, super, tenant.ID, owner.PrincipalID)
	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(err), "super cannot bypass the owner invariant")

	require.NoError(t, svc.RemoveMember(ctx, super, tenant.ID, member.PrincipalID))

	err = svc.RemoveMember(ctx, owner, tenant.ID, member.PrincipalID)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
