// ABOUTME: Tests for the SQLite store: principals, tenants, memberships and products
// ABOUTME: Each test opens a fresh database file in a temp directory

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func createTestPrincipal(t *testing.T, s *SQLiteStore, email string) *Principal {
	t.Helper()
	p := &Principal{Email: email, DisplayName: email}
	require.NoError(t, s.CreatePrincipal(context.Background(), p))
	return p
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	first, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	p := &Principal{Email: "keep@example.com"}
	require.NoError(t, first.CreatePrincipal(context.Background(), p))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.GetPrincipal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep@example.com", got.Email)
}

func TestStore_CreatePrincipal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := &Principal{
		Email:        "Alice@Example.com",
		DisplayName:  "Alice",
		PasswordHash: "$2a$10$hash",
		Role:         PrincipalRoleAdmin,
	}
	require.NoError(t, store.CreatePrincipal(ctx, p))
	assert.NotZero(t, p.ID)

	got, err := store.GetPrincipal(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", got.Email)
	assert.Equal(t, "password", got.Provider)
	assert.Equal(t, PrincipalRoleAdmin, got.Role)
	assert.Equal(t, PrincipalStatusActive, got.Status)
	assert.Equal(t, "$2a$10$hash", got.PasswordHash)
	assert.Empty(t, got.APIKeyHash)

	byEmail, err := store.GetPrincipalByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byEmail.ID)
}

func TestStore_CreatePrincipal_DuplicateEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createTestPrincipal(t, store, "dup@example.com")

	err := store.CreatePrincipal(ctx, &Principal{Email: "DUP@example.com"})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestStore_GetPrincipal_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetPrincipal(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetPrincipalByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetPrincipalByAPIKeyHash(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PrincipalStatusAndAPIKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := createTestPrincipal(t, store, "bob@example.com")

	require.NoError(t, store.SetPrincipalStatus(ctx, p.ID, PrincipalStatusBlocked))
	require.NoError(t, store.SetPrincipalAPIKeyHash(ctx, p.ID, "abc123"))

	got, err := store.GetPrincipalByAPIKeyHash(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, PrincipalStatusBlocked, got.Status)

	assert.ErrorIs(t, store.SetPrincipalStatus(ctx, 999, PrincipalStatusActive), ErrNotFound)

	count, err := store.CountPrincipals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_CreateTenant(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	owner := createTestPrincipal(t, store, "owner@example.com")

	tenant, err := store.CreateTenant(ctx, "  Acme  ", owner.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", tenant.Name)

	got, err := store.GetTenant(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.Name, got.Name)
	assert.True(t, tenant.CreatedAt.Equal(got.CreatedAt))

	m, err := store.GetMembership(ctx, tenant.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, TenantRoleOwner, m.Role)
	assert.Equal(t, "owner@example.com", m.Email)

	_, err = store.CreateTenant(ctx, "ACME", owner.ID)
	assert.ErrorIs(t, err, ErrTenantExists)
}

func TestStore_CreateTenant_UnknownOwner(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.CreateTenant(context.Background(), "Ghost", 404)
	assert.ErrorIs(t, err, ErrNotFound)

	tenants, err := store.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tenants, "failed owner insert must roll back the tenant")
}

func TestStore_Memberships(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	owner := createTestPrincipal(t, store, "owner@example.com")
	member := createTestPrincipal(t, store, "member@example.com")
	tenant, err := store.CreateTenant(ctx, "Acme", owner.ID)
	require.NoError(t, err)

	require.NoError(t, store.AddMember(ctx, tenant.ID, member.ID, TenantRoleUser))
	assert.ErrorIs(t, store.AddMember(ctx, tenant.ID, member.ID, TenantRoleAdmin), ErrMembershipExists)
	assert.ErrorIs(t, store.AddMember(ctx, 999, member.ID, TenantRoleUser), ErrNotFound)

	members, err := store.ListMembers(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, TenantRoleOwner, members[0].Role)
	assert.Equal(t, member.ID, members[1].PrincipalID)

	ids, err := store.ListTenantIDsForPrincipal(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{tenant.ID}, ids)

	require.NoError(t, store.RemoveMember(ctx, tenant.ID, member.ID))
	assert.ErrorIs(t, store.RemoveMember(ctx, tenant.ID, member.ID), ErrNotFound)

	ids, err = store.ListTenantIDsForPrincipal(ctx, member.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStore_RemoveMember_LastOwner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	owner := createTestPrincipal(t, store, "owner@example.com")
	second := createTestPrincipal(t, store, "second@example.com")
	tenant, err := store.CreateTenant(ctx, "Acme", owner.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, store.RemoveMember(ctx, tenant.ID, owner.ID), ErrLastOwner)

	require.NoError(t, store.AddMember(ctx, tenant.ID, second.ID, TenantRoleOwner))
	require.NoError(t, store.RemoveMember(ctx, tenant.ID, owner.ID))
	assert.ErrorIs(t, store.RemoveMember(ctx, tenant.ID, second.ID), ErrLastOwner)
}

func TestStore_Products(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertProduct(ctx, &Product{Key: "impulse", Name: "Impulse", IsActive: true}))
	require.NoError(t, store.UpsertProduct(ctx, &Product{Key: "archive", Name: "Archive", IsActive: false}))
	require.NoError(t, store.UpsertProduct(ctx, &Product{Key: "impulse", Name: "Impulse Pro", IsActive: true}))

	p, err := store.GetProduct(ctx, "impulse")
	require.NoError(t, err)
	assert.Equal(t, "Impulse Pro", p.Name)

	all, err := store.ListProducts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := store.ListProducts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "impulse", active[0].Key)

	_, err = store.GetProduct(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SetClock(t *testing.T) {
	store := setupTestStore(t)
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	p := createTestPrincipal(t, store, "clock@example.com")
	got, err := store.GetPrincipal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.CreatedAt.Equal(fixed))
}
