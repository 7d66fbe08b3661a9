// ABOUTME: Shared fixtures for entitlement tests
// ABOUTME: Temp-dir SQLite store with a controllable clock and a seeded tenant

package entitlement

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fixture struct {
	store    *store.SQLiteStore
	clock    *testClock
	resolver *Resolver
	manager  *Manager
	quota    *Accountant
	tenantID int64
	ownerID  int64
	memberID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := &testClock{now: time.Date(2024, 12, 1, 12, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)

	ctx := context.Background()
	owner := &store.Principal{Email: "owner@example.com"}
	require.NoError(t, s.CreatePrincipal(ctx, owner))
	member := &store.Principal{Email: "member@example.com"}
	require.NoError(t, s.CreatePrincipal(ctx, member))

	tenant, err := s.CreateTenant(ctx, "Acme", owner.ID)
	require.NoError(t, err)
	require.NoError(t, s.AddMember(ctx, tenant.ID, member.ID, store.TenantRoleUser))

	logger := slog.Default()
	return &fixture{
		store:    s,
		clock:    clock,
		resolver: NewResolver(s, logger, WithClock(clock.Now)),
		manager:  NewManager(s, s, s, logger, WithClock(clock.Now)),
		quota:    NewAccountant(s, logger),
		tenantID: tenant.ID,
		ownerID:  owner.ID,
		memberID: member.ID,
	}
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func details(t *testing.T, err error) map[string]any {
	t.Helper()
	require.Error(t, err)
	return apperr.As(err).Details
}
