// ABOUTME: Tests for session issuance and refresh rotation
// ABOUTME: Uses a temp SQLite store so tenant membership is re-derived for real

package session

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func setupIssuer(t *testing.T, denylist Denylist) (*Issuer, *store.SQLiteStore, *auth.TokenCodec) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	codec, err := auth.NewTokenCodec([]byte(testSecret), auth.WithIssuer("license-gateway"))
	require.NoError(t, err)

	issuer := NewIssuer(codec, s, denylist, Config{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		SuperEmail: "root@example.com",
	}, slog.Default())
	return issuer, s, codec
}

func createPrincipal(t *testing.T, s *store.SQLiteStore, email string) *store.Principal {
	t.Helper()
	p := &store.Principal{Email: email, Role: store.PrincipalRoleClient, Status: store.PrincipalStatusActive}
	require.NoError(t, s.CreatePrincipal(context.Background(), p))
	return p
}

func TestIssuer_Issue(t *testing.T) {
	issuer, s, codec := setupIssuer(t, nil)
	ctx := context.Background()

	p := createPrincipal(t, s, "user@example.com")
	tenant, err := s.CreateTenant(ctx, "Acme", p.ID)
	require.NoError(t, err)

	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.NotEmpty(t, pair.RefreshToken)

	id, err := codec.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p.ID, id.PrincipalID)
	assert.Equal(t, "user@example.com", id.Email)
	assert.Equal(t, []auth.Role{auth.RoleClient}, id.Roles)
	assert.Equal(t, []int64{tenant.ID}, id.Tenants)

	rc, err := codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, p.ID, rc.PrincipalID)

	_, err = codec.Verify(pair.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken, "refresh token is not an access token")
}

func TestIssuer_SuperEmail(t *testing.T) {
	issuer, s, codec := setupIssuer(t, nil)
	p := createPrincipal(t, s, "Root@Example.com")

	pair, err := issuer.Issue(context.Background(), p)
	require.NoError(t, err)

	id, err := codec.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, id.IsSuper())
}

func TestIssuer_RefreshRederivesTenants(t *testing.T) {
	issuer, s, codec := setupIssuer(t, nil)
	ctx := context.Background()

	p := createPrincipal(t, s, "user@example.com")
	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)
	first, err := codec.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Empty(t, first.Tenants)

	owner := createPrincipal(t, s, "owner@example.com")
	tenant, err := s.CreateTenant(ctx, "Acme", owner.ID)
	require.NoError(t, err)
	require.NoError(t, s.AddMember(ctx, tenant.ID, p.ID, store.TenantRoleUser))

	rotated, err := issuer.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	id, err := codec.Verify(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, []int64{tenant.ID}, id.Tenants)

	// Without a denylist the old refresh token stays redeemable until it expires.
	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestIssuer_RefreshFailures(t *testing.T) {
	issuer, s, codec := setupIssuer(t, nil)
	ctx := context.Background()

	_, err := issuer.Refresh(ctx, "")
	assert.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))

	_, err = issuer.Refresh(ctx, "not.a.token")
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err))

	p := createPrincipal(t, s, "user@example.com")
	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)

	_, err = issuer.Refresh(ctx, pair.AccessToken)
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err), "access tokens cannot refresh")

	ghost, _, err := codec.IssueRefresh(424242, "ghost@example.com", time.Hour)
	require.NoError(t, err)
	_, err = issuer.Refresh(ctx, ghost)
	assert.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))

	require.NoError(t, s.SetPrincipalStatus(ctx, p.ID, store.PrincipalStatusBlocked))
	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))
}

func TestIssuer_DenylistSingleUse(t *testing.T) {
	issuer, s, _ := setupIssuer(t, NewMemoryDenylist())
	ctx := context.Background()

	p := createPrincipal(t, s, "user@example.com")
	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)

	rotated, err := issuer.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)

	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err))

	require.NoError(t, issuer.Revoke(ctx, rotated.RefreshToken))
	_, err = issuer.Refresh(ctx, rotated.RefreshToken)
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err))

	assert.NoError(t, issuer.Revoke(ctx, "garbage"), "revoking an invalid token is a no-op")
}

func TestIssuer_DenylistConcurrentRedeem(t *testing.T) {
	issuer, s, _ := setupIssuer(t, NewMemoryDenylist())
	ctx := context.Background()

	p := createPrincipal(t, s, "user@example.com")
	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := issuer.Refresh(ctx, pair.RefreshToken); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

// flakyDirectory fails the next tenant lookup when armed.
type flakyDirectory struct {
	*store.SQLiteStore
	fail atomic.Bool
}

func (d *flakyDirectory) ListTenantIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	if d.fail.CompareAndSwap(true, false) {
		return nil, errors.New("db down")
	}
	return d.SQLiteStore.ListTenantIDsForPrincipal(ctx, principalID)
}

func TestIssuer_RefreshFailureKeepsTokenRedeemable(t *testing.T) {
	_, s, codec := setupIssuer(t, nil)
	dir := &flakyDirectory{SQLiteStore: s}
	issuer := NewIssuer(codec, dir, NewMemoryDenylist(), Config{}, slog.Default())
	ctx := context.Background()

	p := createPrincipal(t, s, "user@example.com")
	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)

	dir.fail.Store(true)
	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))

	rotated, err := issuer.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err, "a failed refresh must not burn the token")
	assert.NotEmpty(t, rotated.AccessToken)

	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	assert.Equal(t, apperr.CodeInvalidToken, apperr.CodeOf(err))
}

// recordingDenylist remembers the TTL of every revocation.
type recordingDenylist struct {
	mu   sync.Mutex
	ttls []time.Duration
}

func (d *recordingDenylist) Revoke(_ context.Context, _ string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ttls = append(d.ttls, ttl)
	return true, nil
}

func TestIssuer_UsesCodecClock(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	issued := time.Date(2031, 3, 1, 9, 0, 0, 0, time.UTC)
	now := issued
	clock := func() time.Time { return now }
	codec, err := auth.NewTokenCodec([]byte(testSecret), auth.WithClock(clock))
	require.NoError(t, err)

	denylist := &recordingDenylist{}
	issuer := NewIssuer(codec, s, denylist, Config{RefreshTTL: 24 * time.Hour}, slog.Default())
	ctx := context.Background()

	p := createPrincipal(t, s, "user@example.com")
	pair, err := issuer.Issue(ctx, p)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExpiresAt.Equal(issued.Add(24*time.Hour)), "cookie expiry %v", pair.RefreshExpiresAt)

	now = issued.Add(2 * time.Hour)
	_, err = issuer.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.Len(t, denylist.ttls, 1)
	assert.Equal(t, 22*time.Hour, denylist.ttls[0])

	fixed := time.Date(2031, 3, 1, 12, 0, 0, 0, time.UTC)
	other := NewIssuer(codec, s, nil, Config{RefreshTTL: time.Hour}, slog.Default(), WithClock(func() time.Time { return fixed }))
	pair, err = other.Issue(ctx, p)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExpiresAt.Equal(fixed.Add(time.Hour)))
}
