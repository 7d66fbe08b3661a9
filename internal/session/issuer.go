// ABOUTME: Session issuer that mints token pairs and rotates refresh tokens
// ABOUTME: Access and refresh TTL policy is applied here and nowhere else

package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/obs"
	"github.com/2389/license-gateway/internal/store"
)

// Default token lifetimes.
const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Directory is the slice of the store the issuer reads.
type Directory interface {
	GetPrincipal(ctx context.Context, id int64) (*store.Principal, error)
	ListTenantIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error)
}

// Config holds token lifetime policy.
type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SuperEmail string // Principal that additionally receives the super role
}

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken      string         `json:"access_token"`
	TokenType        string         `json:"token_type"`
	ExpiresIn        int64          `json:"expires_in"`
	RefreshToken     string         `json:"-"`
	RefreshExpiresAt time.Time      `json:"-"`
	Identity         *auth.Identity `json:"-"`
}

// Issuer mints and rotates sessions.
type Issuer struct {
	codec    *auth.TokenCodec
	dir      Directory
	denylist Denylist
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source for cookie expiry and denylist TTLs.
// It defaults to the codec's clock.
func WithClock(now func() time.Time) Option {
	return func(s *Issuer) { s.now = now }
}

// NewIssuer creates an issuer. denylist may be nil for purely stateless refresh.
func NewIssuer(codec *auth.TokenCodec, dir Directory, denylist Denylist, cfg Config, logger *slog.Logger, opts ...Option) *Issuer {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	s := &Issuer{
		codec:    codec,
		dir:      dir,
		denylist: denylist,
		cfg:      cfg,
		now:      codec.Now,
		logger:   logger.With("component", "session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a pair for a principal that an authentication step has already verified.
func (s *Issuer) Issue(ctx context.Context, p *store.Principal) (*Pair, error) {
	pair, err := s.mint(ctx, p)
	if err != nil {
		return nil, err
	}
	obs.Sessions.WithLabelValues("login").Inc()
	s.logger.Info("session issued", "principal_id", p.ID, "tenants", len(pair.Identity.Tenants))
	return pair, nil
}

// Refresh redeems a refresh token for a new pair. The principal is reloaded
// and its tenants are re-derived, so the new access token reflects current
// membership. With a denylist the redeemed token cannot be used again; it is
// only marked used once the new pair has been minted.
func (s *Issuer) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	if refreshToken == "" {
		return nil, apperr.New(apperr.CodeUnauthorized, "refresh token required")
	}
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidToken, "invalid or expired refresh token", err)
	}

	p, err := s.dir.GetPrincipal(ctx, claims.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.CodeUserNotFound, "account no longer exists")
	}
	if err != nil {
		s.logger.Error("loading principal for refresh", "error", err, "principal_id", claims.PrincipalID)
		return nil, apperr.Internal("loading principal", err)
	}
	if p.Status != store.PrincipalStatusActive {
		return nil, apperr.New(apperr.CodeUserNotFound, "account is not active")
	}

	pair, err := s.mint(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := s.redeem(ctx, claims); err != nil {
		return nil, err
	}
	obs.Sessions.WithLabelValues("refresh").Inc()
	s.logger.Debug("session refreshed", "principal_id", p.ID)
	return pair, nil
}

// Revoke denylists a refresh token. Invalid tokens and a missing denylist are no-ops.
func (s *Issuer) Revoke(ctx context.Context, refreshToken string) error {
	if s.denylist == nil || refreshToken == "" {
		return nil
	}
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if _, err := s.denylist.Revoke(ctx, claims.TokenID, s.remaining(claims)); err != nil {
		s.logger.Error("revoking refresh token", "error", err, "principal_id", claims.PrincipalID)
		return apperr.Internal("revoking refresh token", err)
	}
	s.logger.Info("refresh token revoked", "principal_id", claims.PrincipalID)
	return nil
}

// redeem marks the token used. A second redemption fails as an invalid token.
func (s *Issuer) redeem(ctx context.Context, claims *auth.RefreshClaims) error {
	if s.denylist == nil {
		return nil
	}
	fresh, err := s.denylist.Revoke(ctx, claims.TokenID, s.remaining(claims))
	if err != nil {
		s.logger.Error("checking refresh denylist", "error", err, "principal_id", claims.PrincipalID)
		return apperr.Internal("checking refresh token", err)
	}
	if !fresh {
		s.logger.Warn("revoked refresh token presented", "principal_id", claims.PrincipalID)
		return apperr.New(apperr.CodeInvalidToken, "refresh token has been revoked")
	}
	return nil
}

// remaining is how long the refresh token stays valid by signature alone.
func (s *Issuer) remaining(claims *auth.RefreshClaims) time.Duration {
	return claims.ExpiresAt.Sub(s.now())
}

func (s *Issuer) mint(ctx context.Context, p *store.Principal) (*Pair, error) {
	tenants, err := s.dir.ListTenantIDsForPrincipal(ctx, p.ID)
	if err != nil {
		s.logger.Error("loading tenants", "error", err, "principal_id", p.ID)
		return nil, apperr.Internal("loading tenants", err)
	}

	id := &auth.Identity{
		PrincipalID: p.ID,
		Email:       p.Email,
		Roles:       auth.RolesFor(p, s.cfg.SuperEmail),
		Tenants:     tenants,
	}

	access, err := s.codec.Issue(id, s.cfg.AccessTTL)
	if err != nil {
		return nil, apperr.Internal("signing access token", err)
	}
	refresh, _, err := s.codec.IssueRefresh(p.ID, p.Email, s.cfg.RefreshTTL)
	if err != nil {
		return nil, apperr.Internal("signing refresh token", err)
	}

	return &Pair{
		AccessToken:      access,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.cfg.AccessTTL / time.Second),
		RefreshToken:     refresh,
		RefreshExpiresAt: s.now().Add(s.cfg.RefreshTTL),
		Identity:         id,
	}, nil
}
