// ABOUTME: Password and API-key authentication against the principal store
// ABOUTME: bcrypt for passwords, sha256 digests for API keys, constant-time on misses

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/store"
)

// APIKeyPrefix marks keys issued by this gateway.
const APIKeyPrefix = "lgk_"

// PrincipalReader is the subset of the store the authenticator needs.
type PrincipalReader interface {
	GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error)
	GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*store.Principal, error)
}

// Authenticator verifies credentials and returns the principal they belong to.
type Authenticator struct {
	principals PrincipalReader
	logger     *slog.Logger
	dummyHash  []byte
}

// NewAuthenticator creates an authenticator over principals.
func NewAuthenticator(principals PrincipalReader, logger *slog.Logger) *Authenticator {
	// Compared against on unknown emails so misses cost the same as hits.
	dummy, _ := bcrypt.GenerateFromPassword([]byte("license-gateway-dummy"), bcrypt.DefaultCost)
	return &Authenticator{
		principals: principals,
		logger:     logger.With("component", "auth"),
		dummyHash:  dummy,
	}
}

var errBadCredentials = apperr.New(apperr.CodeUnauthorized, "invalid credentials")

// Password authenticates an email and password.
func (a *Authenticator) Password(ctx context.Context, email, password string) (*store.Principal, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "email and password are required")
	}

	p, err := a.principals.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, errBadCredentials
	}
	if err != nil {
		a.logger.Error("loading principal", "error", err)
		return nil, apperr.Internal("loading principal", err)
	}
	if p.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))
		return nil, errBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(password)); err != nil {
		return nil, errBadCredentials
	}
	return a.checkStatus(p)
}

// APIKey authenticates a raw API key.
func (a *Authenticator) APIKey(ctx context.Context, key string) (*store.Principal, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "api key is required")
	}

	p, err := a.principals.GetPrincipalByAPIKeyHash(ctx, HashAPIKey(key))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errBadCredentials
	}
	if err != nil {
		a.logger.Error("loading principal by api key", "error", err)
		return nil, apperr.Internal("loading principal", err)
	}
	return a.checkStatus(p)
}

func (a *Authenticator) checkStatus(p *store.Principal) (*store.Principal, error) {
	switch p.Status {
	case store.PrincipalStatusActive:
		return p, nil
	case store.PrincipalStatusPending:
		return nil, apperr.New(apperr.CodeForbidden, "account is pending approval")
	default:
		a.logger.Info("login refused for non-active principal", "principal_id", p.ID, "status", p.Status)
		return nil, apperr.New(apperr.CodeForbidden, "account is "+string(p.Status))
	}
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// HashAPIKey returns the hex sha256 digest stored for an API key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new random API key.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}
