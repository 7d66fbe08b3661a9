// ABOUTME: Token codec for signed access and refresh tokens
// ABOUTME: HS256 JWTs carrying principal id, email, roles and a tenant snapshot

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the minimum signing secret size in bytes.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = fmt.Errorf("%w: expired", ErrInvalidToken)
	ErrMissingClaim = fmt.Errorf("%w: missing required claim", ErrInvalidToken)
	ErrWeakSecret   = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// TokenType distinguishes access tokens from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// accessClaims is the wire form of an access token.
type accessClaims struct {
	Email   string    `json:"email"`
	Roles   []string  `json:"roles"`
	Tenants []int64   `json:"tenants"`
	Type    TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// refreshClaims is the wire form of a refresh token. Roles and tenants are
// absent; they are re-derived when the token is redeemed.
type refreshClaims struct {
	Email string    `json:"email"`
	Type  TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the verified content of a refresh token.
type RefreshClaims struct {
	PrincipalID int64
	Email       string
	TokenID     string
	ExpiresAt   time.Time
}

// TokenCodec signs and verifies tokens with a shared HS256 secret.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// CodecOption configures a TokenCodec.
type CodecOption func(*TokenCodec)

// WithIssuer sets the iss claim and requires it on verification.
func WithIssuer(issuer string) CodecOption {
	return func(c *TokenCodec) { c.issuer = issuer }
}

// WithClock overrides the time source used for iat, exp and validation.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) { c.now = now }
}

// NewTokenCodec creates a codec. The secret must be at least MinSecretLength bytes.
func NewTokenCodec(secret []byte, opts ...CodecOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	c := &TokenCodec{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Now returns the codec's current time.
func (c *TokenCodec) Now() time.Time {
	return c.now()
}

// Issue mints an access token for the identity, valid for ttl.
func (c *TokenCodec) Issue(id *Identity, ttl time.Duration) (string, error) {
	now := c.now()
	claims := accessClaims{
		Email:   id.Email,
		Roles:   roleStrings(id.Roles),
		Tenants: append([]int64{}, id.Tenants...),
		Type:    TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.PrincipalID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return c.sign(claims)
}

// IssueRefresh mints a refresh token carrying only subject and email.
// It returns the token and its unique id.
func (c *TokenCodec) IssueRefresh(principalID int64, email string, ttl time.Duration) (string, string, error) {
	now := c.now()
	jti := uuid.NewString()
	claims := refreshClaims{
		Email: email,
		Type:  TokenTypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(principalID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	token, err := c.sign(claims)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

func (c *TokenCodec) sign(claims jwt.Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return token, nil
}

// Verify validates an access token and returns the identity it asserts.
// Every failure wraps ErrInvalidToken.
func (c *TokenCodec) Verify(tokenString string) (*Identity, error) {
	var claims accessClaims
	if err := c.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", ErrInvalidToken)
	}
	principalID, err := parseSubject(claims.Subject)
	if err != nil {
		return nil, err
	}

	roles := make([]Role, 0, len(claims.Roles))
	for _, r := range claims.Roles {
		roles = append(roles, Role(r))
	}
	tenants := claims.Tenants
	if tenants == nil {
		tenants = []int64{}
	}
	return &Identity{
		PrincipalID: principalID,
		Email:       claims.Email,
		Roles:       roles,
		Tenants:     tenants,
	}, nil
}

// VerifyRefresh validates a refresh token.
func (c *TokenCodec) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	var claims refreshClaims
	if err := c.parse(tokenString, &claims); err != nil {
		return nil, err
	}
	if claims.Type != TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", ErrInvalidToken)
	}
	principalID, err := parseSubject(claims.Subject)
	if err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	return &RefreshClaims{
		PrincipalID: principalID,
		Email:       claims.Email,
		TokenID:     claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

func (c *TokenCodec) parse(tokenString string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func parseSubject(sub string) (int64, error) {
	if sub == "" {
		return 0, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed sub", ErrInvalidToken)
	}
	return id, nil
}
