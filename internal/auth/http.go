// ABOUTME: HTTP middleware for bearer-token authentication on API endpoints
// ABOUTME: Verifies the access token and adds the Identity to the request context

package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/license-gateway/internal/apperr"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireAuth rejects requests without a valid access token.
// Missing credentials yield UNAUTHORIZED; bad or expired tokens yield INVALID_TOKEN.
func RequireAuth(codec *TokenCodec, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				apperr.Write(w, apperr.New(apperr.CodeUnauthorized, errMsg))
				return
			}

			id, err := codec.Verify(token)
			if err != nil {
				logger.Debug("rejected access token", "error", err, "path", r.URL.Path)
				apperr.Write(w, apperr.Wrap(apperr.CodeInvalidToken, "invalid or expired token", err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireSuper allows only identities carrying the super role.
// Must be used after RequireAuth.
func RequireSuper() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := FromContext(r.Context())
			if id == nil {
				apperr.Write(w, apperr.ErrUnauthorized)
				return
			}
			if !id.IsSuper() {
				apperr.Write(w, apperr.New(apperr.CodeForbidden, "super role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
