// ABOUTME: HTTP handlers for login, refresh, logout and the current identity
// ABOUTME: Access tokens go in the body; refresh tokens travel in an HttpOnly cookie

package gateway

import (
	"net/http"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/session"
	"github.com/2389/license-gateway/internal/store"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	APIKey   string `json:"api_key"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleLogin authenticates by password or API key and starts a session.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		apperr.Write(w, err)
		return
	}

	var (
		p   *store.Principal
		err error
	)
	if req.APIKey != "" {
		p, err = g.authn.APIKey(r.Context(), req.APIKey)
	} else {
		p, err = g.authn.Password(r.Context(), req.Email, req.Password)
	}
	if err != nil {
		apperr.Write(w, err)
		return
	}

	pair, err := g.sessions.Issue(r.Context(), p)
	if err != nil {
		apperr.Write(w, err)
		return
	}
	g.logger.Info("login", "principal_id", p.ID, "method", loginMethod(req))
	g.writeSession(w, pair)
}

func loginMethod(req loginRequest) string {
	if req.APIKey != "" {
		return "api_key"
	}
	return "password"
}

// handleRefresh rotates the session named by the refresh cookie or body.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := g.cookie.Read(r)
	if token == "" {
		var req refreshRequest
		if err := decodeJSON(w, r, &req, true); err != nil {
			apperr.Write(w, err)
			return
		}
		token = req.RefreshToken
	}

	pair, err := g.sessions.Refresh(r.Context(), token)
	if err != nil {
		if c := apperr.CodeOf(err); c == apperr.CodeInvalidToken || c == apperr.CodeUserNotFound {
			g.cookie.Clear(w)
		}
		apperr.Write(w, err)
		return
	}
	g.writeSession(w, pair)
}

// handleLogout clears the refresh cookie and denylists its token.
func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := g.cookie.Read(r); token != "" {
		if err := g.sessions.Revoke(r.Context(), token); err != nil {
			g.logger.Warn("failed to revoke refresh token on logout", "error", err)
		}
	}
	g.cookie.Clear(w)
	writeData(w, http.StatusOK, nil)
}

// handleMe returns the identity carried by the access token.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	writeData(w, http.StatusOK, map[string]any{"user": id})
}

func (g *Gateway) writeSession(w http.ResponseWriter, pair *session.Pair) {
	g.cookie.Set(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeData(w, http.StatusOK, map[string]any{
		"access_token": pair.AccessToken,
		"token_type":   pair.TokenType,
		"expires_in":   pair.ExpiresIn,
		"user":         pair.Identity,
		"tenants":      pair.Identity.Tenants,
	})
}
