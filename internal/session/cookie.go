// ABOUTME: HTTP-only refresh-token cookie scoped to the auth routes
// ABOUTME: Set, read and clear with one consistent name, path and domain

package session

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the refresh cookie name when none is configured.
const DefaultCookieName = "refresh_token"

// Cookie describes how the refresh token travels between browser and gateway.
type Cookie struct {
	Name     string
	Domain   string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// withDefaults fills unset fields.
func (c Cookie) withDefaults() Cookie {
	if c.Name == "" {
		c.Name = DefaultCookieName
	}
	if c.Path == "" {
		c.Path = "/auth"
	}
	if c.SameSite == 0 {
		c.SameSite = http.SameSiteLaxMode
	}
	return c
}

// Set writes the refresh token cookie.
func (c Cookie) Set(w http.ResponseWriter, token string, expires time.Time) {
	c = c.withDefaults()
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

// Clear expires the refresh token cookie.
func (c Cookie) Clear(w http.ResponseWriter) {
	c = c.withDefaults()
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Domain:   c.Domain,
		Path:     c.Path,
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.SameSite,
	})
}

// Read returns the refresh token from the request, or "".
func (c Cookie) Read(r *http.Request) string {
	c = c.withDefaults()
	ck, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// ParseSameSite maps a config value onto http.SameSite. Empty means lax.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid same_site %q: want lax, strict or none", s)
	}
}
