// ABOUTME: HTTP middleware for request ids, access logging and license gating
// ABOUTME: RequireLicense resolves the grant per request and stores it in the context

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/auth"
	"github.com/2389/license-gateway/internal/entitlement"
	"github.com/2389/license-gateway/internal/ids"
	"github.com/2389/license-gateway/internal/license"
	"github.com/2389/license-gateway/internal/obs"
)

// TenantHeader carries the tenant a product-gated request acts in.
const TenantHeader = "X-Tenant-ID"

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type contextKey int

const (
	requestIDKey contextKey = iota
	grantKey
	tenantKey
)

// middleware wraps a handler.
type middleware func(http.Handler) http.Handler

// chain applies mws so the first one runs outermost.
func chain(h http.Handler, mws ...middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// requestID propagates a caller-supplied request id or assigns a new ULID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = ids.New()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// requestIDFrom returns the request id stored by requestID.
func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// logRequests logs one line per request at debug, or at warn for server errors.
func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &obs.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		next.ServeHTTP(sw, r)

		level := slog.LevelDebug
		if sw.Code >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.Code,
			"duration", time.Since(start),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

// tenantFromHeader parses the X-Tenant-ID header.
func tenantFromHeader(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(TenantHeader))
	if raw == "" {
		return 0, apperr.ErrTenantRequired
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.CodeInvalidInput, "X-Tenant-ID must be a positive integer")
	}
	return id, nil
}

// requireLicense resolves the effective grant for the {productKey} path value in
// the tenant named by X-Tenant-ID. Must be used after auth.RequireAuth.
func (g *Gateway) requireLicense(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := auth.FromContext(r.Context())
		if id == nil {
			apperr.Write(w, apperr.ErrUnauthorized)
			return
		}
		tenantID, err := tenantFromHeader(r)
		if err != nil {
			apperr.Write(w, err)
			return
		}
		if !id.IsSuper() && !id.InTenant(tenantID) {
			apperr.Write(w, apperr.New(apperr.CodeForbidden, "not a member of this tenant"))
			return
		}

		eg, err := g.resolver.Resolve(r.Context(), tenantID, &id.PrincipalID, r.PathValue("productKey"))
		if err != nil {
			apperr.Write(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		ctx = context.WithValue(ctx, grantKey, eg)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePlan admits only grants on one of plans. Must be used after requireLicense.
func requirePlan(plans ...license.Plan) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			eg := grantFrom(r.Context())
			if eg == nil {
				apperr.Write(w, apperr.New(apperr.CodePreconditionFailed, "license not resolved"))
				return
			}
			if err := entitlement.RequirePlan(eg.Grant, plans...); err != nil {
				apperr.Write(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// grantFrom returns the grant stored by requireLicense, or nil.
func grantFrom(ctx context.Context) *entitlement.EffectiveGrant {
	eg, _ := ctx.Value(grantKey).(*entitlement.EffectiveGrant)
	return eg
}
