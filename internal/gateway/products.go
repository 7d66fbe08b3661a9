// ABOUTME: Product-gated endpoints that downstream services call per request
// ABOUTME: Each runs behind requireLicense and reads the resolved grant from the context

package gateway

import (
	"net/http"

	"github.com/2389/license-gateway/internal/apperr"
)

type usageRequest struct {
	Feature string `json:"feature"`
	Count   *int64 `json:"count"`
}

// handleProductAccess reports the grant that admitted the caller.
func (g *Gateway) handleProductAccess(w http.ResponseWriter, r *http.Request) {
	eg := grantFrom(r.Context())
	writeData(w, http.StatusOK, map[string]any{
		"license":      eg.Grant,
		"license_type": eg.Scope,
	})
}

// handleProductUsage checks and consumes quota in one step. Count defaults to 1.
func (g *Gateway) handleProductUsage(w http.ResponseWriter, r *http.Request) {
	eg := grantFrom(r.Context())

	var req usageRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		apperr.Write(w, err)
		return
	}
	count := int64(1)
	if req.Count != nil {
		count = *req.Count
	}

	used, err := g.quota.Consume(r.Context(), eg.Grant, req.Feature, count)
	if err != nil {
		apperr.Write(w, err)
		return
	}

	fields := map[string]any{"feature": req.Feature, "usage": used}
	if limit, ok := eg.Grant.Meta.Limit(req.Feature); ok {
		fields["limit"] = limit
	}
	writeData(w, http.StatusOK, fields)
}

// handleProductPremium is reachable only on pro and enterprise plans.
func (g *Gateway) handleProductPremium(w http.ResponseWriter, r *http.Request) {
	eg := grantFrom(r.Context())
	writeData(w, http.StatusOK, map[string]any{
		"plan":    eg.Grant.Plan,
		"premium": true,
	})
}
