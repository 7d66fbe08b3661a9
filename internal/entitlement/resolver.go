// ABOUTME: Entitlement resolution with org-over-member precedence
// ABOUTME: Every call reads the store; denials surface as LICENSE_REQUIRED

package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/license"
	"github.com/2389/license-gateway/internal/obs"
	"github.com/2389/license-gateway/internal/store"
)

// Option configures a Resolver or Manager.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for effectiveness checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// EffectiveGrant is the grant that authorized an access decision.
type EffectiveGrant struct {
	Grant *license.Grant `json:"license"`
	Scope license.Scope  `json:"license_type"`
}

// Resolver answers "may this principal use this product in this tenant?".
type Resolver struct {
	grants store.GrantStore
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver over the grant store.
func NewResolver(grants store.GrantStore, logger *slog.Logger, opts ...Option) *Resolver {
	o := buildOptions(opts)
	return &Resolver{
		grants: grants,
		logger: logger.With("component", "resolver"),
		now:    o.now,
	}
}

// Resolve returns the effective grant for productKey. The org-wide grant wins;
// the member grant is consulted only when principalID is set and no org grant
// is effective.
func (r *Resolver) Resolve(ctx context.Context, tenantID int64, principalID *int64, productKey string) (*EffectiveGrant, error) {
	if productKey == "" {
		return nil, apperr.New(apperr.CodeInvalidInput, "product key is required")
	}

	g, err := r.lookup(ctx, tenantID, nil, productKey)
	if err != nil {
		return nil, err
	}
	if g == nil && principalID != nil {
		g, err = r.lookup(ctx, tenantID, principalID, productKey)
		if err != nil {
			return nil, err
		}
	}
	return r.decide(tenantID, productKey, g)
}

// ResolveOrg returns the effective org-wide grant only.
func (r *Resolver) ResolveOrg(ctx context.Context, tenantID int64, productKey string) (*EffectiveGrant, error) {
	g, err := r.lookup(ctx, tenantID, nil, productKey)
	if err != nil {
		return nil, err
	}
	return r.decide(tenantID, productKey, g)
}

// ResolveMember returns the effective member grant only.
func (r *Resolver) ResolveMember(ctx context.Context, tenantID, principalID int64, productKey string) (*EffectiveGrant, error) {
	g, err := r.lookup(ctx, tenantID, &principalID, productKey)
	if err != nil {
		return nil, err
	}
	return r.decide(tenantID, productKey, g)
}

// lookup fetches one scope's grant and returns nil when it is missing or not effective.
func (r *Resolver) lookup(ctx context.Context, tenantID int64, principalID *int64, productKey string) (*license.Grant, error) {
	var g *license.Grant
	var err error
	if principalID == nil {
		g, err = r.grants.GetOrgGrant(ctx, tenantID, productKey)
	} else {
		g, err = r.grants.GetMemberGrant(ctx, tenantID, *principalID, productKey)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("loading grant", "error", err, "tenant_id", tenantID, "product", productKey)
		return nil, apperr.Internal("loading license", err)
	}
	if !g.EffectiveAt(r.now()) {
		return nil, nil
	}
	return g, nil
}

func (r *Resolver) decide(tenantID int64, productKey string, g *license.Grant) (*EffectiveGrant, error) {
	if g == nil {
		obs.LicenseDecisions.WithLabelValues("denied", "none").Inc()
		r.logger.Debug("license denied", "tenant_id", tenantID, "product", productKey)
		return nil, LicenseRequired(productKey)
	}
	scope := g.Scope()
	obs.LicenseDecisions.WithLabelValues("granted", string(scope)).Inc()
	return &EffectiveGrant{Grant: g, Scope: scope}, nil
}

// LicenseRequired builds the denial returned when no grant is effective.
func LicenseRequired(productKey string) error {
	return apperr.WithDetails(apperr.CodeLicenseRequired,
		"an active license is required for this product",
		map[string]any{"product": productKey})
}

// RequirePlan fails with PLAN_UPGRADE_REQUIRED unless g's plan is one of allowed.
func RequirePlan(g *license.Grant, allowed ...license.Plan) error {
	if g == nil {
		return apperr.New(apperr.CodePreconditionFailed, "plan checked before a license was resolved")
	}
	for _, p := range allowed {
		if g.Plan == p {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, p := range allowed {
		names[i] = string(p)
	}
	return apperr.WithDetails(apperr.CodePlanUpgradeRequired, "current plan does not include this feature",
		map[string]any{"current_plan": string(g.Plan), "required_plans": names})
}

// RequireMinimumPlan fails with PLAN_UPGRADE_REQUIRED when g ranks below min.
func RequireMinimumPlan(g *license.Grant, min license.Plan) error {
	if g == nil {
		return apperr.New(apperr.CodePreconditionFailed, "plan checked before a license was resolved")
	}
	if license.IsPlanSufficient(g.Plan, min) {
		return nil
	}
	return apperr.WithDetails(apperr.CodePlanUpgradeRequired, "current plan does not include this feature",
		map[string]any{"current_plan": string(g.Plan), "required_plan": string(min)})
}
