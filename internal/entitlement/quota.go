// ABOUTME: Per-feature quota checks and usage accounting on grant metadata
// ABOUTME: Consume is check-and-increment in one conditional store update

package entitlement

import (
	"context"
	"errors"
	"log/slog"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/license"
	"github.com/2389/license-gateway/internal/obs"
	"github.com/2389/license-gateway/internal/store"
)

// CheckQuota reports whether delta more units of feature fit under g's limit.
// A missing, zero or -1 limit always allows.
func CheckQuota(g *license.Grant, feature string, delta int64) error {
	if err := validateQuotaArgs(g, feature, delta); err != nil {
		return err
	}
	limit, ok := g.Meta.Limit(feature)
	if !ok {
		return nil
	}
	current := g.Meta.Usage(feature)
	if current+delta > limit {
		return QuotaExceeded(feature, limit, current, delta)
	}
	return nil
}

// QuotaExceeded builds the denial carrying the stored limit and usage.
func QuotaExceeded(feature string, limit, current, requested int64) error {
	return apperr.WithDetails(apperr.CodeQuotaExceeded, "quota exceeded for "+feature, map[string]any{
		"feature":   feature,
		"limit":     limit,
		"current":   current,
		"requested": requested,
	})
}

func validateQuotaArgs(g *license.Grant, feature string, delta int64) error {
	if g == nil {
		return apperr.New(apperr.CodePreconditionFailed, "quota checked before a license was resolved")
	}
	if err := license.ValidateFeature(feature); err != nil {
		return apperr.Wrap(apperr.CodeInvalidInput, "invalid feature name", err)
	}
	if delta < 0 {
		return apperr.New(apperr.CodeInvalidInput, "delta must not be negative")
	}
	return nil
}

// Accountant records feature usage on grants.
type Accountant struct {
	grants store.GrantStore
	logger *slog.Logger
}

// NewAccountant creates an accountant over the grant store.
func NewAccountant(grants store.GrantStore, logger *slog.Logger) *Accountant {
	return &Accountant{
		grants: grants,
		logger: logger.With("component", "quota"),
	}
}

// IncrementUsage adds delta to usage[feature] without checking the limit and
// returns the new count. g.Meta is updated to match the store.
func (a *Accountant) IncrementUsage(ctx context.Context, g *license.Grant, feature string, delta int64) (int64, error) {
	if err := validateQuotaArgs(g, feature, delta); err != nil {
		return 0, err
	}

	n, err := a.grants.IncrementUsage(ctx, g.ID, feature, delta, false)
	if err != nil {
		return 0, a.storeError(err, g, feature)
	}
	g.Meta = g.Meta.WithUsage(feature, n)
	return n, nil
}

// Consume checks the quota and increments usage atomically. On refusal it
// returns QUOTA_EXCEEDED with the limit and usage read back from the store.
func (a *Accountant) Consume(ctx context.Context, g *license.Grant, feature string, delta int64) (int64, error) {
	if err := CheckQuota(g, feature, delta); err != nil {
		if apperr.CodeOf(err) == apperr.CodeQuotaExceeded {
			obs.QuotaChecks.WithLabelValues("denied").Inc()
		}
		return 0, err
	}

	n, err := a.grants.IncrementUsage(ctx, g.ID, feature, delta, true)
	if errors.Is(err, store.ErrLimitReached) {
		obs.QuotaChecks.WithLabelValues("denied").Inc()
		return 0, a.refused(ctx, g, feature, delta)
	}
	if err != nil {
		return 0, a.storeError(err, g, feature)
	}

	obs.QuotaChecks.WithLabelValues("allowed").Inc()
	g.Meta = g.Meta.WithUsage(feature, n)
	return n, nil
}

// refused reloads the grant so the denial reports what a concurrent writer left behind.
func (a *Accountant) refused(ctx context.Context, g *license.Grant, feature string, delta int64) error {
	var fresh *license.Grant
	var err error
	if g.PrincipalID == nil {
		fresh, err = a.grants.GetOrgGrant(ctx, g.TenantID, g.ProductKey)
	} else {
		fresh, err = a.grants.GetMemberGrant(ctx, g.TenantID, *g.PrincipalID, g.ProductKey)
	}
	if err != nil {
		a.logger.Warn("reloading grant after quota refusal", "error", err, "grant_id", g.ID)
		limit, _ := g.Meta.Limit(feature)
		return QuotaExceeded(feature, limit, g.Meta.Usage(feature), delta)
	}

	g.Meta = fresh.Meta
	limit, _ := fresh.Meta.Limit(feature)
	return QuotaExceeded(feature, limit, fresh.Meta.Usage(feature), delta)
}

func (a *Accountant) storeError(err error, g *license.Grant, feature string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, "license not found", err)
	}
	a.logger.Error("incrementing usage", "error", err, "grant_id", g.ID, "feature", feature)
	return apperr.Internal("incrementing usage", err)
}
