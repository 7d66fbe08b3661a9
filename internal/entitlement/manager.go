// ABOUTME: License lifecycle: create, assign, upgrade, revoke, list and expiry sweeps
// ABOUTME: Writes go through scope-keyed upserts so a scope never holds two rows

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

// GrantOptions are the optional fields of a create or assign call.
type GrantOptions struct {
	Status     license.Status // Empty means active
	ValidUntil *time.Time     // Nil means perpetual
	Meta       license.Meta   // Limits default to the plan catalog when absent
}

// UpgradeOptions are the optional fields of an upgrade.
type UpgradeOptions struct {
	ExtensionMonths int          // Months added to the current valid-until, default 1
	ValidUntil      *time.Time   // Explicit expiry, wins over ExtensionMonths
	Meta            license.Meta // Merged over the current metadata
}

// LicenseView is a grant decorated for listings.
type LicenseView struct {
	*license.Grant
	ProductName string        `json:"product_name,omitempty"`
	LicenseType license.Scope `json:"license_type"`
}

// MembershipReader reads tenant memberships.
type MembershipReader interface {
	GetMembership(ctx context.Context, tenantID, principalID int64) (*store.Membership, error)
}

// Manager owns state transitions of grants.
type Manager struct {
	grants   store.GrantStore
	products store.ProductStore
	members  MembershipReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(grants store.GrantStore, products store.ProductStore, members MembershipReader, logger *slog.Logger, opts ...Option) *Manager {
	o := buildOptions(opts)
	return &Manager{
		grants:   grants,
		products: products,
		members:  members,
		logger:   logger.With("component", "licenses"),
		now:      o.now,
	}
}

// CreateOrUpdate writes the org-wide grant for (tenant, product), replacing any existing one.
func (m *Manager) CreateOrUpdate(ctx context.Context, tenantID int64, productKey, plan string, opts GrantOptions) (*license.Grant, error) {
	g, err := m.buildGrant(tenantID, nil, productKey, plan, opts)
	if err != nil {
		return nil, err
	}

	saved, err := m.grants.UpsertOrgGrant(ctx, g)
	if err != nil {
		return nil, m.writeError(err, "saving license", tenantID, productKey)
	}

	m.logger.Info("license saved",
		"tenant_id", tenantID,
		"product", productKey,
		"plan", saved.Plan,
		"status", saved.Status,
	)
	return saved, nil
}

// AssignMember writes the member grant for (tenant, principal, product). Plan defaults to free.
// The principal must belong to the tenant.
func (m *Manager) AssignMember(ctx context.Context, tenantID, principalID int64, productKey, plan string, opts GrantOptions) (*license.Grant, error) {
	if plan == "" {
		plan = string(license.PlanFree)
	}
	g, err := m.buildGrant(tenantID, &principalID, productKey, plan, opts)
	if err != nil {
		return nil, err
	}

	if _, err := m.members.GetMembership(ctx, tenantID, principalID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.WithDetails(apperr.CodeNotFound, "principal is not a member of this tenant",
				map[string]any{"tenant_id": tenantID, "principal_id": principalID})
		}
		m.logger.Error("checking membership", "error", err, "tenant_id", tenantID, "principal_id", principalID)
		return nil, apperr.Internal("checking membership", err)
	}

	saved, err := m.grants.UpsertMemberGrant(ctx, g)
	if err != nil {
		return nil, m.writeError(err, "assigning member license", tenantID, productKey)
	}

	m.logger.Info("member license assigned",
		"tenant_id", tenantID,
		"principal_id", principalID,
		"product", productKey,
		"plan", saved.Plan,
	)
	return saved, nil
}

func (m *Manager) buildGrant(tenantID int64, principalID *int64, productKey, plan string, opts GrantOptions) (*license.Grant, error) {
	if err := license.ValidateProductKey(productKey); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "invalid product key", err)
	}
	p, err := license.ParsePlan(plan)
	if err != nil {
		return nil, apperr.WithDetails(apperr.CodeInvalidPlan, "invalid plan",
			map[string]any{"plan": plan, "valid_plans": license.Plans()})
	}
	status, err := license.ParseStatus(string(opts.Status))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, "invalid status", err)
	}

	meta := opts.Meta.Clone()
	if !meta.HasLimits() {
		meta[license.MetaLimits] = license.DefaultLimits(p)
	}

	return &license.Grant{
		TenantID:    tenantID,
		PrincipalID: principalID,
		ProductKey:  productKey,
		Plan:        p,
		Status:      status,
		ValidUntil:  opts.ValidUntil,
		Meta:        meta,
	}, nil
}

// Upgrade moves the org-wide grant to newPlan. Downgrades are allowed and logged.
// Without an explicit ValidUntil the current expiry is extended by
// ExtensionMonths; a perpetual grant stays perpetual. Metadata is merged over
// the current grant and stamped with upgradedAt and previousPlan. Limits that
// still equal the current plan's catalog defaults follow the new plan.
func (m *Manager) Upgrade(ctx context.Context, tenantID int64, productKey, newPlan string, opts UpgradeOptions) (*license.Grant, error) {
	p, err := license.ParsePlan(newPlan)
	if err != nil {
		return nil, apperr.WithDetails(apperr.CodeInvalidPlan, "invalid plan",
			map[string]any{"plan": newPlan, "valid_plans": license.Plans()})
	}

	current, err := m.grants.GetOrgGrant(ctx, tenantID, productKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		current = nil
	case err != nil:
		m.logger.Error("loading license for upgrade", "error", err, "tenant_id", tenantID, "product", productKey)
		return nil, apperr.Internal("loading license", err)
	}
	if current != nil && current.Status != license.StatusActive {
		current = nil
	}

	validUntil := opts.ValidUntil
	if validUntil == nil && current != nil && current.ValidUntil != nil {
		months := opts.ExtensionMonths
		if months <= 0 {
			months = 1
		}
		extended := current.ValidUntil.AddDate(0, months, 0)
		validUntil = &extended
	}

	var base license.Meta
	if current != nil {
		base = current.Meta
	}
	meta := license.MergeMeta(base, opts.Meta)
	if current != nil && !opts.Meta.HasLimits() && current.Meta.HasDefaultLimits(current.Plan) {
		meta[license.MetaLimits] = license.DefaultLimits(p)
	}
	meta[license.MetaUpgradedAt] = m.now().UTC().Format(time.RFC3339)
	if current != nil {
		meta[license.MetaPreviousPlan] = string(current.Plan)
		if p.Rank() < current.Plan.Rank() {
			m.logger.Warn("license downgraded",
				"tenant_id", tenantID,
				"product", productKey,
				"from", current.Plan,
				"to", p,
			)
		}
	}

	return m.CreateOrUpdate(ctx, tenantID, productKey, string(p), GrantOptions{
		Status:     license.StatusActive,
		ValidUntil: validUntil,
		Meta:       meta,
	})
}

// Revoke marks the org-wide grant inactive. Member grants are untouched.
// It reports false when the tenant has no grant for the product.
func (m *Manager) Revoke(ctx context.Context, tenantID int64, productKey string) (bool, error) {
	ok, err := m.grants.SetOrgGrantStatus(ctx, tenantID, productKey, license.StatusInactive)
	if err != nil {
		m.logger.Error("revoking license", "error", err, "tenant_id", tenantID, "product", productKey)
		return false, apperr.Internal("revoking license", err)
	}
	if ok {
		m.logger.Info("license revoked", "tenant_id", tenantID, "product", productKey)
	}
	return ok, nil
}

// RevokeMember marks one member grant inactive.
func (m *Manager) RevokeMember(ctx context.Context, tenantID, principalID int64, productKey string) (bool, error) {
	ok, err := m.grants.SetMemberGrantStatus(ctx, tenantID, principalID, productKey, license.StatusInactive)
	if err != nil {
		m.logger.Error("revoking member license", "error", err, "tenant_id", tenantID, "principal_id", principalID)
		return false, apperr.Internal("revoking member license", err)
	}
	if ok {
		m.logger.Info("member license revoked", "tenant_id", tenantID, "principal_id", principalID, "product", productKey)
	}
	return ok, nil
}

// SweepExpired moves every active grant past its valid-until to expired and
// returns how many rows changed. Running it twice in a row changes nothing the second time.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	expired, err := m.grants.ExpireGrants(ctx, m.now())
	if err != nil {
		m.logger.Error("sweeping expired licenses", "error", err)
		return 0, apperr.Internal("sweeping expired licenses", err)
	}

	for _, g := range expired {
		m.logger.Info("license expired",
			"tenant_id", g.TenantID,
			"product", g.ProductKey,
			"scope", g.Scope(),
			"plan", g.Plan,
		)
	}
	obs.GrantsExpired.Add(float64(len(expired)))
	return len(expired), nil
}

// List returns every grant of a tenant in any status, org rows first.
func (m *Manager) List(ctx context.Context, tenantID int64) ([]*LicenseView, error) {
	grants, err := m.grants.ListGrants(ctx, tenantID)
	if err != nil {
		m.logger.Error("listing licenses", "error", err, "tenant_id", tenantID)
		return nil, apperr.Internal("listing licenses", err)
	}
	return m.decorate(ctx, grants), nil
}

// ListMember returns the member grants a principal holds in a tenant.
func (m *Manager) ListMember(ctx context.Context, tenantID, principalID int64) ([]*LicenseView, error) {
	grants, err := m.grants.ListMemberGrants(ctx, tenantID, principalID)
	if err != nil {
		m.logger.Error("listing member licenses", "error", err, "tenant_id", tenantID, "principal_id", principalID)
		return nil, apperr.Internal("listing member licenses", err)
	}
	return m.decorate(ctx, grants), nil
}

func (m *Manager) decorate(ctx context.Context, grants []*license.Grant) []*LicenseView {
	names := map[string]string{}
	if m.products != nil {
		products, err := m.products.ListProducts(ctx, false)
		if err != nil {
			// Names are cosmetic; the listing still succeeds.
			m.logger.Warn("loading product names", "error", err)
		}
		for _, p := range products {
			names[p.Key] = p.Name
		}
	}

	views := make([]*LicenseView, 0, len(grants))
	for _, g := range grants {
		views = append(views, &LicenseView{
			Grant:       g,
			ProductName: names[g.ProductKey],
			LicenseType: g.Scope(),
		})
	}
	return views
}

func (m *Manager) writeError(err error, msg string, tenantID int64, productKey string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.CodeNotFound, "tenant or principal not found", err)
	}
	m.logger.Error(msg, "error", err, "tenant_id", tenantID, "product", productKey)
	return apperr.Internal(msg, err)
}
