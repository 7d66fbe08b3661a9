package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/license-gateway/internal/apperr"
	"github.com/2389/license-gateway/internal/license"
	"github.com/2389/license-gateway/internal/store"
)

func TestResolve_OrgGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateOrUpdate(ctx, f.tenantID, "tickets", "pro", GrantOptions{})
	require.NoError(t, err)

	eg, err := f.resolver.Resolve(ctx, f.tenantID, nil, "tickets")
	require.NoError(t, err)
	assert.Equal(t, license.ScopeOrg, eg.Scope)
	assert.Equal(t, license.PlanPro, eg.Grant.Plan)
	assert.Equal(t, license.StatusActive, eg.Grant.Status)
}

func TestResolve_MemberFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AssignMember(ctx, f.tenantID, f.memberID, "impulse", "starter", GrantOptions{})
	require.NoError(t, err)

	eg, err := f.resolver.Resolve(ctx, f.tenantID, &f.memberID, "impulse")
	require.NoError(t, err)
	assert.Equal(t, license.ScopeMember, eg.Scope)
	assert.Equal(t, license.PlanStarter, eg.Grant.Plan)

	// Without a principal only org grants count.
	_, err = f.resolver.Resolve(ctx, f.tenantID, nil, "impulse")
	assert.Equal(t, apperr.CodeLicenseRequired, apperr.CodeOf(err))

	// Another member of the same tenant gets nothing.
	_, err = f.resolver.Resolve(ctx, f.tenantID, &f.ownerID, "impulse")
	assert.Equal(t, apperr.CodeLicenseRequired, apperr.CodeOf(err))
}

func TestResolve_OrgTakesPrecedence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.AssignMember(ctx, f.tenantID, f.memberID, "tickets", "enterprise", GrantOptions{})
	require.NoError(t, err)
	_, err = f.manager.CreateOrUpdate(ctx, f.tenantID, "tickets", "starter", GrantOptions{})
	require.NoError(t, err)

	eg, err := f.resolver.Resolve(ctx, f.tenantID, &f.memberID, "tickets")
	require.NoError(t, err)
	assert.Equal(t, license.ScopeOrg, eg.Scope)
	assert.Equal(t, license.PlanStarter, eg.Grant.Plan, "org grant wins even when the member plan ranks higher")
}

func TestResolve_IneffectiveOrgFallsBackToMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateOrUpdate(ctx, f.tenantID, "tickets", "pro", GrantOptions{Status: license.StatusInactive})
	require.NoError(t, err)
	_, err = f.manager.AssignMember(ctx, f.tenantID, f.memberID, "tickets", "free", GrantOptions{})
	require.NoError(t, err)

	eg, err := f.resolver.Resolve(ctx, f.tenantID, &f.memberID, "tickets")
	require.NoError(t, err)
	assert.Equal(t, license.ScopeMember, eg.Scope)
}

func TestResolve_NotEffective(t *testing.T) {
	tests := []struct {
		name string
		opts GrantOptions
		now  *time.Time
	}{
		{"inactive", GrantOptions{Status: license.StatusInactive}, nil},
		{"expired status", GrantOptions{Status: license.StatusExpired}, nil},
		{"past valid_until", GrantOptions{ValidUntil: date(2024, 11, 30)}, nil},
		{"valid_until equals now", GrantOptions{ValidUntil: date(2024, 12, 5)}, date(2024, 12, 5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			if tt.now != nil {
				f.clock.Set(*tt.now)
			}

			_, err := f.manager.CreateOrUpdate(ctx, f.tenantID, "tickets", "pro", tt.opts)
			require.NoError(t, err)

			_, err = f.resolver.Resolve(ctx, f.tenantID, nil, "tickets")
			if apperr.CodeOf(err) != apperr.CodeLicenseRequired {
				t.Fatalf("Resolve() error = %v, want LICENSE_REQUIRED", err)
			}
			assert.Equal(t, "tickets", details(t, err)["product"])
		})
	}
}

func TestResolve_FutureValidUntil(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateOrUpdate(ctx, f.tenantID, "tickets", "pro", GrantOptions{ValidUntil: date(2025, 1, 1)})
	require.NoError(t, err)

	_, err = f.resolver.ResolveOrg(ctx, f.tenantID, "tickets")
	require.NoError(t, err)

	f.clock.Set(*date(2025, 1, 2))
	_, err = f.resolver.ResolveOrg(ctx, f.tenantID, "tickets")
	assert.Equal(t, apperr.CodeLicenseRequired, apperr.CodeOf(err))
}

func TestResolve_RevokedThenDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateOrUpdate(ctx, f.tenantID, "tickets", "pro", GrantOptions{})
	require.NoError(t, err)

	ok, err := f.manager.Revoke(ctx, f.tenantID, "tickets")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.resolver.Resolve(ctx, f.tenantID, nil, "tickets")
	assert.Equal(t, apperr.CodeLicenseRequired, apperr.CodeOf(err))
}

func TestResolve_RequiresProductKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), f.tenantID, nil, "")
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(err))
}

type failingGrants struct {
	store.GrantStore
}

func (failingGrants) GetOrgGrant(context.Context, int64, string) (*license.Grant, error) {
	return nil, errors.New("disk on fire")
}

func TestResolve_StorageFailureIsInternal(t *testing.T) {
	r := NewResolver(failingGrants{}, slog.Default())
	_, err := r.Resolve(context.Background(), 1, nil, "tickets")
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
}

func TestRequirePlan(t *testing.T) {
	g := &license.Grant{Plan: license.PlanStarter}

	assert.NoError(t, RequirePlan(g, license.PlanStarter, license.PlanPro))

	err := RequirePlan(g, license.PlanPro, license.PlanEnterprise)
	assert.Equal(t, apperr.CodePlanUpgradeRequired, apperr.CodeOf(err))
	assert.Equal(t, "starter", details(t, err)["current_plan"])

	assert.Equal(t, apperr.CodePreconditionFailed, apperr.CodeOf(RequirePlan(nil, license.PlanPro)))
}

func TestRequireMinimumPlan(t *testing.T) {
	tests := []struct {
		current license.Plan
		min     license.Plan
		ok      bool
	}{
		{license.PlanPro, license.PlanStarter, true},
		{license.PlanPro, license.PlanPro, true},
		{license.PlanStarter, license.PlanPro, false},
		{license.PlanFree, license.PlanTrial, false},
		{license.PlanEnterprise, license.PlanPro, true},
	}

	for _, tt := range tests {
		err := RequireMinimumPlan(&license.Grant{Plan: tt.current}, tt.min)
		if (err == nil) != tt.ok {
			t.Errorf("RequireMinimumPlan(%s, %s) = %v, want ok=%v", tt.current, tt.min, err, tt.ok)
		}
		if err != nil && apperr.CodeOf(err) != apperr.CodePlanUpgradeRequired {
			t.Errorf("RequireMinimumPlan(%s, %s) code = %s", tt.current, tt.min, apperr.CodeOf(err))
		}
	}
}
