// ABOUTME: PostgreSQL persistence for entitlement grants and their usage counters
// ABOUTME: meta is JSONB; usage increments are a single conditional jsonb_set UPDATE

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/license-gateway/internal/license"
)

func scanPGGrant(row rowScanner) (*license.Grant, error) {
	var g license.Grant
	var principalID sql.NullInt64
	var validUntil sql.NullTime
	var plan, status string
	var meta []byte

	if err := row.Scan(&g.ID, &g.TenantID, &principalID, &g.ProductKey, &plan, &status, &validUntil, &meta, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.Plan = license.Plan(plan)
	g.Status = license.Status(status)
	if principalID.Valid {
		pid := principalID.Int64
		g.PrincipalID = &pid
	}
	if validUntil.Valid {
		vu := validUntil.Time.UTC()
		g.ValidUntil = &vu
	}
	var err error
	if g.Meta, err = license.ParseMeta(meta); err != nil {
		return nil, fmt.Errorf("parsing meta: %w", err)
	}
	return &g, nil
}

func pgNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// UpsertOrgGrant inserts or overwrites the org-scope grant for (tenant, product).
func (s *PostgresStore) UpsertOrgGrant(ctx context.Context, g *license.Grant) (*license.Grant, error) {
	query := `
		INSERT INTO entitlements (tenant_id, principal_id, product_key, plan, status, valid_until, meta, created_at, updated_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6::jsonb, $7, $7)
		ON CONFLICT (tenant_id, product_key) WHERE principal_id IS NULL DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			valid_until = EXCLUDED.valid_until,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + grantColumns

	meta, err := g.Meta.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding meta: %w", err)
	}
	return s.upsertGrant(ctx, query, g.TenantID, g.ProductKey, string(g.Plan), string(g.Status),
		pgNullTime(g.ValidUntil), string(meta), s.now().UTC())
}

// UpsertMemberGrant inserts or overwrites the member-scope grant for (tenant, principal, product).
func (s *PostgresStore) UpsertMemberGrant(ctx context.Context, g *license.Grant) (*license.Grant, error) {
	if g.PrincipalID == nil {
		return nil, errors.New("member grant requires a principal id")
	}
	query := `
		INSERT INTO entitlements (tenant_id, principal_id, product_key, plan, status, valid_until, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $8)
		ON CONFLICT (tenant_id, principal_id, product_key) WHERE principal_id IS NOT NULL DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			valid_until = EXCLUDED.valid_until,
			meta = EXCLUDED.meta,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + grantColumns

	meta, err := g.Meta.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding meta: %w", err)
	}
	return s.upsertGrant(ctx, query, g.TenantID, *g.PrincipalID, g.ProductKey, string(g.Plan), string(g.Status),
		pgNullTime(g.ValidUntil), string(meta), s.now().UTC())
}

func (s *PostgresStore) upsertGrant(ctx context.Context, query string, args ...any) (*license.Grant, error) {
	saved, err := scanPGGrant(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, fmt.Errorf("upserting grant: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("upserting grant: %w", err)
	}
	s.logger.Debug("upserted grant", "id", saved.ID, "tenant_id", saved.TenantID, "product", saved.ProductKey, "scope", saved.Scope())
	return saved, nil
}

// GetOrgGrant returns the org-scope grant regardless of status.
func (s *PostgresStore) GetOrgGrant(ctx context.Context, tenantID int64, productKey string) (*license.Grant, error) {
	g, err := scanPGGrant(s.db.QueryRowContext(ctx, `SELECT `+grantColumns+`
		FROM entitlements
		WHERE tenant_id = $1 AND product_key = $2 AND principal_id IS NULL`, tenantID, productKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying org grant: %w", err)
	}
	return g, nil
}

// GetMemberGrant returns the member-scope grant regardless of status.
func (s *PostgresStore) GetMemberGrant(ctx context.Context, tenantID, principalID int64, productKey string) (*license.Grant, error) {
	g, err := scanPGGrant(s.db.QueryRowContext(ctx, `SELECT `+grantColumns+`
		FROM entitlements
		WHERE tenant_id = $1 AND principal_id = $2 AND product_key = $3`, tenantID, principalID, productKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying member grant: %w", err)
	}
	return g, nil
}

// ListGrants returns every grant of a tenant, org-scope rows first.
func (s *PostgresStore) ListGrants(ctx context.Context, tenantID int64) ([]*license.Grant, error) {
	return s.queryGrants(ctx, `SELECT `+grantColumns+`
		FROM entitlements
		WHERE tenant_id = $1
		ORDER BY principal_id IS NOT NULL, product_key, principal_id`, tenantID)
}

// ListMemberGrants returns the member-scope grants of one principal in a tenant.
func (s *PostgresStore) ListMemberGrants(ctx context.Context, tenantID, principalID int64) ([]*license.Grant, error) {
	return s.queryGrants(ctx, `SELECT `+grantColumns+`
		FROM entitlements
		WHERE tenant_id = $1 AND principal_id = $2
		ORDER BY product_key`, tenantID, principalID)
}

func (s *PostgresStore) queryGrants(ctx context.Context, query string, args ...any) ([]*license.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	grants := []*license.Grant{}
	for rows.Next() {
		g, err := scanPGGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return grants, nil
}

// SetOrgGrantStatus changes the status of the org-scope row only.
func (s *PostgresStore) SetOrgGrantStatus(ctx context.Context, tenantID int64, productKey string, status license.Status) (bool, error) {
	return s.execAffected(ctx, "updating org grant status", `
		UPDATE entitlements SET status = $1, updated_at = $2
		WHERE tenant_id = $3 AND product_key = $4 AND principal_id IS NULL
	`, string(status), s.now().UTC(), tenantID, productKey)
}

// SetMemberGrantStatus changes the status of one member-scope row.
func (s *PostgresStore) SetMemberGrantStatus(ctx context.Context, tenantID, principalID int64, productKey string, status license.Status) (bool, error) {
	return s.execAffected(ctx, "updating member grant status", `
		UPDATE entitlements SET status = $1, updated_at = $2
		WHERE tenant_id = $3 AND principal_id = $4 AND product_key = $5
	`, string(status), s.now().UTC(), tenantID, principalID, productKey)
}

// ExpireGrants transitions active grants whose valid_until has passed to expired.
func (s *PostgresStore) ExpireGrants(ctx context.Context, now time.Time) ([]*license.Grant, error) {
	expired, err := s.queryGrants(ctx, `
		UPDATE entitlements SET status = 'expired', updated_at = $1
		WHERE status = 'active' AND valid_until IS NOT NULL AND valid_until <= $1
		RETURNING `+grantColumns, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("expiring grants: %w", err)
	}
	return expired, nil
}

// IncrementUsage adds delta to meta.usage[feature] in one statement.
func (s *PostgresStore) IncrementUsage(ctx context.Context, grantID int64, feature string, delta int64, enforceLimit bool) (int64, error) {
	if err := license.ValidateFeature(feature); err != nil {
		return 0, err
	}

	query := `
		UPDATE entitlements
		SET meta = jsonb_set(meta, '{usage}',
				COALESCE(meta->'usage', '{}'::jsonb)
					|| jsonb_build_object($1::text, COALESCE((meta->'usage'->>$1::text)::numeric, 0) + $2::bigint)),
			updated_at = $3
		WHERE id = $4
		  AND (NOT $5::boolean
			OR COALESCE((meta->'limits'->>$1::text)::numeric, -1) IN (-1, 0)
			OR COALESCE((meta->'usage'->>$1::text)::numeric, 0) + $2::bigint <= (meta->'limits'->>$1::text)::numeric)
		RETURNING (meta->'usage'->>$1::text)::bigint
	`

	var current int64
	err := s.db.QueryRowContext(ctx, query, feature, delta, s.now().UTC(), grantID, enforceLimit).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entitlements WHERE id = $1`, grantID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		if err != nil {
			return 0, fmt.Errorf("checking grant: %w", err)
		}
		return 0, ErrLimitReached
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing usage: %w", err)
	}
	return current, nil
}
