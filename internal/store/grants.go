// ABOUTME: SQLite persistence for entitlement grants
// ABOUTME: Upserts target the org or member partial unique index with ON CONFLICT ... WHERE

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/license-gateway/internal/license"
)

const grantColumns = `id, tenant_id, principal_id, product_key, plan, status, valid_until, meta, created_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteGrant(row rowScanner) (*license.Grant, error) {
	var g license.Grant
	var principalID sql.NullInt64
	var validUntil sql.NullString
	var plan, status, meta, createdAt string

	if err := row.Scan(&g.ID, &g.TenantID, &principalID, &g.ProductKey, &plan, &status, &validUntil, &meta, &createdAt); err != nil {
		return nil, err
	}

	g.Plan = license.Plan(plan)
	g.Status = license.Status(status)
	if principalID.Valid {
		pid := principalID.Int64
		g.PrincipalID = &pid
	}
	if validUntil.Valid && validUntil.String != "" {
		vu, err := parseTime(validUntil.String)
		if err != nil {
			return nil, fmt.Errorf("parsing valid_until: %w", err)
		}
		g.ValidUntil = &vu
	}

	var err error
	g.Meta, err = license.ParseMeta([]byte(meta))
	if err != nil {
		return nil, fmt.Errorf("parsing meta: %w", err)
	}
	g.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &g, nil
}

// UpsertOrgGrant inserts or overwrites the org-scope grant for (tenant, product).
func (s *SQLiteStore) UpsertOrgGrant(ctx context.Context, g *license.Grant) (*license.Grant, error) {
	query := `
		INSERT INTO entitlements (tenant_id, principal_id, product_key, plan, status, valid_until, meta, created_at, updated_at)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, product_key) WHERE principal_id IS NULL DO UPDATE SET
			plan = excluded.plan,
			status = excluded.status,
			valid_until = excluded.valid_until,
			meta = excluded.meta,
			updated_at = excluded.updated_at
		RETURNING ` + grantColumns

	return s.upsertGrant(ctx, query, g.TenantID, g)
}

// UpsertMemberGrant inserts or overwrites the member-scope grant for (tenant, principal, product).
func (s *SQLiteStore) UpsertMemberGrant(ctx context.Context, g *license.Grant) (*license.Grant, error) {
	if g.PrincipalID == nil {
		return nil, errors.New("member grant requires a principal id")
	}

	query := `
		INSERT INTO entitlements (tenant_id, principal_id, product_key, plan, status, valid_until, meta, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, principal_id, product_key) WHERE principal_id IS NOT NULL DO UPDATE SET
			plan = excluded.plan,
			status = excluded.status,
			valid_until = excluded.valid_until,
			meta = excluded.meta,
			updated_at = excluded.updated_at
		RETURNING ` + grantColumns

	return s.upsertGrant(ctx, query, g.TenantID, g, *g.PrincipalID)
}

// upsertGrant runs an upsert; extra holds the principal id for member grants.
func (s *SQLiteStore) upsertGrant(ctx context.Context, query string, tenantID int64, g *license.Grant, extra ...any) (*license.Grant, error) {
	meta, err := g.Meta.Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding meta: %w", err)
	}
	ts := s.timestamp()

	args := []any{tenantID}
	args = append(args, extra...)
	args = append(args, g.ProductKey, string(g.Plan), string(g.Status), nullTime(g.ValidUntil), string(meta), ts, ts)

	saved, err := scanSQLiteGrant(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("upserting grant: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("upserting grant: %w", err)
	}

	s.logger.Debug("upserted grant",
		"id", saved.ID,
		"tenant_id", saved.TenantID,
		"product", saved.ProductKey,
		"scope", saved.Scope(),
		"plan", saved.Plan,
	)
	return saved, nil
}

// GetOrgGrant returns the org-scope grant regardless of status.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetOrgGrant(ctx context.Context, tenantID int64, productKey string) (*license.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM entitlements
		WHERE tenant_id = ? AND product_key = ? AND principal_id IS NULL`

	g, err := scanSQLiteGrant(s.db.QueryRowContext(ctx, query, tenantID, productKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying org grant: %w", err)
	}
	return g, nil
}

// GetMemberGrant returns the member-scope grant regardless of status.
// Returns ErrNotFound if none exists.
func (s *SQLiteStore) GetMemberGrant(ctx context.Context, tenantID, principalID int64, productKey string) (*license.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM entitlements
		WHERE tenant_id = ? AND principal_id = ? AND product_key = ?`

	g, err := scanSQLiteGrant(s.db.QueryRowContext(ctx, query, tenantID, principalID, productKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying member grant: %w", err)
	}
	return g, nil
}

// ListGrants returns every grant of a tenant, org-scope rows first.
func (s *SQLiteStore) ListGrants(ctx context.Context, tenantID int64) ([]*license.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM entitlements
		WHERE tenant_id = ?
		ORDER BY principal_id IS NOT NULL, product_key, principal_id`

	return s.queryGrants(ctx, query, tenantID)
}

// ListMemberGrants returns the member-scope grants of one principal in a tenant.
func (s *SQLiteStore) ListMemberGrants(ctx context.Context, tenantID, principalID int64) ([]*license.Grant, error) {
	query := `SELECT ` + grantColumns + `
		FROM entitlements
		WHERE tenant_id = ? AND principal_id = ?
		ORDER BY product_key`

	return s.queryGrants(ctx, query, tenantID, principalID)
}

func (s *SQLiteStore) queryGrants(ctx context.Context, query string, args ...any) ([]*license.Grant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer rows.Close()

	grants := []*license.Grant{}
	for rows.Next() {
		g, err := scanSQLiteGrant(rows)
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
func (s *SQLiteStore) SetOrgGrantStatus(ctx context.Context, tenantID int64, productKey string, status license.Status) (bool, error) {
	query := `
		UPDATE entitlements SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND product_key = ? AND principal_id IS NULL
	`
	return s.execAffected(ctx, "updating org grant status", query, string(status), s.timestamp(), tenantID, productKey)
}

// SetMemberGrantStatus changes the status of one member-scope row.
func (s *SQLiteStore) SetMemberGrantStatus(ctx context.Context, tenantID, principalID int64, productKey string, status license.Status) (bool, error) {
	query := `
		UPDATE entitlements SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND principal_id = ? AND product_key = ?
	`
	return s.execAffected(ctx, "updating member grant status", query, string(status), s.timestamp(), tenantID, principalID, productKey)
}

func (s *SQLiteStore) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// ExpireGrants transitions active grants whose valid_until has passed to expired.
// Rows already expired are untouched, so repeated calls affect nothing new.
func (s *SQLiteStore) ExpireGrants(ctx context.Context, now time.Time) ([]*license.Grant, error) {
	query := `
		UPDATE entitlements SET status = 'expired', updated_at = ?
		WHERE status = 'active' AND valid_until IS NOT NULL AND valid_until <= ?
		RETURNING ` + grantColumns

	ts := formatTime(now)
	expired, err := s.queryGrants(ctx, query, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("expiring grants: %w", err)
	}
	return expired, nil
}
