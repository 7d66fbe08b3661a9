// ABOUTME: SQLite persistence for tenants and tenant memberships
// ABOUTME: Enforces the at-least-one-owner invariant inside a single DELETE statement

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateTenant creates a tenant and adds ownerID as its owner in one transaction.
// Returns ErrTenantExists when the name is taken case-insensitively.
func (s *SQLiteStore) CreateTenant(ctx context.Context, name string, ownerID int64) (*Tenant, error) {
	name = strings.TrimSpace(name)
	now := s.now().UTC()
	ts := formatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `INSERT INTO tenants (name, created_at) VALUES (?, ?)`, name, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrTenantExists
		}
		return nil, fmt.Errorf("inserting tenant: %w", err)
	}
	tenantID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading tenant id: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenant_members (tenant_id, principal_id, role, created_at) VALUES (?, ?, 'owner', ?)`,
		tenantID, ownerID, ts)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("adding owner: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("adding owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing tenant: %w", err)
	}

	s.logger.Debug("created tenant", "id", tenantID, "owner", ownerID)
	return &Tenant{ID: tenantID, Name: name, CreatedAt: now.Truncate(time.Second)}, nil
}

// GetTenant retrieves a tenant by ID.
func (s *SQLiteStore) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	var t Tenant
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	t.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by name.
func (s *SQLiteStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY name COLLATE NOCASE`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*Tenant{}
	for rows.Next() {
		var t Tenant
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// AddMember adds a principal to a tenant.
// Returns ErrMembershipExists on duplicates and ErrNotFound for unknown tenant or principal.
func (s *SQLiteStore) AddMember(ctx context.Context, tenantID, principalID int64, role TenantRole) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_members (tenant_id, principal_id, role, created_at) VALUES (?, ?, ?, ?)`,
		tenantID, principalID, string(role), s.timestamp())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrMembershipExists
		}
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting membership: %w", err)
	}

	s.logger.Debug("added member", "tenant_id", tenantID, "principal_id", principalID, "role", role)
	return nil
}

const membershipQuery = `
	SELECT m.tenant_id, m.principal_id, m.role, m.created_at, p.email, p.display_name
	FROM tenant_members m
	JOIN principals p ON p.id = m.principal_id
`

func scanMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var role, createdAt string
	if err := row.Scan(&m.TenantID, &m.PrincipalID, &role, &createdAt, &m.Email, &m.DisplayName); err != nil {
		return nil, err
	}
	m.Role = TenantRole(role)
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// GetMembership returns the membership of a principal in a tenant.
func (s *SQLiteStore) GetMembership(ctx context.Context, tenantID, principalID int64) (*Membership, error) {
	m, err := scanMembership(s.db.QueryRowContext(ctx,
		membershipQuery+` WHERE m.tenant_id = ? AND m.principal_id = ?`, tenantID, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying membership: %w", err)
	}
	return m, nil
}

// ListMembers returns the members of a tenant, owners first.
func (s *SQLiteStore) ListMembers(ctx context.Context, tenantID int64) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, membershipQuery+`
		WHERE m.tenant_id = ?
		ORDER BY CASE m.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, p.email`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	members := []*Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveMember deletes a membership unless it is the tenant's last owner.
func (s *SQLiteStore) RemoveMember(ctx context.Context, tenantID, principalID int64) error {
	query := `
		DELETE FROM tenant_members
		WHERE tenant_id = ?1 AND principal_id = ?2
		  AND (role <> 'owner'
			OR (SELECT COUNT(*) FROM tenant_members WHERE tenant_id = ?1 AND role = 'owner') > 1)
	`
	ok, err := s.execAffected(ctx, "removing member", query, tenantID, principalID)
	if err != nil {
		return err
	}
	if ok {
		s.logger.Debug("removed member", "tenant_id", tenantID, "principal_id", principalID)
		return nil
	}

	if _, err := s.GetMembership(ctx, tenantID, principalID); err != nil {
		return err
	}
	return ErrLastOwner
}

// ListTenantIDsForPrincipal returns the ids of tenants the principal belongs to.
func (s *SQLiteStore) ListTenantIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id FROM tenant_members WHERE principal_id = ? ORDER BY tenant_id`, principalID)
	if err != nil {
		return nil, fmt.Errorf("querying tenant ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
