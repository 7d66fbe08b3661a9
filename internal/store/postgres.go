// ABOUTME: PostgreSQL implementation of the Store interface using the pgx stdlib driver
// ABOUTME: Covers schema, principals, tenants, memberships and products; grants live in postgres_grants.go

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore implements the Store interface using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenPostgresStore connects to dsn, verifies the connection and applies the schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := NewPostgresStore(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("Postgres store initialized")
	return s, nil
}

// NewPostgresStore wraps an existing connection pool without touching the schema.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
		now:    time.Now,
	}
}

// Migrate creates tables and indexes if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			id               BIGSERIAL PRIMARY KEY,
			email            TEXT NOT NULL,
			display_name     TEXT NOT NULL DEFAULT '',
			provider         TEXT NOT NULL DEFAULT 'password',
			provider_subject TEXT,
			password_hash    TEXT,
			api_key_hash     TEXT UNIQUE,
			role             TEXT NOT NULL DEFAULT 'client'
				CHECK (role IN ('admin', 'manager', 'expert', 'client', 'super')),
			status           TEXT NOT NULL DEFAULT 'active'
				CHECK (status IN ('active', 'inactive', 'pending', 'blocked')),
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_email ON principals (lower(email));
		CREATE UNIQUE INDEX IF NOT EXISTS idx_principals_provider
			ON principals (provider, provider_subject) WHERE provider_subject IS NOT NULL;

		CREATE TABLE IF NOT EXISTS tenants (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_tenants_name ON tenants (lower(name));

		CREATE TABLE IF NOT EXISTS tenant_members (
			tenant_id    BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			principal_id BIGINT NOT NULL REFERENCES principals(id),
			role         TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'user')),
			created_at   TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, principal_id)
		);

		CREATE INDEX IF NOT EXISTS idx_tenant_members_principal ON tenant_members (principal_id);

		CREATE TABLE IF NOT EXISTS products (
			key        TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_active  BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS entitlements (
			id           BIGSERIAL PRIMARY KEY,
			tenant_id    BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			principal_id BIGINT REFERENCES principals(id),
			product_key  TEXT NOT NULL,
			plan         TEXT NOT NULL CHECK (plan IN ('free', 'trial', 'starter', 'pro', 'enterprise')),
			status       TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'inactive', 'expired')),
			valid_until  TIMESTAMPTZ,
			meta         JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_org
			ON entitlements (tenant_id, product_key) WHERE principal_id IS NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entitlements_member
			ON entitlements (tenant_id, principal_id, product_key) WHERE principal_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_entitlements_expiry ON entitlements (status, valid_until);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SetClock overrides the time source used for timestamps.
func (s *PostgresStore) SetClock(now func() time.Time) {
	s.now = now
}

// Ping verifies the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing Postgres store")
	return s.db.Close()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (s *PostgresStore) execAffected(ctx context.Context, op, query string, args ...any) (bool, error) {
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

// Principals

func scanPGPrincipal(row rowScanner) (*Principal, error) {
	var p Principal
	var providerSubject, passwordHash, apiKeyHash sql.NullString
	var role, status string

	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Provider, &providerSubject,
		&passwordHash, &apiKeyHash, &role, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.ProviderSubject = providerSubject.String
	p.PasswordHash = passwordHash.String
	p.APIKeyHash = apiKeyHash.String
	p.Role = PrincipalRole(role)
	p.Status = PrincipalStatus(status)
	return &p, nil
}

// CreatePrincipal inserts a principal and sets its ID.
func (s *PostgresStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if p.Provider == "" {
		p.Provider = "password"
	}
	if p.Role == "" {
		p.Role = PrincipalRoleClient
	}
	if p.Status == "" {
		p.Status = PrincipalStatusActive
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO principals (email, display_name, provider, provider_subject, password_hash, api_key_hash, role, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, p.Email, p.DisplayName, p.Provider, nullString(p.ProviderSubject), nullString(p.PasswordHash),
		nullString(p.APIKeyHash), string(p.Role), string(p.Status), p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal by ID.
func (s *PostgresStore) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	return s.getPrincipal(ctx, `id = $1`, id)
}

// GetPrincipalByEmail retrieves a principal by email, case-insensitively.
func (s *PostgresStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	return s.getPrincipal(ctx, `lower(email) = lower($1)`, email)
}

// GetPrincipalByAPIKeyHash retrieves the principal owning an API key hash.
func (s *PostgresStore) GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*Principal, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return s.getPrincipal(ctx, `api_key_hash = $1`, hash)
}

func (s *PostgresStore) getPrincipal(ctx context.Context, where string, arg any) (*Principal, error) {
	p, err := scanPGPrincipal(s.db.QueryRowContext(ctx,
		`SELECT `+principalColumns+` FROM principals WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	return p, nil
}

// SetPrincipalStatus transitions a principal's status.
func (s *PostgresStore) SetPrincipalStatus(ctx context.Context, id int64, status PrincipalStatus) error {
	ok, err := s.execAffected(ctx, "updating principal status",
		`UPDATE principals SET status = $1, updated_at = $2 WHERE id = $3`, string(status), s.now().UTC(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SetPrincipalAPIKeyHash stores the hash of a principal's API key.
func (s *PostgresStore) SetPrincipalAPIKeyHash(ctx context.Context, id int64, hash string) error {
	ok, err := s.execAffected(ctx, "updating principal api key",
		`UPDATE principals SET api_key_hash = $1, updated_at = $2 WHERE id = $3`, nullString(hash), s.now().UTC(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// CountPrincipals returns the number of principals.
func (s *PostgresStore) CountPrincipals(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return count, nil
}

// Tenants and memberships

// CreateTenant creates a tenant and its owner membership in one transaction.
func (s *PostgresStore) CreateTenant(ctx context.Context, name string, ownerID int64) (*Tenant, error) {
	t := &Tenant{Name: strings.TrimSpace(name)}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`INSERT INTO tenants (name, created_at) VALUES ($1, $2) RETURNING id, created_at`, t.Name, now).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, ErrTenantExists
		}
		return nil, fmt.Errorf("inserting tenant: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tenant_members (tenant_id, principal_id, role, created_at) VALUES ($1, $2, 'owner', $3)`,
		t.ID, ownerID, now)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return nil, fmt.Errorf("adding owner: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("adding owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing tenant: %w", err)
	}
	return t, nil
}

// GetTenant retrieves a tenant by ID.
func (s *PostgresStore) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	var t Tenant
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant: %w", err)
	}
	return &t, nil
}

// ListTenants returns all tenants ordered by name.
func (s *PostgresStore) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM tenants ORDER BY lower(name)`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	tenants := []*Tenant{}
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	return tenants, rows.Err()
}

// AddMember adds a principal to a tenant.
func (s *PostgresStore) AddMember(ctx context.Context, tenantID, principalID int64, role TenantRole) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenant_members (tenant_id, principal_id, role, created_at) VALUES ($1, $2, $3, $4)`,
		tenantID, principalID, string(role), s.now().UTC())
	switch pgCode(err) {
	case "":
	case pgUniqueViolation:
		return ErrMembershipExists
	case pgForeignKeyViolation:
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

const pgMembershipQuery = `
	SELECT m.tenant_id, m.principal_id, m.role, m.created_at, p.email, p.display_name
	FROM tenant_members m
	JOIN principals p ON p.id = m.principal_id
`

func scanPGMembership(row rowScanner) (*Membership, error) {
	var m Membership
	var role string
	if err := row.Scan(&m.TenantID, &m.PrincipalID, &role, &m.CreatedAt, &m.Email, &m.DisplayName); err != nil {
		return nil, err
	}
	m.Role = TenantRole(role)
	return &m, nil
}

// GetMembership returns the membership of a principal in a tenant.
func (s *PostgresStore) GetMembership(ctx context.Context, tenantID, principalID int64) (*Membership, error) {
	m, err := scanPGMembership(s.db.QueryRowContext(ctx,
		pgMembershipQuery+` WHERE m.tenant_id = $1 AND m.principal_id = $2`, tenantID, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying membership: %w", err)
	}
	return m, nil
}

// ListMembers returns the members of a tenant, owners first.
func (s *PostgresStore) ListMembers(ctx context.Context, tenantID int64) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, pgMembershipQuery+`
		WHERE m.tenant_id = $1
		ORDER BY CASE m.role WHEN 'owner' THEN 0 WHEN 'admin' THEN 1 ELSE 2 END, p.email`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	members := []*Membership{}
	for rows.Next() {
		m, err := scanPGMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveMember deletes a membership unless it is the tenant's last owner.
func (s *PostgresStore) RemoveMember(ctx context.Context, tenantID, principalID int64) error {
	ok, err := s.execAffected(ctx, "removing member", `
		DELETE FROM tenant_members
		WHERE tenant_id = $1 AND principal_id = $2
		  AND (role <> 'owner'
			OR (SELECT COUNT(*) FROM tenant_members WHERE tenant_id = $1 AND role = 'owner') > 1)
	`, tenantID, principalID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.GetMembership(ctx, tenantID, principalID); err != nil {
		return err
	}
	return ErrLastOwner
}

// ListTenantIDsForPrincipal returns the ids of tenants the principal belongs to.
func (s *PostgresStore) ListTenantIDsForPrincipal(ctx context.Context, principalID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id FROM tenant_members WHERE principal_id = $1 ORDER BY tenant_id`, principalID)
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

// Products

// UpsertProduct inserts or renames a product and sets its active flag.
func (s *PostgresStore) UpsertProduct(ctx context.Context, p *Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (key, name, is_active, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, is_active = EXCLUDED.is_active
	`, p.Key, p.Name, p.IsActive, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("upserting product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by key.
func (s *PostgresStore) GetProduct(ctx context.Context, key string) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		`SELECT key, name, is_active, created_at FROM products WHERE key = $1`, key).
		Scan(&p.Key, &p.Name, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}
	return &p, nil
}

// ListProducts returns products ordered by name.
func (s *PostgresStore) ListProducts(ctx context.Context, activeOnly bool) ([]*Product, error) {
	query := `SELECT key, name, is_active, created_at FROM products`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	products := []*Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Key, &p.Name, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)
