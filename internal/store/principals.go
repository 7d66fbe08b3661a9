// ABOUTME: SQLite persistence for principals (human accounts)
// ABOUTME: Principals are never deleted; status transitions replace deletion

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const principalColumns = `id, email, display_name, provider, provider_subject, password_hash, api_key_hash, role, status, created_at, updated_at`

func scanSQLitePrincipal(row rowScanner) (*Principal, error) {
	var p Principal
	var providerSubject, passwordHash, apiKeyHash sql.NullString
	var role, status, createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Provider, &providerSubject,
		&passwordHash, &apiKeyHash, &role, &status, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.ProviderSubject = providerSubject.String
	p.PasswordHash = passwordHash.String
	p.APIKeyHash = apiKeyHash.String
	p.Role = PrincipalRole(role)
	p.Status = PrincipalStatus(status)

	p.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	p.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

// CreatePrincipal inserts a principal and sets its ID.
// Returns ErrEmailExists if the email is taken.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
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

	query := `
		INSERT INTO principals (email, display_name, provider, provider_subject, password_hash, api_key_hash, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		p.Email,
		p.DisplayName,
		p.Provider,
		nullString(p.ProviderSubject),
		nullString(p.PasswordHash),
		nullString(p.APIKeyHash),
		string(p.Role),
		string(p.Status),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	p.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading principal id: %w", err)
	}

	s.logger.Debug("created principal", "id", p.ID, "role", p.Role)
	return nil
}

// GetPrincipal retrieves a principal by ID.
// Returns ErrNotFound if the principal doesn't exist.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id int64) (*Principal, error) {
	return s.getPrincipal(ctx, `id = ?`, id)
}

// GetPrincipalByEmail retrieves a principal by email, case-insensitively.
func (s *SQLiteStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	return s.getPrincipal(ctx, `email = ?`, email)
}

// GetPrincipalByAPIKeyHash retrieves the principal owning an API key hash.
func (s *SQLiteStore) GetPrincipalByAPIKeyHash(ctx context.Context, hash string) (*Principal, error) {
	if hash == "" {
		return nil, ErrNotFound
	}
	return s.getPrincipal(ctx, `api_key_hash = ?`, hash)
}

func (s *SQLiteStore) getPrincipal(ctx context.Context, where string, arg any) (*Principal, error) {
	query := `SELECT ` + principalColumns + ` FROM principals WHERE ` + where

	p, err := scanSQLitePrincipal(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	return p, nil
}

// SetPrincipalStatus transitions a principal's status.
func (s *SQLiteStore) SetPrincipalStatus(ctx context.Context, id int64, status PrincipalStatus) error {
	ok, err := s.execAffected(ctx, "updating principal status",
		`UPDATE principals SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.timestamp(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// SetPrincipalAPIKeyHash stores the hash of a principal's API key.
func (s *SQLiteStore) SetPrincipalAPIKeyHash(ctx context.Context, id int64, hash string) error {
	ok, err := s.execAffected(ctx, "updating principal api key",
		`UPDATE principals SET api_key_hash = ?, updated_at = ? WHERE id = ?`,
		nullString(hash), s.timestamp(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// CountPrincipals returns the number of principals.
func (s *SQLiteStore) CountPrincipals(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM principals`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting principals: %w", err)
	}
	return count, nil
}
