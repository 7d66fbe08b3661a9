// ABOUTME: SQLite persistence for the product catalog
// ABOUTME: Products are referenced by key from grants and annotate license listings

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertProduct inserts or renames a product and sets its active flag.
func (s *SQLiteStore) UpsertProduct(ctx context.Context, p *Product) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (key, name, is_active, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET name = excluded.name, is_active = excluded.is_active
	`, p.Key, p.Name, p.IsActive, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by key.
func (s *SQLiteStore) GetProduct(ctx context.Context, key string) (*Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT key, name, is_active, created_at FROM products WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying product: %w", err)
	}
	return p, nil
}

// ListProducts returns products ordered by name.
func (s *SQLiteStore) ListProducts(ctx context.Context, activeOnly bool) ([]*Product, error) {
	query := `SELECT key, name, is_active, created_at FROM products`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	products := []*Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var createdAt string
	if err := row.Scan(&p.Key, &p.Name, &p.IsActive, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &p, nil
}
