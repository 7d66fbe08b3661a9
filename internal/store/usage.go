// ABOUTME: Atomic per-feature usage counters stored inside a grant's meta JSON
// ABOUTME: One conditional UPDATE both checks the limit and increments, so no updates are lost

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/2389/license-gateway/internal/license"
)

// IncrementUsage adds delta to meta.usage[feature] on one grant.
// Limits of -1 or 0 (or none) never block. Returns the counter value after the update.
func (s *SQLiteStore) IncrementUsage(ctx context.Context, grantID int64, feature string, delta int64, enforceLimit bool) (int64, error) {
	if err := license.ValidateFeature(feature); err != nil {
		return 0, err
	}

	// json_set does not create missing parents, so seed an empty usage object first.
	query := `
		UPDATE entitlements
		SET meta = json_set(
				CASE WHEN json_type(meta, '$.usage') = 'object' THEN meta
					ELSE json_set(meta, '$.usage', json_object()) END,
				'$.usage.' || ?1,
				COALESCE(json_extract(meta, '$.usage.' || ?1), 0) + ?2),
			updated_at = ?3
		WHERE id = ?4
		  AND (?5 = 0
			OR COALESCE(json_extract(meta, '$.limits.' || ?1), -1) IN (-1, 0)
			OR COALESCE(json_extract(meta, '$.usage.' || ?1), 0) + ?2 <= json_extract(meta, '$.limits.' || ?1))
		RETURNING json_extract(meta, '$.usage.' || ?1)
	`

	enforce := 0
	if enforceLimit {
		enforce = 1
	}

	var current sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query, feature, delta, s.timestamp(), grantID, enforce).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, s.classifyMissedIncrement(ctx, grantID)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing usage: %w", err)
	}

	s.logger.Debug("incremented usage", "grant_id", grantID, "feature", feature, "delta", delta, "usage", int64(current.Float64))
	return int64(current.Float64), nil
}

// classifyMissedIncrement tells a missing grant apart from a limit refusal.
func (s *SQLiteStore) classifyMissedIncrement(ctx context.Context, grantID int64) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entitlements WHERE id = ?`, grantID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking grant: %w", err)
	}
	return ErrLimitReached
}
