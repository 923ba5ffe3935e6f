package postgres

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireRow implements lock.RowStore against the control_lock table. It
// inserts a fresh row, or takes over an existing row whose expires_at has
// already passed — the same stale-TTL takeover the DBLock documents.
func (s *Store) TryAcquireRow(ctx context.Context, resource, owner string, expiresAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO control_lock (resource, owner, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (resource) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
WHERE control_lock.expires_at <= now()`,
		resource, owner, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire control_lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseRow implements lock.RowStore.
func (s *Store) ReleaseRow(ctx context.Context, resource, owner string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM control_lock WHERE resource = $1 AND owner = $2`, resource, owner)
	if err != nil {
		return fmt.Errorf("release control_lock: %w", err)
	}
	return nil
}
