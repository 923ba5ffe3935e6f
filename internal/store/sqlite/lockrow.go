package sqlite

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireRow implements lock.RowStore against the control_lock table,
// same stale-TTL takeover semantics as the postgres backend.
func (s *Store) TryAcquireRow(ctx context.Context, resource, owner string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
INSERT INTO control_lock (resource, owner, expires_at) VALUES (?, ?, ?)
ON CONFLICT (resource) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
WHERE control_lock.expires_at <= ?`,
		resource, owner, toMillis(expiresAt), toMillis(time.Now()))
	if err != nil {
		return false, fmt.Errorf("acquire control_lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) ReleaseRow(ctx context.Context, resource, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM control_lock WHERE resource = ? AND owner = ?`, resource, owner)
	if err != nil {
		return fmt.Errorf("release control_lock: %w", err)
	}
	return nil
}
