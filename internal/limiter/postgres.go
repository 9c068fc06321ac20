package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed throttle over the sync_throttle table.
// Admission is a single conditional upsert, so concurrent instances agree.
type PG struct {
	pool   pgxQuerier
	window time.Duration
	now    func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed throttle. q is usually the shared pool.
func NewPG(q pgxQuerier, window time.Duration) *PG {
	return &PG{pool: q, window: window, now: time.Now}
}

// Allow claims the key when its last admission is older than the window.
func (l *PG) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.window <= 0 {
		return true, 0, nil
	}
	const q = `
INSERT INTO sync_throttle (key, last_at)
VALUES ($1, now())
ON CONFLICT (key) DO UPDATE SET last_at = now()
WHERE sync_throttle.last_at <= now() - $2::interval
RETURNING last_at`
	var lastAt time.Time
	err := l.pool.QueryRow(ctx, q, key, l.window).Scan(&lastAt)
	switch {
	case err == nil:
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, l.retryAfter(ctx, key), nil
	default:
		return false, 0, err
	}
}

func (l *PG) retryAfter(ctx context.Context, key string) time.Duration {
	const q = `SELECT last_at FROM sync_throttle WHERE key=$1`
	var lastAt time.Time
	if err := l.pool.QueryRow(ctx, q, key).Scan(&lastAt); err != nil {
		return l.window
	}
	d := lastAt.Add(l.window).Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// Prune removes entries that can no longer throttle anything.
func (l *PG) Prune(ctx context.Context) (int64, error) {
	const q = `DELETE FROM sync_throttle WHERE last_at < now() - $1::interval`
	tag, err := l.pool.Exec(ctx, q, l.window)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
