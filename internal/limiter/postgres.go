package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps attempt counters in the login_attempts table so every API replica shares them.
type PG struct {
	db pgxQuerier
	p  Policy
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter. db is usually a *pgxpool.Pool.
func NewPG(db pgxQuerier, p Policy) *PG {
	return &PG{db: db, p: p}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_attempts WHERE email=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, NormalizeEmail(email), ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := time.Until(blockedUntil); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (email, ip).
func (l *PG) Success(ctx context.Context, email string, ipHash []byte) error {
	const q = `DELETE FROM login_attempts WHERE email=$1 AND ip_hash=$2`
	_, err := l.db.Exec(ctx, q, NormalizeEmail(email), ipHash)
	return err
}

// Failure records a failed attempt; counters older than the window restart at one.
func (l *PG) Failure(ctx context.Context, email string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO login_attempts (email, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, 'epoch', now())
ON CONFLICT (email, ip_hash) DO UPDATE
SET fail_count = CASE
      WHEN now() - login_attempts.updated_at > $3 * interval '1 second' THEN 1
      ELSE login_attempts.fail_count + 1
    END,
    updated_at = now()
RETURNING fail_count`
	key := NormalizeEmail(email)
	var fails int
	if err := l.db.QueryRow(ctx, q, key, ipHash, l.p.Window.Seconds()).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.p.MaxFails {
		return false, 0, nil
	}
	const upd = `UPDATE login_attempts SET blocked_until=$3 WHERE email=$1 AND ip_hash=$2`
	if _, err := l.db.Exec(ctx, upd, key, ipHash, time.Now().Add(l.p.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.p.BlockFor, nil
}
