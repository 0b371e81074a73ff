package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Postgres broadcasts with LISTEN/NOTIFY on channel.
type Postgres struct {
	db      pgExecer
	acquire func(ctx context.Context) (*pgxpool.Conn, error)
	channel string
	log     *zap.Logger
}

// NewPostgres returns a broadcaster on pool. channel must be a plain identifier.
func NewPostgres(pool *pgxpool.Pool, channel string, log *zap.Logger) *Postgres {
	if log == nil {
		log = zap.NewNop()
	}
	return &Postgres{db: pool, acquire: pool.Acquire, channel: channel, log: log}
}

func (p *Postgres) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := p.db.Exec(ctx, `SELECT pg_notify($1, $2)`, p.channel, string(b)); err != nil {
		return fmt.Errorf("notify %s: %w", p.channel, err)
	}
	return nil
}

// Subscribe holds one pooled connection for LISTEN until ctx is done.
func (p *Postgres) Subscribe(ctx context.Context) (<-chan Event, error) {
	pc, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	// the connection carries LISTEN state; it never goes back to the pool
	conn := pc.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", p.channel, err)
	}

	out := make(chan Event, subBuffer)
	go func() {
		defer close(out)
		defer conn.Close(context.Background())
		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					p.log.Warn("wait for notification", zap.Error(err))
				}
				return
			}
			ev, err := decode([]byte(n.Payload))
			if err != nil {
				p.log.Warn("decode notification", zap.Error(err))
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the pool belongs to the caller.
func (p *Postgres) Close() error { return nil }

// Dial is a convenience for clients that have no pool yet.
func Dial(ctx context.Context, dsn, channel string, log *zap.Logger) (*Postgres, func(), error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, err
	}
	cfg.MaxConns = 2
	cfg.MaxConnIdleTime = time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewPostgres(pool, channel, log), pool.Close, nil
}
