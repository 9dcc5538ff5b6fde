package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/spec-kit/auth-service/internal/config"
)

// ErrUnavailable marks store failures caused by connectivity, saturation or timeouts.
var ErrUnavailable = errors.New("store unavailable")

// Postgres wraps access to a pgx connection pool. Callers share MaxConns
// slots; at most queueLimit callers wait for one, the rest fail fast.
type Postgres struct {
	Pool *pgxpool.Pool

	slots        *semaphore.Weighted
	waiting      atomic.Int64
	queueLimit   int64
	queryTimeout time.Duration
}

// NewPostgres establishes a connection pool and verifies it within the connect timeout.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, errors.New("POSTGRES_DSN not provided")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxIdleSec > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleSec) * time.Second
	}
	if cfg.ConnMaxLifeSec > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifeSec) * time.Second
	}
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout())
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, classify(err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, classify(err)
	}

	logger.Info("connected to postgres",
		zap.Int32("max_conns", poolCfg.MaxConns),
		zap.Int("queue_limit", cfg.QueueLimit))

	p := newGate(poolCfg.MaxConns, cfg.QueueLimit, cfg.QueryTimeout())
	p.Pool = pool
	return p, nil
}

func newGate(slots int32, queueLimit int, queryTimeout time.Duration) *Postgres {
	if slots <= 0 {
		slots = 1
	}
	if queueLimit < 0 {
		queueLimit = 0
	}
	return &Postgres{
		slots:        semaphore.NewWeighted(int64(slots)),
		queueLimit:   int64(queueLimit),
		queryTimeout: queryTimeout,
	}
}

// Close releases pool resources.
func (p *Postgres) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("%w: postgres not configured", ErrUnavailable)
	}
	ctx, release, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return classify(p.Pool.Ping(ctx))
}

// QueryRow runs a single-row query through the gate. The slot is held until Scan returns.
func (p *Postgres) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if p == nil || p.Pool == nil {
		return errRow{err: fmt.Errorf("%w: postgres not configured", ErrUnavailable)}
	}
	ctx, release, err := p.acquire(ctx)
	if err != nil {
		return errRow{err: err}
	}
	return &gatedRow{row: p.Pool.QueryRow(ctx, sql, args...), release: release}
}

// Exec runs a statement through the gate.
func (p *Postgres) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p == nil || p.Pool == nil {
		return pgconn.CommandTag{}, fmt.Errorf("%w: postgres not configured", ErrUnavailable)
	}
	ctx, release, err := p.acquire(ctx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	defer release()
	tag, err := p.Pool.Exec(ctx, sql, args...)
	return tag, classify(err)
}

// acquire reserves a slot and derives the per-query deadline.
func (p *Postgres) acquire(ctx context.Context) (context.Context, func(), error) {
	if !p.slots.TryAcquire(1) {
		if p.waiting.Add(1) > p.queueLimit {
			p.waiting.Add(-1)
			return ctx, nil, fmt.Errorf("%w: connection queue full", ErrUnavailable)
		}
		err := p.slots.Acquire(ctx, 1)
		p.waiting.Add(-1)
		if err != nil {
			return ctx, nil, classify(err)
		}
	}

	cancel := context.CancelFunc(func() {})
	if p.queryTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.queryTimeout)
	}
	return ctx, func() {
		cancel()
		p.slots.Release(1)
	}, nil
}

type gatedRow struct {
	row     pgx.Row
	release func()
}

func (r *gatedRow) Scan(dest ...any) error {
	defer r.release()
	return classify(r.row.Scan(dest...))
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error {
	return r.err
}

// classify wraps timeouts and connection failures in ErrUnavailable; other errors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	var connectErr *pgconn.ConnectError
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
