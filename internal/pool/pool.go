// Package pool caches one shared connection pool per named target database.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/validate"
)

// Default pool limits.
const (
	DefaultMaxConns       = 5
	DefaultAcquireTimeout = 30 * time.Second
	DefaultIdleTimeout    = 10 * time.Minute
	DefaultMaxLifetime    = time.Hour
	DefaultConnectTimeout = 10 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// Limits bounds the resources a single pool may hold against its target.
type Limits struct {
	MaxConns       int
	AcquireTimeout time.Duration
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
}

// DefaultLimits returns the default pool limits.
func DefaultLimits() Limits {
	return Limits{
		MaxConns:       DefaultMaxConns,
		AcquireTimeout: DefaultAcquireTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		MaxLifetime:    DefaultMaxLifetime,
		ConnectTimeout: DefaultConnectTimeout,
		ProbeTimeout:   DefaultProbeTimeout,
	}
}

// Pool is a shared set of physical connections to one target database.
type Pool struct {
	db             *sql.DB
	url            string
	acquireTimeout time.Duration
	closeFn        func() error
}

// NewPool wraps db. closeFn releases everything behind db; nil means db.Close.
func NewPool(db *sql.DB, acquireTimeout time.Duration, closeFn func() error) *Pool {
	if closeFn == nil {
		closeFn = db.Close
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	return &Pool{db: db, acquireTimeout: acquireTimeout, closeFn: closeFn}
}

// URL returns the connection URL the pool was opened for. It is empty for
// pools that were not built by a Cache.
func (p *Pool) URL() string {
	return p.url
}

// DB returns the database handle backing the pool.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Conn acquires a physical connection, waiting at most the acquire timeout.
// The caller owns the connection until it calls Close on it.
func (p *Pool) Conn(ctx context.Context) (*sql.Conn, error) {
	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(acquireCtx)
	if err != nil {
		elapsed := time.Since(start)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperr.ConnectionErr("Timed out acquiring a database connection", elapsed, err)
		}
		return nil, apperr.ConnectionErr("Failed to connect to database", elapsed, err)
	}
	return conn, nil
}

// Close releases every physical connection held by the pool.
func (p *Pool) Close() error {
	return p.closeFn()
}

// Opener constructs the pool for a connection URL.
type Opener func(ctx context.Context, url string, limits Limits) (*Pool, error)

// PgxOpener returns an Opener that builds a pgxpool.Pool with the given limits
// and exposes it through database/sql. Construction is lazy: no connection is
// made until the first query.
func PgxOpener(logger *slog.Logger) Opener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, url string, limits Limits) (*Pool, error) {
		cfg, err := pgxpool.ParseConfig(url)
		if err != nil {
			return nil, apperr.Wrap(apperr.Validation, "Invalid database URL", err)
		}
		cfg.MaxConns = int32(limits.MaxConns)
		cfg.MaxConnIdleTime = limits.IdleTimeout
		cfg.MaxConnLifetime = limits.MaxLifetime
		cfg.ConnConfig.ConnectTimeout = limits.ConnectTimeout

		logger.Debug("creating connection pool",
			slog.String("url", validate.MaskURL(url)),
			slog.Int("max_conns", limits.MaxConns),
			slog.Duration("idle_timeout", limits.IdleTimeout),
			slog.Duration("max_lifetime", limits.MaxLifetime))

		pgPool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, apperr.ConnectionErr("Failed to create connection pool", 0, err)
		}

		db := stdlib.OpenDBFromPool(pgPool)
		return NewPool(db, limits.AcquireTimeout, func() error {
			err := db.Close()
			pgPool.Close()
			if err != nil {
				return fmt.Errorf("failed to close pool: %w", err)
			}
			return nil
		}), nil
	}
}
