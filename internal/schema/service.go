package schema

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/pool"
	"github.com/leapstack-labs/querydeck/internal/state"
	"github.com/leapstack-labs/querydeck/internal/validate"
	"golang.org/x/sync/singleflight"
)

// DefaultRebuildTimeout bounds a shared rebuild once it no longer follows any
// caller's context.
const DefaultRebuildTimeout = 2 * time.Minute

// Resolver looks up a connection record, failing with a not-found error when absent.
type Resolver interface {
	Get(ctx context.Context, name string) (*state.Connection, error)
}

// ObjectStore is the schema cache part of the bookkeeping store.
type ObjectStore interface {
	GetSchemaObjects(ctx context.Context, dbName string) ([]state.SchemaObject, error)
	ReplaceSchemaObjectsFor(ctx context.Context, dbName, url string, objects []state.SchemaObject) error
	DeleteSchemaObjects(ctx context.Context, dbName string) error
}

// Pools supplies the shared pool for a named connection.
type Pools interface {
	GetOrCreate(ctx context.Context, name, url string) (*pool.Pool, error)
}

// Service serves schema metadata, preferring the cache when the policy accepts it.
type Service struct {
	resolver     Resolver
	store        ObjectStore
	pools        Pools
	introspector *Introspector
	policy       Policy
	timeout      time.Duration
	group        singleflight.Group
	logger       *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy replaces the default completeness policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithRebuildTimeout bounds each shared rebuild. Non-positive values keep the default.
func WithRebuildTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewService creates a schema service.
func NewService(resolver Resolver, store ObjectStore, pools Pools, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		resolver:     resolver,
		store:        store,
		pools:        pools,
		introspector: NewIntrospector(logger),
		policy:       IsComplete,
		timeout:      DefaultRebuildTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetSchemaMetadata returns the metadata for name. Cached metadata is returned
// only when the policy accepts it; otherwise the cache is discarded and rebuilt
// from the live database.
func (s *Service) GetSchemaMetadata(ctx context.Context, name string) (*Metadata, error) {
	conn, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	objects, err := s.store.GetSchemaObjects(ctx, name)
	if err != nil {
		return nil, apperr.DatabaseErr("Failed to read schema cache", err)
	}
	cached, err := decodeObjects(name, objects)
	if err != nil {
		s.logger.Warn("discarding unreadable schema cache", slog.String("db", name), slog.Any("error", err))
		cached = nil
	}
	if cached != nil && s.policy(cached) {
		s.logger.Debug("schema cache hit", slog.String("db", name))
		return cached, nil
	}

	s.logger.Debug("schema cache miss", slog.String("db", name), slog.Bool("stale", cached != nil))
	return s.fetch(ctx, conn)
}

// Refresh rebuilds the metadata for name from the live database regardless of the cache.
func (s *Service) Refresh(ctx context.Context, name string) (*Metadata, error) {
	conn, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, conn)
}

func (s *Service) resolve(ctx context.Context, name string) (*state.Connection, error) {
	conn, err := s.resolver.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !validate.IsPostgres(conn.URL) {
		return nil, apperr.Validationf("Only PostgreSQL databases are supported")
	}
	return conn, nil
}

// fetch collapses concurrent rebuilds of the same connection into one live
// introspection. The shared rebuild does not follow any caller's cancellation;
// each caller stops waiting when its own context ends.
func (s *Service) fetch(ctx context.Context, conn *state.Connection) (*Metadata, error) {
	ch := s.group.DoChan(conn.Name+"\x00"+conn.URL, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.rebuild(rctx, conn)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("joined in-flight schema fetch", slog.String("db", conn.Name))
		}
		return res.Val.(*Metadata), nil
	}
}

func (s *Service) rebuild(ctx context.Context, conn *state.Connection) (*Metadata, error) {
	if err := s.store.DeleteSchemaObjects(ctx, conn.Name); err != nil {
		return nil, apperr.DatabaseErr("Failed to clear schema cache", err)
	}

	p, err := s.pools.GetOrCreate(ctx, conn.Name, conn.URL)
	if err != nil {
		return nil, err
	}
	c, err := p.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	m, err := s.introspector.Introspect(ctx, c, conn.Name)
	if err != nil {
		return nil, apperr.DatabaseErr("Failed to introspect schema", err)
	}

	objects, err := encodeObjects(m)
	if err != nil {
		return nil, apperr.InternalErr("Failed to encode schema metadata", err)
	}
	err = s.store.ReplaceSchemaObjectsFor(ctx, conn.Name, conn.URL, objects)
	if errors.Is(err, state.ErrStale) {
		s.logger.Debug("connection changed during schema fetch, not caching", slog.String("db", conn.Name))
		return m, nil
	}
	if err != nil {
		return nil, apperr.DatabaseErr("Failed to store schema metadata", err)
	}

	s.logger.Info("schema metadata refreshed",
		slog.String("db", conn.Name),
		slog.Int("tables", len(m.Tables)),
		slog.Int("views", len(m.Views)))
	return m, nil
}
