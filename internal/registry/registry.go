// Package registry manages named connection records.
// It validates names and URLs, probes targets before registering them, and
// keeps the pool cache and schema cache consistent with the stored records.
package registry

import (
	"context"
	"errors"
	"log/slog"

	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/state"
	"github.com/leapstack-labs/querydeck/internal/validate"
)

// Store is the part of the bookkeeping store used by the registry.
type Store interface {
	GetConnection(ctx context.Context, name string) (*state.Connection, error)
	ListConnections(ctx context.Context) ([]*state.Connection, error)
	UpsertConnection(ctx context.Context, name, url string) (*state.Connection, error)
	DeleteConnection(ctx context.Context, name string) error
	DeleteSchemaObjects(ctx context.Context, dbName string) error
}

// Prober checks that a URL is reachable before it is registered.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Evictor drops the cached pool for a name.
type Evictor interface {
	Remove(name string)
}

// Registry is the connection registry.
type Registry struct {
	store  Store
	prober Prober
	pools  Evictor
	logger *slog.Logger
}

// New creates a registry. A nil prober registers URLs without probing them.
func New(store Store, prober Prober, pools Evictor, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{store: store, prober: prober, pools: pools, logger: logger}
}

// Get returns the record for name.
func (r *Registry) Get(ctx context.Context, name string) (*state.Connection, error) {
	conn, err := r.store.GetConnection(ctx, name)
	if err != nil {
		return nil, r.classify(name, err, "Failed to read connection")
	}
	return conn, nil
}

// List returns every record ordered by name.
func (r *Registry) List(ctx context.Context) ([]*state.Connection, error) {
	conns, err := r.store.ListConnections(ctx)
	if err != nil {
		return nil, apperr.DatabaseErr("Failed to list connections", err)
	}
	return conns, nil
}

// Upsert registers url under name, or points an existing name at url.
// The target is probed first; nothing is stored when the probe fails.
func (r *Registry) Upsert(ctx context.Context, name, url string) (*state.Connection, error) {
	if err := validate.Name(name); err != nil {
		return nil, err
	}
	if err := validate.URL(url); err != nil {
		return nil, err
	}
	if r.prober != nil {
		if err := r.prober.Probe(ctx, url); err != nil {
			return nil, err
		}
	}

	prev, err := r.store.GetConnection(ctx, name)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return nil, apperr.DatabaseErr("Failed to read connection", err)
	}

	conn, err := r.store.UpsertConnection(ctx, name, url)
	if err != nil {
		return nil, apperr.DatabaseErr("Failed to save connection", err)
	}

	// A fresh or re-pointed name must not inherit a pool or schema rows left
	// behind by requests that raced an earlier delete or update.
	if prev == nil || prev.URL != url {
		r.pools.Remove(name)
		if err := r.store.DeleteSchemaObjects(ctx, name); err != nil {
			return nil, apperr.DatabaseErr("Failed to clear schema cache", err)
		}
	}
	switch {
	case prev == nil:
		r.logger.Info("connection registered", slog.String("name", name), slog.String("url", validate.MaskURL(url)))
	case prev.URL != url:
		r.logger.Info("connection updated", slog.String("name", name), slog.String("url", validate.MaskURL(url)))
	}
	return conn, nil
}

// Delete removes the record for name together with its cached schema and pool.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if err := r.store.DeleteConnection(ctx, name); err != nil {
		return r.classify(name, err, "Failed to delete connection")
	}
	r.pools.Remove(name)
	r.logger.Info("connection deleted", slog.String("name", name))
	return nil
}

func (r *Registry) classify(name string, err error, msg string) error {
	if errors.Is(err, state.ErrNotFound) {
		return apperr.NotFoundf("Database '%s' not found", name)
	}
	return apperr.DatabaseErr(msg, err)
}
