package pool

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/querydeck/internal/validate"
)

// Cache maps connection names to shared pools. At most one pool exists per
// name; concurrent first use of a name constructs exactly one pool.
type Cache struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	open   Opener
	limits Limits
	logger *slog.Logger
}

// NewCache creates an empty cache. A nil opener means PgxOpener.
func NewCache(open Opener, limits Limits, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if open == nil {
		open = PgxOpener(logger)
	}
	return &Cache{
		pools:  make(map[string]*Pool),
		open:   open,
		limits: limits,
		logger: logger,
	}
}

// Limits returns the limits applied to new pools.
func (c *Cache) Limits() Limits {
	return c.limits
}

// GetOrCreate returns the pool cached for name, constructing it from url on
// first use. A cached pool opened for a different URL is closed and replaced.
func (c *Cache) GetOrCreate(ctx context.Context, name, url string) (*Pool, error) {
	c.mu.RLock()
	p, ok := c.pools[name]
	c.mu.RUnlock()
	if ok && p.url == url {
		return p, nil
	}

	c.mu.Lock()
	p, ok = c.pools[name]
	if ok && p.url == url {
		c.mu.Unlock()
		return p, nil
	}

	created, err := c.open(ctx, url, c.limits)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	created.url = url
	c.pools[name] = created
	c.mu.Unlock()

	if ok {
		c.logger.Info("connection pool replaced",
			slog.String("name", name),
			slog.String("old_url", validate.MaskURL(p.url)),
			slog.String("url", validate.MaskURL(url)))
		if err := p.Close(); err != nil {
			c.logger.Warn("failed to close connection pool", slog.String("name", name), slog.Any("error", err))
		}
		return created, nil
	}
	c.logger.Info("connection pool created", slog.String("name", name), slog.String("url", validate.MaskURL(url)))
	return created, nil
}

// Remove unregisters and closes the pool for name. It is a no-op when no pool is cached.
func (c *Cache) Remove(name string) {
	c.mu.Lock()
	p, ok := c.pools[name]
	delete(c.pools, name)
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := p.Close(); err != nil {
		c.logger.Warn("failed to close connection pool", slog.String("name", name), slog.Any("error", err))
		return
	}
	c.logger.Info("connection pool closed", slog.String("name", name))
}

// Names returns the names with a cached pool, sorted.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.pools))
	for name := range c.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every cached pool.
func (c *Cache) Close() {
	for _, name := range c.Names() {
		c.Remove(name)
	}
}
