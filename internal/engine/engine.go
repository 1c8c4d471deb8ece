// Package engine wires the registry, schema service, pool cache, executor and
// translator into the query pipeline shared by the CLI and the HTTP server.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/executor"
	"github.com/leapstack-labs/querydeck/internal/pool"
	"github.com/leapstack-labs/querydeck/internal/registry"
	"github.com/leapstack-labs/querydeck/internal/schema"
	"github.com/leapstack-labs/querydeck/internal/sqlguard"
	"github.com/leapstack-labs/querydeck/internal/state"
	"github.com/leapstack-labs/querydeck/internal/translate"
	"github.com/leapstack-labs/querydeck/internal/validate"
)

// Translator generates SQL for a natural-language prompt.
type Translator interface {
	Translate(ctx context.Context, prompt string, m *schema.Metadata) (string, error)
}

// Config holds engine configuration.
type Config struct {
	// StatePath is the path to the SQLite bookkeeping database
	StatePath string
	// Pool bounds every target pool
	Pool pool.Limits
	// LLM configures the default translator
	LLM translate.Config
	// RowCap overrides the injected row cap when positive
	RowCap int
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger

	// Opener overrides how pools are built (optional)
	Opener pool.Opener
	// Translator overrides the completions client (optional)
	Translator Translator
	// SkipProbe registers connections without probing them
	SkipProbe bool
}

// Engine runs the query pipeline.
type Engine struct {
	store      *state.SQLiteStore
	pools      *pool.Cache
	registry   *registry.Registry
	schema     *schema.Service
	executor   *executor.Executor
	translator Translator
	rowCap     int
	logger     *slog.Logger
}

// QueryResponse is the result of a direct or natural-language query.
type QueryResponse struct {
	*executor.QueryResult
	GeneratedSQL string `json:"generatedSql,omitempty"`
}

// New opens the bookkeeping store and builds the pipeline.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	logger.Debug("initializing engine", slog.String("state_path", cfg.StatePath))

	store := state.NewSQLiteStore(logger)
	if err := store.Open(cfg.StatePath); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate state store: %w", err)
	}

	limits := cfg.Pool
	if limits == (pool.Limits{}) {
		limits = pool.DefaultLimits()
	}
	pools := pool.NewCache(cfg.Opener, limits, logger)

	var prober registry.Prober = pools
	if cfg.SkipProbe {
		prober = nil
	}
	reg := registry.New(store, prober, pools, logger)

	translator := cfg.Translator
	if translator == nil {
		translator = translate.New(cfg.LLM, logger)
	}

	rowCap := cfg.RowCap
	if rowCap <= 0 {
		rowCap = sqlguard.DefaultRowCap
	}

	return &Engine{
		store:      store,
		pools:      pools,
		registry:   reg,
		schema:     schema.NewService(reg, store, pools, logger),
		executor:   executor.New(logger),
		translator: translator,
		rowCap:     rowCap,
		logger:     logger,
	}, nil
}

// Close releases every pool and the bookkeeping store.
func (e *Engine) Close() error {
	e.pools.Close()
	return e.store.Close()
}

// ListDatabases returns every registered connection ordered by name.
func (e *Engine) ListDatabases(ctx context.Context) ([]*state.Connection, error) {
	return e.registry.List(ctx)
}

// PutDatabase registers or updates a named connection.
func (e *Engine) PutDatabase(ctx context.Context, name, url string) (*state.Connection, error) {
	return e.registry.Upsert(ctx, name, url)
}

// DeleteDatabase removes a named connection, its cached schema and its pool.
func (e *Engine) DeleteDatabase(ctx context.Context, name string) error {
	return e.registry.Delete(ctx, name)
}

// Schema returns the schema metadata for name, optionally forcing a live refresh.
func (e *Engine) Schema(ctx context.Context, name string, refresh bool) (*schema.Metadata, error) {
	if refresh {
		return e.schema.Refresh(ctx, name)
	}
	return e.schema.GetSchemaMetadata(ctx, name)
}

// Query validates and runs sql against the named database.
func (e *Engine) Query(ctx context.Context, name, sql string) (*QueryResponse, error) {
	conn, err := e.queryable(ctx, name)
	if err != nil {
		return nil, err
	}
	result, err := e.run(ctx, conn, sql)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{QueryResult: result}, nil
}

// Ask translates prompt into SQL using the named database's schema, then
// validates and runs it exactly like Query.
func (e *Engine) Ask(ctx context.Context, name, prompt string) (*QueryResponse, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.Validationf("Prompt cannot be empty")
	}
	conn, err := e.queryable(ctx, name)
	if err != nil {
		return nil, err
	}

	meta, err := e.schema.GetSchemaMetadata(ctx, name)
	if err != nil {
		return nil, err
	}
	generated, err := e.translator.Translate(ctx, prompt, meta)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("prompt translated", slog.String("db", name), slog.String("sql", generated))

	result, err := e.run(ctx, conn, generated)
	if err != nil {
		return nil, err
	}
	return &QueryResponse{QueryResult: result, GeneratedSQL: generated}, nil
}

func (e *Engine) queryable(ctx context.Context, name string) (*state.Connection, error) {
	conn, err := e.registry.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !validate.IsPostgres(conn.URL) {
		return nil, apperr.Validationf("Only PostgreSQL databases are supported")
	}
	return conn, nil
}

func (e *Engine) run(ctx context.Context, conn *state.Connection, sql string) (*executor.QueryResult, error) {
	validated, err := sqlguard.ValidateWithCap(sql, e.rowCap)
	if err != nil {
		return nil, err
	}
	p, err := e.pools.GetOrCreate(ctx, conn.Name, conn.URL)
	if err != nil {
		return nil, err
	}
	return e.executor.Execute(ctx, p, validated)
}
