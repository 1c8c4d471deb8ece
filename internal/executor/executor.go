// Package executor runs validated queries through a pooled connection and
// converts the result set into portable values.
package executor

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/leapstack-labs/querydeck/internal/pool"
	"github.com/leapstack-labs/querydeck/internal/sqlguard"
)

// QueryResult is a fully materialized result set.
type QueryResult struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	RowCount        int      `json:"rowCount"`
	ExecutionTimeMs int64    `json:"executionTimeMs"`
}

// Executor runs queries against pooled connections.
type Executor struct {
	logger *slog.Logger
}

// New creates an executor. If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{logger: logger}
}

// Execute runs query on one connection from p and fetches every row. query is
// expected to be validated and row-capped already.
func (e *Executor) Execute(ctx context.Context, p *pool.Pool, query string) (*QueryResult, error) {
	conn, err := p.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	start := time.Now()
	result, err := e.run(ctx, conn, query)
	if err != nil {
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	e.logger.Debug("query executed",
		slog.Int("rows", result.RowCount),
		slog.Int("columns", len(result.Columns)),
		slog.Int64("ms", result.ExecutionTimeMs))
	return result, nil
}

func (e *Executor) run(ctx context.Context, conn *sql.Conn, query string) (*QueryResult, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.DatabaseErr("Query execution failed", err)
	}
	defer func() { _ = rows.Close() }()

	columns, dbTypes, err := describeColumns(rows)
	if err != nil {
		return nil, apperr.DatabaseErr("Failed to read result columns", err)
	}

	result := &QueryResult{Rows: [][]any{}}
	cells := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range cells {
		dest[i] = &cells[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, apperr.DatabaseErr("Failed to read query result", err)
		}
		row := make([]any, len(cells))
		for i, v := range cells {
			row[i] = convertValue(v, dbTypes[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.DatabaseErr("Query execution failed", err)
	}
	_ = rows.Close()

	result.RowCount = len(result.Rows)
	if len(columns) == 0 && result.RowCount == 0 {
		columns = e.probeColumns(ctx, conn, query)
	}
	if columns == nil {
		columns = []string{}
	}
	result.Columns = columns
	return result, nil
}

// probeColumns recovers column names for an empty result by running the query
// with a zero-row cap. Any failure yields an empty list.
func (e *Executor) probeColumns(ctx context.Context, conn *sql.Conn, query string) []string {
	probe := zeroRowQuery(query)
	rows, err := conn.QueryContext(ctx, probe)
	if err != nil {
		e.logger.Debug("column probe failed", slog.Any("error", err))
		return []string{}
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		e.logger.Debug("column probe failed", slog.Any("error", err))
		return []string{}
	}
	return cols
}

// zeroRowQuery caps query at zero rows, wrapping it when it already carries a limit.
func zeroRowQuery(query string) string {
	if sqlguard.HasRowLimit(query) {
		return "SELECT * FROM (\n" + query + "\n) AS _probe LIMIT 0"
	}
	return query + "\nLIMIT 0"
}

// resultSet is the part of *sql.Rows that describes the result columns.
type resultSet interface {
	Columns() ([]string, error)
	ColumnTypes() ([]*sql.ColumnType, error)
}

// describeColumns returns the column names of rows with their database type names.
func describeColumns(rows resultSet) ([]string, []string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	return columns, columnTypeNames(rows, len(columns)), nil
}

func columnTypeNames(rows resultSet, n int) []string {
	names := make([]string, n)
	types, err := rows.ColumnTypes()
	if err != nil {
		return names
	}
	for i, ct := range types {
		if i < n {
			names[i] = ct.DatabaseTypeName()
		}
	}
	return names
}
