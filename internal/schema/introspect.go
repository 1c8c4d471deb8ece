package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"
)

// Introspection queries against the target's default schema.
const (
	tablesQuery = `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`

	viewsQuery = `
		SELECT table_name
		FROM information_schema.views
		WHERE table_schema = 'public'
		ORDER BY table_name`

	columnsQuery = `
		SELECT column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`

	primaryKeyQuery = `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = 'public'
			AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`
)

// countableIdent bounds which table names may be interpolated into a COUNT query.
var countableIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Querier is the subset of *sql.DB and *sql.Conn used for introspection.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Introspector reads table and view metadata from a live PostgreSQL database.
type Introspector struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewIntrospector creates an introspector. If logger is nil, a discard logger is used.
func NewIntrospector(logger *slog.Logger) *Introspector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Introspector{logger: logger, now: time.Now}
}

// Introspect builds fresh metadata for dbName. Failing row counts degrade to nil;
// every other failure is returned.
func (in *Introspector) Introspect(ctx context.Context, q Querier, dbName string) (*Metadata, error) {
	tableNames, err := queryNames(ctx, q, tablesQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	viewNames, err := queryNames(ctx, q, viewsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}

	m := &Metadata{
		DBName:    dbName,
		Tables:    make([]TableInfo, 0, len(tableNames)),
		Views:     make([]ViewInfo, 0, len(viewNames)),
		UpdatedAt: in.now().UTC(),
	}

	for _, name := range tableNames {
		cols, err := queryColumns(ctx, q, name)
		if err != nil {
			return nil, err
		}
		pk, err := queryNames(ctx, q, primaryKeyQuery, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read primary key of %s: %w", name, err)
		}
		if len(pk) == 0 {
			pk = nil
		}
		m.Tables = append(m.Tables, TableInfo{
			Name:       name,
			Columns:    cols,
			PrimaryKey: pk,
			RowCount:   in.countRows(ctx, q, name),
		})
	}

	for _, name := range viewNames {
		cols, err := queryColumns(ctx, q, name)
		if err != nil {
			return nil, err
		}
		m.Views = append(m.Views, ViewInfo{Name: name, Columns: cols})
	}

	in.logger.Debug("schema introspected",
		slog.String("db", dbName),
		slog.Int("tables", len(m.Tables)),
		slog.Int("views", len(m.Views)))
	return m, nil
}

// countRows returns the exact row count of table, or nil when the name is not
// a safe identifier or the count query fails.
func (in *Introspector) countRows(ctx context.Context, q Querier, table string) *uint64 {
	if !countableIdent.MatchString(table) {
		in.logger.Debug("skipping row count for unsafe identifier", slog.String("table", table))
		return nil
	}

	var n int64
	query := fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table) //nolint:gosec // identifier matched countableIdent
	if err := q.QueryRowContext(ctx, query).Scan(&n); err != nil {
		in.logger.Warn("failed to count rows", slog.String("table", table), slog.Any("error", err))
		return nil
	}
	if n < 0 {
		return nil
	}
	count := uint64(n)
	return &count
}

func queryNames(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func queryColumns(ctx context.Context, q Querier, table string) ([]ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, columnsQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := []ColumnInfo{}
	for rows.Next() {
		var (
			col      ColumnInfo
			nullable string
			def      sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.DataType, &nullable, &def); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col.Nullable = nullable == "YES"
		if def.Valid {
			col.DefaultValue = &def.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	return cols, nil
}
