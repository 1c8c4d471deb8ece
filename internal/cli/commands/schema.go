package commands

import (
	"strings"
	"time"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/schema"
	"github.com/spf13/cobra"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "schema <name>",
		Short: "Show tables, views and columns of a database",
		Long: `Show the schema of a registered PostgreSQL database.

Cached metadata is served when it is complete; otherwise the database is
introspected and the cache rebuilt. Use --refresh to always introspect.`,
		Example: `  querydeck schema shop
  querydeck schema shop --refresh -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			meta, err := cmdCtx.Engine.Schema(cmd.Context(), args[0], refresh)
			if err != nil {
				return err
			}

			r := cmdCtx.Renderer
			if !r.Structured() {
				r.Info("Database: %s (updated %s)", meta.DBName, meta.UpdatedAt.Format(time.RFC3339))
			}
			return r.Render(schemaDataset(meta))
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Introspect the database even if the cache is complete")

	return cmd
}

// schemaDataset flattens metadata to one row per column.
func schemaDataset(m *schema.Metadata) output.Dataset {
	var rows [][]any
	for _, t := range m.Tables {
		pk := make(map[string]bool, len(t.PrimaryKey))
		for _, col := range t.PrimaryKey {
			pk[col] = true
		}
		rows = append(rows, objectRows(t.Name, "table", t.RowCount, t.Columns, pk)...)
	}
	for _, v := range m.Views {
		rows = append(rows, objectRows(v.Name, "view", nil, v.Columns, nil)...)
	}

	return output.Dataset{
		Columns: []string{"object", "kind", "rows", "column", "type", "nullable", "default", "pk"},
		Rows:    rows,
		Value:   m,
	}
}

func objectRows(name, kind string, count *uint64, cols []schema.ColumnInfo, pk map[string]bool) [][]any {
	var rowCount any = ""
	if kind == "table" {
		rowCount = count
	}
	if len(cols) == 0 {
		return [][]any{{name, kind, rowCount, "", "", "", "", ""}}
	}

	rows := make([][]any, 0, len(cols))
	for _, c := range cols {
		var def any = ""
		if c.DefaultValue != nil {
			def = *c.DefaultValue
		}
		marker := ""
		if pk[c.Name] {
			marker = "✓"
		}
		rows = append(rows, []any{name, kind, rowCount, c.Name, strings.ToLower(c.DataType), yesNo(c.Nullable), def, marker})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
