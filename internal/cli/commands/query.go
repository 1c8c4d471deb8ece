package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/leapstack-labs/querydeck/internal/cli/output"
	"github.com/leapstack-labs/querydeck/internal/engine"
	"github.com/spf13/cobra"
)

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <name> <sql>",
		Short: "Run a read-only SQL query against a database",
		Long: `Run a single SELECT statement against a registered PostgreSQL database.

Statements other than SELECT are rejected before anything reaches the
database. Queries without a LIMIT are capped at 1000 rows.
Pass "-" as the SQL to read it from stdin.`,
		Example: `  querydeck query shop "SELECT id, total FROM orders ORDER BY total DESC"

  # Read SQL from a file
  querydeck query shop - < report.sql

  # Emit CSV for a spreadsheet
  querydeck query shop "SELECT * FROM customers" -o csv > customers.csv`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd.InOrStdin(), args[1])
			if err != nil {
				return err
			}

			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := cmdCtx.Engine.Query(cmd.Context(), args[0], sql)
			if err != nil {
				return err
			}
			return renderResponse(cmdCtx.Renderer, resp)
		},
	}
}

// NewAskCommand creates the ask command.
func NewAskCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <name> <question...>",
		Short: "Ask a question in natural language",
		Long: `Translate a question into SQL using the database schema and run it.

The generated SQL passes the same read-only checks as the query command.
Requires an LLM API key (QUERYDECK_LLM_API_KEY or llm.api_key).`,
		Example: `  querydeck ask shop "top 5 customers by revenue last month"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			prompt := strings.Join(args[1:], " ")
			resp, err := cmdCtx.Engine.Ask(cmd.Context(), args[0], prompt)
			if err != nil {
				return err
			}

			if !cmdCtx.Renderer.Structured() {
				cmdCtx.Renderer.Info("-- Generated SQL\n%s\n", resp.GeneratedSQL)
			}
			return renderResponse(cmdCtx.Renderer, resp)
		},
	}
}

func readSQL(stdin io.Reader, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read SQL from stdin: %w", err)
	}
	return string(b), nil
}

func renderResponse(r *output.Renderer, resp *engine.QueryResponse) error {
	if err := r.Render(output.Dataset{
		Columns: resp.Columns,
		Rows:    resp.Rows,
		Value:   resp,
	}); err != nil {
		return err
	}
	if !r.Structured() {
		r.Info("Execution time: %dms", resp.ExecutionTimeMs)
	}
	return nil
}
