package translate

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/querydeck/internal/schema"
)

const systemPrompt = `You are a SQL expert that converts natural language questions into PostgreSQL queries.

Rules:
1. Only generate SELECT statements. Never generate INSERT, UPDATE, DELETE, DROP or any other modifying statement.
2. Use only the tables, views and columns listed in the schema.
3. Return only the SQL query with no explanation and no markdown.
4. Use PostgreSQL syntax.
5. Do not add a LIMIT clause; one is applied automatically.`

// FormatSchemaContext renders metadata as the plain-text schema description
// sent along with every question.
func FormatSchemaContext(m *schema.Metadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", m.DBName)

	if len(m.Tables) > 0 {
		b.WriteString("\nTables:\n")
		for _, t := range m.Tables {
			b.WriteString("- ")
			b.WriteString(t.Name)
			if len(t.PrimaryKey) > 0 {
				fmt.Fprintf(&b, " (PK: %s)", strings.Join(t.PrimaryKey, ", "))
			}
			b.WriteString(" columns: ")
			b.WriteString(formatColumns(t.Columns))
			b.WriteString("\n")
		}
	}

	if len(m.Views) > 0 {
		b.WriteString("\nViews:\n")
		for _, v := range m.Views {
			fmt.Fprintf(&b, "- %s columns: %s\n", v.Name, formatColumns(v.Columns))
		}
	}
	return b.String()
}

func formatColumns(cols []schema.ColumnInfo) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s (%s)", c.Name, c.DataType)
	}
	return strings.Join(parts, ", ")
}

func userMessage(prompt string, m *schema.Metadata) string {
	return FormatSchemaContext(m) + "\nQuestion: " + prompt
}

// fenceLanguages are the info strings dropped from an opening fence.
var fenceLanguages = map[string]bool{"": true, "sql": true, "postgresql": true, "pgsql": true}

// StripCodeFences removes a surrounding ``` or ```sql fence and trims whitespace.
// Only a known info string is dropped from the opening fence line; anything
// else on that line is kept as part of the statement.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		if fenceLanguages[strings.ToLower(strings.TrimSpace(s[:nl]))] {
			s = s[nl+1:]
		}
	} else if tag, rest, ok := strings.Cut(s, " "); ok && strings.EqualFold(tag, "sql") {
		s = rest
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
