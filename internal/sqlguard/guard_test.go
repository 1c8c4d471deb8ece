package sqlguard

import (
	"strings"
	"testing"

	"github.com/leapstack-labs/querydeck/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_InjectsCap(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple select", "SELECT id, name FROM users", "SELECT id, name FROM users LIMIT 1000"},
		{"terminator stripped", "SELECT * FROM users;", "SELECT * FROM users LIMIT 1000"},
		{"terminator with blanks", "SELECT 1 ;  \n", "SELECT 1 LIMIT 1000"},
		{"trailing whitespace", "SELECT 1   ", "SELECT 1 LIMIT 1000"},
		{"lowercase", "select a from t where b = 1", "select a from t where b = 1 LIMIT 1000"},
		{"limit inside string literal", "SELECT 'LIMIT 5' AS s FROM t", "SELECT 'LIMIT 5' AS s FROM t LIMIT 1000"},
		{"limit as quoted identifier", `SELECT "limit" FROM t`, `SELECT "limit" FROM t LIMIT 1000`},
		{"limit in block comment", "SELECT a /* LIMIT 10 */ FROM t", "SELECT a /* LIMIT 10 */ FROM t LIMIT 1000"},
		{"limit in subquery only", "SELECT * FROM (SELECT * FROM t LIMIT 5) s", "SELECT * FROM (SELECT * FROM t LIMIT 5) s LIMIT 1000"},
		{"limit in parenthesized set term", "(SELECT 1 LIMIT 1) UNION SELECT 2", "(SELECT 1 LIMIT 1) UNION SELECT 2 LIMIT 1000"},
		{"union", "SELECT a FROM t UNION ALL SELECT b FROM u", "SELECT a FROM t UNION ALL SELECT b FROM u LIMIT 1000"},
		{"intersect except", "SELECT a FROM t INTERSECT SELECT a FROM u EXCEPT SELECT a FROM v", "SELECT a FROM t INTERSECT SELECT a FROM u EXCEPT SELECT a FROM v LIMIT 1000"},
		{"values", "VALUES (1, 'a'), (2, 'b')", "VALUES (1, 'a'), (2, 'b') LIMIT 1000"},
		{"nested query", "((SELECT 1))", "((SELECT 1)) LIMIT 1000"},
		{"cte", "WITH x AS (SELECT 1 AS n) SELECT n FROM x", "WITH x AS (SELECT 1 AS n) SELECT n FROM x LIMIT 1000"},
		{"recursive cte", "WITH RECURSIVE r(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM r WHERE n < 5) SELECT n FROM r", "WITH RECURSIVE r(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM r WHERE n < 5) SELECT n FROM r LIMIT 1000"},
		{"order by offset", "SELECT a FROM t ORDER BY a DESC OFFSET 10", "SELECT a FROM t ORDER BY a DESC OFFSET 10 LIMIT 1000"},
		{"group by having", "SELECT a, count(*) FROM t GROUP BY a HAVING count(*) > 1", "SELECT a, count(*) FROM t GROUP BY a HAVING count(*) > 1 LIMIT 1000"},
		{"trailing line comment", "SELECT 1 -- note", "SELECT 1 -- note\nLIMIT 1000"},
		{"comment after terminator", "SELECT 1; -- done", "SELECT 1 LIMIT 1000"},
		{"dollar quoted", "SELECT $$it's LIMIT 3$$ AS s", "SELECT $$it's LIMIT 3$$ AS s LIMIT 1000"},
		{"casts and functions", "SELECT extract(year FROM created_at)::int, substring(name FROM 1 FOR 3) FROM users", "SELECT extract(year FROM created_at)::int, substring(name FROM 1 FOR 3) FROM users LIMIT 1000"},
		{"join and where exists", "SELECT u.id FROM users u JOIN orders o ON o.user_id = u.id WHERE EXISTS (SELECT 1 FROM items i WHERE i.order_id = o.id)", "SELECT u.id FROM users u JOIN orders o ON o.user_id = u.id WHERE EXISTS (SELECT 1 FROM items i WHERE i.order_id = o.id) LIMIT 1000"},
		{"distinct on", "SELECT DISTINCT ON (a) a, b FROM t ORDER BY a, b", "SELECT DISTINCT ON (a) a, b FROM t ORDER BY a, b LIMIT 1000"},
		{"column named update", "SELECT (update + 1) FROM t", "SELECT (update + 1) FROM t LIMIT 1000"},
		{"limit all is wrapped", "SELECT * FROM t LIMIT ALL", "SELECT * FROM (SELECT * FROM t LIMIT ALL) AS capped LIMIT 1000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1, strings.Count(got, "LIMIT 1000"))
		})
	}
}

func TestValidate_KeepsExplicitLimit(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"limit", "SELECT * FROM users LIMIT 10", "SELECT * FROM users LIMIT 10"},
		{"limit lowercase", "select * from users limit 10", "select * from users limit 10"},
		{"limit with terminator", "SELECT * FROM users LIMIT 10;", "SELECT * FROM users LIMIT 10"},
		{"limit offset", "SELECT * FROM t LIMIT 5 OFFSET 10", "SELECT * FROM t LIMIT 5 OFFSET 10"},
		{"offset limit", "SELECT * FROM t OFFSET 10 LIMIT 5", "SELECT * FROM t OFFSET 10 LIMIT 5"},
		{"fetch first", "SELECT * FROM t FETCH FIRST 5 ROWS ONLY", "SELECT * FROM t FETCH FIRST 5 ROWS ONLY"},
		{"fetch next mixed case", "SELECT * FROM t ORDER BY a Fetch Next 1 Row Only", "SELECT * FROM t ORDER BY a Fetch Next 1 Row Only"},
		{"limit on union", "SELECT 1 UNION SELECT 2 LIMIT 1", "SELECT 1 UNION SELECT 2 LIMIT 1"},
		{"limit on parenthesized", "(SELECT 1) LIMIT 1", "(SELECT 1) LIMIT 1"},
		{"limit expression", "SELECT * FROM t LIMIT 2 * 5", "SELECT * FROM t LIMIT 2 * 5"},
		{"trailing blanks kept", "SELECT 1 LIMIT 1  ", "SELECT 1 LIMIT 1  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Validate(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"empty", "", MsgEmpty},
		{"blank", "   \n\t", MsgEmpty},
		{"only terminator", ";", MsgEmpty},
		{"only comment", "-- nothing here", MsgEmpty},
		{"two statements", "SELECT 1; SELECT 2", MsgMultiple},
		{"select then drop", "SELECT 1; DROP TABLE users", MsgMultiple},
		{"insert", "INSERT INTO users (name) VALUES ('x')", MsgOnlySelect},
		{"update", "UPDATE users SET name = 'x'", MsgOnlySelect},
		{"delete", "DELETE FROM users", MsgOnlySelect},
		{"drop", "DROP TABLE users", MsgOnlySelect},
		{"create", "CREATE TABLE t (id int)", MsgOnlySelect},
		{"alter", "ALTER TABLE t ADD COLUMN x int", MsgOnlySelect},
		{"truncate", "TRUNCATE users", MsgOnlySelect},
		{"grant", "GRANT ALL ON users TO bob", MsgOnlySelect},
		{"copy", "COPY users TO '/tmp/x'", MsgOnlySelect},
		{"explain", "EXPLAIN SELECT 1", MsgOnlySelect},
		{"set", "SET search_path = x", MsgOnlySelect},
		{"table statement", "TABLE users", MsgOnlySelect},
		{"data modifying cte", "WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", MsgOnlySelect},
		{"insert in subquery", "SELECT * FROM (INSERT INTO t VALUES (1) RETURNING *) x", MsgOnlySelect},
		{"insert as set term", "SELECT 1 UNION (INSERT INTO t VALUES (1) RETURNING 1)", MsgOnlySelect},
		{"select into", "SELECT * INTO backup FROM users", MsgSelectInto},
		{"for update", "SELECT * FROM users FOR UPDATE", MsgLockingRows},
		{"for share in subquery", "SELECT * FROM (SELECT * FROM t FOR SHARE) s", MsgLockingRows},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.input)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.Validation), "expected validation error, got %v", err)
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestValidate_SyntaxErrors(t *testing.T) {
	inputs := []string{
		"SELEC * FROM users",
		"SELECT * FROM",
		"SELECT a, FROM t",
		"SELECT (1",
		"SELECT 1)",
		"SELECT 'unterminated",
		`SELECT "unterminated`,
		"SELECT 1 /* open",
		"SELECT * FROM t WHERE",
		"SELECT * FROM t ORDER a",
		"SELECT * FROM t GROUP a",
		"SELECT * FROM t FETCH 5",
		"VALUES 1, 2",
		"WITH x SELECT 1",
		"SELECT * FROM t LIMIT",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Validate(input)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.Validation))
			assert.True(t, strings.HasPrefix(err.Error(), MsgSyntaxPrefix), "got %q", err.Error())
		})
	}
}

func TestValidate_ParseErrorPosition(t *testing.T) {
	_, err := Validate("SELECT a\nFROM")
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 2, perr.Pos.Line)
}

func TestValidateWithCap(t *testing.T) {
	got, err := ValidateWithCap("SELECT 1", 50)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1 LIMIT 50", got)
}

func TestHasRowLimit(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"SELECT 1", false},
		{"SELECT 1 LIMIT 1", true},
		{"SELECT 1 FETCH FIRST 1 ROW ONLY", true},
		{"SELECT * FROM (SELECT 1 LIMIT 1) s", false},
		{"SELECT 'limit 1'", false},
		{"SELECT * FROM t LIMIT ALL", true},
		{"not sql at all", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, HasRowLimit(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	toks, lx, err := Tokenize("SELECT e'it\\'s', \"Col\"\"x\", $1, 1.5e3 -- c\nFROM t")
	require.NoError(t, err)

	kinds := make([]TokenKind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []TokenKind{
		TokenWord, TokenString, TokenComma, TokenQuotedIdent, TokenComma,
		TokenParam, TokenComma, TokenNumber, TokenWord, TokenWord,
	}, kinds)
	assert.Len(t, lx.LineComments, 1)
	assert.Equal(t, 2, toks[8].Pos.Line)
}
