package sqlguard

import "fmt"

// queryInfo summarizes the outermost clauses of a parsed query.
type queryInfo struct {
	hasLimit bool // LIMIT n or FETCH FIRST/NEXT
	limitAll bool // LIMIT ALL or LIMIT NULL, which caps nothing
}

// parser is a structural recursive-descent parser over a token slice.
// It validates clause layout and parenthesis nesting rather than building a
// full expression tree: parenthesized groups are opaque units unless they
// hold a nested query, which is parsed recursively.
type parser struct {
	toks  []Token
	match []int // index of the partner bracket for ( ) [ ]
	eof   Position
}

// statementKeywords are leading keywords of statements that are not queries.
var statementKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true, "RENAME": true,
	"GRANT": true, "REVOKE": true, "COMMENT": true, "SECURITY": true, "REASSIGN": true,
	"COPY": true, "CALL": true, "DO": true, "EXECUTE": true, "PREPARE": true, "DEALLOCATE": true,
	"SET": true, "RESET": true, "SHOW": true, "EXPLAIN": true, "ANALYZE": true, "ANALYSE": true,
	"VACUUM": true, "CLUSTER": true, "REINDEX": true, "REFRESH": true, "CHECKPOINT": true,
	"BEGIN": true, "START": true, "COMMIT": true, "END": true, "ROLLBACK": true, "ABORT": true,
	"SAVEPOINT": true, "RELEASE": true, "LOCK": true, "DECLARE": true, "FETCH": true,
	"MOVE": true, "CLOSE": true, "LISTEN": true, "UNLISTEN": true, "NOTIFY": true,
	"DISCARD": true, "LOAD": true, "IMPORT": true, "TABLE": true, "USE": true,
}

// selectStops end a SELECT body at nesting depth zero.
var selectStops = map[string]bool{
	"UNION": true, "INTERSECT": true, "EXCEPT": true,
	"ORDER": true, "LIMIT": true, "OFFSET": true, "FETCH": true, "FOR": true,
}

// selectClauses start a new clause inside a SELECT body.
var selectClauses = map[string]bool{
	"FROM": true, "WHERE": true, "GROUP": true, "HAVING": true, "WINDOW": true, "INTO": true,
}

// trailingClauses may follow a query body.
var trailingClauses = map[string]bool{
	"ORDER": true, "LIMIT": true, "OFFSET": true, "FETCH": true, "FOR": true,
}

func newParser(toks []Token, eof Position) (*parser, error) {
	p := &parser{toks: toks, match: make([]int, len(toks)), eof: eof}
	var stack []int
	for i, t := range toks {
		p.match[i] = -1
		switch t.Kind {
		case TokenLParen, TokenLBracket:
			stack = append(stack, i)
		case TokenRParen, TokenRBracket:
			if len(stack) == 0 {
				return nil, &ParseError{Pos: t.Pos, Message: fmt.Sprintf(ErrUnbalanced, t.Text)}
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			want := TokenRParen
			if toks[open].Kind == TokenLBracket {
				want = TokenRBracket
			}
			if t.Kind != want {
				return nil, &ParseError{Pos: t.Pos, Message: fmt.Sprintf(ErrUnexpectedToken, t.Text, want)}
			}
			p.match[open] = i
			p.match[i] = open
		}
	}
	if len(stack) > 0 {
		t := toks[stack[len(stack)-1]]
		return nil, &ParseError{Pos: t.Pos, Message: fmt.Sprintf(ErrUnbalanced, t.Text)}
	}
	return p, nil
}

func (p *parser) at(i, hi int) Token {
	if i >= hi {
		if hi < len(p.toks) {
			return p.toks[hi]
		}
		return Token{Kind: TokenEOF, Pos: p.eof}
	}
	return p.toks[i]
}

func (p *parser) unexpected(i, hi int, expected string) error {
	t := p.at(i, hi)
	if i >= hi {
		t = Token{Kind: TokenEOF, Pos: t.Pos}
	}
	return &ParseError{Pos: t.Pos, Message: fmt.Sprintf(ErrUnexpectedToken, t.describe(), expected)}
}

// skip returns the index following the token at i, jumping over a whole
// bracketed group when i opens one.
func (p *parser) skip(i int) int {
	if m := p.match[i]; m > i {
		return m + 1
	}
	return i + 1
}

// parseStatement validates one statement spanning toks[lo:hi].
func (p *parser) parseStatement(lo, hi int) (queryInfo, error) {
	first := p.toks[lo]
	switch {
	case first.Kind == TokenLParen, first.Is("SELECT"), first.Is("WITH"), first.Is("VALUES"):
		return p.parseQuery(lo, hi)
	case statementKeywords[first.Upper()]:
		return queryInfo{}, errNotQuery
	default:
		return queryInfo{}, p.unexpected(lo, hi, "an SQL statement")
	}
}

// parseQuery parses [WITH ...] body [ORDER BY] [LIMIT] [OFFSET] [FETCH] spanning toks[lo:hi].
func (p *parser) parseQuery(lo, hi int) (queryInfo, error) {
	var info queryInfo
	i := lo
	if p.at(i, hi).Is("WITH") {
		var err error
		if i, err = p.parseWith(i+1, hi); err != nil {
			return info, err
		}
	}

	i, err := p.parseSetExpr(i, hi)
	if err != nil {
		return info, err
	}

	for i < hi {
		t := p.toks[i]
		switch t.Upper() {
		case "ORDER":
			if !p.at(i+1, hi).Is("BY") {
				return info, p.unexpected(i+1, hi, "BY")
			}
			if i, err = p.clause(i+2, hi, "ORDER BY", trailingClauses); err != nil {
				return info, err
			}
		case "LIMIT":
			next := p.at(i+1, hi)
			if (next.Is("ALL") || next.Is("NULL")) && !isContinuation(p.at(i+2, hi)) {
				info.limitAll = true
			} else {
				info.hasLimit = true
			}
			if i, err = p.clause(i+1, hi, "LIMIT", trailingClauses); err != nil {
				return info, err
			}
		case "OFFSET":
			if i, err = p.clause(i+1, hi, "OFFSET", trailingClauses); err != nil {
				return info, err
			}
		case "FETCH":
			next := p.at(i+1, hi)
			if !next.Is("FIRST") && !next.Is("NEXT") {
				return info, p.unexpected(i+1, hi, "FIRST or NEXT")
			}
			info.hasLimit = true
			if i, err = p.clause(i+2, hi, "FETCH", trailingClauses); err != nil {
				return info, err
			}
		case "FOR":
			return info, errLocking
		default:
			return info, p.unexpected(i, hi, "ORDER BY, LIMIT, OFFSET, FETCH or end of query")
		}
	}
	return info, nil
}

// isContinuation reports whether t continues an expression, as in LIMIT ALL + 1.
func isContinuation(t Token) bool {
	return t.Kind == TokenOperator || t.Kind == TokenDot || t.Kind == TokenLParen
}

// parseWith parses the CTE list after WITH and returns the index of the main body.
func (p *parser) parseWith(i, hi int) (int, error) {
	if p.at(i, hi).Is("RECURSIVE") {
		i++
	}
	for {
		name := p.at(i, hi)
		if i >= hi || (name.Kind != TokenWord && name.Kind != TokenQuotedIdent) {
			return i, p.unexpected(i, hi, "common table expression name")
		}
		i++
		if p.at(i, hi).Kind == TokenLParen {
			i = p.skip(i)
		}
		if !p.at(i, hi).Is("AS") {
			return i, p.unexpected(i, hi, "AS")
		}
		i++
		if p.at(i, hi).Is("NOT") {
			i++
		}
		if p.at(i, hi).Is("MATERIALIZED") {
			i++
		}
		if p.at(i, hi).Kind != TokenLParen {
			return i, p.unexpected(i, hi, "'('")
		}
		if err := p.parseGroupQuery(i); err != nil {
			return i, err
		}
		i = p.skip(i)

		// SEARCH ... SET col / CYCLE ... SET col USING col
		if i < hi && (p.toks[i].Is("SEARCH") || p.toks[i].Is("CYCLE")) {
			for i < hi && !startsQueryBody(p.toks[i]) {
				if p.toks[i].Kind == TokenComma && p.startsCTE(i+1, hi) {
					break
				}
				i = p.skip(i)
			}
		}

		if p.at(i, hi).Kind != TokenComma {
			return i, nil
		}
		i++
	}
}

// startsCTE reports whether toks[i:hi] begins with "name [(cols)] AS".
func (p *parser) startsCTE(i, hi int) bool {
	name := p.at(i, hi)
	if i >= hi || (name.Kind != TokenWord && name.Kind != TokenQuotedIdent) {
		return false
	}
	i++
	if p.at(i, hi).Kind == TokenLParen {
		i = p.skip(i)
	}
	return i < hi && p.at(i, hi).Is("AS")
}

func startsQueryBody(t Token) bool {
	return t.Is("SELECT") || t.Is("VALUES") || t.Kind == TokenLParen
}

// parseGroupQuery validates the query inside the bracket group opened at i.
// The group must hold a query; a data-modifying statement is rejected.
func (p *parser) parseGroupQuery(open int) error {
	lo, hi := open+1, p.match[open]
	if lo >= hi {
		return p.unexpected(lo, hi, "a query")
	}
	first := p.toks[lo]
	if statementKeywords[first.Upper()] {
		return errNotQuery
	}
	if !startsQueryBody(first) && !first.Is("WITH") {
		return p.unexpected(lo, hi, "SELECT, VALUES or WITH")
	}
	_, err := p.parseQuery(lo, hi)
	return err
}

// parseSetExpr parses term { (UNION|INTERSECT|EXCEPT) [ALL|DISTINCT] term }.
func (p *parser) parseSetExpr(i, hi int) (int, error) {
	i, err := p.parseTerm(i, hi)
	if err != nil {
		return i, err
	}
	for i < hi {
		t := p.toks[i]
		if !t.Is("UNION") && !t.Is("INTERSECT") && !t.Is("EXCEPT") {
			return i, nil
		}
		i++
		if p.at(i, hi).Is("ALL") || p.at(i, hi).Is("DISTINCT") {
			i++
		}
		if i, err = p.parseTerm(i, hi); err != nil {
			return i, err
		}
	}
	return i, nil
}

// parseTerm parses a SELECT, a VALUES list or a parenthesized query.
func (p *parser) parseTerm(i, hi int) (int, error) {
	t := p.at(i, hi)
	switch {
	case i >= hi:
		return i, p.unexpected(i, hi, "SELECT, VALUES or '('")
	case t.Kind == TokenLParen:
		if err := p.parseGroupQuery(i); err != nil {
			return i, err
		}
		return p.skip(i), nil
	case t.Is("SELECT"):
		return p.parseSelect(i+1, hi)
	case t.Is("VALUES"):
		return p.parseValues(i+1, hi)
	case statementKeywords[t.Upper()]:
		return i, errNotQuery
	default:
		return i, p.unexpected(i, hi, "SELECT, VALUES or '('")
	}
}

// parseSelect parses the body following SELECT up to a set operator or trailing clause.
func (p *parser) parseSelect(i, hi int) (int, error) {
	if p.at(i, hi).Is("ALL") {
		i++
	} else if p.at(i, hi).Is("DISTINCT") {
		i++
		if p.at(i, hi).Is("ON") {
			i++
			if p.at(i, hi).Kind != TokenLParen {
				return i, p.unexpected(i, hi, "'('")
			}
			if err := p.checkGroups(i, p.skip(i)); err != nil {
				return i, err
			}
			i = p.skip(i)
		}
	}

	stops := make(map[string]bool, len(selectStops)+len(selectClauses))
	for k := range selectStops {
		stops[k] = true
	}
	for k := range selectClauses {
		stops[k] = true
	}

	i, err := p.clause(i, hi, "SELECT", stops)
	if err != nil {
		return i, err
	}

	for i < hi {
		kw := p.toks[i].Upper()
		if !selectClauses[kw] {
			return i, nil
		}
		switch kw {
		case "INTO":
			return i, errSelectInto
		case "GROUP":
			if !p.at(i+1, hi).Is("BY") {
				return i, p.unexpected(i+1, hi, "BY")
			}
			i++
			kw = "GROUP BY"
		}
		if i, err = p.clause(i+1, hi, kw, stops); err != nil {
			return i, err
		}
	}
	return i, nil
}

// parseValues parses VALUES (...) {, (...)}.
func (p *parser) parseValues(i, hi int) (int, error) {
	for {
		if p.at(i, hi).Kind != TokenLParen {
			return i, p.unexpected(i, hi, "'('")
		}
		if p.match[i] == i+1 {
			return i, p.unexpected(i+1, p.match[i], "a value")
		}
		if err := p.checkGroups(i+1, p.match[i]); err != nil {
			return i, err
		}
		i = p.skip(i)
		if p.at(i, hi).Kind != TokenComma {
			return i, nil
		}
		i++
	}
}

// clause consumes a non-empty clause body until a stop keyword at depth zero,
// checking comma placement and any nested groups on the way.
func (p *parser) clause(i, hi int, name string, stops map[string]bool) (int, error) {
	start := i
	prevComma := true
	for i < hi {
		t := p.toks[i]
		if stops[t.Upper()] {
			break
		}
		switch t.Kind {
		case TokenComma:
			if prevComma {
				return i, p.unexpected(i, hi, "an expression")
			}
			prevComma = true
			i++
			continue
		case TokenSemicolon:
			return i, p.unexpected(i, hi, "end of statement")
		case TokenLParen, TokenLBracket:
			if err := p.checkGroups(i, p.skip(i)); err != nil {
				return i, err
			}
		}
		prevComma = false
		i = p.skip(i)
	}
	if i == start {
		return i, &ParseError{Pos: p.at(i, hi).Pos, Message: fmt.Sprintf(ErrEmptyClause, name)}
	}
	if prevComma {
		return i, p.unexpected(i, hi, "an expression")
	}
	return i, nil
}

// checkGroups walks toks[lo:hi] and validates every bracket group in it,
// parsing groups that hold a nested query.
func (p *parser) checkGroups(lo, hi int) error {
	for i := lo; i < hi; {
		t := p.toks[i]
		if t.Kind != TokenLParen && t.Kind != TokenLBracket {
			i++
			continue
		}
		end := p.match[i]
		if t.Kind == TokenLParen && end > i+1 {
			inner := p.toks[i+1]
			if p.isDataModifying(i+1, end) {
				return errNotQuery
			}
			if inner.Is("SELECT") || inner.Is("VALUES") || inner.Is("WITH") {
				if err := p.parseGroupQuery(i); err != nil {
					return err
				}
				i = end + 1
				continue
			}
		}
		if err := p.checkGroups(i+1, end); err != nil {
			return err
		}
		i = end + 1
	}
	return nil
}

// isDataModifying reports whether toks[i:hi] opens an INSERT, UPDATE, DELETE
// or MERGE statement. The follow token is checked because these keywords are
// not reserved and may name columns.
func (p *parser) isDataModifying(i, hi int) bool {
	next := p.at(i+1, hi)
	switch p.at(i, hi).Upper() {
	case "INSERT", "MERGE":
		return next.Is("INTO")
	case "DELETE":
		return next.Is("FROM")
	case "UPDATE":
		return i+1 < hi && (next.Kind == TokenWord || next.Kind == TokenQuotedIdent)
	}
	return false
}
