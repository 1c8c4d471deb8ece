// Package sqlguard accepts only read-only queries and caps their row count.
//
// Input is tokenized and parsed for clause structure. Exactly one statement
// is allowed and it must be a query: a SELECT, a VALUES list, a parenthesized
// query or a set operation over those, optionally preceded by WITH. Row
// limits are detected on the outermost query only, so LIMIT inside a string
// literal, identifier, comment or subquery never suppresses the cap.
package sqlguard

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/leapstack-labs/querydeck/internal/apperr"
)

// DefaultRowCap is the row limit appended to uncapped queries.
const DefaultRowCap = 1000

var (
	errNotQuery   = apperr.New(apperr.Validation, MsgOnlySelect)
	errSelectInto = apperr.New(apperr.Validation, MsgSelectInto)
	errLocking    = apperr.New(apperr.Validation, MsgLockingRows)
)

// analysis is the result of parsing a single-statement input.
type analysis struct {
	info queryInfo
	// body is the statement text with any terminator and trailing blanks removed.
	body string
	// tail reports whether a "--" comment follows the last token of body.
	tail bool
}

// Validate checks that sql is a single read-only query and returns it with
// DefaultRowCap appended when it has no LIMIT or FETCH FIRST clause.
func Validate(sql string) (string, error) {
	return ValidateWithCap(sql, DefaultRowCap)
}

// ValidateWithCap is Validate with an explicit row cap.
//
// A trailing statement terminator is always removed. A query that already
// carries LIMIT n or FETCH FIRST is otherwise returned untouched. LIMIT ALL
// caps nothing, so such a query is wrapped in a capped sub-select.
func ValidateWithCap(sql string, rowCap int) (string, error) {
	a, err := analyze(sql)
	if err != nil {
		return "", err
	}

	switch {
	case a.info.hasLimit:
		return a.body, nil
	case a.info.limitAll:
		sep := ""
		if a.tail {
			sep = "\n"
		}
		return fmt.Sprintf("SELECT * FROM (%s%s) AS capped LIMIT %d", strings.TrimLeftFunc(a.body, unicode.IsSpace), sep, rowCap), nil
	}

	sep := " "
	if a.tail {
		sep = "\n"
	}
	return fmt.Sprintf("%s%sLIMIT %d", a.body, sep, rowCap), nil
}

// HasRowLimit reports whether sql parses as a query whose outermost level
// carries a LIMIT or FETCH FIRST clause. Unparseable input reports false.
func HasRowLimit(sql string) bool {
	a, err := analyze(sql)
	if err != nil {
		return false
	}
	return a.info.hasLimit || a.info.limitAll
}

func analyze(sql string) (*analysis, error) {
	toks, lx, err := Tokenize(sql)
	if err != nil {
		return nil, syntaxError(err)
	}

	// split on terminators, keeping non-empty statements
	var spans [][2]int
	lo := 0
	for i := 0; i <= len(toks); i++ {
		if i == len(toks) || toks[i].Kind == TokenSemicolon {
			if i > lo {
				spans = append(spans, [2]int{lo, i})
			}
			lo = i + 1
		}
	}

	switch len(spans) {
	case 0:
		return nil, apperr.New(apperr.Validation, MsgEmpty)
	case 1:
	default:
		return nil, apperr.New(apperr.Validation, MsgMultiple)
	}

	lo, hi := spans[0][0], spans[0][1]
	stmt := toks[lo:hi]
	eof := lx.currentPos()
	if hi < len(toks) {
		eof = toks[hi].Pos
	}

	p, err := newParser(stmt, eof)
	if err != nil {
		return nil, syntaxError(err)
	}
	info, err := p.parseStatement(0, len(stmt))
	if err != nil {
		return nil, syntaxError(err)
	}

	start, end := 0, len(sql)
	if lo > 0 {
		start = stmt[0].Pos.Offset
	}
	if hi < len(toks) {
		end = toks[hi].Pos.Offset
	}
	terminated := lo > 0 || hi < len(toks)

	a := &analysis{info: info, body: sql[start:end]}
	if terminated || !info.hasLimit {
		a.body = strings.TrimRightFunc(a.body, unicode.IsSpace)
	}

	lastEnd := stmt[len(stmt)-1].End
	bodyEnd := start + len(a.body)
	for _, off := range lx.LineComments {
		if off >= lastEnd && off < bodyEnd {
			a.tail = true
		}
	}
	return a, nil
}

// syntaxError classifies parser failures. Already classified errors pass through.
func syntaxError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.Validation, strings.TrimSuffix(MsgSyntaxPrefix, ": "), err)
}
