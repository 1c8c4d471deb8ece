package sqlguard

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind classifies lexical tokens.
type TokenKind int

// Token kinds.
const (
	TokenEOF TokenKind = iota
	TokenWord
	TokenQuotedIdent
	TokenString
	TokenNumber
	TokenParam
	TokenOperator
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenSemicolon
	TokenDot
)

var tokenNames = map[TokenKind]string{
	TokenEOF:         "end of input",
	TokenWord:        "word",
	TokenQuotedIdent: "quoted identifier",
	TokenString:      "string",
	TokenNumber:      "number",
	TokenParam:       "parameter",
	TokenOperator:    "operator",
	TokenLParen:      "'('",
	TokenRParen:      "')'",
	TokenLBracket:    "'['",
	TokenRBracket:    "']'",
	TokenComma:       "','",
	TokenSemicolon:   "';'",
	TokenDot:         "'.'",
}

func (k TokenKind) String() string {
	if s, ok := tokenNames[k]; ok {
		return s
	}
	return "unknown"
}

// Position is a location in the input.
type Position struct {
	Line   int
	Column int
	Offset int
}

// Token is a lexical token. End is the byte offset just past the token.
type Token struct {
	Kind TokenKind
	Text string
	Pos  Position
	End  int
}

// Upper returns the token text upper-cased when it is a bare word.
func (t Token) Upper() string {
	if t.Kind != TokenWord {
		return ""
	}
	return strings.ToUpper(t.Text)
}

// Is reports whether t is the bare keyword kw (upper case).
func (t Token) Is(kw string) bool {
	return t.Kind == TokenWord && strings.EqualFold(t.Text, kw)
}

func (t Token) describe() string {
	switch t.Kind {
	case TokenEOF:
		return "end of input"
	case TokenString:
		return "string literal"
	default:
		return t.Text
	}
}

// Lexer tokenizes PostgreSQL-flavored SQL. Comments and whitespace are
// dropped but their extent is remembered so callers can rewrite the tail.
type Lexer struct {
	input string
	pos   int
	line  int
	col   int

	// LineComments holds the start offsets of every "--" comment.
	LineComments []int
}

// NewLexer creates a Lexer for input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Tokenize returns every token in input, without a trailing EOF token.
func Tokenize(input string) ([]Token, *Lexer, error) {
	l := NewLexer(input)
	var toks []Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, l, err
		}
		if tok.Kind == TokenEOF {
			return toks, l, nil
		}
		toks = append(toks, tok)
	}
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off >= len(l.input) {
		return 0
	}
	return l.input[l.pos+off]
}

func (l *Lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.input); i++ {
		if l.input[l.pos] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.pos++
	}
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

func (l *Lexer) errorf(pos Position, msg string) error {
	return &LexError{Pos: pos, Message: msg}
}

func (l *Lexer) skipWhitespaceAndComments() error {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f':
			l.advance(1)
		case ch == '-' && l.peek(1) == '-':
			l.LineComments = append(l.LineComments, l.pos)
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance(1)
			}
		case ch == '/' && l.peek(1) == '*':
			if err := l.skipBlockComment(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
	return nil
}

// skipBlockComment consumes a possibly nested /* ... */ comment.
func (l *Lexer) skipBlockComment() error {
	start := l.currentPos()
	depth := 0
	for l.pos < len(l.input) {
		switch {
		case l.input[l.pos] == '/' && l.peek(1) == '*':
			depth++
			l.advance(2)
		case l.input[l.pos] == '*' && l.peek(1) == '/':
			depth--
			l.advance(2)
			if depth == 0 {
				return nil
			}
		default:
			l.advance(1)
		}
	}
	return l.errorf(start, ErrUnterminatedComment)
}

// Next returns the next token.
func (l *Lexer) Next() (Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return Token{}, err
	}

	pos := l.currentPos()
	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: pos, End: l.pos}, nil
	}

	ch := l.input[l.pos]
	switch {
	case ch == '\'':
		return l.readString(pos, false)
	case isStringPrefix(ch) && l.peek(1) == '\'':
		escapes := ch == 'E' || ch == 'e'
		l.advance(1)
		return l.readString(pos, escapes)
	case ch == '"':
		return l.readQuotedIdent(pos)
	case ch == '$':
		return l.readDollar(pos)
	case isDigit(ch) || (ch == '.' && isDigit(l.peek(1))):
		return l.readNumber(pos), nil
	case isIdentStart(l.input[l.pos:]):
		return l.readWord(pos), nil
	}

	single := map[byte]TokenKind{
		'(': TokenLParen,
		')': TokenRParen,
		'[': TokenLBracket,
		']': TokenRBracket,
		',': TokenComma,
		';': TokenSemicolon,
		'.': TokenDot,
	}
	if kind, ok := single[ch]; ok {
		l.advance(1)
		return Token{Kind: kind, Text: string(ch), Pos: pos, End: l.pos}, nil
	}

	if isOperatorChar(ch) {
		return l.readOperator(pos), nil
	}

	return Token{}, l.errorf(pos, "unexpected character "+quoteRune(l.input[l.pos:]))
}

func (l *Lexer) readString(pos Position, escapes bool) (Token, error) {
	l.advance(1) // opening quote
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case escapes && ch == '\\':
			l.advance(2)
		case ch == '\'' && l.peek(1) == '\'':
			l.advance(2)
		case ch == '\'':
			l.advance(1)
			return Token{Kind: TokenString, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}, nil
		default:
			l.advance(1)
		}
	}
	return Token{}, l.errorf(pos, ErrUnterminatedString)
}

func (l *Lexer) readQuotedIdent(pos Position) (Token, error) {
	l.advance(1)
	for l.pos < len(l.input) {
		if l.input[l.pos] == '"' {
			if l.peek(1) == '"' {
				l.advance(2)
				continue
			}
			l.advance(1)
			return Token{Kind: TokenQuotedIdent, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}, nil
		}
		l.advance(1)
	}
	return Token{}, l.errorf(pos, ErrUnterminatedIdent)
}

// readDollar reads a positional parameter ($1) or a dollar-quoted string ($tag$...$tag$).
func (l *Lexer) readDollar(pos Position) (Token, error) {
	if isDigit(l.peek(1)) {
		l.advance(1)
		for isDigit(l.peek(0)) {
			l.advance(1)
		}
		return Token{Kind: TokenParam, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}, nil
	}

	end := l.pos + 1
	for end < len(l.input) && (isIdentByte(l.input[end])) {
		end++
	}
	if end >= len(l.input) || l.input[end] != '$' {
		return Token{}, l.errorf(pos, "unexpected character '$'")
	}
	tag := l.input[l.pos : end+1]
	l.advance(len(tag))

	idx := strings.Index(l.input[l.pos:], tag)
	if idx < 0 {
		return Token{}, l.errorf(pos, ErrUnterminatedString)
	}
	l.advance(idx + len(tag))
	return Token{Kind: TokenString, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}, nil
}

func (l *Lexer) readNumber(pos Position) Token {
	for isDigit(l.peek(0)) || l.peek(0) == '_' {
		l.advance(1)
	}
	if l.peek(0) == '.' && l.peek(1) != '.' {
		l.advance(1)
		for isDigit(l.peek(0)) {
			l.advance(1)
		}
	}
	if e := l.peek(0); e == 'e' || e == 'E' {
		next := l.peek(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peek(2))) {
			l.advance(2)
			for isDigit(l.peek(0)) {
				l.advance(1)
			}
		}
	}
	return Token{Kind: TokenNumber, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}
}

func (l *Lexer) readWord(pos Position) Token {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			l.pos += size
			l.col++
			continue
		}
		break
	}
	return Token{Kind: TokenWord, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}
}

func (l *Lexer) readOperator(pos Position) Token {
	for l.pos < len(l.input) && isOperatorChar(l.input[l.pos]) {
		// a comment start ends the operator
		if (l.input[l.pos] == '-' && l.peek(1) == '-') || (l.input[l.pos] == '/' && l.peek(1) == '*') {
			if l.pos > pos.Offset {
				break
			}
		}
		l.advance(1)
	}
	return Token{Kind: TokenOperator, Text: l.input[pos.Offset:l.pos], Pos: pos, End: l.pos}
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func isIdentByte(ch byte) bool {
	return ch == '_' || isDigit(ch) || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch >= 0x80
}

func isIdentStart(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == '_' || unicode.IsLetter(r)
}

// isStringPrefix matches the E, B, X and N string constant prefixes.
func isStringPrefix(ch byte) bool {
	switch ch {
	case 'E', 'e', 'B', 'b', 'X', 'x', 'N', 'n':
		return true
	}
	return false
}

func isOperatorChar(ch byte) bool {
	return strings.IndexByte("+-*/<>=~!@#%^&|`?:", ch) >= 0
}

func quoteRune(s string) string {
	r, _ := utf8.DecodeRuneInString(s)
	return "'" + string(r) + "'"
}
