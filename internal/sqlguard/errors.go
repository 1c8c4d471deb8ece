package sqlguard

import "fmt"

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// LexError represents a lexical analysis error.
type LexError struct {
	Pos     Position
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lexer error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken     = "unexpected token %s, expected %s"
	ErrUnterminatedString  = "unterminated string literal"
	ErrUnterminatedIdent   = "unterminated quoted identifier"
	ErrUnterminatedComment = "unterminated block comment"
	ErrUnbalanced          = "unbalanced %s"
	ErrEmptyClause         = "%s clause is empty"
)

// Messages returned to callers as validation errors.
const (
	MsgEmpty        = "Empty SQL statement"
	MsgMultiple     = "Multiple statements not allowed. Please provide a single SELECT statement."
	MsgOnlySelect   = "Only SELECT statements are allowed"
	MsgSelectInto   = "SELECT INTO is not allowed in read-only queries"
	MsgLockingRows  = "Row locking clauses (FOR UPDATE/SHARE) are not allowed in read-only queries"
	MsgSyntaxPrefix = "Invalid SQL syntax: "
)
