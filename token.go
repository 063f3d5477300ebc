package loom

import "fmt"

// TokenKind identifies a lexed token.
type TokenKind uint8

const (
	TokenEOF TokenKind = iota
	TokenNewline
	TokenIndent // leading spaces on a line; Width carries the count
	TokenIdent
	TokenInt
	TokenFloat
	TokenString
	TokenBool
	TokenColor // hex color literal
	TokenComponent
	TokenComponentSlot

	// Operators
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLCurly
	TokenRCurly
	TokenPlus
	TokenMinus
	TokenMul
	TokenDiv
	TokenMod
	TokenNot
	TokenEqualEqual
	TokenNotEqual
	TokenGreater
	TokenGreaterEqual
	TokenLess
	TokenLessEqual
	TokenAnd
	TokenOr
	TokenEither // ?
	TokenDot
	TokenComma
	TokenColon
	TokenEqual
	TokenAssociation // ->
)

// Token is one lexed unit with its source position (1-based line and column).
type Token struct {
	Kind  TokenKind
	Ident string  // TokenIdent
	Str   string  // TokenString, decoded
	Int   int64   // TokenInt
	Float float64 // TokenFloat
	Bool  bool    // TokenBool
	Color Color   // TokenColor
	Width int     // TokenIndent
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Kind {
	case TokenEOF:
		return "end of input"
	case TokenNewline:
		return "newline"
	case TokenIndent:
		return fmt.Sprintf("indent(%d)", t.Width)
	case TokenIdent:
		return t.Ident
	case TokenInt:
		return fmt.Sprintf("%d", t.Int)
	case TokenFloat:
		return fmt.Sprintf("%g", t.Float)
	case TokenString:
		return fmt.Sprintf("%q", t.Str)
	case TokenBool:
		return fmt.Sprintf("%t", t.Bool)
	case TokenColor:
		return "color"
	case TokenComponent:
		return "@"
	case TokenComponentSlot:
		return "$"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenLBracket:
		return "["
	case TokenRBracket:
		return "]"
	case TokenLCurly:
		return "{"
	case TokenRCurly:
		return "}"
	case TokenPlus:
		return "+"
	case TokenMinus:
		return "-"
	case TokenMul:
		return "*"
	case TokenDiv:
		return "/"
	case TokenMod:
		return "%"
	case TokenNot:
		return "!"
	case TokenEqualEqual:
		return "=="
	case TokenNotEqual:
		return "!="
	case TokenGreater:
		return ">"
	case TokenGreaterEqual:
		return ">="
	case TokenLess:
		return "<"
	case TokenLessEqual:
		return "<="
	case TokenAnd:
		return "&&"
	case TokenOr:
		return "||"
	case TokenEither:
		return "?"
	case TokenDot:
		return "."
	case TokenComma:
		return ","
	case TokenColon:
		return ":"
	case TokenEqual:
		return "="
	case TokenAssociation:
		return "->"
	}
	return "unknown token"
}
