package loom

import (
	"fmt"
	"strings"
)

// Expr is one parsed expression. Expressions are immutable after parsing and
// shared read-only across evaluation passes.
type Expr interface {
	fmt.Stringer
	exprNode()
}

// Binding powers. Higher binds tighter.
const (
	precInitial     = 0
	precEither      = 1
	precConditional = 2 // && ||
	precEquality    = 3 // == !=
	precLogical     = 4 // > >= < <=
	precSum         = 5
	precProduct     = 6
	precPrefix      = 8
	precCall        = 10
	precSubscript   = 11
)

func tokenPrecedence(k TokenKind) int {
	switch k {
	case TokenDot, TokenLBracket:
		return precSubscript
	case TokenLParen:
		return precCall
	case TokenMul, TokenDiv, TokenMod:
		return precProduct
	case TokenPlus, TokenMinus:
		return precSum
	case TokenGreater, TokenGreaterEqual, TokenLess, TokenLessEqual:
		return precLogical
	case TokenEqualEqual, TokenNotEqual:
		return precEquality
	case TokenAnd, TokenOr:
		return precConditional
	case TokenEither:
		return precEither
	}
	return precInitial
}

type (
	// BoolLit, IntLit, FloatLit, StrLit and ColorLit are literal expressions.
	BoolLit  struct{ V bool }
	IntLit   struct{ V int64 }
	FloatLit struct{ V float64 }
	StrLit   struct{ V string }
	ColorLit struct{ C Color }

	// Ident references a name resolved through the scope chain at
	// evaluation time.
	Ident struct{ Name string }

	// IndexExpr is subscript access: a.b, a[0], m['key'].
	IndexExpr struct {
		Lhs   Expr
		Index Expr
	}

	// UnaryExpr is prefix ! or -.
	UnaryExpr struct {
		Op   TokenKind
		Expr Expr
	}

	// BinaryExpr covers arithmetic, comparison and logical operators.
	BinaryExpr struct {
		Op  TokenKind
		Lhs Expr
		Rhs Expr
	}

	// EitherExpr is `lhs ? rhs`: rhs when lhs resolves to nothing.
	EitherExpr struct {
		Lhs Expr
		Rhs Expr
	}

	// CallExpr invokes a registered function.
	CallExpr struct {
		Fun  Expr
		Args []Expr
	}

	// ListLit is a [a, b, c] literal.
	ListLit struct{ Elems []Expr }

	// MapLit is a {key: expr} literal. Keys are idents or strings.
	MapLit struct {
		Keys   []string
		Values []Expr
	}
)

func (BoolLit) exprNode()    {}
func (IntLit) exprNode()     {}
func (FloatLit) exprNode()   {}
func (StrLit) exprNode()     {}
func (ColorLit) exprNode()   {}
func (Ident) exprNode()      {}
func (IndexExpr) exprNode()  {}
func (UnaryExpr) exprNode()  {}
func (BinaryExpr) exprNode() {}
func (EitherExpr) exprNode() {}
func (CallExpr) exprNode()   {}
func (ListLit) exprNode()    {}
func (MapLit) exprNode()     {}

func (e BoolLit) String() string  { return fmt.Sprintf("%t", e.V) }
func (e IntLit) String() string   { return fmt.Sprintf("%d", e.V) }
func (e FloatLit) String() string { return fmt.Sprintf("%g", e.V) }
func (e StrLit) String() string   { return fmt.Sprintf("%q", e.V) }
func (e ColorLit) String() string {
	return fmt.Sprintf("#%02x%02x%02x", e.C.R, e.C.G, e.C.B)
}
func (e Ident) String() string     { return e.Name }
func (e IndexExpr) String() string { return fmt.Sprintf("%s[%s]", e.Lhs, e.Index) }
func (e UnaryExpr) String() string {
	return fmt.Sprintf("(%s%s)", Token{Kind: e.Op}, e.Expr)
}
func (e BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", Token{Kind: e.Op}, e.Lhs, e.Rhs)
}
func (e EitherExpr) String() string { return fmt.Sprintf("(%s ? %s)", e.Lhs, e.Rhs) }
func (e CallExpr) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", e.Fun, strings.Join(args, ", "))
}
func (e ListLit) String() string {
	elems := make([]string, len(e.Elems))
	for i, el := range e.Elems {
		elems[i] = el.String()
	}
	return "[" + strings.Join(elems, ", ") + "]"
}
func (e MapLit) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range e.Keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %s", k, e.Values[i])
	}
	b.WriteString("}")
	return b.String()
}

// parseExpr parses one expression from the stream. It stops at any token that
// cannot continue an expression (newline, comma, closing brackets of the
// surrounding construct).
func parseExpr(ts *tokenStream) (Expr, error) {
	return exprBP(ts, precInitial)
}

func exprBP(ts *tokenStream, precedence int) (Expr, error) {
	var left Expr

	tok := ts.nextNoIndent()
	switch tok.Kind {
	case TokenLBracket:
		list, err := parseListLit(ts)
		if err != nil {
			return nil, err
		}
		left = list
	case TokenLCurly:
		m, err := parseMapLit(ts)
		if err != nil {
			return nil, err
		}
		left = m
	case TokenLParen:
		inner, err := exprBP(ts, precInitial)
		if err != nil {
			return nil, err
		}
		if closing := ts.nextNoIndent(); closing.Kind != TokenRParen {
			return nil, ts.unexpected(")", closing)
		}
		left = inner
	case TokenNot, TokenMinus:
		inner, err := exprBP(ts, precPrefix)
		if err != nil {
			return nil, err
		}
		left = UnaryExpr{Op: tok.Kind, Expr: inner}
	case TokenBool:
		left = BoolLit{V: tok.Bool}
	case TokenInt:
		left = IntLit{V: tok.Int}
	case TokenFloat:
		left = FloatLit{V: tok.Float}
	case TokenString:
		left = StrLit{V: tok.Str}
	case TokenColor:
		left = ColorLit{C: tok.Color}
	case TokenIdent:
		left = Ident{Name: tok.Ident}
	default:
		return nil, ts.unexpected("an expression", tok)
	}

	for {
		op := ts.peekSkipIndent()
		tokenPrec := tokenPrecedence(op.Kind)
		if precedence >= tokenPrec {
			break
		}
		ts.consume()

		// Postfix forms
		switch op.Kind {
		case TokenLParen:
			call, err := parseCallArgs(ts, left)
			if err != nil {
				return nil, err
			}
			left = call
			continue
		case TokenLBracket:
			index, err := exprBP(ts, precInitial)
			if err != nil {
				return nil, err
			}
			if closing := ts.nextNoIndent(); closing.Kind != TokenRBracket {
				return nil, ts.unexpected("]", closing)
			}
			left = IndexExpr{Lhs: left, Index: index}
			continue
		case TokenDot:
			field := ts.nextNoIndent()
			switch field.Kind {
			case TokenIdent:
				left = IndexExpr{Lhs: left, Index: StrLit{V: field.Ident}}
			case TokenInt:
				left = IndexExpr{Lhs: left, Index: IntLit{V: field.Int}}
			default:
				return nil, ts.unexpected("a field name", field)
			}
			continue
		case TokenEither:
			rhs, err := exprBP(ts, precEither)
			if err != nil {
				return nil, err
			}
			left = EitherExpr{Lhs: left, Rhs: rhs}
			continue
		}

		rhs, err := exprBP(ts, tokenPrec)
		if err != nil {
			return nil, err
		}
		left = BinaryExpr{Op: op.Kind, Lhs: left, Rhs: rhs}
	}

	return left, nil
}

func parseCallArgs(ts *tokenStream, fun Expr) (Expr, error) {
	var args []Expr
	for {
		switch ts.peekSkipIndent().Kind {
		case TokenComma:
			ts.consume()
			continue
		case TokenRParen:
			ts.consume()
			return CallExpr{Fun: fun, Args: args}, nil
		case TokenEOF:
			return nil, ts.unexpected(")", ts.peekSkipIndent())
		}
		arg, err := exprBP(ts, precInitial)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
}

func parseListLit(ts *tokenStream) (Expr, error) {
	var elems []Expr
	for {
		switch ts.peekSkipIndent().Kind {
		case TokenNewline, TokenComma:
			ts.consume()
			continue
		case TokenRBracket:
			ts.consume()
			return ListLit{Elems: elems}, nil
		case TokenEOF:
			return nil, ts.unexpected("]", ts.peekSkipIndent())
		}
		elem, err := exprBP(ts, precInitial)
		if err != nil {
			return nil, err
		}
		elems = append(elems, elem)
	}
}

func parseMapLit(ts *tokenStream) (Expr, error) {
	m := MapLit{}
	for {
		switch ts.peekSkipIndent().Kind {
		case TokenNewline, TokenComma:
			ts.consume()
			continue
		case TokenRCurly:
			ts.consume()
			return m, nil
		case TokenEOF:
			return nil, ts.unexpected("}", ts.peekSkipIndent())
		}
		key := ts.nextNoIndent()
		var name string
		switch key.Kind {
		case TokenIdent:
			name = key.Ident
		case TokenString:
			name = key.Str
		default:
			return nil, ts.unexpected("a map key", key)
		}
		if colon := ts.nextNoIndent(); colon.Kind != TokenColon {
			return nil, ts.unexpected(":", colon)
		}
		val, err := exprBP(ts, precInitial)
		if err != nil {
			return nil, err
		}
		m.Keys = append(m.Keys, name)
		m.Values = append(m.Values, val)
	}
}
