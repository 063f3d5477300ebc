package loom

import (
	"strconv"
	"unicode"
	"unicode/utf8"
)

// lexer walks template source rune by rune and produces tokens. Indentation
// is significant: a TokenIndent carrying the space count is emitted at the
// start of every line that has leading whitespace. Tabs in indentation are a
// syntax error since scopes are compared by space count.
type lexer struct {
	src  string
	pos  int // byte offset of next rune
	line int
	col  int // 1-based column of next rune

	atLineStart bool
}

func newLexer(src string) *lexer {
	return &lexer{src: src, line: 1, col: 1, atLineStart: true}
}

// lex tokenizes the whole source. The returned slice always ends with a
// TokenEOF token.
func lex(src string) ([]Token, error) {
	lx := newLexer(src)
	var tokens []Token
	for {
		tok, err := lx.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			return tokens, nil
		}
	}
}

func (lx *lexer) peekRune() (rune, int) {
	if lx.pos >= len(lx.src) {
		return 0, 0
	}
	return utf8.DecodeRuneInString(lx.src[lx.pos:])
}

func (lx *lexer) advance() rune {
	r, size := lx.peekRune()
	if size == 0 {
		return 0
	}
	lx.pos += size
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
	return r
}

func (lx *lexer) errorf(expected, found string) error {
	return &SyntaxError{Line: lx.line, Col: lx.col, Expected: expected, Found: found, Src: lx.src}
}

func (lx *lexer) token(kind TokenKind, line, col int) Token {
	return Token{Kind: kind, Line: line, Col: col}
}

func (lx *lexer) next() (Token, error) {
	if lx.atLineStart {
		lx.atLineStart = false
		line, col := lx.line, lx.col
		width := 0
		for {
			r, _ := lx.peekRune()
			if r == ' ' {
				lx.advance()
				width++
				continue
			}
			if r == '\t' {
				return Token{}, lx.errorf("spaces for indentation", "tab")
			}
			break
		}
		if width > 0 {
			return Token{Kind: TokenIndent, Width: width, Line: line, Col: col}, nil
		}
	}

	// Skip interior whitespace and comments.
	for {
		r, _ := lx.peekRune()
		if r == ' ' || r == '\t' || r == '\r' {
			lx.advance()
			continue
		}
		if r == '/' && lx.pos+1 < len(lx.src) && lx.src[lx.pos+1] == '/' {
			for {
				r, _ := lx.peekRune()
				if r == 0 || r == '\n' {
					break
				}
				lx.advance()
			}
			continue
		}
		break
	}

	line, col := lx.line, lx.col
	r, size := lx.peekRune()
	if size == 0 {
		return lx.token(TokenEOF, line, col), nil
	}

	switch {
	case r == '\n':
		lx.advance()
		lx.atLineStart = true
		return lx.token(TokenNewline, line, col), nil
	case r == '"' || r == '\'':
		return lx.lexString(r, line, col)
	case r == '#':
		return lx.lexHexColor(line, col)
	case unicode.IsDigit(r):
		return lx.lexNumber(line, col)
	case r == '_' || unicode.IsLetter(r):
		return lx.lexIdent(line, col)
	}

	lx.advance()
	switch r {
	case '@':
		return lx.token(TokenComponent, line, col), nil
	case '$':
		return lx.token(TokenComponentSlot, line, col), nil
	case '(':
		return lx.token(TokenLParen, line, col), nil
	case ')':
		return lx.token(TokenRParen, line, col), nil
	case '[':
		return lx.token(TokenLBracket, line, col), nil
	case ']':
		return lx.token(TokenRBracket, line, col), nil
	case '{':
		return lx.token(TokenLCurly, line, col), nil
	case '}':
		return lx.token(TokenRCurly, line, col), nil
	case '+':
		return lx.token(TokenPlus, line, col), nil
	case '-':
		if next, _ := lx.peekRune(); next == '>' {
			lx.advance()
			return lx.token(TokenAssociation, line, col), nil
		}
		return lx.token(TokenMinus, line, col), nil
	case '*':
		return lx.token(TokenMul, line, col), nil
	case '/':
		return lx.token(TokenDiv, line, col), nil
	case '%':
		return lx.token(TokenMod, line, col), nil
	case '?':
		return lx.token(TokenEither, line, col), nil
	case '.':
		return lx.token(TokenDot, line, col), nil
	case ',':
		return lx.token(TokenComma, line, col), nil
	case ':':
		return lx.token(TokenColon, line, col), nil
	case '!':
		if next, _ := lx.peekRune(); next == '=' {
			lx.advance()
			return lx.token(TokenNotEqual, line, col), nil
		}
		return lx.token(TokenNot, line, col), nil
	case '=':
		if next, _ := lx.peekRune(); next == '=' {
			lx.advance()
			return lx.token(TokenEqualEqual, line, col), nil
		}
		return lx.token(TokenEqual, line, col), nil
	case '>':
		if next, _ := lx.peekRune(); next == '=' {
			lx.advance()
			return lx.token(TokenGreaterEqual, line, col), nil
		}
		return lx.token(TokenGreater, line, col), nil
	case '<':
		if next, _ := lx.peekRune(); next == '=' {
			lx.advance()
			return lx.token(TokenLessEqual, line, col), nil
		}
		return lx.token(TokenLess, line, col), nil
	case '&':
		if next, _ := lx.peekRune(); next == '&' {
			lx.advance()
			return lx.token(TokenAnd, line, col), nil
		}
		return Token{}, &SyntaxError{Line: line, Col: col, Expected: "&&", Found: "&", Src: lx.src}
	case '|':
		if next, _ := lx.peekRune(); next == '|' {
			lx.advance()
			return lx.token(TokenOr, line, col), nil
		}
		return Token{}, &SyntaxError{Line: line, Col: col, Expected: "||", Found: "|", Src: lx.src}
	}
	return Token{}, &SyntaxError{Line: line, Col: col, Expected: "a token", Found: string(r), Src: lx.src}
}

func (lx *lexer) lexString(quote rune, line, col int) (Token, error) {
	lx.advance() // opening quote
	var out []rune
	for {
		r, size := lx.peekRune()
		if size == 0 || r == '\n' {
			return Token{}, &SyntaxError{Line: line, Col: col, Expected: "closing quote", Found: "end of line", Src: lx.src}
		}
		lx.advance()
		if r == quote {
			return Token{Kind: TokenString, Str: string(out), Line: line, Col: col}, nil
		}
		if r == '\\' {
			esc, size := lx.peekRune()
			if size == 0 {
				return Token{}, &SyntaxError{Line: line, Col: col, Expected: "escape character", Found: "end of input", Src: lx.src}
			}
			lx.advance()
			switch esc {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case '\\', '"', '\'':
				out = append(out, esc)
			default:
				return Token{}, lx.errorf("a valid escape", "\\"+string(esc))
			}
			continue
		}
		out = append(out, r)
	}
}

func (lx *lexer) lexHexColor(line, col int) (Token, error) {
	start := lx.pos
	lx.advance() // '#'
	for {
		r, _ := lx.peekRune()
		if r > 'f' {
			break
		}
		if _, ok := hexDigit(byte(r)); !ok {
			break
		}
		lx.advance()
	}
	c, err := parseHexColor(lx.src[start:lx.pos])
	if err != nil {
		return Token{}, lx.errorf("#RGB or #RRGGBB color", lx.src[start:lx.pos])
	}
	return Token{Kind: TokenColor, Color: c, Line: line, Col: col}, nil
}

func (lx *lexer) lexNumber(line, col int) (Token, error) {
	start := lx.pos
	isFloat := false
	for {
		r, _ := lx.peekRune()
		if unicode.IsDigit(r) {
			lx.advance()
			continue
		}
		// A dot is part of the number only when followed by a digit, so
		// index paths like 1.len don't lex as floats.
		if r == '.' && !isFloat {
			after := lx.pos + 1
			if after < len(lx.src) && lx.src[after] >= '0' && lx.src[after] <= '9' {
				isFloat = true
				lx.advance()
				continue
			}
		}
		break
	}
	text := lx.src[start:lx.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Token{}, lx.errorf("a float literal", text)
		}
		return Token{Kind: TokenFloat, Float: f, Line: line, Col: col}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Token{}, lx.errorf("an integer literal", text)
	}
	return Token{Kind: TokenInt, Int: n, Line: line, Col: col}, nil
}

func (lx *lexer) lexIdent(line, col int) (Token, error) {
	start := lx.pos
	for {
		r, _ := lx.peekRune()
		if r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			lx.advance()
			continue
		}
		break
	}
	text := lx.src[start:lx.pos]
	switch text {
	case "true":
		return Token{Kind: TokenBool, Bool: true, Line: line, Col: col}, nil
	case "false":
		return Token{Kind: TokenBool, Bool: false, Line: line, Col: col}, nil
	}
	return Token{Kind: TokenIdent, Ident: text, Line: line, Col: col}, nil
}
