package loom

import "testing"

func kinds(t *testing.T, src string) []TokenKind {
	t.Helper()
	tokens, err := lex(src)
	if err != nil {
		t.Fatalf("lex(%q): %v", src, err)
	}
	out := make([]TokenKind, len(tokens))
	for i, tok := range tokens {
		out[i] = tok.Kind
	}
	return out
}

func TestLexKinds(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []TokenKind
	}{
		{"widget and string", `text "hi"`,
			[]TokenKind{TokenIdent, TokenString, TokenEOF}},
		{"indent carries width", "a\n    b",
			[]TokenKind{TokenIdent, TokenNewline, TokenIndent, TokenIdent, TokenEOF}},
		{"attrs block", `border [width: 3, bold: true]`,
			[]TokenKind{TokenIdent, TokenLBracket, TokenIdent, TokenColon, TokenInt,
				TokenComma, TokenIdent, TokenColon, TokenBool, TokenRBracket, TokenEOF}},
		{"component invocation", `@todo (items)`,
			[]TokenKind{TokenComponent, TokenIdent, TokenLParen, TokenIdent, TokenRParen, TokenEOF}},
		{"slot marker", `$header`,
			[]TokenKind{TokenComponentSlot, TokenIdent, TokenEOF}},
		{"comparison chain", `a == b != c < d <= e > f >= g`,
			[]TokenKind{TokenIdent, TokenEqualEqual, TokenIdent, TokenNotEqual, TokenIdent,
				TokenLess, TokenIdent, TokenLessEqual, TokenIdent, TokenGreater, TokenIdent,
				TokenGreaterEqual, TokenIdent, TokenEOF}},
		{"logic and either", `a && b || !c ? d`,
			[]TokenKind{TokenIdent, TokenAnd, TokenIdent, TokenOr, TokenNot, TokenIdent,
				TokenEither, TokenIdent, TokenEOF}},
		{"arithmetic", `1 + 2 * 3 / 4 % 5`,
			[]TokenKind{TokenInt, TokenPlus, TokenInt, TokenMul, TokenInt, TokenDiv,
				TokenInt, TokenMod, TokenInt, TokenEOF}},
		{"association arrow", `submit -> saved`,
			[]TokenKind{TokenIdent, TokenAssociation, TokenIdent, TokenEOF}},
		{"minus not arrow", `a - b`,
			[]TokenKind{TokenIdent, TokenMinus, TokenIdent, TokenEOF}},
		{"path access", `user.name`,
			[]TokenKind{TokenIdent, TokenDot, TokenIdent, TokenEOF}},
		{"arg map", `{count = 1}`,
			[]TokenKind{TokenLCurly, TokenIdent, TokenEqual, TokenInt, TokenRCurly, TokenEOF}},
		{"comment to end of line", "text // trailing note\nfoo",
			[]TokenKind{TokenIdent, TokenNewline, TokenIdent, TokenEOF}},
		{"blank source", "",
			[]TokenKind{TokenEOF}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := kinds(t, tt.src)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d tokens %v, want %d %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d: got %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLexStrings(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`"hello"`, "hello"},
		{`'single'`, "single"},
		{`"a\nb"`, "a\nb"},
		{`"a\tb"`, "a\tb"},
		{`"say \"hi\""`, `say "hi"`},
		{`"back\\slash"`, `back\slash`},
		{`'it\'s'`, "it's"},
		{`"日本語"`, "日本語"},
	}
	for _, tt := range tests {
		tokens, err := lex(tt.src)
		if err != nil {
			t.Fatalf("lex(%q): %v", tt.src, err)
		}
		if tokens[0].Kind != TokenString || tokens[0].Str != tt.want {
			t.Errorf("lex(%q): got %q, want %q", tt.src, tokens[0].Str, tt.want)
		}
	}
}

func TestLexStringErrors(t *testing.T) {
	for _, src := range []string{`"open`, "\"nl\n\"", `"bad \x"`} {
		if _, err := lex(src); err == nil {
			t.Errorf("lex(%q): expected error", src)
		}
	}
}

func TestLexNumbers(t *testing.T) {
	tokens, err := lex(`42 3.14 0.5`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Kind != TokenInt || tokens[0].Int != 42 {
		t.Errorf("int: got %v %d", tokens[0].Kind, tokens[0].Int)
	}
	if tokens[1].Kind != TokenFloat || tokens[1].Float != 3.14 {
		t.Errorf("float: got %v %g", tokens[1].Kind, tokens[1].Float)
	}
	if tokens[2].Kind != TokenFloat || tokens[2].Float != 0.5 {
		t.Errorf("float: got %v %g", tokens[2].Kind, tokens[2].Float)
	}
}

// A dot after a number is only a decimal point when a digit follows, so
// indexing into lists like items.1.len still works.
func TestLexNumberDotIdent(t *testing.T) {
	got := kinds(t, `items.1.len`)
	want := []TokenKind{TokenIdent, TokenDot, TokenInt, TokenDot, TokenIdent, TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("token %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexHexColors(t *testing.T) {
	tests := []struct {
		src  string
		want Color
	}{
		{`#fff`, RGB(255, 255, 255)},
		{`#000`, RGB(0, 0, 0)},
		{`#ff0000`, RGB(255, 0, 0)},
		{`#8787ff`, RGB(0x87, 0x87, 0xff)},
	}
	for _, tt := range tests {
		tokens, err := lex(tt.src)
		if err != nil {
			t.Fatalf("lex(%q): %v", tt.src, err)
		}
		if tokens[0].Kind != TokenColor || !tokens[0].Color.Equal(tt.want) {
			t.Errorf("lex(%q): got %+v, want %+v", tt.src, tokens[0].Color, tt.want)
		}
	}
	for _, src := range []string{`#`, `#ab`, `#abcd`} {
		if _, err := lex(src); err == nil {
			t.Errorf("lex(%q): expected error", src)
		}
	}
}

func TestLexIdents(t *testing.T) {
	tokens, err := lex(`border_style top-left _x true false`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Ident != "border_style" {
		t.Errorf("got %q", tokens[0].Ident)
	}
	// dashes are ident characters, not a minus
	if tokens[1].Kind != TokenIdent || tokens[1].Ident != "top-left" {
		t.Errorf("got %v %q, want ident top-left", tokens[1].Kind, tokens[1].Ident)
	}
	if tokens[2].Ident != "_x" {
		t.Errorf("got %q", tokens[2].Ident)
	}
	if tokens[3].Kind != TokenBool || !tokens[3].Bool {
		t.Errorf("true: got %v", tokens[3].Kind)
	}
	if tokens[4].Kind != TokenBool || tokens[4].Bool {
		t.Errorf("false: got %v", tokens[4].Kind)
	}
}

func TestLexIndent(t *testing.T) {
	tokens, err := lex("a\n  b\n      c")
	if err != nil {
		t.Fatal(err)
	}
	var indents []int
	for _, tok := range tokens {
		if tok.Kind == TokenIndent {
			indents = append(indents, tok.Width)
		}
	}
	if len(indents) != 2 || indents[0] != 2 || indents[1] != 6 {
		t.Errorf("indent widths: got %v, want [2 6]", indents)
	}
}

func TestLexTabIndentRejected(t *testing.T) {
	_, err := lex("a\n\tb")
	se, ok := err.(*SyntaxError)
	if !ok {
		t.Fatalf("expected *SyntaxError, got %v", err)
	}
	if se.Line != 2 {
		t.Errorf("line: got %d, want 2", se.Line)
	}
}

func TestLexLoneAmpersandRejected(t *testing.T) {
	for _, src := range []string{`a & b`, `a | b`, `a ^ b`} {
		if _, err := lex(src); err == nil {
			t.Errorf("lex(%q): expected error", src)
		}
	}
}

func TestLexPositions(t *testing.T) {
	tokens, err := lex("ab\n  cd")
	if err != nil {
		t.Fatal(err)
	}
	// ab, newline, indent, cd, eof
	checks := []struct{ i, line, col int }{
		{0, 1, 1}, {1, 1, 3}, {2, 2, 1}, {3, 2, 3},
	}
	for _, c := range checks {
		if tokens[c.i].Line != c.line || tokens[c.i].Col != c.col {
			t.Errorf("token %d at %d:%d, want %d:%d",
				c.i, tokens[c.i].Line, tokens[c.i].Col, c.line, c.col)
		}
	}
}

func BenchmarkLex(b *testing.B) {
	src := `
vstack [width: 40]
    for item in items
        text [foreground: #8787ff] item.name + ": " + to_str(item.count)
`
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := lex(src); err != nil {
			b.Fatal(err)
		}
	}
}
