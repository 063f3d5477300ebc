package loom

// tokenStream is a cursor over lexed tokens with the skip-indent helpers the
// statement and expression parsers share.
type tokenStream struct {
	toks []Token
	idx  int
	src  string
}

func newTokenStream(toks []Token, src string) *tokenStream {
	return &tokenStream{toks: toks, src: src}
}

func (ts *tokenStream) peek() Token {
	if ts.idx >= len(ts.toks) {
		return Token{Kind: TokenEOF}
	}
	return ts.toks[ts.idx]
}

func (ts *tokenStream) peekSkipIndent() Token {
	i := ts.idx
	for i < len(ts.toks) && ts.toks[i].Kind == TokenIndent {
		i++
	}
	if i >= len(ts.toks) {
		return Token{Kind: TokenEOF}
	}
	return ts.toks[i]
}

func (ts *tokenStream) consume() {
	for ts.idx < len(ts.toks) && ts.toks[ts.idx].Kind == TokenIndent {
		ts.idx++
	}
	if ts.idx < len(ts.toks) {
		ts.idx++
	}
}

// nextNoIndent consumes and returns the next non-indent token.
func (ts *tokenStream) nextNoIndent() Token {
	tok := ts.peekSkipIndent()
	ts.consume()
	return tok
}

// consumeIndent skips indent tokens without consuming anything else.
func (ts *tokenStream) consumeIndent() {
	for ts.idx < len(ts.toks) && ts.toks[ts.idx].Kind == TokenIndent {
		ts.idx++
	}
}

// consumeAllWhitespace skips indents and newlines, for constructs that may
// span lines (attribute lists, collection literals).
func (ts *tokenStream) consumeAllWhitespace() {
	for ts.idx < len(ts.toks) {
		k := ts.toks[ts.idx].Kind
		if k != TokenIndent && k != TokenNewline {
			return
		}
		ts.idx++
	}
}

func (ts *tokenStream) unexpected(expected string, found Token) *SyntaxError {
	return &SyntaxError{
		Line:     found.Line,
		Col:      found.Col,
		Expected: expected,
		Found:    found.String(),
		Src:      ts.src,
	}
}

// stmtKind tags one parsed statement.
type stmtKind uint8

const (
	stmtScopeStart stmtKind = iota
	stmtScopeEnd
	stmtNode    // widget declaration
	stmtFor     // for binding in data
	stmtIf      // if cond
	stmtElse    // else / else if cond
	stmtSwitch  // switch subject
	stmtCase    // case value
	stmtDefault // default
	stmtWith    // with binding as data
	stmtDecl    // let binding = value
	stmtComponent
	stmtSlot
	stmtAssoc     // (internal -> external) on a component
	stmtAttribute // key: expr inside [ ]
	stmtValue     // juxtaposed value expression
)

// statement is one entry in the parsed stream consumed by the compiler.
type statement struct {
	kind   stmtKind
	ident  string // node/widget name, binding, attr key, component or slot name, assoc internal
	target string // assoc external name
	expr   Expr
	line   int
}

// parser turns a token stream into a flat statement stream. Scope nesting is
// explicit: ScopeStart/ScopeEnd statements bracket the children of the
// preceding declaration, derived from line indentation.
type parser struct {
	ts         *tokenStream
	out        []statement
	openScopes []int
	baseIndent int
	sawLine    bool
}

// parseTemplate lexes and parses template source into a statement stream.
func parseTemplate(src string) ([]statement, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{ts: newTokenStream(toks, src)}
	if err := p.run(); err != nil {
		return nil, err
	}
	return p.out, nil
}

func (p *parser) emit(s statement) {
	p.out = append(p.out, s)
}

func (p *parser) run() error {
	for {
		done, err := p.line()
		if err != nil {
			return err
		}
		if done {
			// Close any scopes still open at EOF.
			for range p.openScopes {
				p.emit(statement{kind: stmtScopeEnd})
			}
			p.openScopes = p.openScopes[:0]
			return nil
		}
	}
}

// line handles one source line: indentation bookkeeping then the statement.
// Returns true at end of input.
func (p *parser) line() (bool, error) {
	indent := 0
	if tok := p.ts.peek(); tok.Kind == TokenIndent {
		indent = tok.Width
		p.ts.consumeIndent()
	}

	switch p.ts.peek().Kind {
	case TokenEOF:
		return true, nil
	case TokenNewline:
		// Blank line: indentation is not significant.
		p.ts.consume()
		return false, nil
	}

	if err := p.enterScope(indent); err != nil {
		return false, err
	}
	if err := p.statement(); err != nil {
		return false, err
	}

	// Every statement ends at a newline or EOF.
	switch tok := p.ts.peek(); tok.Kind {
	case TokenNewline:
		p.ts.consume()
		return false, nil
	case TokenEOF:
		return true, nil
	default:
		return false, p.ts.unexpected("end of line", tok)
	}
}

// enterScope reconciles the line's indent against the open scope stack,
// emitting ScopeStart/ScopeEnd statements.
func (p *parser) enterScope(indent int) error {
	if !p.sawLine {
		p.sawLine = true
		p.baseIndent = indent
	}
	if indent < p.baseIndent {
		return p.dedentError()
	}
	indent -= p.baseIndent

	if len(p.openScopes) == 0 {
		if indent > 0 {
			p.openScopes = append(p.openScopes, indent)
			p.emit(statement{kind: stmtScopeStart})
		}
		return nil
	}

	last := p.openScopes[len(p.openScopes)-1]
	switch {
	case indent > last:
		p.openScopes = append(p.openScopes, indent)
		p.emit(statement{kind: stmtScopeStart})
	case indent < last:
		// Close scopes deeper than this indent. The indent must match one
		// of the remaining open scopes (or the base level).
		for len(p.openScopes) > 0 && indent < p.openScopes[len(p.openScopes)-1] {
			p.openScopes = p.openScopes[:len(p.openScopes)-1]
			p.emit(statement{kind: stmtScopeEnd})
		}
		if indent > 0 && (len(p.openScopes) == 0 || p.openScopes[len(p.openScopes)-1] != indent) {
			return p.dedentError()
		}
	}
	return nil
}

func (p *parser) dedentError() *SyntaxError {
	tok := p.ts.peek()
	return &SyntaxError{
		Line:     tok.Line,
		Col:      tok.Col,
		Expected: "an indent matching an enclosing scope",
		Found:    "dedent",
		Src:      p.ts.src,
	}
}

// statement parses the content of one line.
func (p *parser) statement() error {
	tok := p.ts.peek()
	switch tok.Kind {
	case TokenComponent:
		p.ts.consume()
		return p.component(tok.Line)
	case TokenComponentSlot:
		p.ts.consume()
		return p.slot(tok.Line)
	case TokenIdent:
		switch tok.Ident {
		case "if":
			p.ts.consume()
			return p.ifStmt(tok.Line)
		case "else":
			p.ts.consume()
			return p.elseStmt(tok.Line)
		case "switch":
			p.ts.consume()
			return p.exprHead(stmtSwitch, tok.Line)
		case "case":
			p.ts.consume()
			return p.exprHead(stmtCase, tok.Line)
		case "default":
			p.ts.consume()
			p.emit(statement{kind: stmtDefault, line: tok.Line})
			return nil
		case "for":
			p.ts.consume()
			return p.forStmt(tok.Line)
		case "with":
			p.ts.consume()
			return p.withStmt(tok.Line)
		case "let":
			p.ts.consume()
			return p.letStmt(tok.Line)
		case "view":
			p.ts.consume()
			return p.viewStmt(tok.Line)
		}
		p.ts.consume()
		return p.node(tok.Ident, tok.Line)
	default:
		return p.ts.unexpected("a declaration", tok)
	}
}

func (p *parser) ifStmt(line int) error {
	cond, err := parseExpr(p.ts)
	if err != nil {
		return err
	}
	p.emit(statement{kind: stmtIf, expr: cond, line: line})
	return nil
}

// elseStmt handles both bare `else` and `else if cond`.
func (p *parser) elseStmt(line int) error {
	if tok := p.ts.peekSkipIndent(); tok.Kind == TokenIdent && tok.Ident == "if" {
		p.ts.consume()
		cond, err := parseExpr(p.ts)
		if err != nil {
			return err
		}
		p.emit(statement{kind: stmtElse, expr: cond, line: line})
		return nil
	}
	p.emit(statement{kind: stmtElse, line: line})
	return nil
}

func (p *parser) exprHead(kind stmtKind, line int) error {
	subject, err := parseExpr(p.ts)
	if err != nil {
		return err
	}
	p.emit(statement{kind: kind, expr: subject, line: line})
	return nil
}

func (p *parser) forStmt(line int) error {
	binding, err := p.readIdent("a loop binding")
	if err != nil {
		return err
	}
	if kw := p.ts.nextNoIndent(); kw.Kind != TokenIdent || kw.Ident != "in" {
		return p.ts.unexpected("in", kw)
	}
	data, err := parseExpr(p.ts)
	if err != nil {
		return err
	}
	p.emit(statement{kind: stmtFor, ident: binding, expr: data, line: line})
	return nil
}

func (p *parser) withStmt(line int) error {
	binding, err := p.readIdent("a binding")
	if err != nil {
		return err
	}
	if kw := p.ts.nextNoIndent(); kw.Kind != TokenIdent || kw.Ident != "as" {
		return p.ts.unexpected("as", kw)
	}
	data, err := parseExpr(p.ts)
	if err != nil {
		return err
	}
	p.emit(statement{kind: stmtWith, ident: binding, expr: data, line: line})
	return nil
}

func (p *parser) letStmt(line int) error {
	binding, err := p.readIdent("a declaration name")
	if err != nil {
		return err
	}
	if eq := p.ts.nextNoIndent(); eq.Kind != TokenEqual {
		return p.ts.unexpected("=", eq)
	}
	value, err := parseExpr(p.ts)
	if err != nil {
		return err
	}
	p.emit(statement{kind: stmtDecl, ident: binding, expr: value, line: line})
	return nil
}

// viewStmt parses the `view "name" [attrs] data` invocation form.
func (p *parser) viewStmt(line int) error {
	tok := p.ts.nextNoIndent()
	var name string
	switch tok.Kind {
	case TokenString:
		name = tok.Str
	case TokenIdent:
		name = tok.Ident
	default:
		return p.ts.unexpected("a component name", tok)
	}
	return p.componentTail(name, line)
}

// component parses the `@name (assoc) [attrs] data` shorthand.
func (p *parser) component(line int) error {
	name, err := p.readIdent("a component name")
	if err != nil {
		return err
	}
	return p.componentTail(name, line)
}

func (p *parser) componentTail(name string, line int) error {
	p.emit(statement{kind: stmtComponent, ident: name, line: line})
	if err := p.associations(); err != nil {
		return err
	}
	if err := p.attributes(); err != nil {
		return err
	}
	return p.values()
}

// associations parses `(internal -> external, ...)`.
func (p *parser) associations() error {
	if p.ts.peekSkipIndent().Kind != TokenLParen {
		return nil
	}
	p.ts.consume()
	p.ts.consumeAllWhitespace()
	for {
		if p.ts.peekSkipIndent().Kind == TokenRParen {
			p.ts.consume()
			return nil
		}
		internal, err := p.readIdent("an event name")
		if err != nil {
			return err
		}
		if arrow := p.ts.nextNoIndent(); arrow.Kind != TokenAssociation {
			return p.ts.unexpected("->", arrow)
		}
		p.ts.consumeAllWhitespace()
		external, err := p.readIdent("an event name")
		if err != nil {
			return err
		}
		p.emit(statement{kind: stmtAssoc, ident: internal, target: external})
		p.ts.consumeAllWhitespace()
		switch tok := p.ts.peek(); tok.Kind {
		case TokenComma:
			p.ts.consume()
			p.ts.consumeAllWhitespace()
		case TokenRParen:
			p.ts.consume()
			return nil
		default:
			return p.ts.unexpected(", or )", tok)
		}
	}
}

func (p *parser) slot(line int) error {
	name, err := p.readIdent("a slot name")
	if err != nil {
		return err
	}
	p.emit(statement{kind: stmtSlot, ident: name, line: line})
	return nil
}

// node parses a widget declaration: attributes then juxtaposed values.
func (p *parser) node(ident string, line int) error {
	p.emit(statement{kind: stmtNode, ident: ident, line: line})
	if err := p.attributes(); err != nil {
		return err
	}
	return p.values()
}

// attributes parses an optional `[key: expr, ...]` block, which may span
// lines.
func (p *parser) attributes() error {
	if p.ts.peekSkipIndent().Kind != TokenLBracket {
		return nil
	}
	p.ts.consume()
	p.ts.consumeAllWhitespace()
	for {
		if p.ts.peekSkipIndent().Kind == TokenRBracket {
			p.ts.consume()
			return nil
		}
		key, err := p.readIdent("an attribute name")
		if err != nil {
			return err
		}
		if colon := p.ts.nextNoIndent(); colon.Kind != TokenColon {
			return p.ts.unexpected(":", colon)
		}
		p.ts.consumeAllWhitespace()
		value, err := parseExpr(p.ts)
		if err != nil {
			return err
		}
		p.emit(statement{kind: stmtAttribute, ident: key, expr: value})
		p.ts.consumeAllWhitespace()
		switch tok := p.ts.peek(); tok.Kind {
		case TokenComma:
			p.ts.consume()
			p.ts.consumeAllWhitespace()
		case TokenRBracket:
			p.ts.consume()
			return nil
		default:
			return p.ts.unexpected(", or ]", tok)
		}
	}
}

// values parses the juxtaposed value expressions that follow a declaration
// up to the end of the line. `text "a: " a` emits two value statements.
func (p *parser) values() error {
	for {
		switch p.ts.peekSkipIndent().Kind {
		case TokenNewline, TokenEOF:
			return nil
		}
		value, err := parseExpr(p.ts)
		if err != nil {
			return err
		}
		p.emit(statement{kind: stmtValue, expr: value})
	}
}

func (p *parser) readIdent(expected string) (string, error) {
	tok := p.ts.nextNoIndent()
	if tok.Kind != TokenIdent {
		return "", p.ts.unexpected(expected, tok)
	}
	return tok.Ident, nil
}
