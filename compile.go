package loom

// OpKind tags one compiled template instruction.
type OpKind uint8

const (
	OpWidget OpKind = iota
	OpIf
	OpElse
	OpFor
	OpWith
	OpSwitch
	OpCase
	OpDefault
	OpComponent
	OpSlot
	OpDecl
)

func (k OpKind) String() string {
	switch k {
	case OpWidget:
		return "widget"
	case OpIf:
		return "if"
	case OpElse:
		return "else"
	case OpFor:
		return "for"
	case OpWith:
		return "with"
	case OpSwitch:
		return "switch"
	case OpCase:
		return "case"
	case OpDefault:
		return "default"
	case OpComponent:
		return "component"
	case OpSlot:
		return "slot"
	case OpDecl:
		return "let"
	}
	return "op"
}

// Attr is one attribute expression on an op.
type Attr struct {
	Key  string
	Expr Expr
}

// Assoc remaps an event name a child component publishes (Internal) to the
// name the enclosing component listens on (External).
type Assoc struct {
	Internal string
	External string
}

// Op is one compiled template instruction. Ops are immutable after
// compilation and addressed by their position in Template.Ops; the evaluator
// keys its node cache by that position.
type Op struct {
	Kind     OpKind
	Ident    string // widget kind, loop/with/let binding, component or slot name
	Expr     Expr   // condition, loop data, switch subject, let value, component argument
	Attrs    []Attr
	Values   []Expr // juxtaposed value expressions
	Assoc    []Assoc
	Parent   int // -1 for roots
	Children []int
	Elses    []int // OpIf: positions of the else arms, in order
	Line     int
}

// Template is one compiled template: a flat op list plus the top-level
// positions and the template-level globals declared with let.
type Template struct {
	Name    string
	Ops     []Op
	Roots   []int
	Globals map[string]Expr
	Src     string
}

// compiler turns a statement stream into a Template, validating widget
// kinds, attribute names, function references and global declarations.
type compiler struct {
	stmts []statement
	idx   int
	ops   []Op
	tpl   *Template
	reg   *Registry
}

// CompileTemplate parses and compiles template source against the registry.
// The registry supplies the widget schemas, the function table and the known
// component names.
func CompileTemplate(name, src string, reg *Registry) (*Template, error) {
	stmts, err := parseTemplate(src)
	if err != nil {
		return nil, err
	}
	c := &compiler{
		stmts: stmts,
		tpl:   &Template{Name: name, Globals: map[string]Expr{}, Src: src},
		reg:   reg,
	}
	roots, err := c.scope(-1)
	if err != nil {
		return nil, err
	}
	if c.idx < len(c.stmts) {
		s := c.stmts[c.idx]
		return nil, &SyntaxError{Line: s.line, Col: 1, Expected: "end of template", Found: s.kind.name(), Src: src}
	}
	c.tpl.Ops = c.ops
	c.tpl.Roots = roots
	if err := c.checkSingleUse(); err != nil {
		return nil, err
	}
	return c.tpl, nil
}

func (k stmtKind) name() string {
	switch k {
	case stmtScopeStart:
		return "indent"
	case stmtScopeEnd:
		return "dedent"
	case stmtNode:
		return "a declaration"
	case stmtElse:
		return "else"
	case stmtCase:
		return "case"
	case stmtDefault:
		return "default"
	}
	return "a statement"
}

func (c *compiler) peek() statement {
	if c.idx >= len(c.stmts) {
		return statement{kind: stmtScopeEnd}
	}
	return c.stmts[c.idx]
}

func (c *compiler) atEnd() bool {
	return c.idx >= len(c.stmts)
}

func (c *compiler) addOp(op Op) int {
	pos := len(c.ops)
	c.ops = append(c.ops, op)
	return pos
}

// scope compiles statements until the enclosing scope closes, returning the
// direct child positions in declaration order.
func (c *compiler) scope(parent int) ([]int, error) {
	var children []int
	for !c.atEnd() {
		s := c.peek()
		switch s.kind {
		case stmtScopeEnd:
			c.idx++
			return children, nil
		case stmtNode:
			pos, err := c.widget(s, parent)
			if err != nil {
				return nil, err
			}
			children = append(children, pos)
		case stmtComponent:
			pos, err := c.component(s, parent)
			if err != nil {
				return nil, err
			}
			children = append(children, pos)
		case stmtSlot:
			c.idx++
			pos := c.addOp(Op{Kind: OpSlot, Ident: s.ident, Parent: parent, Line: s.line})
			children = append(children, pos)
		case stmtIf:
			pos, err := c.ifChain(s, parent)
			if err != nil {
				return nil, err
			}
			children = append(children, pos)
		case stmtSwitch:
			pos, err := c.switchOp(s, parent)
			if err != nil {
				return nil, err
			}
			children = append(children, pos)
		case stmtFor:
			c.idx++
			pos := c.addOp(Op{Kind: OpFor, Ident: s.ident, Expr: s.expr, Parent: parent, Line: s.line})
			body, err := c.childScope(pos)
			if err != nil {
				return nil, err
			}
			c.ops[pos].Children = body
			children = append(children, pos)
		case stmtWith:
			c.idx++
			pos := c.addOp(Op{Kind: OpWith, Ident: s.ident, Expr: s.expr, Parent: parent, Line: s.line})
			body, err := c.childScope(pos)
			if err != nil {
				return nil, err
			}
			c.ops[pos].Children = body
			children = append(children, pos)
		case stmtDecl:
			c.idx++
			if parent == -1 {
				// Top-level lets are the template globals.
				if _, exists := c.tpl.Globals[s.ident]; exists {
					return nil, &CompileError{Kind: DuplicateGlobal, Name: s.ident, Line: s.line}
				}
				if err := c.checkExprs(s.line, s.expr); err != nil {
					return nil, err
				}
				c.tpl.Globals[s.ident] = s.expr
				continue
			}
			if err := c.checkExprs(s.line, s.expr); err != nil {
				return nil, err
			}
			pos := c.addOp(Op{Kind: OpDecl, Ident: s.ident, Expr: s.expr, Parent: parent, Line: s.line})
			children = append(children, pos)
		case stmtElse:
			return nil, &SyntaxError{Line: s.line, Col: 1, Expected: "else to follow an if block", Found: "else", Src: c.tpl.Src}
		case stmtCase, stmtDefault:
			return nil, &SyntaxError{Line: s.line, Col: 1, Expected: "case inside a switch block", Found: s.kind.name(), Src: c.tpl.Src}
		default:
			return nil, &SyntaxError{Line: s.line, Col: 1, Expected: "a declaration", Found: s.kind.name(), Src: c.tpl.Src}
		}
	}
	return children, nil
}

// childScope compiles an optional indented block under the current op.
func (c *compiler) childScope(parent int) ([]int, error) {
	if c.atEnd() || c.peek().kind != stmtScopeStart {
		return nil, nil
	}
	c.idx++
	return c.scope(parent)
}

// gather collects the attribute, value and association statements the parser
// emitted directly after a node or component head.
func (c *compiler) gather(op *Op, line int) error {
	for !c.atEnd() {
		s := c.peek()
		switch s.kind {
		case stmtAttribute:
			op.Attrs = append(op.Attrs, Attr{Key: s.ident, Expr: s.expr})
		case stmtValue:
			op.Values = append(op.Values, s.expr)
		case stmtAssoc:
			op.Assoc = append(op.Assoc, Assoc{Internal: s.ident, External: s.target})
		default:
			return c.checkOpExprs(op, line)
		}
		c.idx++
	}
	return c.checkOpExprs(op, line)
}

func (c *compiler) checkOpExprs(op *Op, line int) error {
	for _, a := range op.Attrs {
		if err := c.checkExprs(line, a.Expr); err != nil {
			return err
		}
	}
	for _, v := range op.Values {
		if err := c.checkExprs(line, v); err != nil {
			return err
		}
	}
	if op.Expr != nil {
		return c.checkExprs(line, op.Expr)
	}
	return nil
}

func (c *compiler) widget(s statement, parent int) (int, error) {
	c.idx++
	kind, ok := widgetKinds[s.ident]
	if !ok {
		return 0, &CompileError{Kind: UnknownWidget, Name: s.ident, Line: s.line}
	}
	op := Op{Kind: OpWidget, Ident: s.ident, Parent: parent, Line: s.line}
	if err := c.gather(&op, s.line); err != nil {
		return 0, err
	}
	for _, a := range op.Attrs {
		if !kind.validAttr(a.Key) {
			return 0, &CompileError{Kind: InvalidAttribute, Name: s.ident + "." + a.Key, Line: s.line}
		}
	}
	pos := c.addOp(op)
	body, err := c.childScope(pos)
	if err != nil {
		return 0, err
	}
	c.ops[pos].Children = body
	return pos, nil
}

func (c *compiler) component(s statement, parent int) (int, error) {
	c.idx++
	if c.reg != nil && !c.reg.hasComponent(s.ident) {
		return 0, &CompileError{Kind: UnknownComponent, Name: s.ident, Line: s.line}
	}
	op := Op{Kind: OpComponent, Ident: s.ident, Parent: parent, Line: s.line}
	if err := c.gather(&op, s.line); err != nil {
		return 0, err
	}
	if len(op.Values) > 0 {
		op.Expr = op.Values[0]
		op.Values = nil
	}
	pos := c.addOp(op)
	body, err := c.childScope(pos)
	if err != nil {
		return 0, err
	}
	c.ops[pos].Children = body
	return pos, nil
}

func (c *compiler) ifChain(s statement, parent int) (int, error) {
	c.idx++
	if err := c.checkExprs(s.line, s.expr); err != nil {
		return 0, err
	}
	pos := c.addOp(Op{Kind: OpIf, Expr: s.expr, Parent: parent, Line: s.line})
	body, err := c.childScope(pos)
	if err != nil {
		return 0, err
	}
	c.ops[pos].Children = body

	for !c.atEnd() && c.peek().kind == stmtElse {
		arm := c.peek()
		c.idx++
		if arm.expr != nil {
			if err := c.checkExprs(arm.line, arm.expr); err != nil {
				return 0, err
			}
		}
		armPos := c.addOp(Op{Kind: OpElse, Expr: arm.expr, Parent: parent, Line: arm.line})
		armBody, err := c.childScope(armPos)
		if err != nil {
			return 0, err
		}
		c.ops[armPos].Children = armBody
		c.ops[pos].Elses = append(c.ops[pos].Elses, armPos)
		// A bare else terminates the chain.
		if arm.expr == nil {
			break
		}
	}
	return pos, nil
}

func (c *compiler) switchOp(s statement, parent int) (int, error) {
	c.idx++
	if err := c.checkExprs(s.line, s.expr); err != nil {
		return 0, err
	}
	pos := c.addOp(Op{Kind: OpSwitch, Expr: s.expr, Parent: parent, Line: s.line})
	if c.atEnd() || c.peek().kind != stmtScopeStart {
		return pos, nil
	}
	c.idx++

	var arms []int
	sawDefault := false
	for !c.atEnd() {
		arm := c.peek()
		switch arm.kind {
		case stmtScopeEnd:
			c.idx++
			c.ops[pos].Children = arms
			return pos, nil
		case stmtCase:
			c.idx++
			if err := c.checkExprs(arm.line, arm.expr); err != nil {
				return 0, err
			}
			armPos := c.addOp(Op{Kind: OpCase, Expr: arm.expr, Parent: pos, Line: arm.line})
			body, err := c.childScope(armPos)
			if err != nil {
				return 0, err
			}
			c.ops[armPos].Children = body
			arms = append(arms, armPos)
		case stmtDefault:
			if sawDefault {
				return 0, &SyntaxError{Line: arm.line, Col: 1, Expected: "a single default arm", Found: "default", Src: c.tpl.Src}
			}
			sawDefault = true
			c.idx++
			armPos := c.addOp(Op{Kind: OpDefault, Parent: pos, Line: arm.line})
			body, err := c.childScope(armPos)
			if err != nil {
				return 0, err
			}
			c.ops[armPos].Children = body
			arms = append(arms, armPos)
		default:
			return 0, &SyntaxError{Line: arm.line, Col: 1, Expected: "case or default", Found: arm.kind.name(), Src: c.tpl.Src}
		}
	}
	c.ops[pos].Children = arms
	return pos, nil
}

// checkExprs validates function references inside an expression tree.
// Unknown names in call position are compile errors; everything else about
// an expression is a runtime concern.
func (c *compiler) checkExprs(line int, exprs ...Expr) error {
	for _, e := range exprs {
		if e == nil {
			continue
		}
		var err error
		walkExpr(e, func(sub Expr) {
			if err != nil {
				return
			}
			call, ok := sub.(CallExpr)
			if !ok {
				return
			}
			name, ok := call.Fun.(Ident)
			if !ok {
				return
			}
			if c.reg == nil || !c.reg.hasFunction(name.Name) {
				err = &CompileError{Kind: UnknownFunction, Name: name.Name, Line: line}
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// checkSingleUse rejects templates that statically name a single-use
// component more than once.
func (c *compiler) checkSingleUse() error {
	if c.reg == nil {
		return nil
	}
	seen := map[string]int{}
	for _, op := range c.ops {
		if op.Kind != OpComponent {
			continue
		}
		if c.reg.isPrototype(op.Ident) {
			continue
		}
		seen[op.Ident]++
		if seen[op.Ident] > 1 {
			return &CompileError{Kind: DuplicateComponent, Name: op.Ident, Line: op.Line}
		}
	}
	return nil
}

// walkExpr visits every node of an expression tree.
func walkExpr(e Expr, visit func(Expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch v := e.(type) {
	case IndexExpr:
		walkExpr(v.Lhs, visit)
		walkExpr(v.Index, visit)
	case UnaryExpr:
		walkExpr(v.Expr, visit)
	case BinaryExpr:
		walkExpr(v.Lhs, visit)
		walkExpr(v.Rhs, visit)
	case EitherExpr:
		walkExpr(v.Lhs, visit)
		walkExpr(v.Rhs, visit)
	case CallExpr:
		for _, a := range v.Args {
			walkExpr(a, visit)
		}
	case ListLit:
		for _, el := range v.Elems {
			walkExpr(el, visit)
		}
	case MapLit:
		for _, val := range v.Values {
			walkExpr(val, visit)
		}
	}
}
