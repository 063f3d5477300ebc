package loom

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// nodeKey identifies one live node: the owning component instance, the op
// position within that instance's template, and the loop key accumulated
// from enclosing for statements. Node identity follows this key across
// passes and reloads, and component state survives with it.
type nodeKey struct {
	inst ComponentID
	pos  int
	loop string
}

// stateRef is one recorded state read: which store, which path.
type stateRef struct {
	st   *State
	path Path
}

func (r stateRef) valid() bool {
	return r.st != nil
}

func (r stateRef) extend(seg string) stateRef {
	if !r.valid() {
		return r
	}
	return stateRef{st: r.st, path: r.path.Child(seg)}
}

// Node is one runtime widget instance. Built and mutated by the evaluator;
// the layout engine writes only the geometry fields.
type Node struct {
	key      nodeKey
	op       *Op
	kind     *widgetKind // nil for control ops and component nodes
	children []*Node

	attrs   map[string]Value // snapshot at last evaluation
	style   Style
	content string // evaluated text payload

	deps []stateRef // state reads from the last evaluation of this node
	err  *EvalError // set when evaluation failed; subtree renders empty

	inst   *instance // component nodes
	branch int       // if/switch: taken arm, -1 for none
	count  int       // for: collection length at last evaluation

	declVal Value    // with/let: the bound value
	declRef stateRef // with/let: its state origin

	evals int // times this node's expressions were evaluated

	// Geometry, written during layout.
	size  Size
	rel   Point // offset relative to the parent element
	lines []textLine
}

func (n *Node) isElement() bool {
	return n.kind != nil
}

// elements returns the element children of n, flattening control and
// component nodes in between.
func (n *Node) elements() []*Node {
	return appendElements(nil, n)
}

func appendElements(dst []*Node, n *Node) []*Node {
	for _, c := range n.children {
		if c.err != nil {
			continue
		}
		if c.isElement() {
			dst = append(dst, c)
		} else {
			dst = appendElements(dst, c)
		}
	}
	return dst
}

func (n *Node) fail(where string, err error) {
	if ee, ok := err.(*EvalError); ok {
		n.err = ee
	} else {
		n.err = &EvalError{Path: where, Reason: err.Error()}
	}
	n.children = nil
	logger.Printf("eval: node %v: %v", n.key, n.err)
}

// scope is an immutable chain of template-local bindings: loop variables,
// with targets and nested lets. Bindings carry the state origin of their
// value so reads through them invalidate correctly.
type scope struct {
	parent *scope
	name   string
	val    Value
	ref    stateRef
}

func (s *scope) push(name string, val Value, ref stateRef) *scope {
	return &scope{parent: s, name: name, val: val, ref: ref}
}

func (s *scope) lookup(name string) (Value, stateRef, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.name == name {
			return cur.val, cur.ref, true
		}
	}
	return Nil, stateRef{}, false
}

// Tree is the living document: the compiled program, the state stores, the
// node arena and the live component instances. One goroutine owns a Tree;
// the runtime's tick loop in the shipped setup.
type Tree struct {
	reg    *Registry
	doc    *Template
	global *State

	root      *instance
	instances map[ComponentID]*instance
	order     []*instance // live instances in tree order, rebuilt per pass
	nextID    ComponentID

	arena   map[nodeKey]*Node
	readers map[*State]map[Path][]nodeKey
	roots   []*Node

	// Pass-local build state.
	newArena   map[nodeKey]*Node
	newReaders map[*State]map[Path][]nodeKey
	newOrder   []*instance
	visited    map[ComponentID]bool

	dirtyKeys  map[nodeKey]bool
	dirtyInsts map[ComponentID]bool
	dirtyAll   bool

	singleLive map[string]ComponentID
	violations map[string]bool // layout clamp log-once, reset on swap
	hostEvents []ComponentEvent

	frames int
}

// NewTree compiles every registered component template and builds the
// living tree for doc. The tree renders nothing until the first Execute.
func NewTree(doc *Template, reg *Registry) (*Tree, error) {
	if reg == nil {
		reg = NewRegistry()
	}
	if err := reg.compileAll(); err != nil {
		return nil, err
	}
	t := &Tree{
		reg:        reg,
		doc:        doc,
		global:     NewState(),
		instances:  map[ComponentID]*instance{},
		arena:      map[nodeKey]*Node{},
		readers:    map[*State]map[Path][]nodeKey{},
		dirtyKeys:  map[nodeKey]bool{},
		dirtyInsts: map[ComponentID]bool{},
		singleLive: map[string]ComponentID{},
		violations: map[string]bool{},
		dirtyAll:   true,
	}
	t.root = &instance{id: 0, state: t.global, tmpl: doc}
	t.nextID = 1
	return t, nil
}

// State returns the global state store.
func (t *Tree) State() *State {
	return t.global
}

// Document returns the compiled document template currently live.
func (t *Tree) Document() *Template {
	return t.doc
}

// Execute runs one full pass into buf: apply pending state, re-evaluate
// dirty nodes, lay the tree out under the buffer dimensions and paint.
func (t *Tree) Execute(buf *Buffer) {
	t.evaluate()
	w, h := buf.Size()
	t.layoutRoots(w, h)
	buf.Clear()
	t.paintRoots(buf)
}

// NeedsPass reports whether queued writes or a swap are waiting for the
// next pass. Hosts use it to skip idle frames.
func (t *Tree) NeedsPass() bool {
	if t.dirtyAll || t.frames == 0 || t.global.hasPending() {
		return true
	}
	for _, in := range t.instances {
		if in.state.hasPending() {
			return true
		}
	}
	return false
}

// Invalidate marks the whole tree dirty; the next pass rebuilds every node.
func (t *Tree) Invalidate() {
	t.dirtyAll = true
}

// Swap replaces the document template and rebinds every live instance to
// its freshly compiled definition. Nodes and instances survive where their
// keys still resolve against the new op lists.
func (t *Tree) Swap(doc *Template) {
	t.doc = doc
	t.root.tmpl = doc
	for _, in := range t.instances {
		if def := t.reg.definition(in.def.name); def != nil && def.tmpl != nil {
			in.def = def
			in.tmpl = def.tmpl
		}
	}
	t.dirtyAll = true
	t.violations = map[string]bool{}
}

// evaluate applies queued state and rebuilds the node tree, reusing every
// node whose dependencies are untouched.
func (t *Tree) evaluate() {
	t.applyAndMark(t.global)
	for _, in := range t.instances {
		t.applyAndMark(in.state)
	}

	t.newArena = make(map[nodeKey]*Node, len(t.arena))
	t.newReaders = map[*State]map[Path][]nodeKey{}
	t.newOrder = t.newOrder[:0]
	t.visited = map[ComponentID]bool{0: true}

	ec := &evalCtx{t: t, inst: t.root}
	t.roots = t.buildScope(ec, t.doc.Roots, "", nil)

	t.unmountStale()

	t.arena = t.newArena
	t.readers = t.newReaders
	t.order = append(t.order[:0], t.newOrder...)
	t.newArena = nil
	t.newReaders = nil
	t.dirtyKeys = map[nodeKey]bool{}
	t.dirtyInsts = map[ComponentID]bool{}
	t.dirtyAll = false
	t.frames++
}

func (t *Tree) applyAndMark(st *State) {
	changes := st.apply()
	if len(changes) == 0 || t.dirtyAll {
		return
	}
	byPath := t.readers[st]
	if len(byPath) == 0 {
		return
	}
	for _, c := range changes {
		for q, keys := range byPath {
			if !readHit(q, c) {
				continue
			}
			for _, k := range keys {
				t.dirtyKeys[k] = true
			}
		}
	}
}

// readHit decides whether a recorded read of q is invalidated by change c.
// A write to a path invalidates readers of that path and of its descendants;
// ancestor readers stay valid so loops over containers are not rebuilt by
// element writes. List insertions and removals shift only the indices at or
// after the change point.
func readHit(q Path, c Change) bool {
	if q == c.Path {
		return true
	}
	if !c.Path.contains(q) {
		return false
	}
	if c.Index < 0 {
		return true
	}
	rest := strings.TrimPrefix(string(q), string(c.Path)+".")
	seg := rest
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		seg = rest[:dot]
	}
	i, err := strconv.Atoi(seg)
	return err == nil && i >= c.Index
}

func (t *Tree) dirty(key nodeKey) bool {
	return t.dirtyAll || t.dirtyInsts[key.inst] || t.dirtyKeys[key]
}

// recordDeps re-inserts a node's dependency snapshot into the side table
// being built for this pass.
func (t *Tree) recordDeps(n *Node) {
	for _, ref := range n.deps {
		byPath := t.newReaders[ref.st]
		if byPath == nil {
			byPath = map[Path][]nodeKey{}
			t.newReaders[ref.st] = byPath
		}
		byPath[ref.path] = append(byPath[ref.path], n.key)
	}
}

func (t *Tree) unmountStale() {
	var stale []*instance
	for id, in := range t.instances {
		if !t.visited[id] {
			stale = append(stale, in)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].id < stale[j].id })
	for _, in := range stale {
		t.unmount(in)
	}
}

func (t *Tree) unmount(in *instance) {
	delete(t.instances, in.id)
	in.mailbox = nil
	if id, ok := t.singleLive[in.def.name]; ok && id == in.id {
		delete(t.singleLive, in.def.name)
	}
	if in.mounted {
		in.mounted = false
		if u, ok := in.comp.(Unmounter); ok {
			u.OnUnmount(in.ctx(t))
		}
	}
}

// buildScope materializes nodes for the ops at positions, in order. Nested
// lets extend the scope for the siblings that follow them.
func (t *Tree) buildScope(ec *evalCtx, positions []int, loop string, out []*Node) []*Node {
	saved := ec.scope
	defer func() { ec.scope = saved }()
	for _, pos := range positions {
		n := t.buildNode(ec, pos, loop)
		out = append(out, n)
		if n.op.Kind == OpDecl && n.err == nil {
			ec.scope = ec.scope.push(n.op.Ident, n.declVal, n.declRef)
		}
	}
	return out
}

func opCompatible(a, b *Op) bool {
	if a == b {
		return true
	}
	return a.Kind == b.Kind && a.Ident == b.Ident && len(a.Children) == len(b.Children)
}

func (t *Tree) buildNode(ec *evalCtx, pos int, loop string) *Node {
	key := nodeKey{inst: ec.inst.id, pos: pos, loop: loop}
	op := &ec.inst.tmpl.Ops[pos]

	n := t.arena[key]
	fresh := n == nil || !opCompatible(n.op, op)
	if fresh {
		if n != nil && n.inst != nil {
			// The op changed shape under this key; the old instance dies.
			n.inst = nil
		}
		n = &Node{key: key, branch: -1}
	}
	dirty := fresh || t.dirty(key)
	n.op = op
	t.newArena[key] = n

	switch op.Kind {
	case OpWidget:
		n.kind = widgetKinds[op.Ident]
		t.evalWidget(ec, n, dirty, loop)
	case OpIf:
		t.evalIf(ec, n, dirty, loop)
	case OpSwitch:
		t.evalSwitch(ec, n, dirty, loop)
	case OpFor:
		t.evalFor(ec, n, dirty, loop)
	case OpWith:
		t.evalWith(ec, n, dirty, loop)
	case OpDecl:
		t.evalDecl(ec, n, dirty)
	case OpComponent:
		t.evalComponent(ec, n, dirty, loop)
	case OpSlot:
		t.evalSlot(ec, n, dirty)
	default:
		n.children = nil
	}

	t.recordDeps(n)
	return n
}

func (t *Tree) evalWidget(ec *evalCtx, n *Node, dirty bool, loop string) {
	op := n.op
	if dirty {
		restore := ec.begin(n)
		attrs := make(map[string]Value, len(op.Attrs))
		for _, a := range op.Attrs {
			v, err := ec.eval(a.Expr)
			if err != nil {
				restore()
				n.fail(a.Expr.String(), err)
				return
			}
			attrs[a.Key] = v
		}
		var content strings.Builder
		for _, vexpr := range op.Values {
			v, err := ec.eval(vexpr)
			if err != nil {
				restore()
				n.fail(vexpr.String(), err)
				return
			}
			content.WriteString(v.Display())
		}
		restore()
		n.attrs = attrs
		n.style = styleFromAttrs(attrs)
		n.content = content.String()
		n.err = nil
	}
	if n.err != nil {
		n.children = nil
		return
	}
	n.children = t.buildScope(ec, op.Children, loop, n.children[:0])
}

// evalIf picks the first arm whose condition is truthy. Condition failures
// count as false so an absent state path selects the else branch instead of
// blanking the subtree.
func (t *Tree) evalIf(ec *evalCtx, n *Node, dirty bool, loop string) {
	op := n.op
	if dirty {
		restore := ec.begin(n)
		branch := -1
		if v, err := ec.eval(op.Expr); err == nil && v.Truthy() {
			branch = 0
		} else {
			for i, armPos := range op.Elses {
				arm := &ec.inst.tmpl.Ops[armPos]
				if arm.Expr == nil {
					branch = i + 1
					break
				}
				if v, err := ec.eval(arm.Expr); err == nil && v.Truthy() {
					branch = i + 1
					break
				}
			}
		}
		restore()
		n.branch = branch
		n.err = nil
	}
	n.children = n.children[:0]
	switch {
	case n.branch == 0:
		n.children = t.buildScope(ec, op.Children, loop, n.children)
	case n.branch > 0:
		arm := &ec.inst.tmpl.Ops[op.Elses[n.branch-1]]
		n.children = t.buildScope(ec, arm.Children, loop, n.children)
	}
}

func (t *Tree) evalSwitch(ec *evalCtx, n *Node, dirty bool, loop string) {
	op := n.op
	if dirty {
		restore := ec.begin(n)
		subject, _ := ec.eval(op.Expr)
		branch := -1
		defaultArm := -1
		for i, armPos := range op.Children {
			arm := &ec.inst.tmpl.Ops[armPos]
			if arm.Kind == OpDefault {
				defaultArm = i
				continue
			}
			cv, err := ec.eval(arm.Expr)
			if err == nil && subject.Equal(cv) {
				branch = i
				break
			}
		}
		if branch < 0 {
			branch = defaultArm
		}
		restore()
		n.branch = branch
		n.err = nil
	}
	n.children = n.children[:0]
	if n.branch >= 0 {
		arm := &ec.inst.tmpl.Ops[op.Children[n.branch]]
		n.children = t.buildScope(ec, arm.Children, loop, n.children)
	}
}

// evalFor materializes one subtree per collection element, keyed by index.
// A missing collection is an empty loop; a non-list value fails the node.
func (t *Tree) evalFor(ec *evalCtx, n *Node, dirty bool, loop string) {
	op := n.op
	var coll Value
	var collRef stateRef
	if dirty {
		restore := ec.begin(n)
		v, ref, err := ec.evalRef(op.Expr)
		if ref.valid() {
			ec.record(ref)
		}
		restore()
		switch {
		case err != nil || v.Kind == NilValue:
			v = ListVal(NewList())
		case v.Kind != ListValue:
			n.fail(op.Expr.String(), fmt.Errorf("for wants a list, got %s", v.Kind))
			return
		}
		coll, collRef = v, ref
		n.count = coll.List.Len()
		n.err = nil
	} else {
		v, ref, err := ec.quietRef(op.Expr)
		if err != nil || v.Kind != ListValue {
			v = ListVal(NewList())
		}
		coll, collRef = v, ref
	}

	n.children = n.children[:0]
	for i := 0; i < n.count; i++ {
		item, _ := coll.List.At(i)
		iterScope := ec.scope.
			push(op.Ident, item, collRef.extend(strconv.Itoa(i))).
			push("loop", IntVal(int64(i)), stateRef{})
		saved := ec.scope
		ec.scope = iterScope
		childLoop := loop + "/" + strconv.Itoa(i)
		n.children = t.buildScope(ec, op.Children, childLoop, n.children)
		ec.scope = saved
	}
}

func (t *Tree) evalWith(ec *evalCtx, n *Node, dirty bool, loop string) {
	op := n.op
	var val Value
	var ref stateRef
	if dirty {
		restore := ec.begin(n)
		v, r, err := ec.evalRef(op.Expr)
		if r.valid() {
			ec.record(r)
		}
		restore()
		if err != nil {
			v = Nil
		}
		val, ref = v, r
		n.declVal, n.declRef = val, ref
		n.err = nil
	} else {
		v, r, err := ec.quietRef(op.Expr)
		if err != nil {
			v = Nil
		}
		val, ref = v, r
		n.declVal, n.declRef = val, ref
	}
	saved := ec.scope
	ec.scope = ec.scope.push(op.Ident, val, ref)
	n.children = t.buildScope(ec, op.Children, loop, n.children[:0])
	ec.scope = saved
}

func (t *Tree) evalDecl(ec *evalCtx, n *Node, dirty bool) {
	op := n.op
	if dirty {
		restore := ec.begin(n)
		v, r, err := ec.evalRef(op.Expr)
		if r.valid() {
			ec.record(r)
		}
		restore()
		if err != nil {
			v = Nil
		}
		n.declVal, n.declRef = v, r
		n.err = nil
	} else {
		v, r, err := ec.quietRef(op.Expr)
		if err != nil {
			v = Nil
		}
		n.declVal, n.declRef = v, r
	}
	n.children = nil
}

func (t *Tree) evalComponent(ec *evalCtx, n *Node, dirty bool, loop string) {
	op := n.op
	def := t.reg.definition(op.Ident)
	if def == nil || def.tmpl == nil {
		n.fail(op.Ident, fmt.Errorf("component %q is not registered", op.Ident))
		return
	}

	if n.inst == nil {
		if !def.prototype {
			if liveID, ok := t.singleLive[def.name]; ok && t.instances[liveID] != nil {
				n.fail(op.Ident, fmt.Errorf("component %q is single-use and already live", op.Ident))
				return
			}
		}
		n.inst = t.newInstance(def, ec.inst, loop)
		if !def.prototype {
			t.singleLive[def.name] = n.inst.id
		}
		dirty = true
	}
	in := n.inst
	t.visited[in.id] = true
	t.newOrder = append(t.newOrder, in)

	if dirty {
		restore := ec.begin(n)
		attrs := make(map[string]Value, len(op.Attrs))
		for _, a := range op.Attrs {
			v, err := ec.eval(a.Expr)
			if err != nil {
				v = Nil
			}
			attrs[a.Key] = v
		}
		var arg Value
		var argRef stateRef
		if op.Expr != nil {
			arg, argRef, _ = ec.evalRef(op.Expr)
			if argRef.valid() {
				ec.record(argRef)
			}
		}
		restore()
		if in.mounted && !attrsEqual(in.attrs, attrs) {
			t.dirtyInsts[in.id] = true
		}
		in.attrs = attrs
		in.arg, in.argRef = arg, argRef
		in.assoc = op.Assoc
		in.fills = groupFills(ec.inst.tmpl, op.Children)
		n.err = nil
	}

	// The fill scope is refreshed every pass: slot content closes over the
	// invocation site's bindings, which are rebuilt with current values.
	in.fillOwner = ec.inst
	in.fillScope = ec.scope
	in.invokeLoop = loop

	if in.depth > maxInstanceDepth {
		n.fail(op.Ident, fmt.Errorf("component nesting deeper than %d, aborting recursion", maxInstanceDepth))
		return
	}

	if !in.mounted {
		in.mounted = true
		if m, ok := in.comp.(Mounter); ok {
			m.OnMount(in.ctx(t))
		}
		in.state.apply() // mount-time writes are visible to the first build
	}

	instEC := &evalCtx{t: t, inst: in}
	n.children = t.buildScope(instEC, in.tmpl.Roots, "", n.children[:0])
}

const maxInstanceDepth = 64

func (t *Tree) newInstance(def *componentDef, parent *instance, loop string) *instance {
	in := &instance{
		id:    t.nextID,
		def:   def,
		tmpl:  def.tmpl,
		state: NewState(),
	}
	t.nextID++
	in.parent = parent
	if parent != nil {
		in.depth = parent.depth + 1
	}
	if def.construct != nil {
		in.comp = def.construct()
	}
	if s, ok := in.comp.(Stater); ok {
		for k, v := range s.InitialState() {
			in.state.Set(Path(k), v)
		}
		in.state.apply()
	}
	t.instances[in.id] = in
	return in
}

// groupFills splits an invocation's children into slot fills: children under
// a $name op fill that slot, everything else fills "children".
func groupFills(tmpl *Template, children []int) map[string][]int {
	if len(children) == 0 {
		return nil
	}
	fills := map[string][]int{}
	for _, pos := range children {
		op := &tmpl.Ops[pos]
		if op.Kind == OpSlot {
			fills[op.Ident] = append(fills[op.Ident], op.Children...)
			continue
		}
		fills["children"] = append(fills["children"], pos)
	}
	return fills
}

// evalSlot splices the invocation's fill ops into the component template,
// evaluated in the invocation site's scope so fills see the caller's
// bindings, not the component's.
func (t *Tree) evalSlot(ec *evalCtx, n *Node, dirty bool) {
	in := ec.inst
	if dirty {
		n.evals++
		n.err = nil
	}
	ops := in.fills[n.op.Ident]
	if len(ops) == 0 || in.fillOwner == nil {
		n.children = nil
		return
	}
	fillEC := &evalCtx{t: t, inst: in.fillOwner, scope: in.fillScope}
	fillLoop := in.invokeLoop + "~" + strconv.Itoa(int(in.id)) + n.key.loop
	n.children = t.buildScope(fillEC, ops, fillLoop, n.children[:0])
}

func attrsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}

// publish routes a child publication to the parent component's mailbox,
// renamed through the invocation's association list. With no associations
// the internal name passes through; with associations, unmapped names are
// dropped.
func (t *Tree) publish(from *instance, name string, value Value) {
	parent := from.parent
	if parent == nil {
		return
	}
	external := name
	if len(from.assoc) > 0 {
		external = ""
		for _, a := range from.assoc {
			if a.Internal == name {
				external = a.External
				break
			}
		}
		if external == "" {
			logger.Printf("publish: %q has no association on %s, dropped", name, from.def.name)
			return
		}
	}
	ev := ComponentEvent{Name: external, Value: value, From: from.id}
	if parent.id == 0 {
		// Publications out of top-level components surface to the host.
		t.hostEvents = append(t.hostEvents, ev)
		return
	}
	parent.deliver(ev)
}

// Deliver queues msg on the component's mailbox, drained next tick. Call on
// the goroutine that owns the tree; use an Emitter from anywhere else.
func (t *Tree) Deliver(to ComponentID, msg any) {
	if in, ok := t.instances[to]; ok {
		in.deliver(msg)
		return
	}
	logger.Printf("deliver: no live component %d, dropped", to)
}

// HostEvents returns and clears publications that reached the document root
// without a component to receive them.
func (t *Tree) HostEvents() []ComponentEvent {
	evs := t.hostEvents
	t.hostEvents = nil
	return evs
}

// DispatchTick calls every live Ticker in tree order with the time elapsed
// since its previous tick.
func (t *Tree) DispatchTick(now time.Time) {
	for _, in := range t.order {
		tick, ok := in.comp.(Ticker)
		if !ok {
			continue
		}
		var dt time.Duration
		if !in.ticked.IsZero() {
			dt = now.Sub(in.ticked)
		}
		in.ticked = now
		tick.OnTick(in.ctx(t), dt)
	}
}

// DispatchMessages drains component mailboxes in tree order until done or
// the budget is spent; leftovers stay queued for the next tick.
func (t *Tree) DispatchMessages(budget time.Duration) {
	start := time.Now()
	for _, in := range t.order {
		if len(in.mailbox) == 0 {
			continue
		}
		recv, ok := in.comp.(Receiver)
		if !ok {
			in.mailbox = in.mailbox[:0]
			continue
		}
		ctx := in.ctx(t)
		for len(in.mailbox) > 0 {
			msg := in.mailbox[0]
			in.mailbox = in.mailbox[1:]
			recv.OnMessage(ctx, msg)
			if budget > 0 && time.Since(start) > budget {
				return
			}
		}
	}
}

// DispatchKey offers a key event to every live KeyHandler in tree order.
func (t *Tree) DispatchKey(ev KeyEvent) {
	for _, in := range t.order {
		if kh, ok := in.comp.(KeyHandler); ok {
			kh.OnKey(in.ctx(t), ev)
		}
	}
}

// evalCtx threads the evaluation environment through one build pass: the
// instance whose template is being walked, the scope chain, and the node
// currently recording state reads.
type evalCtx struct {
	t     *Tree
	inst  *instance
	scope *scope
	node  *Node
	quiet bool
	depth int // global expansion depth, cycles fail
}

// begin makes n the current reader and counts the evaluation; the returned
// function restores the previous reader.
func (ec *evalCtx) begin(n *Node) func() {
	prev := ec.node
	n.evals++
	n.deps = n.deps[:0]
	ec.node = n
	return func() { ec.node = prev }
}

func (ec *evalCtx) record(ref stateRef) {
	if ec.quiet || ec.node == nil || !ref.valid() {
		return
	}
	for _, have := range ec.node.deps {
		if have == ref {
			return
		}
	}
	ec.node.deps = append(ec.node.deps, ref)
}

// quietRef re-resolves an expression without touching the dependency
// snapshot, used when a clean node's bindings are rebuilt during the walk.
func (ec *evalCtx) quietRef(e Expr) (Value, stateRef, error) {
	saved := ec.quiet
	ec.quiet = true
	v, ref, err := ec.evalRef(e)
	ec.quiet = saved
	return v, ref, err
}

// eval evaluates an expression, recording the deepest state paths it reads
// against the current node.
func (ec *evalCtx) eval(e Expr) (Value, error) {
	switch e.(type) {
	case Ident, IndexExpr:
		v, ref, err := ec.evalRef(e)
		if ref.valid() {
			ec.record(ref)
		}
		return v, err
	}
	return ec.evalPlain(e)
}

// evalRef evaluates reference-shaped expressions, returning the state origin
// of the value so subscripts extend it and callers record the full path.
func (ec *evalCtx) evalRef(e Expr) (Value, stateRef, error) {
	switch v := e.(type) {
	case Ident:
		return ec.resolveIdent(v.Name)
	case IndexExpr:
		lv, lref, lerr := ec.evalRef(v.Lhs)
		idx, ierr := ec.eval(v.Index)
		if ierr != nil {
			return Nil, lref, ierr
		}
		seg, segOK := indexSegment(idx)
		ref := lref
		if segOK {
			ref = lref.extend(seg)
		}
		if lerr != nil {
			// The hole starts higher up; keep extending the intended path so
			// a later write to it re-evaluates this node.
			ec.record(ref)
			return Nil, ref, lerr
		}
		out, err := subscript(lv, idx)
		if err != nil {
			ec.record(ref)
			return Nil, ref, err
		}
		return out, ref, nil
	}
	out, err := ec.evalPlain(e)
	return out, stateRef{}, err
}

// resolveIdent walks the resolution order: scope chain, component state,
// invocation attributes, invocation argument, template globals, global
// state. A total miss records both state candidates so a later write wakes
// the node up.
func (ec *evalCtx) resolveIdent(name string) (Value, stateRef, error) {
	if v, ref, ok := ec.scope.lookup(name); ok {
		return v, ref, nil
	}

	in := ec.inst
	instRef := stateRef{st: in.state, path: Path(name)}
	if v, ok := in.state.Get(Path(name)); ok {
		return v, instRef, nil
	}

	if in.attrs != nil {
		if v, ok := in.attrs[name]; ok {
			return v, stateRef{}, nil
		}
	}
	if in.arg.Kind == MapValue {
		if v, ok := in.arg.Map.At(name); ok {
			return v, in.argRef.extend(name), nil
		}
	}

	if g, ok := ec.inst.tmpl.Globals[name]; ok {
		if ec.depth >= 32 {
			return Nil, stateRef{}, fmt.Errorf("global %q expands into itself", name)
		}
		sub := &evalCtx{t: ec.t, inst: ec.inst, node: ec.node, quiet: ec.quiet, depth: ec.depth + 1}
		v, err := sub.eval(g)
		return v, stateRef{}, err
	}

	globalRef := stateRef{st: ec.t.global, path: Path(name)}
	if v, ok := ec.t.global.Get(Path(name)); ok {
		return v, globalRef, nil
	}

	ec.record(instRef)
	ec.record(globalRef)
	return Nil, stateRef{}, fmt.Errorf("unknown identifier %q", name)
}

func (ec *evalCtx) evalPlain(e Expr) (Value, error) {
	switch v := e.(type) {
	case BoolLit:
		return BoolVal(v.V), nil
	case IntLit:
		return IntVal(v.V), nil
	case FloatLit:
		return FloatVal(v.V), nil
	case StrLit:
		return StrVal(v.V), nil
	case ColorLit:
		return ColorVal(v.C), nil
	case ListLit:
		items := make([]Value, len(v.Elems))
		for i, el := range v.Elems {
			ev, err := ec.eval(el)
			if err != nil {
				return Nil, err
			}
			items[i] = ev
		}
		return ListVal(&List{items: items}), nil
	case MapLit:
		m := NewMap()
		for i, key := range v.Keys {
			ev, err := ec.eval(v.Values[i])
			if err != nil {
				return Nil, err
			}
			m.entries[key] = ev
		}
		return MapVal(m), nil
	case UnaryExpr:
		return ec.evalUnary(v)
	case BinaryExpr:
		return ec.evalBinary(v)
	case EitherExpr:
		lv, err := ec.eval(v.Lhs)
		if err == nil && lv.Kind != NilValue {
			return lv, nil
		}
		return ec.eval(v.Rhs)
	case CallExpr:
		return ec.evalCall(v)
	case Ident, IndexExpr:
		return ec.eval(e)
	}
	return Nil, fmt.Errorf("cannot evaluate %s", e)
}

func (ec *evalCtx) evalUnary(e UnaryExpr) (Value, error) {
	v, err := ec.eval(e.Expr)
	if err != nil && e.Op == TokenNot {
		// !missing is true; the read was recorded.
		return BoolVal(true), nil
	}
	if err != nil {
		return Nil, err
	}
	switch e.Op {
	case TokenNot:
		return BoolVal(!v.Truthy()), nil
	case TokenMinus:
		switch v.Kind {
		case IntValue:
			return IntVal(-v.Int), nil
		case FloatValue:
			return FloatVal(-v.Float), nil
		}
		return Nil, fmt.Errorf("cannot negate %s", v.Kind)
	}
	return Nil, fmt.Errorf("unsupported unary operator")
}

func (ec *evalCtx) evalBinary(e BinaryExpr) (Value, error) {
	lv, lerr := ec.eval(e.Lhs)

	// Logical operators coerce missing values to false and short-circuit.
	switch e.Op {
	case TokenAnd:
		if lerr != nil || !lv.Truthy() {
			return BoolVal(false), nil
		}
		rv, rerr := ec.eval(e.Rhs)
		return BoolVal(rerr == nil && rv.Truthy()), nil
	case TokenOr:
		if lerr == nil && lv.Truthy() {
			return BoolVal(true), nil
		}
		rv, rerr := ec.eval(e.Rhs)
		return BoolVal(rerr == nil && rv.Truthy()), nil
	}

	if lerr != nil {
		return Nil, lerr
	}
	rv, rerr := ec.eval(e.Rhs)
	if rerr != nil {
		return Nil, rerr
	}

	switch e.Op {
	case TokenEqualEqual:
		return BoolVal(lv.Equal(rv)), nil
	case TokenNotEqual:
		return BoolVal(!lv.Equal(rv)), nil
	}

	if lv.Kind == StrValue && rv.Kind == StrValue {
		switch e.Op {
		case TokenPlus:
			return StrVal(lv.Str + rv.Str), nil
		case TokenGreater:
			return BoolVal(lv.Str > rv.Str), nil
		case TokenGreaterEqual:
			return BoolVal(lv.Str >= rv.Str), nil
		case TokenLess:
			return BoolVal(lv.Str < rv.Str), nil
		case TokenLessEqual:
			return BoolVal(lv.Str <= rv.Str), nil
		}
	}

	if !lv.isNumber() || !rv.isNumber() {
		return Nil, fmt.Errorf("operator %s wants numbers, got %s and %s", Token{Kind: e.Op}, lv.Kind, rv.Kind)
	}

	if lv.Kind == IntValue && rv.Kind == IntValue {
		a, b := lv.Int, rv.Int
		switch e.Op {
		case TokenPlus:
			return IntVal(a + b), nil
		case TokenMinus:
			return IntVal(a - b), nil
		case TokenMul:
			return IntVal(a * b), nil
		case TokenDiv:
			if b == 0 {
				return Nil, fmt.Errorf("division by zero")
			}
			return IntVal(a / b), nil
		case TokenMod:
			if b == 0 {
				return Nil, fmt.Errorf("modulo by zero")
			}
			return IntVal(a % b), nil
		case TokenGreater:
			return BoolVal(a > b), nil
		case TokenGreaterEqual:
			return BoolVal(a >= b), nil
		case TokenLess:
			return BoolVal(a < b), nil
		case TokenLessEqual:
			return BoolVal(a <= b), nil
		}
	}

	a, b := lv.asFloat(), rv.asFloat()
	switch e.Op {
	case TokenPlus:
		return FloatVal(a + b), nil
	case TokenMinus:
		return FloatVal(a - b), nil
	case TokenMul:
		return FloatVal(a * b), nil
	case TokenDiv:
		if b == 0 {
			return Nil, fmt.Errorf("division by zero")
		}
		return FloatVal(a / b), nil
	case TokenMod:
		return Nil, fmt.Errorf("modulo wants integers")
	case TokenGreater:
		return BoolVal(a > b), nil
	case TokenGreaterEqual:
		return BoolVal(a >= b), nil
	case TokenLess:
		return BoolVal(a < b), nil
	case TokenLessEqual:
		return BoolVal(a <= b), nil
	}
	return Nil, fmt.Errorf("unsupported operator %s", Token{Kind: e.Op})
}

func (ec *evalCtx) evalCall(e CallExpr) (Value, error) {
	name, ok := e.Fun.(Ident)
	if !ok {
		return Nil, fmt.Errorf("cannot call %s", e.Fun)
	}
	fn, ok := ec.t.reg.lookupFunction(name.Name)
	if !ok {
		return Nil, fmt.Errorf("unknown function %q", name.Name)
	}
	args := make([]Value, len(e.Args))
	for i, a := range e.Args {
		av, err := ec.eval(a)
		if err != nil {
			return Nil, err
		}
		args[i] = av
	}
	out, err := fn(args...)
	if err != nil {
		return Nil, fmt.Errorf("%s: %w", name.Name, err)
	}
	return out, nil
}

// indexSegment renders a subscript value as a path segment for dependency
// extension. Maps key by display string, lists by decimal index.
func indexSegment(idx Value) (string, bool) {
	switch idx.Kind {
	case StrValue:
		return idx.Str, true
	case IntValue:
		return strconv.FormatInt(idx.Int, 10), true
	}
	return "", false
}

func subscript(v, idx Value) (Value, error) {
	switch v.Kind {
	case MapValue:
		key := idx.Display()
		out, ok := v.Map.At(key)
		if !ok {
			return Nil, fmt.Errorf("no key %q", key)
		}
		return out, nil
	case ListValue:
		i, ok := idx.AsInt()
		if !ok {
			return Nil, fmt.Errorf("list index must be an integer")
		}
		out, ok := v.List.At(i)
		if !ok {
			return Nil, fmt.Errorf("index %d out of range", i)
		}
		return out, nil
	case NilValue:
		return Nil, fmt.Errorf("cannot index into nothing")
	}
	return Nil, fmt.Errorf("cannot index into %s", v.Kind)
}
