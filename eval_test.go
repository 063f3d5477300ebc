package loom

import "testing"

func buildTree(t *testing.T, src string, reg *Registry) *Tree {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	tmpl, err := CompileTemplate("test", src, reg)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	tree, err := NewTree(tmpl, reg)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	return tree
}

func runPass(tree *Tree, w, h int) *Buffer {
	buf := NewBuffer(w, h)
	tree.Execute(buf)
	return buf
}

// nodesByIdent walks the live tree and returns nodes whose op carries the
// ident, in tree order.
func nodesByIdent(tree *Tree, ident string) []*Node {
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.op != nil && n.op.Ident == ident {
			out = append(out, n)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	for _, r := range tree.roots {
		walk(r)
	}
	return out
}

func nodeByContent(t *testing.T, tree *Tree, content string) *Node {
	t.Helper()
	for _, n := range nodesByIdent(tree, "text") {
		if n.content == content {
			return n
		}
	}
	t.Fatalf("no text node with content %q", content)
	return nil
}

// A write re-evaluates only the nodes that read the touched path; siblings
// keep their previous evaluation.
func TestIncrementalReevaluation(t *testing.T) {
	tree := buildTree(t, `
vstack
    text title
    text subtitle
`, nil)
	tree.global.Set("title", "Hello")
	tree.global.Set("subtitle", "World")
	buf := runPass(tree, 20, 4)
	if buf.GetLine(0) != "Hello" || buf.GetLine(1) != "World" {
		t.Fatalf("first pass: %q / %q", buf.GetLine(0), buf.GetLine(1))
	}

	title := nodeByContent(t, tree, "Hello")
	subtitle := nodeByContent(t, tree, "World")
	stack := nodesByIdent(tree, "vstack")[0]
	if title.evals != 1 || subtitle.evals != 1 {
		t.Fatalf("evals after first pass: %d / %d", title.evals, subtitle.evals)
	}

	tree.global.Set("title", "Changed")
	buf = runPass(tree, 20, 4)
	if buf.GetLine(0) != "Changed" {
		t.Errorf("got %q", buf.GetLine(0))
	}
	if title.evals != 2 {
		t.Errorf("title should re-evaluate, evals %d", title.evals)
	}
	if subtitle.evals != 1 {
		t.Errorf("subtitle should be untouched, evals %d", subtitle.evals)
	}
	if stack.evals != 1 {
		t.Errorf("stack should be untouched, evals %d", stack.evals)
	}

	// a pass with no writes re-evaluates nothing
	runPass(tree, 20, 4)
	if title.evals != 2 || subtitle.evals != 1 {
		t.Errorf("idle pass re-evaluated: %d / %d", title.evals, subtitle.evals)
	}
}

// Loop subtrees are keyed by collection index: removing the head shifts
// every element into an existing key, which re-evaluates in place.
func TestForLoopKeys(t *testing.T) {
	tree := buildTree(t, `
for item in items
    text item
`, nil)
	tree.global.Set("items", []string{"a", "b", "c"})
	buf := runPass(tree, 10, 4)
	for i, want := range []string{"a", "b", "c"} {
		if got := buf.GetLine(i); got != want {
			t.Fatalf("line %d: got %q, want %q", i, got, want)
		}
	}

	head := nodeByContent(t, tree, "a")

	tree.global.RemoveAt("items", 0)
	buf = runPass(tree, 10, 4)
	if buf.GetLine(0) != "b" || buf.GetLine(1) != "c" || buf.GetLine(2) != "" {
		t.Fatalf("after remove: %q / %q / %q", buf.GetLine(0), buf.GetLine(1), buf.GetLine(2))
	}

	texts := nodesByIdent(tree, "text")
	if len(texts) != 2 {
		t.Fatalf("children: got %d", len(texts))
	}
	if texts[0] != head {
		t.Error("the node at index 0 should be reused under its key")
	}
	if head.content != "b" {
		t.Errorf("reused node content: got %q", head.content)
	}
	if _, ok := tree.arena[nodeKey{inst: 0, pos: texts[0].key.pos, loop: "/2"}]; ok {
		t.Error("key /2 should have left the arena")
	}
}

// Writes to one element leave sibling subtrees alone; the loop itself only
// rebuilds when the collection shape changes.
func TestForElementWriteTouchesOneChild(t *testing.T) {
	tree := buildTree(t, `
for item in items
    text item.name
`, nil)
	tree.global.Set("items", []any{
		map[string]any{"name": "one"},
		map[string]any{"name": "two"},
	})
	runPass(tree, 10, 4)
	first := nodeByContent(t, tree, "one")
	second := nodeByContent(t, tree, "two")

	tree.global.Set("items.0.name", "ONE")
	buf := runPass(tree, 10, 4)
	if buf.GetLine(0) != "ONE" || buf.GetLine(1) != "two" {
		t.Fatalf("got %q / %q", buf.GetLine(0), buf.GetLine(1))
	}
	if first.evals != 2 {
		t.Errorf("written element: evals %d", first.evals)
	}
	if second.evals != 1 {
		t.Errorf("untouched element: evals %d", second.evals)
	}
}

func TestForLoopBindsIndex(t *testing.T) {
	tree := buildTree(t, `
for item in items
    text loop ": " item
`, nil)
	tree.global.Set("items", []string{"x", "y"})
	buf := runPass(tree, 10, 3)
	if buf.GetLine(0) != "0: x" || buf.GetLine(1) != "1: y" {
		t.Errorf("got %q / %q", buf.GetLine(0), buf.GetLine(1))
	}
}

// A missing collection loops zero times; a non-list fails the loop node.
func TestForLoopEdges(t *testing.T) {
	tree := buildTree(t, `
for item in items
    text item
`, nil)
	buf := runPass(tree, 10, 2)
	if buf.GetLine(0) != "" {
		t.Errorf("missing collection: got %q", buf.GetLine(0))
	}
	if tree.roots[0].err != nil {
		t.Error("missing collection is not an error")
	}

	tree.global.Set("items", 5)
	runPass(tree, 10, 2)
	if tree.roots[0].err == nil {
		t.Error("non-list collection should fail the node")
	}

	tree.global.Set("items", []string{"ok"})
	buf = runPass(tree, 10, 2)
	if buf.GetLine(0) != "ok" {
		t.Errorf("recovery: got %q", buf.GetLine(0))
	}
}

func TestIfElseChainSelection(t *testing.T) {
	tree := buildTree(t, `
if count > 5
    text "big"
else if count > 0
    text "small"
else
    text "none"
`, nil)
	cases := []struct {
		count int
		want  string
	}{
		{9, "big"},
		{2, "small"},
		{0, "none"},
	}
	for _, tt := range cases {
		tree.global.Set("count", tt.count)
		buf := runPass(tree, 10, 2)
		if got := buf.GetLine(0); got != tt.want {
			t.Errorf("count=%d: got %q, want %q", tt.count, got, tt.want)
		}
	}
}

// A condition that cannot resolve counts as false rather than blanking the
// subtree, so templates can branch on not-yet-seeded state.
func TestIfMissingConditionSelectsElse(t *testing.T) {
	tree := buildTree(t, `
if ready
    text "go"
else
    text "wait"
`, nil)
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "wait" {
		t.Fatalf("got %q", got)
	}

	tree.global.Set("ready", true)
	buf = runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "go" {
		t.Errorf("after seeding: got %q", got)
	}
}

func TestBranchToggleReplacesSubtree(t *testing.T) {
	tree := buildTree(t, `
if show
    text "yes"
else
    text "no"
`, nil)
	tree.global.Set("show", true)
	runPass(tree, 10, 2)
	yes := nodeByContent(t, tree, "yes")

	tree.global.Set("show", false)
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "no" {
		t.Fatalf("got %q", got)
	}
	if _, ok := tree.arena[yes.key]; ok {
		t.Error("untaken branch should leave the arena")
	}
}

func TestSwitchArms(t *testing.T) {
	tree := buildTree(t, `
switch status
    case "ok"
        text "fine"
    case "warn"
        text "careful"
    default
        text "unknown"
`, nil)
	cases := []struct {
		status any
		want   string
	}{
		{"ok", "fine"},
		{"warn", "careful"},
		{"other", "unknown"},
	}
	for _, tt := range cases {
		tree.global.Set("status", tt.status)
		buf := runPass(tree, 12, 2)
		if got := buf.GetLine(0); got != tt.want {
			t.Errorf("status=%v: got %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestSwitchMissingSubjectTakesDefault(t *testing.T) {
	tree := buildTree(t, `
switch nothing
    case 1
        text "one"
    default
        text "fallback"
`, nil)
	buf := runPass(tree, 12, 2)
	if got := buf.GetLine(0); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestSwitchWithoutDefaultRendersNothing(t *testing.T) {
	tree := buildTree(t, `
switch 5
    case 1
        text "one"
`, nil)
	buf := runPass(tree, 12, 2)
	if got := buf.GetLine(0); got != "" {
		t.Errorf("got %q", got)
	}
}

func TestWithBinding(t *testing.T) {
	tree := buildTree(t, `
with user.profile as p
    text p.name
    text p.role
`, nil)
	tree.global.Set("user.profile", map[string]any{"name": "Ada", "role": "admin"})
	buf := runPass(tree, 10, 3)
	if buf.GetLine(0) != "Ada" || buf.GetLine(1) != "admin" {
		t.Fatalf("got %q / %q", buf.GetLine(0), buf.GetLine(1))
	}

	// writes through the bound path invalidate readers of the binding
	tree.global.Set("user.profile.role", "viewer")
	buf = runPass(tree, 10, 3)
	if buf.GetLine(1) != "viewer" {
		t.Errorf("got %q", buf.GetLine(1))
	}
}

// Nested lets bind for the siblings that follow and shadow wider names.
func TestLetScoping(t *testing.T) {
	tree := buildTree(t, `
vstack
    let label = "local"
    text label
`, nil)
	tree.global.Set("label", "global")
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "local" {
		t.Errorf("got %q, want the nested binding", got)
	}
}

// Top-level lets are expression macros: each use re-evaluates against
// current state, and reads made through them invalidate the reader.
func TestGlobalExpansion(t *testing.T) {
	tree := buildTree(t, `
let shout = to_upper(name)
text shout
`, nil)
	tree.global.Set("name", "ada")
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "ADA" {
		t.Fatalf("got %q", got)
	}

	tree.global.Set("name", "bob")
	buf = runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "BOB" {
		t.Errorf("after write: got %q", got)
	}
}

func TestGlobalExpansionCycleFails(t *testing.T) {
	tree := buildTree(t, `
let a = b
let b = a
text a
`, nil)
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "" {
		t.Errorf("cycle should fail the node, got %q", got)
	}
	if tree.roots[0].err == nil {
		t.Error("expected an eval error on the node")
	}
}

// A node that failed on a missing path re-evaluates when the path is
// written, even though the failure produced no value to read.
func TestMissingPathWakesOnWrite(t *testing.T) {
	tree := buildTree(t, `text greeting`, nil)
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "" {
		t.Fatalf("got %q", got)
	}

	tree.global.Set("greeting", "hello")
	buf = runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "hello" {
		t.Errorf("after write: got %q", got)
	}
}

// The ? placeholder pattern: render a fallback until the path exists.
func TestEitherPlaceholderWakesOnWrite(t *testing.T) {
	tree := buildTree(t, `text status ? "waiting"`, nil)
	buf := runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "waiting" {
		t.Fatalf("got %q", got)
	}

	tree.global.Set("status", "live")
	buf = runPass(tree, 10, 2)
	if got := buf.GetLine(0); got != "live" {
		t.Errorf("after write: got %q", got)
	}
}

// Deep writes invalidate subscript readers; sibling element readers stay
// clean because ancestor container reads are not re-triggered.
func TestSubscriptInvalidation(t *testing.T) {
	tree := buildTree(t, `
text users.0.name
text users.1.name
`, nil)
	tree.global.Set("users", []any{
		map[string]any{"name": "first"},
		map[string]any{"name": "second"},
	})
	runPass(tree, 10, 3)
	a := nodeByContent(t, tree, "first")
	b := nodeByContent(t, tree, "second")

	tree.global.Set("users.1.name", "SECOND")
	buf := runPass(tree, 10, 3)
	if buf.GetLine(0) != "first" || buf.GetLine(1) != "SECOND" {
		t.Fatalf("got %q / %q", buf.GetLine(0), buf.GetLine(1))
	}
	if a.evals != 1 {
		t.Errorf("untouched reader re-evaluated: %d", a.evals)
	}
	if b.evals != 2 {
		t.Errorf("touched reader: %d", b.evals)
	}
}

// Swapping the document rebuilds the whole tree against the new program.
func TestSwapRebuilds(t *testing.T) {
	reg := NewRegistry()
	v1, err := CompileTemplate("doc", `text greeting`, reg)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := NewTree(v1, reg)
	if err != nil {
		t.Fatal(err)
	}
	tree.global.Set("greeting", "hi")
	buf := runPass(tree, 12, 3)
	if buf.GetLine(0) != "hi" {
		t.Fatalf("got %q", buf.GetLine(0))
	}

	v2, err := CompileTemplate("doc", "border\n    text greeting", reg)
	if err != nil {
		t.Fatal(err)
	}
	tree.Swap(v2)
	buf = runPass(tree, 12, 3)
	if buf.GetLine(0) != "┌──┐" || buf.GetLine(1) != "│hi│" {
		t.Errorf("after swap:\n%q\n%q", buf.GetLine(0), buf.GetLine(1))
	}
}

func TestNeedsPass(t *testing.T) {
	tree := buildTree(t, `text "x"`, nil)
	if !tree.NeedsPass() {
		t.Error("a fresh tree needs its first pass")
	}
	runPass(tree, 5, 1)
	if tree.NeedsPass() {
		t.Error("idle tree should not need a pass")
	}
	tree.global.Set("k", 1)
	if !tree.NeedsPass() {
		t.Error("queued write should request a pass")
	}
	runPass(tree, 5, 1)
	if tree.NeedsPass() {
		t.Error("drained tree should be idle again")
	}
	tree.Invalidate()
	if !tree.NeedsPass() {
		t.Error("Invalidate should request a pass")
	}
}
