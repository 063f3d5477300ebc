package loom

import "fmt"

// Size is a width and height in terminal cells.
type Size struct {
	W, H int
}

// Point is an offset in cells.
type Point struct {
	X, Y int
}

// Rect is an absolute screen region.
type Rect struct {
	X, Y, W, H int
}

// Constraints bound the size an element may report, passed top-down during
// layout. Sizes are reported bottom-up and must land inside the bounds; the
// engine clamps and logs when a policy overflows, it never panics.
type Constraints struct {
	MinW, MinH int
	MaxW, MaxH int
}

func (c Constraints) clamp(s Size) Size {
	return Size{
		W: min(max(s.W, c.MinW), c.MaxW),
		H: min(max(s.H, c.MinH), c.MaxH),
	}
}

// loosen drops the minimums so a child can size to content.
func (c Constraints) loosen() Constraints {
	return Constraints{MaxW: c.MaxW, MaxH: c.MaxH}
}

// shrink removes fixed insets from every bound.
func (c Constraints) shrink(dw, dh int) Constraints {
	return Constraints{
		MinW: max(0, c.MinW-dw),
		MinH: max(0, c.MinH-dh),
		MaxW: max(0, c.MaxW-dw),
		MaxH: max(0, c.MaxH-dh),
	}
}

// layoutFunc is one widget kind's layout policy: lay out children under c
// and report the size used. Child offsets are written to child.rel, relative
// to this element's origin.
type layoutFunc func(lc *layoutCtx, n *Node, c Constraints) Size

// paintFunc draws an element's own chrome into its laid-out region.
// Children are painted by the walker afterwards.
type paintFunc func(n *Node, buf *Buffer, r Rect)

type layoutCtx struct {
	t *Tree
}

// layoutRoots runs the layout pass over the whole tree. Multiple top-level
// elements stack vertically, sharing the screen.
func (t *Tree) layoutRoots(w, h int) {
	lc := &layoutCtx{t: t}
	stackChildren(lc, t.rootElements(), Constraints{MaxW: max(0, w), MaxH: max(0, h)}, false)
}

// paintRoots paints the laid-out tree into buf.
func (t *Tree) paintRoots(buf *Buffer) {
	for _, n := range t.rootElements() {
		paintNode(n, buf, Rect{X: n.rel.X, Y: n.rel.Y, W: n.size.W, H: n.size.H})
	}
}

// rootElements flattens the top-level nodes into elements, skipping control
// wrappers and failed subtrees.
func (t *Tree) rootElements() []*Node {
	var els []*Node
	for _, r := range t.roots {
		if r.err != nil {
			continue
		}
		if r.isElement() {
			els = append(els, r)
		} else {
			els = appendElements(els, r)
		}
	}
	return els
}

// layoutNode lays out one element: sizing attributes tighten the incoming
// constraint, the kind's policy measures under it, and the result is forced
// back into bounds. Overflow is clamped and logged once per node.
func (lc *layoutCtx) layoutNode(n *Node, c Constraints) Size {
	cc := constraintsFor(n, c)
	size := n.kind.measure(lc, n, cc)
	clamped := cc.clamp(size)
	if size.W > cc.MaxW || size.H > cc.MaxH {
		lc.violation(n, size, cc)
	}
	n.size = clamped
	return clamped
}

func (lc *layoutCtx) violation(n *Node, got Size, c Constraints) {
	key := fmt.Sprintf("%d/%d/%s", n.key.inst, n.key.pos, n.key.loop)
	if lc.t.violations[key] {
		return
	}
	lc.t.violations[key] = true
	logger.Printf("layout: %s line %d reported %dx%d over max %dx%d, clamped",
		n.kind.name, n.op.Line, got.W, got.H, c.MaxW, c.MaxH)
}

// constraintsFor folds the common sizing attributes into the incoming
// constraint. Explicit sizes are clamped to the parent's bounds first, so a
// child can never win an argument with its parent.
func constraintsFor(n *Node, c Constraints) Constraints {
	cc := c
	if w := intAttr(n.attrs, "width", -1); w >= 0 {
		w = min(max(w, c.MinW), c.MaxW)
		cc.MinW, cc.MaxW = w, w
	} else {
		if v := intAttr(n.attrs, "min_width", -1); v >= 0 {
			cc.MinW = min(max(v, c.MinW), c.MaxW)
		}
		if v := intAttr(n.attrs, "max_width", -1); v >= 0 {
			cc.MaxW = min(max(v, cc.MinW), c.MaxW)
		}
	}
	if h := intAttr(n.attrs, "height", -1); h >= 0 {
		h = min(max(h, c.MinH), c.MaxH)
		cc.MinH, cc.MaxH = h, h
	} else {
		if v := intAttr(n.attrs, "min_height", -1); v >= 0 {
			cc.MinH = min(max(v, c.MinH), c.MaxH)
		}
		if v := intAttr(n.attrs, "max_height", -1); v >= 0 {
			cc.MaxH = min(max(v, cc.MinH), c.MaxH)
		}
	}
	return cc
}

// paintNode paints one element and recurses into its children. Spans are
// consumed by their enclosing text during wrapping, so text stops the walk.
func paintNode(n *Node, buf *Buffer, r Rect) {
	if r.W <= 0 || r.H <= 0 {
		return
	}
	if n.style.BG.Mode != ColorDefault {
		buf.FillRect(r.X, r.Y, r.W, r.H, NewCell(' ', n.style))
	}
	if n.kind.paint != nil {
		n.kind.paint(n, buf, r)
	}
	if n.kind.name == "text" || n.kind.name == "span" {
		return
	}
	for _, child := range n.elements() {
		paintNode(child, buf, Rect{
			X: r.X + child.rel.X,
			Y: r.Y + child.rel.Y,
			W: child.size.W,
			H: child.size.H,
		})
	}
}

// stackChildren lays els out along one axis. Fixed children are measured
// first at natural size in declaration order, each seeing what is left of
// the main axis; expand and spacer children then split the remainder by
// factor. Offsets are relative to the stack's origin; no cross-axis stretch.
func stackChildren(lc *layoutCtx, els []*Node, c Constraints, horizontal bool) Size {
	remaining := c.MaxH
	if horizontal {
		remaining = c.MaxW
	}

	factors := make([]int, len(els))
	flexed := false
	for i, child := range els {
		factors[i] = flexFactor(child, horizontal)
		if factors[i] > 0 {
			flexed = true
			continue
		}
		cc := Constraints{MaxW: c.MaxW, MaxH: remaining}
		if horizontal {
			cc = Constraints{MaxW: remaining, MaxH: c.MaxH}
		}
		s := lc.layoutNode(child, cc)
		if horizontal {
			remaining -= s.W
		} else {
			remaining -= s.H
		}
		remaining = max(0, remaining)
	}

	if flexed {
		spans := flexSpans(remaining, factors)
		for i, child := range els {
			if factors[i] == 0 {
				continue
			}
			cc := Constraints{MaxW: c.MaxW, MinH: spans[i], MaxH: spans[i]}
			if horizontal {
				cc = Constraints{MinW: spans[i], MaxW: spans[i], MaxH: c.MaxH}
			}
			lc.layoutNode(child, cc)
		}
	}

	var size Size
	for _, child := range els {
		if horizontal {
			child.rel = Point{X: size.W}
			size.W += child.size.W
			size.H = max(size.H, child.size.H)
		} else {
			child.rel = Point{Y: size.H}
			size.H += child.size.H
			size.W = max(size.W, child.size.W)
		}
	}
	return size
}

// flexFactor reports a child's share weight on the stack's main axis.
// Zero means the child is fixed. An expand restricted to the other axis is
// fixed from the stack's point of view.
func flexFactor(n *Node, horizontal bool) int {
	if n.kind == nil {
		return 0
	}
	switch n.kind.name {
	case "spacer":
		return 1
	case "expand":
		switch strAttr(n.attrs, "axis", "") {
		case "horizontal":
			if !horizontal {
				return 0
			}
		case "vertical":
			if horizontal {
				return 0
			}
		}
		return max(1, intAttr(n.attrs, "factor", 1))
	}
	return 0
}

// flexSpans splits total cells between factors: child i gets
// floor(total*fi/sum), and the leftover goes one cell each to the earliest
// weighted children. The spans always sum to exactly total.
func flexSpans(total int, factors []int) []int {
	spans := make([]int, len(factors))
	sum := 0
	for _, f := range factors {
		sum += f
	}
	if sum == 0 || total <= 0 {
		return spans
	}
	used := 0
	for i, f := range factors {
		spans[i] = total * f / sum
		used += spans[i]
	}
	for i := 0; used < total && i < len(spans); i++ {
		if factors[i] > 0 {
			spans[i]++
			used++
		}
	}
	return spans
}

func measureText(lc *layoutCtx, n *Node, c Constraints) Size {
	mode := wrapWord
	if strAttr(n.attrs, "wrap", "") == "break" {
		mode = wrapBreak
	}
	n.lines = wrapRuns(textRuns(n), c.MaxW, mode)
	var size Size
	for _, ln := range n.lines {
		size.W = max(size.W, ln.width)
	}
	size.H = len(n.lines)
	// Text clamps itself: overflowing lines are clipped at paint time.
	return Size{W: min(size.W, c.MaxW), H: min(size.H, c.MaxH)}
}

func paintText(n *Node, buf *Buffer, r Rect) {
	for i, ln := range n.lines {
		if i >= r.H {
			return
		}
		x := r.X
		for _, run := range ln.runs {
			x += buf.WriteString(x, r.Y+i, run.text, run.style, r.X+r.W)
		}
	}
}

func measureHStack(lc *layoutCtx, n *Node, c Constraints) Size {
	return stackChildren(lc, n.elements(), c, true)
}

func measureVStack(lc *layoutCtx, n *Node, c Constraints) Size {
	return stackChildren(lc, n.elements(), c, false)
}

// measureZStack passes the full constraint to every child and reports the
// largest extents. Children paint in declaration order, later over earlier.
func measureZStack(lc *layoutCtx, n *Node, c Constraints) Size {
	var size Size
	for _, child := range n.elements() {
		s := lc.layoutNode(child, c)
		child.rel = Point{}
		size.W = max(size.W, s.W)
		size.H = max(size.H, s.H)
	}
	return size
}

const (
	sideTop = 1 << iota
	sideRight
	sideBottom
	sideLeft
	sideAll = sideTop | sideRight | sideBottom | sideLeft
)

// borderSides resolves the sides attribute: a side name, "all", or a list
// of side names. Absent means all four.
func borderSides(attrs map[string]Value) uint8 {
	v, ok := attrs["sides"]
	if !ok {
		return sideAll
	}
	var sides uint8
	switch v.Kind {
	case StrValue:
		sides = sideNamed(v.Str)
	case ListValue:
		for i := 0; i < v.List.Len(); i++ {
			if item, ok := v.List.At(i); ok && item.Kind == StrValue {
				sides |= sideNamed(item.Str)
			}
		}
	}
	return sides
}

func sideNamed(name string) uint8 {
	switch name {
	case "all":
		return sideAll
	case "top":
		return sideTop
	case "right":
		return sideRight
	case "bottom":
		return sideBottom
	case "left":
		return sideLeft
	}
	return 0
}

// borderChars picks the rune set: single, rounded, double, or a custom
// six-rune string in horizontal, vertical, then corner order.
func borderChars(attrs map[string]Value) BorderStyle {
	name := strAttr(attrs, "border_style", "single")
	switch name {
	case "single":
		return BorderSingle
	case "rounded":
		return BorderRounded
	case "double":
		return BorderDouble
	}
	if rs := []rune(name); len(rs) == 6 {
		return BorderStyle{
			Horizontal:  rs[0],
			Vertical:    rs[1],
			TopLeft:     rs[2],
			TopRight:    rs[3],
			BottomLeft:  rs[4],
			BottomRight: rs[5],
		}
	}
	return BorderSingle
}

func measureBorder(lc *layoutCtx, n *Node, c Constraints) Size {
	sides := borderSides(n.attrs)
	left := btoi(sides&sideLeft != 0)
	right := btoi(sides&sideRight != 0)
	top := btoi(sides&sideTop != 0)
	bottom := btoi(sides&sideBottom != 0)

	var child Size
	if els := n.elements(); len(els) > 0 {
		child = lc.layoutNode(els[0], c.shrink(left+right, top+bottom))
		els[0].rel = Point{X: left, Y: top}
	}
	return Size{W: child.W + left + right, H: child.H + top + bottom}
}

func paintBorder(n *Node, buf *Buffer, r Rect) {
	chars := borderChars(n.attrs)
	sides := borderSides(n.attrs)
	if sides == sideAll {
		buf.DrawBorder(r.X, r.Y, r.W, r.H, chars, n.style)
		return
	}
	drawBorderSides(buf, r, chars, n.style, sides)
}

// drawBorderSides draws a partial border. Lines stop short of cells where a
// perpendicular side meets them, and a corner rune lands only where both of
// its sides are present.
func drawBorderSides(buf *Buffer, r Rect, chars BorderStyle, style Style, sides uint8) {
	x2, y2 := r.X+r.W-1, r.Y+r.H-1
	hx, hl := r.X, r.W
	if sides&sideLeft != 0 {
		hx, hl = hx+1, hl-1
	}
	if sides&sideRight != 0 {
		hl--
	}
	vy, vl := r.Y, r.H
	if sides&sideTop != 0 {
		vy, vl = vy+1, vl-1
	}
	if sides&sideBottom != 0 {
		vl--
	}

	if sides&sideTop != 0 {
		buf.HLine(hx, r.Y, hl, chars.Horizontal, style)
	}
	if sides&sideBottom != 0 {
		buf.HLine(hx, y2, hl, chars.Horizontal, style)
	}
	if sides&sideLeft != 0 {
		buf.VLine(r.X, vy, vl, chars.Vertical, style)
	}
	if sides&sideRight != 0 {
		buf.VLine(x2, vy, vl, chars.Vertical, style)
	}

	if sides&(sideTop|sideLeft) == sideTop|sideLeft {
		buf.Set(r.X, r.Y, NewCell(chars.TopLeft, style))
	}
	if sides&(sideTop|sideRight) == sideTop|sideRight {
		buf.Set(x2, r.Y, NewCell(chars.TopRight, style))
	}
	if sides&(sideBottom|sideLeft) == sideBottom|sideLeft {
		buf.Set(r.X, y2, NewCell(chars.BottomLeft, style))
	}
	if sides&(sideBottom|sideRight) == sideBottom|sideRight {
		buf.Set(x2, y2, NewCell(chars.BottomRight, style))
	}
}

func measurePadding(lc *layoutCtx, n *Node, c Constraints) Size {
	all := max(0, intAttr(n.attrs, "padding", 0))
	top := max(0, intAttr(n.attrs, "padding_top", all))
	right := max(0, intAttr(n.attrs, "padding_right", all))
	bottom := max(0, intAttr(n.attrs, "padding_bottom", all))
	left := max(0, intAttr(n.attrs, "padding_left", all))

	var child Size
	if els := n.elements(); len(els) > 0 {
		child = lc.layoutNode(els[0], c.shrink(left+right, top+bottom))
		els[0].rel = Point{X: left, Y: top}
	}
	return Size{W: child.W + left + right, H: child.H + top + bottom}
}

// measureExpand reports the whole constraint on its allowed axes; the
// restricted axis follows the child. The factor attribute only matters to an
// enclosing stack.
func measureExpand(lc *layoutCtx, n *Node, c Constraints) Size {
	var child Size
	if els := n.elements(); len(els) > 0 {
		child = lc.layoutNode(els[0], c.loosen())
		els[0].rel = Point{}
	}
	size := Size{W: c.MaxW, H: c.MaxH}
	switch strAttr(n.attrs, "axis", "") {
	case "horizontal":
		size.H = child.H
	case "vertical":
		size.W = child.W
	}
	return size
}

func measureSpacer(lc *layoutCtx, n *Node, c Constraints) Size {
	return Size{W: c.MaxW, H: c.MaxH}
}

func measureAlign(lc *layoutCtx, n *Node, c Constraints) Size {
	size := Size{W: c.MaxW, H: c.MaxH}
	els := n.elements()
	if len(els) == 0 {
		return size
	}
	child := lc.layoutNode(els[0], c.loosen())
	ax, ay := alignOffsets(strAttr(n.attrs, "alignment", "top_left"))
	els[0].rel = Point{
		X: max(0, (size.W-child.W)*ax/2),
		Y: max(0, (size.H-child.H)*ay/2),
	}
	return size
}

// alignOffsets maps an alignment name to per-axis positions: 0 start,
// 1 middle, 2 end.
func alignOffsets(name string) (ax, ay int) {
	switch name {
	case "top":
		return 1, 0
	case "top_right":
		return 2, 0
	case "left":
		return 0, 1
	case "centre", "center":
		return 1, 1
	case "right":
		return 2, 1
	case "bottom_left":
		return 0, 2
	case "bottom":
		return 1, 2
	case "bottom_right":
		return 2, 2
	}
	return 0, 0
}

// measureContainer sizes to its child; explicit width and height attributes
// arrive through the constraint.
func measureContainer(lc *layoutCtx, n *Node, c Constraints) Size {
	els := n.elements()
	if len(els) == 0 {
		return Size{W: c.MinW, H: c.MinH}
	}
	s := lc.layoutNode(els[0], c.loosen())
	els[0].rel = Point{}
	return s
}

// paintFill covers the region with the fill rune. Plain background color is
// handled by the paint walker for every element.
func paintFill(n *Node, buf *Buffer, r Rect) {
	fill := strAttr(n.attrs, "fill", "")
	if fill == "" {
		return
	}
	for _, ch := range fill {
		buf.FillRect(r.X, r.Y, r.W, r.H, NewCell(ch, n.style))
		break
	}
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
