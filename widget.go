package loom

import "fmt"

// widgetKind describes one built-in element: the attribute names it accepts
// and its layout and paint policies. The set is closed and checked at
// startup; templates naming anything else fail to compile.
type widgetKind struct {
	name    string
	attrs   map[string]bool
	measure layoutFunc
	paint   paintFunc
}

func (k *widgetKind) validAttr(key string) bool {
	return commonAttrs[key] || k.attrs[key]
}

// commonAttrs are accepted by every element kind. The sizing attributes
// tighten the constraint the element is laid out under; the rest resolve
// into the element's Style.
var commonAttrs = map[string]bool{
	"width":         true,
	"height":        true,
	"min_width":     true,
	"min_height":    true,
	"max_width":     true,
	"max_height":    true,
	"foreground":    true,
	"background":    true,
	"bold":          true,
	"italic":        true,
	"underline":     true,
	"dim":           true,
	"inverse":       true,
	"strikethrough": true,
}

func attrSet(keys ...string) map[string]bool {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}

var widgetKinds = map[string]*widgetKind{
	"text":      {name: "text", attrs: attrSet("wrap"), measure: measureText, paint: paintText},
	"span":      {name: "span", attrs: attrSet("wrap"), measure: measureText, paint: paintText},
	"hstack":    {name: "hstack", measure: measureHStack},
	"vstack":    {name: "vstack", measure: measureVStack},
	"zstack":    {name: "zstack", measure: measureZStack},
	"border":    {name: "border", attrs: attrSet("border_style", "sides"), measure: measureBorder, paint: paintBorder},
	"padding":   {name: "padding", attrs: attrSet("padding", "padding_top", "padding_right", "padding_bottom", "padding_left"), measure: measurePadding},
	"expand":    {name: "expand", attrs: attrSet("factor", "axis", "fill"), measure: measureExpand, paint: paintFill},
	"spacer":    {name: "spacer", measure: measureSpacer},
	"align":     {name: "align", attrs: attrSet("alignment"), measure: measureAlign},
	"container": {name: "container", attrs: attrSet("fill"), measure: measureContainer, paint: paintFill},
}

func init() {
	for name, k := range widgetKinds {
		if k.measure == nil {
			panic(fmt.Sprintf("loom: widget kind %q has no layout policy", name))
		}
	}
}

// styleFromAttrs resolves the style attributes of an evaluated attribute set.
// Values that cannot be read as the expected type are skipped; sizing is
// handled separately during layout.
func styleFromAttrs(attrs map[string]Value) Style {
	st := DefaultStyle()
	if c, ok := colorAttr(attrs, "foreground"); ok {
		st = st.Foreground(c)
	}
	if c, ok := colorAttr(attrs, "background"); ok {
		st = st.Background(c)
	}
	if boolAttr(attrs, "bold") {
		st = st.Bold()
	}
	if boolAttr(attrs, "italic") {
		st = st.Italic()
	}
	if boolAttr(attrs, "underline") {
		st = st.Underline()
	}
	if boolAttr(attrs, "dim") {
		st = st.Dim()
	}
	if boolAttr(attrs, "inverse") {
		st = st.Inverse()
	}
	if boolAttr(attrs, "strikethrough") {
		st = st.Strikethrough()
	}
	return st
}

func colorAttr(attrs map[string]Value, key string) (Color, bool) {
	v, ok := attrs[key]
	if !ok {
		return Color{}, false
	}
	return colorFromValue(v)
}

func colorFromValue(v Value) (Color, bool) {
	switch v.Kind {
	case ColorValue:
		return v.Color, true
	case StrValue:
		c, err := ParseColor(v.Str)
		if err != nil {
			logger.Printf("style: %v", err)
			return Color{}, false
		}
		return c, true
	}
	return Color{}, false
}

func boolAttr(attrs map[string]Value, key string) bool {
	v, ok := attrs[key]
	return ok && v.Truthy()
}

// intAttr reads an integer attribute, returning fallback when absent or not
// numeric.
func intAttr(attrs map[string]Value, key string, fallback int) int {
	v, ok := attrs[key]
	if !ok {
		return fallback
	}
	n, ok := v.AsInt()
	if !ok {
		return fallback
	}
	return n
}

func strAttr(attrs map[string]Value, key, fallback string) string {
	v, ok := attrs[key]
	if !ok || v.Kind != StrValue {
		return fallback
	}
	return v.Str
}
