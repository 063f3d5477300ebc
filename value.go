package loom

import (
	"fmt"
	"strconv"
)

// ValueKind tags a Value.
type ValueKind uint8

const (
	NilValue ValueKind = iota
	BoolValue
	IntValue
	FloatValue
	StrValue
	ColorValue
	ListValue
	MapValue
)

func (k ValueKind) String() string {
	switch k {
	case NilValue:
		return "nil"
	case BoolValue:
		return "bool"
	case IntValue:
		return "int"
	case FloatValue:
		return "float"
	case StrValue:
		return "string"
	case ColorValue:
		return "color"
	case ListValue:
		return "list"
	case MapValue:
		return "map"
	}
	return "value"
}

// Value is one state or expression value: a scalar, a color, or a composite
// list/map. Composites are shared by pointer; the state store owns mutation.
type Value struct {
	Kind  ValueKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Color Color
	List  *List
	Map   *Map
}

// Nil is the absent value.
var Nil = Value{}

func BoolVal(b bool) Value      { return Value{Kind: BoolValue, Bool: b} }
func IntVal(n int64) Value      { return Value{Kind: IntValue, Int: n} }
func FloatVal(f float64) Value  { return Value{Kind: FloatValue, Float: f} }
func StrVal(s string) Value     { return Value{Kind: StrValue, Str: s} }
func ColorVal(c Color) Value    { return Value{Kind: ColorValue, Color: c} }
func ListVal(l *List) Value     { return Value{Kind: ListValue, List: l} }
func MapVal(m *Map) Value       { return Value{Kind: MapValue, Map: m} }

// NewValue converts a Go value into a Value. Slices and maps convert
// recursively; unsupported types convert to their fmt representation.
func NewValue(v any) Value {
	switch t := v.(type) {
	case nil:
		return Nil
	case Value:
		return t
	case bool:
		return BoolVal(t)
	case int:
		return IntVal(int64(t))
	case int8:
		return IntVal(int64(t))
	case int16:
		return IntVal(int64(t))
	case int32:
		return IntVal(int64(t))
	case int64:
		return IntVal(t)
	case uint:
		return IntVal(int64(t))
	case uint8:
		return IntVal(int64(t))
	case uint16:
		return IntVal(int64(t))
	case uint32:
		return IntVal(int64(t))
	case uint64:
		return IntVal(int64(t))
	case float32:
		return FloatVal(float64(t))
	case float64:
		return FloatVal(t)
	case string:
		return StrVal(t)
	case Color:
		return ColorVal(t)
	case *List:
		return ListVal(t)
	case *Map:
		return MapVal(t)
	case []Value:
		return ListVal(&List{items: t})
	case []any:
		l := NewList()
		for _, item := range t {
			l.items = append(l.items, NewValue(item))
		}
		return ListVal(l)
	case []string:
		l := NewList()
		for _, item := range t {
			l.items = append(l.items, StrVal(item))
		}
		return ListVal(l)
	case []int:
		l := NewList()
		for _, item := range t {
			l.items = append(l.items, IntVal(int64(item)))
		}
		return ListVal(l)
	case map[string]any:
		m := NewMap()
		for k, item := range t {
			m.entries[k] = NewValue(item)
		}
		return MapVal(m)
	default:
		return StrVal(fmt.Sprint(v))
	}
}

// Truthy reports the truthiness rule used by if and case fallthrough:
// true booleans, non-zero numbers, non-empty strings and composites.
func (v Value) Truthy() bool {
	switch v.Kind {
	case NilValue:
		return false
	case BoolValue:
		return v.Bool
	case IntValue:
		return v.Int != 0
	case FloatValue:
		return v.Float != 0
	case StrValue:
		return v.Str != ""
	case ColorValue:
		return true
	case ListValue:
		return v.List != nil && v.List.Len() > 0
	case MapValue:
		return v.Map != nil && v.Map.Len() > 0
	}
	return false
}

// Equal compares two values. Ints and floats compare numerically across
// kinds; composites compare by identity.
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		if v.isNumber() && other.isNumber() {
			return v.asFloat() == other.asFloat()
		}
		return false
	}
	switch v.Kind {
	case NilValue:
		return true
	case BoolValue:
		return v.Bool == other.Bool
	case IntValue:
		return v.Int == other.Int
	case FloatValue:
		return v.Float == other.Float
	case StrValue:
		return v.Str == other.Str
	case ColorValue:
		return v.Color == other.Color
	case ListValue:
		return v.List == other.List
	case MapValue:
		return v.Map == other.Map
	}
	return false
}

func (v Value) isNumber() bool {
	return v.Kind == IntValue || v.Kind == FloatValue
}

func (v Value) asFloat() float64 {
	if v.Kind == FloatValue {
		return v.Float
	}
	return float64(v.Int)
}

// AsInt converts numeric values to an int, with ok reporting whether the
// value was numeric.
func (v Value) AsInt() (int, bool) {
	switch v.Kind {
	case IntValue:
		return int(v.Int), true
	case FloatValue:
		return int(v.Float), true
	}
	return 0, false
}

// Display renders the value the way the text widget shows it. Composites
// render as nothing.
func (v Value) Display() string {
	switch v.Kind {
	case NilValue, ListValue, MapValue:
		return ""
	case BoolValue:
		if v.Bool {
			return "true"
		}
		return "false"
	case IntValue:
		return strconv.FormatInt(v.Int, 10)
	case FloatValue:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case StrValue:
		return v.Str
	case ColorValue:
		if v.Color.Mode == ColorRGB {
			return fmt.Sprintf("#%02x%02x%02x", v.Color.R, v.Color.G, v.Color.B)
		}
		return "color"
	}
	return ""
}

// List is a mutable ordered collection owned by the state store.
type List struct {
	items []Value
}

// NewList creates an empty list.
func NewList(items ...any) *List {
	l := &List{}
	for _, item := range items {
		l.items = append(l.items, NewValue(item))
	}
	return l
}

// Len returns the number of items.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the item at index i.
func (l *List) At(i int) (Value, bool) {
	if l == nil || i < 0 || i >= len(l.items) {
		return Nil, false
	}
	return l.items[i], true
}

// Map is a mutable string-keyed collection owned by the state store.
type Map struct {
	entries map[string]Value
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{entries: map[string]Value{}}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// At returns the entry under key.
func (m *Map) At(key string) (Value, bool) {
	if m == nil {
		return Nil, false
	}
	v, ok := m.entries[key]
	return v, ok
}
