package loom

import "testing"

func TestFnLen(t *testing.T) {
	tests := []struct {
		arg  Value
		want int64
	}{
		{StrVal("hello"), 5},
		{StrVal("日本語"), 3},
		{StrVal(""), 0},
		{NewValue([]string{"a", "b"}), 2},
		{NewValue(map[string]any{"a": 1}), 1},
		{Nil, 0},
	}
	for _, tt := range tests {
		got, err := fnLen(tt.arg)
		if err != nil {
			t.Fatalf("len(%v): %v", tt.arg, err)
		}
		if got.Int != tt.want {
			t.Errorf("len(%v): got %d, want %d", tt.arg, got.Int, tt.want)
		}
	}
	if _, err := fnLen(IntVal(3)); err == nil {
		t.Error("len(int): expected error")
	}
	if _, err := fnLen(); err == nil {
		t.Error("len(): expected arity error")
	}
}

func TestFnContains(t *testing.T) {
	list := NewValue([]any{"a", "b", 3})
	tests := []struct {
		haystack, needle Value
		want             bool
	}{
		{StrVal("hello world"), StrVal("lo wo"), true},
		{StrVal("hello"), StrVal("xyz"), false},
		{list, StrVal("b"), true},
		{list, IntVal(3), true},
		{list, IntVal(4), false},
		{NewValue(map[string]any{"key": 1}), StrVal("key"), true},
		{NewValue(map[string]any{"key": 1}), StrVal("other"), false},
	}
	for _, tt := range tests {
		got, err := fnContains(tt.haystack, tt.needle)
		if err != nil {
			t.Fatalf("contains: %v", err)
		}
		if got.Bool != tt.want {
			t.Errorf("contains(%v, %v): got %t, want %t", tt.haystack, tt.needle, got.Bool, tt.want)
		}
	}
}

func TestFnCase(t *testing.T) {
	if got, _ := fnToUpper(StrVal("hi there")); got.Str != "HI THERE" {
		t.Errorf("to_upper: got %q", got.Str)
	}
	if got, _ := fnToLower(StrVal("HI")); got.Str != "hi" {
		t.Errorf("to_lower: got %q", got.Str)
	}
}

func TestFnConversions(t *testing.T) {
	t.Run("to_str", func(t *testing.T) {
		tests := []struct {
			arg  Value
			want string
		}{
			{IntVal(42), "42"},
			{FloatVal(2.5), "2.5"},
			{BoolVal(true), "true"},
			{StrVal("x"), "x"},
			{Nil, ""},
		}
		for _, tt := range tests {
			if got, _ := fnToStr(tt.arg); got.Str != tt.want {
				t.Errorf("to_str(%v): got %q, want %q", tt.arg, got.Str, tt.want)
			}
		}
	})
	t.Run("to_int", func(t *testing.T) {
		tests := []struct {
			arg  Value
			want int64
		}{
			{IntVal(7), 7},
			{FloatVal(2.9), 2},
			{BoolVal(true), 1},
			{BoolVal(false), 0},
			{StrVal("42"), 42},
			{StrVal("  42  "), 42},
		}
		for _, tt := range tests {
			got, err := fnToInt(tt.arg)
			if err != nil {
				t.Fatalf("to_int(%v): %v", tt.arg, err)
			}
			if got.Int != tt.want {
				t.Errorf("to_int(%v): got %d, want %d", tt.arg, got.Int, tt.want)
			}
		}
		if _, err := fnToInt(StrVal("4.5")); err == nil {
			t.Error("to_int(\"4.5\"): expected error")
		}
	})
	t.Run("to_float", func(t *testing.T) {
		if got, _ := fnToFloat(IntVal(3)); got.Float != 3.0 {
			t.Errorf("to_float(3): got %g", got.Float)
		}
		if got, _ := fnToFloat(StrVal("2.5")); got.Float != 2.5 {
			t.Errorf("to_float(\"2.5\"): got %g", got.Float)
		}
		if _, err := fnToFloat(StrVal("abc")); err == nil {
			t.Error("to_float(\"abc\"): expected error")
		}
	})
}

func TestFnRounding(t *testing.T) {
	if got, _ := fnRound(FloatVal(2.5)); got.Kind != IntValue || got.Int != 3 {
		t.Errorf("round(2.5): got %v %d", got.Kind, got.Int)
	}
	if got, _ := fnRound(FloatVal(2.4)); got.Int != 2 {
		t.Errorf("round(2.4): got %d", got.Int)
	}
	if got, _ := fnRound(FloatVal(2.347), IntVal(2)); got.Kind != FloatValue || got.Float != 2.35 {
		t.Errorf("round(2.347, 2): got %v %g", got.Kind, got.Float)
	}
	if got, _ := fnFloor(FloatVal(2.9)); got.Int != 2 {
		t.Errorf("floor(2.9): got %d", got.Int)
	}
	if got, _ := fnFloor(FloatVal(-0.5)); got.Int != -1 {
		t.Errorf("floor(-0.5): got %d", got.Int)
	}
	if got, _ := fnCeil(FloatVal(2.1)); got.Int != 3 {
		t.Errorf("ceil(2.1): got %d", got.Int)
	}
	if _, err := fnRound(StrVal("x")); err == nil {
		t.Error("round(string): expected error")
	}
}

func TestFnTruncate(t *testing.T) {
	tests := []struct {
		s    string
		n    int64
		want string
	}{
		{"hello", 3, "hel"},
		{"hello", 10, "hello"},
		{"hello", 0, ""},
		{"日本語です", 2, "日本"},
	}
	for _, tt := range tests {
		got, err := fnTruncate(StrVal(tt.s), IntVal(tt.n))
		if err != nil {
			t.Fatalf("truncate(%q, %d): %v", tt.s, tt.n, err)
		}
		if got.Str != tt.want {
			t.Errorf("truncate(%q, %d): got %q, want %q", tt.s, tt.n, got.Str, tt.want)
		}
	}
	if _, err := fnTruncate(StrVal("x"), IntVal(-1)); err == nil {
		t.Error("truncate negative: expected error")
	}
}

// Host functions extend the builtin table through the registry and are
// callable from templates; builtin names stay bound.
func TestRegisterFunction(t *testing.T) {
	reg := NewRegistry()
	err := reg.RegisterFunction("double", func(args ...Value) (Value, error) {
		if err := argCount("double", args, 1); err != nil {
			return Nil, err
		}
		return IntVal(args[0].Int * 2), nil
	})
	if err != nil {
		t.Fatal(err)
	}

	tmpl, err := CompileTemplate("test", `text double(21)`, reg)
	if err != nil {
		t.Fatal(err)
	}
	tree, err := NewTree(tmpl, reg)
	if err != nil {
		t.Fatal(err)
	}
	buf := NewBuffer(20, 1)
	tree.Execute(buf)
	if got := buf.GetLine(0); got != "42" {
		t.Errorf("got %q, want %q", got, "42")
	}

	if err := reg.RegisterFunction("len", fnLen); err == nil {
		t.Error("rebinding a builtin should fail")
	}
}
