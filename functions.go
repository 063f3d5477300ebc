package loom

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Function is a host-registered function callable from template expressions.
// Arguments arrive already evaluated; returning an error fails the calling
// node's evaluation without touching the rest of the frame.
type Function func(args ...Value) (Value, error)

func argCount(name string, args []Value, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s: want %d argument(s), got %d", name, want, len(args))
	}
	return nil
}

// builtinFunctions returns the function table every registry starts with.
// Host registrations extend it; the builtin names cannot be rebound.
func builtinFunctions() map[string]Function {
	return map[string]Function{
		"len":      fnLen,
		"contains": fnContains,
		"to_upper": fnToUpper,
		"to_lower": fnToLower,
		"to_str":   fnToStr,
		"to_int":   fnToInt,
		"to_float": fnToFloat,
		"round":    fnRound,
		"floor":    fnFloor,
		"ceil":     fnCeil,
		"truncate": fnTruncate,
	}
}

func fnLen(args ...Value) (Value, error) {
	if err := argCount("len", args, 1); err != nil {
		return Nil, err
	}
	switch v := args[0]; v.Kind {
	case StrValue:
		return IntVal(int64(utf8.RuneCountInString(v.Str))), nil
	case ListValue:
		return IntVal(int64(v.List.Len())), nil
	case MapValue:
		return IntVal(int64(v.Map.Len())), nil
	case NilValue:
		return IntVal(0), nil
	}
	return Nil, fmt.Errorf("len: cannot take length of %s", args[0].Kind)
}

func fnContains(args ...Value) (Value, error) {
	if err := argCount("contains", args, 2); err != nil {
		return Nil, err
	}
	haystack, needle := args[0], args[1]
	switch haystack.Kind {
	case StrValue:
		return BoolVal(strings.Contains(haystack.Str, needle.Display())), nil
	case ListValue:
		for i := 0; i < haystack.List.Len(); i++ {
			item, _ := haystack.List.At(i)
			if item.Equal(needle) {
				return BoolVal(true), nil
			}
		}
		return BoolVal(false), nil
	case MapValue:
		_, ok := haystack.Map.At(needle.Display())
		return BoolVal(ok), nil
	}
	return Nil, fmt.Errorf("contains: cannot search a %s", haystack.Kind)
}

func fnToUpper(args ...Value) (Value, error) {
	if err := argCount("to_upper", args, 1); err != nil {
		return Nil, err
	}
	return StrVal(strings.ToUpper(args[0].Display())), nil
}

func fnToLower(args ...Value) (Value, error) {
	if err := argCount("to_lower", args, 1); err != nil {
		return Nil, err
	}
	return StrVal(strings.ToLower(args[0].Display())), nil
}

func fnToStr(args ...Value) (Value, error) {
	if err := argCount("to_str", args, 1); err != nil {
		return Nil, err
	}
	return StrVal(args[0].Display()), nil
}

func fnToInt(args ...Value) (Value, error) {
	if err := argCount("to_int", args, 1); err != nil {
		return Nil, err
	}
	switch v := args[0]; v.Kind {
	case IntValue:
		return v, nil
	case FloatValue:
		return IntVal(int64(v.Float)), nil
	case BoolValue:
		if v.Bool {
			return IntVal(1), nil
		}
		return IntVal(0), nil
	case StrValue:
		n, err := strconv.ParseInt(strings.TrimSpace(v.Str), 10, 64)
		if err != nil {
			return Nil, fmt.Errorf("to_int: %q is not an integer", v.Str)
		}
		return IntVal(n), nil
	}
	return Nil, fmt.Errorf("to_int: cannot convert %s", args[0].Kind)
}

func fnToFloat(args ...Value) (Value, error) {
	if err := argCount("to_float", args, 1); err != nil {
		return Nil, err
	}
	switch v := args[0]; v.Kind {
	case FloatValue:
		return v, nil
	case IntValue:
		return FloatVal(float64(v.Int)), nil
	case StrValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return Nil, fmt.Errorf("to_float: %q is not a number", v.Str)
		}
		return FloatVal(f), nil
	}
	return Nil, fmt.Errorf("to_float: cannot convert %s", args[0].Kind)
}

func fnRound(args ...Value) (Value, error) {
	if len(args) != 1 && len(args) != 2 {
		return Nil, fmt.Errorf("round: want 1 or 2 arguments, got %d", len(args))
	}
	if !args[0].isNumber() {
		return Nil, fmt.Errorf("round: cannot round %s", args[0].Kind)
	}
	f := args[0].asFloat()
	if len(args) == 1 {
		return IntVal(int64(math.Round(f))), nil
	}
	digits, ok := args[1].AsInt()
	if !ok {
		return Nil, fmt.Errorf("round: precision must be an integer")
	}
	scale := math.Pow(10, float64(digits))
	return FloatVal(math.Round(f*scale) / scale), nil
}

func fnFloor(args ...Value) (Value, error) {
	if err := argCount("floor", args, 1); err != nil {
		return Nil, err
	}
	if !args[0].isNumber() {
		return Nil, fmt.Errorf("floor: cannot floor %s", args[0].Kind)
	}
	return IntVal(int64(math.Floor(args[0].asFloat()))), nil
}

func fnCeil(args ...Value) (Value, error) {
	if err := argCount("ceil", args, 1); err != nil {
		return Nil, err
	}
	if !args[0].isNumber() {
		return Nil, fmt.Errorf("ceil: cannot ceil %s", args[0].Kind)
	}
	return IntVal(int64(math.Ceil(args[0].asFloat()))), nil
}

func fnTruncate(args ...Value) (Value, error) {
	if err := argCount("truncate", args, 2); err != nil {
		return Nil, err
	}
	s := args[0].Display()
	n, ok := args[1].AsInt()
	if !ok || n < 0 {
		return Nil, fmt.Errorf("truncate: length must be a non-negative integer")
	}
	runes := []rune(s)
	if len(runes) <= n {
		return StrVal(s), nil
	}
	return StrVal(string(runes[:n])), nil
}
