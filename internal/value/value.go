package value

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf16"
)

// Kind identifies the concrete type behind a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindList:   "list",
	KindMap:    "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name back to its Kind.
func ParseKind(s string) (Kind, bool) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i), true
		}
	}
	return KindNull, false
}

// Value is a sealed interface over the script value types.
type Value interface {
	Kind() Kind
	sealed()
}

// Null is the absence of a value. Reading an unconnected data pin yields Null.
type Null struct{}

// Bool is a boolean value.
type Bool bool

// Int is a signed 64-bit integer value.
type Int int64

// Float is a 64-bit floating point value.
type Float float64

// String is a text value.
type String string

// List is an ordered sequence of values.
type List []Value

// Map is a string-keyed collection of values.
// Use SortedKeys for deterministic iteration.
type Map map[string]Value

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (String) Kind() Kind { return KindString }
func (List) Kind() Kind   { return KindList }
func (Map) Kind() Kind    { return KindMap }

func (Null) sealed()   {}
func (Bool) sealed()   {}
func (Int) sealed()    {}
func (Float) sealed()  {}
func (String) sealed() {}
func (List) sealed()   {}
func (Map) sealed()    {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's string comparison orders by UTF-8 bytes, which differs for
// characters outside the BMP.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// AsBool converts v to a bool. Numbers are true when non-zero.
// Returns def for Null and non-convertible kinds.
func AsBool(v Value, def bool) bool {
	switch x := v.(type) {
	case Bool:
		return bool(x)
	case Int:
		return x != 0
	case Float:
		return x != 0
	}
	return def
}

// AsInt converts v to an int64, truncating floats.
func AsInt(v Value, def int64) int64 {
	switch x := v.(type) {
	case Int:
		return int64(x)
	case Float:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return def
		}
		return int64(x)
	case Bool:
		if x {
			return 1
		}
		return 0
	case String:
		if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return n
		}
	}
	return def
}

// AsFloat converts v to a float64.
func AsFloat(v Value, def float64) float64 {
	switch x := v.(type) {
	case Float:
		return float64(x)
	case Int:
		return float64(x)
	case String:
		if f, err := strconv.ParseFloat(string(x), 64); err == nil {
			return f
		}
	}
	return def
}

// AsString converts scalars to their textual form.
func AsString(v Value, def string) string {
	switch x := v.(type) {
	case String:
		return string(x)
	case Int:
		return strconv.FormatInt(int64(x), 10)
	case Float:
		return strconv.FormatFloat(float64(x), 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(x))
	}
	return def
}

// Equal reports deep equality. Int(1) and Float(1) are different values.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case List:
		y := b.(List)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y := b.(Map)
		if len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return a == b
}

// FromAny converts decoded YAML/CUE/JSON data into a Value.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(v), nil
	case int32:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(v), nil
	case uint32:
		return Int(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", v)
		}
		return Int(v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Float(v), nil
	case string:
		return String(v), nil
	case []any:
		out := make(List, len(v))
		for i, elem := range v {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ev
		}
		return out, nil
	case map[string]any:
		out := make(Map, len(v))
		for k, elem := range v {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", x)
	}
}

// ToAny converts v into plain Go values (nil, bool, int64, float64, string,
// []any, map[string]any), suitable for struct decoders.
func ToAny(v Value) any {
	switch x := v.(type) {
	case Bool:
		return bool(x)
	case Int:
		return int64(x)
	case Float:
		return float64(x)
	case String:
		return string(x)
	case List:
		out := make([]any, len(x))
		for i, elem := range x {
			out[i] = ToAny(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(x))
		for k, elem := range x {
			out[k] = ToAny(elem)
		}
		return out
	}
	return nil
}
