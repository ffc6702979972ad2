package moo

import (
	"strconv"
	"strings"
)

// Value is one decoded MOO value. The concrete types are Int, Float, Str,
// Obj, Anon, ErrorCode, List, and Map; nothing else implements Value. A nil
// Value means the server produced no output for a round trip.
type Value interface {
	// String renders the value in MOO literal form.
	String() string
	mooValue()
}

// Object number constants shared by every server core.
const (
	Nothing        = Obj(-1)
	AmbiguousMatch = Obj(-2)
	FailedMatch    = Obj(-3)
)

// Int is a MOO integer.
type Int int64

// Float is a MOO float.
type Float float64

// Str is a MOO string. The Go string holds the unescaped text; the literal
// form is quoted and escaped.
type Str string

// Obj is an object reference such as #2.
type Obj int64

// Anon is an anonymous object reference. Servers render these as *#N or
// *anonymous*; the wire text is preserved verbatim.
type Anon string

// List is an ordered MOO list.
type List []Value

// Pair is a single map entry.
type Pair struct {
	Key   Value
	Value Value
}

// Map is a MOO map. Entries keep wire order; use Get for key lookup.
type Map []Pair

func (Int) mooValue()   {}
func (Float) mooValue() {}
func (Str) mooValue()   {}
func (Obj) mooValue()   {}
func (Anon) mooValue()  {}
func (List) mooValue()  {}
func (Map) mooValue()   {}

func (i Int) String() string {
	return strconv.FormatInt(int64(i), 10)
}

// String renders the float so it always reads back as a float literal:
// a decimal point is added when the shortest form has none ("1e+20"
// becomes "1.0e+20", "42" becomes "42.0").
func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if strings.Contains(s, ".") {
		return s
	}
	if i := strings.IndexAny(s, "eE"); i >= 0 {
		return s[:i] + ".0" + s[i:]
	}
	return s + ".0"
}

func (s Str) String() string {
	return Quote(string(s))
}

func (o Obj) String() string {
	return "#" + strconv.FormatInt(int64(o), 10)
}

func (a Anon) String() string {
	return string(a)
}

func (l List) String() string {
	parts := make([]string, len(l))
	for i, v := range l {
		parts[i] = literal(v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (m Map) String() string {
	parts := make([]string, len(m))
	for i, p := range m {
		parts[i] = literal(p.Key) + " -> " + literal(p.Value)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// literal guards against nil elements inside containers.
func literal(v Value) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Get returns the value stored under key, comparing keys with Equal.
func (m Map) Get(key Value) (Value, bool) {
	for _, p := range m {
		if Equal(p.Key, key) {
			return p.Value, true
		}
	}
	return nil, false
}

// Equal reports deep structural equality between two values. Lists compare
// element-wise in order; maps compare by key lookup regardless of entry
// order. No cross-type coercion happens here.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv, ok := b.(Map)
		if !ok || len(av) != len(bv) {
			return false
		}
		for _, p := range av {
			bval, ok := bv.Get(p.Key)
			if !ok || !Equal(p.Value, bval) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// TypeName returns the name used by type expectations: int, float, str,
// obj, anon, err, list, or map. Strings that carry object, anonymous, or
// error renderings report the underlying type, since servers sometimes
// return those forms quoted.
func TypeName(v Value) string {
	switch val := v.(type) {
	case Int:
		return "int"
	case Float:
		return "float"
	case Obj:
		return "obj"
	case Anon:
		return "anon"
	case ErrorCode:
		return "err"
	case List:
		return "list"
	case Map:
		return "map"
	case Str:
		s := string(val)
		if strings.HasPrefix(s, "*#") && len(s) > 2 {
			if _, err := strconv.Atoi(s[2:]); err == nil {
				return "anon"
			}
		}
		if strings.HasPrefix(s, "anon:#") {
			return "anon"
		}
		if s == "*anonymous*" {
			return "anon"
		}
		if strings.HasPrefix(s, "#") && len(s) > 1 {
			if _, err := strconv.Atoi(s[1:]); err == nil {
				return "obj"
			}
		}
		if strings.HasPrefix(s, "E_") {
			return "err"
		}
		return "str"
	}
	return "unknown"
}
