package moo

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Quote renders s as a MOO string literal, escaping backslashes and quotes.
func Quote(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

// EncodeAny renders a value as a MOO literal for substitution into code.
// It accepts decoded Values, raw output captures ([]string), and the Go
// shapes YAML produces for test arguments:
//
//   - strings of the form "#N" or all-caps "E_*" stay unquoted, so captured
//     object refs and error codes splice into code as references
//   - other strings are quoted and escaped
//   - bools become 1/0, numbers print bare
//   - slices and maps recurse
//
// A nil value encodes as 0.
func EncodeAny(v any) string {
	switch val := v.(type) {
	case nil:
		return "0"
	case Value:
		return val.String()
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = Quote(s)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case string:
		if strings.HasPrefix(val, "#") && len(val) > 1 {
			if _, err := strconv.Atoi(val[1:]); err == nil {
				return val
			}
		}
		if strings.HasPrefix(val, "E_") && isUpper(val) {
			return val
		}
		return Quote(val)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return Float(val).String()
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = EncodeAny(item)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = EncodeAny(k) + " -> " + EncodeAny(val[k])
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

// isUpper reports whether s contains at least one cased character and no
// lowercase ones.
func isUpper(s string) bool {
	hasCased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasCased = true
		}
	}
	return hasCased
}
