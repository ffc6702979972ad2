package moo

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	intPattern   = regexp.MustCompile(`^-?\d+$`)
	floatPattern = regexp.MustCompile(`^-?\d+\.\d+([eE][-+]?\d+)?$`)
	anonPattern  = regexp.MustCompile(`^\*#-?\d+$`)
	objPattern   = regexp.MustCompile(`^(#-?\d+)(?:\s+\(.+\))?$`)
)

// Decode parses text as a MOO literal. Decoding is total: text that does
// not match any literal form comes back as a Str holding the raw text.
//
// Object references may carry a display name ("#2  (Wizard)"); the name is
// stripped. Unknown escape sequences in strings keep the escaped character.
// Error tokens decode to ErrorCode only when they name one of the known
// codes; anything else stays a string.
func Decode(text string) Value {
	text = strings.TrimSpace(text)

	if intPattern.MatchString(text) {
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(n)
		}
		return Str(text)
	}

	if floatPattern.MatchString(text) {
		if f, err := strconv.ParseFloat(text, 64); err == nil {
			return Float(f)
		}
		return Str(text)
	}

	if anonPattern.MatchString(text) || text == "*anonymous*" {
		return Anon(text)
	}

	if m := objPattern.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseInt(m[1][1:], 10, 64); err == nil {
			return Obj(n)
		}
		return Str(text)
	}

	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		return Str(unescape(text[1 : len(text)-1]))
	}

	if strings.HasPrefix(text, "E_") {
		if code, ok := ErrorFromName(text); ok {
			return code
		}
		return Str(text)
	}

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		inner := strings.TrimSpace(text[1 : len(text)-1])
		if inner == "" {
			return List{}
		}
		elems := splitElements(inner)
		list := make(List, 0, len(elems))
		for _, e := range elems {
			list = append(list, Decode(e))
		}
		return list
	}

	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
		inner := strings.TrimSpace(text[1 : len(text)-1])
		if inner == "" {
			return Map{}
		}
		return decodeMap(inner)
	}

	return Str(text)
}

// unescape processes the escape sequences inside a string literal body.
func unescape(inner string) string {
	if !strings.Contains(inner, `\`) {
		return inner
	}
	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' && i+1 < len(inner) {
			i++
			switch inner[i] {
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(inner[i])
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// splitElements splits list or map contents at top-level commas, tracking
// bracket depth, string state, and escapes so nested structures and quoted
// commas stay intact.
func splitElements(text string) []string {
	var elements []string
	var current strings.Builder
	depth := 0
	inString := false
	escapeNext := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if escapeNext {
			current.WriteByte(ch)
			escapeNext = false
			continue
		}

		if ch == '\\' && inString {
			current.WriteByte(ch)
			escapeNext = true
			continue
		}

		if ch == '"' {
			inString = !inString
			current.WriteByte(ch)
			continue
		}

		if !inString {
			switch {
			case ch == '{' || ch == '[':
				depth++
			case ch == '}' || ch == ']':
				depth--
			case ch == ',' && depth == 0:
				elements = append(elements, current.String())
				current.Reset()
				continue
			}
		}

		current.WriteByte(ch)
	}

	if current.Len() > 0 {
		elements = append(elements, current.String())
	}

	return elements
}

// decodeMap parses map contents of the form "key -> value, ...". Pairs
// without an arrow are dropped; a repeated key replaces the earlier entry,
// matching server map assignment.
func decodeMap(inner string) Map {
	elems := splitElements(inner)
	m := make(Map, 0, len(elems))
	for _, e := range elems {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		pos := findArrow(e)
		if pos < 0 {
			continue
		}
		key := Decode(e[:pos])
		val := Decode(e[pos+2:])
		replaced := false
		for i := range m {
			if Equal(m[i].Key, key) {
				m[i].Value = val
				replaced = true
				break
			}
		}
		if !replaced {
			m = append(m, Pair{Key: key, Value: val})
		}
	}
	return m
}

// findArrow locates the top-level "->" separator in a map pair, or -1.
func findArrow(text string) int {
	depth := 0
	inString := false
	escapeNext := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if escapeNext {
			escapeNext = false
			continue
		}

		if ch == '\\' && inString {
			escapeNext = true
			continue
		}

		if ch == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch {
			case ch == '{' || ch == '[':
				depth++
			case ch == '}' || ch == ']':
				depth--
			case ch == '-' && depth == 0 && i+1 < len(text) && text[i+1] == '>':
				return i
			}
		}
	}

	return -1
}
