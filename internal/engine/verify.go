package engine

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

// floatTolerance is the absolute tolerance for float expectations. Servers
// print floats with enough digits that anything beyond this is a real
// conformance difference, not formatting noise.
const floatTolerance = 1e-9

// AssertionError is a conformance gap: the server answered, but not with
// what the suite declared. Transport problems are ordinary errors, never
// this type.
type AssertionError struct {
	Context string
	Message string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s %s", e.Context, e.Message)
}

func assertf(context, format string, args ...any) *AssertionError {
	return &AssertionError{Context: context, Message: fmt.Sprintf(format, args...)}
}

// Verify checks an eval result against an expectation. The checks mirror
// the expectation fields: error and match are terminal (they decide the
// whole verdict), everything else requires success first and then applies
// each present field in turn.
func Verify(context string, expect *suite.Expectation, result client.EvalResult) error {
	if expect == nil {
		if !result.Success {
			return assertf(context, "expected success but got error: %s", result.FailureText())
		}
		return nil
	}

	if expect.Error != "" {
		return verifyError(context, expect.Error, result)
	}

	if expect.Match != "" {
		if !result.Success && result.ErrorMessage != "" {
			return verifyMatch(context, expect.Match, moo.Str(result.ErrorMessage))
		}
		if !result.Success {
			return assertf(context, "expected success but got error: %s", result.FailureText())
		}
		return verifyMatch(context, expect.Match, result.Value)
	}

	if !result.Success {
		return assertf(context, "expected success but got error: %s", result.FailureText())
	}

	if expect.Value != nil {
		want := fromYAML(expect.Value)
		if !looselyEqual(want, result.Value) {
			return assertf(context, "expected value %s, but got %s", render(want), render(result.Value))
		}
	}
	if expect.Type != "" {
		if actual := moo.TypeName(result.Value); actual != expect.Type {
			return assertf(context, "expected type %s, but got %s (value: %s)",
				expect.Type, actual, render(result.Value))
		}
	}
	if expect.Contains != nil {
		if err := verifyContains(context, fromYAML(expect.Contains), result.Value); err != nil {
			return err
		}
	}
	if len(expect.Range) == 2 {
		if err := verifyRange(context, expect.Range, result.Value); err != nil {
			return err
		}
	}
	if len(expect.Notifications) > 0 {
		if err := verifyNotifications(context, expect.Notifications, result.Notifications); err != nil {
			return err
		}
	}
	return nil
}

// VerifyOutput checks the raw line output of a command or send step.
func VerifyOutput(context string, expect *suite.OutputExpect, lines []string) error {
	if expect == nil {
		return nil
	}
	joined := strings.Join(lines, "\n")

	if expect.Exact != nil {
		if want, ok := expect.Exact.([]string); ok {
			if !slices.Equal(want, lines) {
				return assertf(context, "expected output lines %q, but got %q", want, lines)
			}
			return nil
		}
		want := fmt.Sprint(expect.Exact)
		if joined != want {
			return assertf(context, "expected output %q, but got %q", want, joined)
		}
		return nil
	}
	if expect.Match != "" {
		re, err := regexp.Compile(expect.Match)
		if err != nil {
			return fmt.Errorf("%s: output match pattern: %w", context, err)
		}
		if !re.MatchString(joined) {
			return assertf(context, "pattern %q not found in output %q", expect.Match, joined)
		}
		return nil
	}
	if expect.Contains != "" {
		if !strings.Contains(joined, expect.Contains) {
			return assertf(context, "expected output to contain %q, but got %q", expect.Contains, joined)
		}
	}
	return nil
}

func verifyError(context, expected string, result client.EvalResult) error {
	if result.Success {
		return assertf(context, "expected error %s, but got success with value: %s",
			expected, render(result.Value))
	}
	if result.Code == "" {
		return assertf(context, "expected error %s, but got non-MOO error: %s",
			expected, result.ErrorMessage)
	}
	if string(result.Code) != expected {
		return assertf(context, "expected error %s, but got %s", expected, result.Code)
	}
	return nil
}

func verifyMatch(context, pattern string, actual moo.Value) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("%s: match pattern: %w", context, err)
	}
	switch v := actual.(type) {
	case moo.Str:
		if !re.MatchString(string(v)) {
			return assertf(context, "pattern %q not found in %q", pattern, string(v))
		}
		return nil
	case moo.List:
		for _, item := range v {
			if re.MatchString(render(item)) {
				return nil
			}
		}
		return assertf(context, "pattern %q not found in any element of %s", pattern, render(actual))
	default:
		return assertf(context, "expected string or list for match, but got %s: %s",
			moo.TypeName(actual), render(actual))
	}
}

func verifyContains(context string, expected, actual moo.Value) error {
	switch v := actual.(type) {
	case moo.List:
		for _, item := range v {
			if looselyEqual(expected, item) {
				return nil
			}
		}
		return assertf(context, "expected list to contain %s, but list is %s", render(expected), render(actual))
	case moo.Map:
		for _, pair := range v {
			if looselyEqual(expected, pair.Key) {
				return nil
			}
		}
		return assertf(context, "expected map to contain key %s, but map is %s", render(expected), render(actual))
	case moo.Str:
		var want string
		if s, ok := expected.(moo.Str); ok {
			want = string(s)
		} else {
			want = render(expected)
		}
		if !strings.Contains(string(v), want) {
			return assertf(context, "expected string to contain %q, but string is %q", want, string(v))
		}
		return nil
	default:
		return assertf(context, "contains check requires list, map, or string, but got %s",
			moo.TypeName(actual))
	}
}

func verifyRange(context string, bounds []float64, actual moo.Value) error {
	n, ok := numeric(actual)
	if !ok {
		return assertf(context, "range check requires numeric value, but got %s: %s",
			moo.TypeName(actual), render(actual))
	}
	if n < bounds[0] || n > bounds[1] {
		return assertf(context, "expected value in range [%v, %v], but got %s",
			bounds[0], bounds[1], render(actual))
	}
	return nil
}

func verifyNotifications(context string, expected, actual []string) error {
	for _, want := range expected {
		found := false
		for _, msg := range actual {
			if strings.Contains(msg, want) {
				found = true
				break
			}
		}
		if !found {
			return assertf(context, "expected notification %q, but only got: %q", want, actual)
		}
	}
	return nil
}

// fromYAML converts the Go shapes yaml.v3 produces for expectation values
// into MOO values. Strings stay strings here; looselyEqual handles the
// object and error coercions.
func fromYAML(v any) moo.Value {
	switch val := v.(type) {
	case nil:
		return nil
	case moo.Value:
		return val
	case bool:
		if val {
			return moo.Int(1)
		}
		return moo.Int(0)
	case int:
		return moo.Int(val)
	case int64:
		return moo.Int(val)
	case uint64:
		return moo.Int(val)
	case float64:
		return moo.Float(val)
	case string:
		return moo.Str(val)
	case []string:
		out := make(moo.List, len(val))
		for i, s := range val {
			out[i] = moo.Str(s)
		}
		return out
	case []any:
		out := make(moo.List, len(val))
		for i, item := range val {
			out[i] = fromYAML(item)
		}
		return out
	case map[string]any:
		out := make(moo.Map, 0, len(val))
		for k, item := range val {
			out = append(out, moo.Pair{Key: moo.Str(k), Value: fromYAML(item)})
		}
		return out
	default:
		return moo.Str(fmt.Sprint(v))
	}
}

// looselyEqual compares two values the way expectations require: strings
// holding object or error renderings equal their decoded counterparts,
// object numbers equal plain integers, floats get tolerance, and containers
// apply the same rules recursively (map keys included).
func looselyEqual(a, b moo.Value) bool {
	a, b = coerce(a), coerce(b)

	if al, ok := a.(moo.List); ok {
		bl, ok := b.(moo.List)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !looselyEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	if am, ok := a.(moo.Map); ok {
		bm, ok := b.(moo.Map)
		if !ok || len(am) != len(bm) {
			return false
		}
		for _, pair := range am {
			matched := false
			for _, bp := range bm {
				if looselyEqual(pair.Key, bp.Key) {
					matched = looselyEqual(pair.Value, bp.Value)
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	}

	an, aNum := numeric(a)
	bn, bNum := numeric(b)
	if aNum && bNum {
		_, aFloat := a.(moo.Float)
		_, bFloat := b.(moo.Float)
		if aFloat || bFloat {
			diff := an - bn
			return diff < floatTolerance && diff > -floatTolerance
		}
		return an == bn
	}

	return a == b
}

// coerce maps string renderings onto their typed counterparts before
// comparison. Unknown E_ tokens stay strings so a made-up code never
// accidentally equals a real one.
func coerce(v moo.Value) moo.Value {
	s, ok := v.(moo.Str)
	if !ok {
		return v
	}
	text := string(s)
	switch moo.TypeName(s) {
	case "obj":
		var n int64
		if _, err := fmt.Sscanf(text, "#%d", &n); err == nil {
			return moo.Obj(n)
		}
	case "anon":
		return moo.Anon(text)
	case "err":
		if code, known := moo.ErrorFromName(text); known {
			return code
		}
	}
	return v
}

func numeric(v moo.Value) (float64, bool) {
	switch n := v.(type) {
	case moo.Int:
		return float64(n), true
	case moo.Float:
		return float64(n), true
	case moo.Obj:
		return float64(n), true
	}
	return 0, false
}

// render shows a value in MOO literal form for assertion messages.
func render(v moo.Value) string {
	if v == nil {
		return "<no value>"
	}
	return v.String()
}
