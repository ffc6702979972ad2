package client

import (
	"regexp"
	"strings"

	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
)

// EvalResult is the outcome of one eval round trip, normalized across the
// response dialects servers speak. Exactly one of Value, Code, or
// ErrorMessage is meaningful: Value on success, Code for failures that name
// a MOO error, ErrorMessage for failures that only carry text.
type EvalResult struct {
	Success       bool
	Value         moo.Value
	Code          moo.ErrorCode
	ErrorMessage  string
	Notifications []string
}

// FailureText renders the failure for messages: the error code when one
// was recognized, otherwise the raw message.
func (r EvalResult) FailureText() string {
	if r.Code != "" {
		return string(r.Code)
	}
	return r.ErrorMessage
}

// PhraseMapping pairs a substring that appears in server tracebacks with
// the error code it denotes. Order matters: the first matching phrase wins.
type PhraseMapping struct {
	Phrase string
	Code   moo.ErrorCode
}

// DefaultTracebackPhrases covers the traceback wording of stock servers.
// Each Client starts with its own copy; extend Client.TracebackPhrases to
// teach it server-specific messages. Tracebacks with no matching phrase
// become unstructured failures, never a guessed code.
var DefaultTracebackPhrases = []PhraseMapping{
	{"Type mismatch", moo.EType},
	{"Division by zero", moo.EDiv},
	{"Permission denied", moo.EPerm},
	{"Property not found", moo.EPropNF},
	{"Verb not found", moo.EVerbNF},
	{"Invalid argument", moo.EInvArg},
	{"Invalid indirection", moo.EInvInd},
	{"Resource limit exceeded", moo.EQuota},
	{"Out of range", moo.ERange},
	{"Range error", moo.ERange},
	{"Second argument must be a list", moo.EArgs},
	{"No object match", moo.EInvArg},
	{"Recursive move", moo.ERecMove},
	{"Illegal object", moo.EInvArg},
	{"Maximum object recursion reached", moo.EMaxRec},
	{"Number of seconds must be non-negative", moo.EInvArg},
	{"Wrong number of arguments", moo.EArgs},
	{"Too many arguments", moo.EArgs},
	{"Not enough arguments", moo.EArgs},
}

var bareErrorPattern = regexp.MustCompile(`^(E_[A-Z]+)`)

// Classify normalizes raw response text into an EvalResult. Three dialects
// exist in the wild:
//
//   - Toast prefixes eval results with "=> " and returns bare values, or
//     renders runtime errors as a multi-line traceback
//   - Barn wraps results in a {status, payload} envelope where status 0 is
//     a compile error, 1 success, and 2 a runtime error
//   - some commands answer with a bare error token like E_PERM
//
// Anything that matches none of these is a successful plain value. Note
// that a status-1 envelope can carry an error code as its payload; that is
// success with an error value, not a failure.
func Classify(response string, phrases []PhraseMapping) EvalResult {
	toastFormat := strings.HasPrefix(response, "=> ")
	if toastFormat {
		response = response[3:]
	}

	if strings.HasPrefix(response, "E_") {
		if m := bareErrorPattern.FindStringSubmatch(response); m != nil {
			if code, ok := moo.ErrorFromName(m[1]); ok {
				return EvalResult{Code: code}
			}
		}
	}

	value := moo.Decode(response)

	if toastFormat {
		return EvalResult{Success: true, Value: value}
	}

	if s, ok := value.(moo.Str); ok {
		text := string(s)
		if strings.HasPrefix(text, "#-1:Input to EVAL") && strings.Contains(text, "(End of traceback)") {
			for _, pm := range phrases {
				if strings.Contains(text, pm.Phrase) {
					return EvalResult{Code: pm.Code}
				}
			}
			return EvalResult{ErrorMessage: text}
		}
	}

	if l, ok := value.(moo.List); ok && len(l) == 2 {
		if status, ok := l[0].(moo.Int); ok {
			payload := l[1]
			switch status {
			case 0:
				if code, ok := payloadErrorCode(payload); ok {
					return EvalResult{Code: code}
				}
				if pl, ok := payload.(moo.List); ok && len(pl) >= 2 {
					return EvalResult{ErrorMessage: renderText(pl[1])}
				}
				return EvalResult{ErrorMessage: renderText(payload)}
			case 1:
				return EvalResult{Success: true, Value: payload}
			case 2:
				if pl, ok := payload.(moo.List); ok && len(pl) >= 1 {
					if code, ok := payloadErrorCode(pl[0]); ok {
						return EvalResult{Code: code}
					}
				}
				return EvalResult{ErrorMessage: "Runtime error: " + renderText(payload)}
			}
		}
	}

	return EvalResult{Success: true, Value: value}
}

// payloadErrorCode recognizes an error code whether the envelope carried it
// bare or quoted.
func payloadErrorCode(v moo.Value) (moo.ErrorCode, bool) {
	switch val := v.(type) {
	case moo.ErrorCode:
		return val, true
	case moo.Str:
		if code, ok := moo.ErrorFromName(string(val)); ok {
			return code, true
		}
	}
	return "", false
}

// renderText flattens a payload into message text: strings render bare,
// everything else in literal form.
func renderText(v moo.Value) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(moo.Str); ok {
		return string(s)
	}
	return v.String()
}
