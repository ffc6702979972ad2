package suite

import (
	"fmt"
	"regexp"

	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// Validate applies the domain rules the schema cannot express. It returns
// every violation found rather than stopping at the first, so authors fix a
// file in one pass. Advisory findings (a satisfies expectation, which the
// runner parses but never verifies) are logged, not returned.
func (s *Suite) Validate() []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("suite has no name"))
	}
	seen := make(map[string]bool)
	for i, t := range s.Tests {
		where := fmt.Sprintf("test[%d]", i)
		if t.Name != "" {
			where = fmt.Sprintf("test '%s'", t.Name)
		}
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("%s: missing name", where))
		} else if seen[t.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate test name", where))
		}
		seen[t.Name] = true
		errs = append(errs, validateTest(where, t)...)
	}
	return errs
}

func validateTest(where string, t *Test) []error {
	var errs []error

	forms := 0
	for _, set := range []bool{t.Code != "", t.Statement != "", t.Verb != "", len(t.Steps) > 0} {
		if set {
			forms++
		}
	}
	switch forms {
	case 0:
		errs = append(errs, fmt.Errorf("%s: needs one of code, statement, verb, or steps", where))
	case 1:
	default:
		errs = append(errs, fmt.Errorf("%s: code, statement, verb, and steps are mutually exclusive", where))
	}
	if len(t.Args) > 0 && t.Verb == "" {
		errs = append(errs, fmt.Errorf("%s: args only apply to verb tests", where))
	}
	if t.HasSteps() && t.Expect != nil {
		errs = append(errs, fmt.Errorf("%s: a steps test takes expectations per step, not at the top level", where))
	}
	if t.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("%s: timeout_ms must not be negative", where))
	}
	errs = append(errs, validateExpectation(where, t.Expect)...)
	for j, step := range t.Steps {
		errs = append(errs, validateStep(fmt.Sprintf("%s step[%d]", where, j), step)...)
	}
	for j, step := range t.Cleanup {
		errs = append(errs, validateStep(fmt.Sprintf("%s cleanup[%d]", where, j), step)...)
	}
	return errs
}

func validateStep(where string, st *Step) []error {
	var errs []error
	if st.Send != nil && st.Send.Connection == "" {
		errs = append(errs, fmt.Errorf("%s: send needs a connection name", where))
	}
	if st.VerbSetup != nil {
		if st.VerbSetup.Object == "" || st.VerbSetup.Name == "" {
			errs = append(errs, fmt.Errorf("%s: verb_setup needs object and name", where))
		}
	}
	if st.CloseConnection != nil && *st.CloseConnection == "" {
		errs = append(errs, fmt.Errorf("%s: close_connection needs a connection name", where))
	}
	errs = append(errs, validateExpectation(where, st.Expect)...)
	return errs
}

func validateExpectation(where string, e *Expectation) []error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.Match != "" {
		if _, err := regexp.Compile(e.Match); err != nil {
			errs = append(errs, fmt.Errorf("%s: match is not a valid regexp: %v", where, err))
		}
	}
	if e.Error != "" && !errorNamePattern.MatchString(e.Error) {
		errs = append(errs, fmt.Errorf("%s: error '%s' is not an E_ code", where, e.Error))
	}
	if len(e.Range) != 0 && len(e.Range) != 2 {
		errs = append(errs, fmt.Errorf("%s: range needs exactly [min, max]", where))
	}
	if len(e.Range) == 2 && e.Range[0] > e.Range[1] {
		errs = append(errs, fmt.Errorf("%s: range min exceeds max", where))
	}
	if e.Output != nil && e.Output.Match != "" {
		if _, err := regexp.Compile(e.Output.Match); err != nil {
			errs = append(errs, fmt.Errorf("%s: output match is not a valid regexp: %v", where, err))
		}
	}
	if e.Satisfies != "" {
		logging.Warn("Suite", "%s: satisfies expectations are parsed but never verified", where)
	}
	return errs
}

var errorNamePattern = regexp.MustCompile(`^E_[A-Z]+$`)
