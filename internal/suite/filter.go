package suite

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter selects tests for a run. Name matches case-insensitively against
// "stem::test" identifiers; Expression is an expr-lang boolean over the
// fields of one test (see BuildExpression). Both empty means everything
// runs.
type Filter struct {
	Name    string
	program *vm.Program
}

// BuildExpression compiles an expr-lang filter. The expression sees these
// variables per test:
//
//	suite       suite name
//	name        test name
//	description test description
//	provides    capability the test provides ("" when none)
//	assumes     list of assumed capabilities
//	skip        whether the test is marked skipped
//	steps       number of steps (0 for single-shot tests)
//
// Example: --expression 'provides != "" or "fork" in assumes'.
func BuildExpression(name, expression string) (*Filter, error) {
	f := &Filter{Name: name}
	if expression == "" {
		return f, nil
	}
	program, err := expr.Compile(expression, expr.Env(filterEnv(nil, nil)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	f.program = program
	return f, nil
}

// Matches reports whether the test should run.
func (f *Filter) Matches(s *Suite, t *Test) (bool, error) {
	if f == nil {
		return true, nil
	}
	if f.Name != "" && !strings.Contains(strings.ToLower(s.TestID(t)), strings.ToLower(f.Name)) {
		return false, nil
	}
	if f.program == nil {
		return true, nil
	}
	out, err := expr.Run(f.program, filterEnv(s, t))
	if err != nil {
		return false, fmt.Errorf("eval filter on %s: %w", s.TestID(t), err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("filter did not return bool (got %T)", out)
	}
	return ok, nil
}

func filterEnv(s *Suite, t *Test) map[string]any {
	env := map[string]any{
		"suite":       "",
		"name":        "",
		"description": "",
		"provides":    "",
		"assumes":     []string{},
		"skip":        false,
		"steps":       0,
	}
	if s == nil || t == nil {
		return env
	}
	env["suite"] = s.Name
	env["name"] = t.Name
	env["description"] = t.Description
	env["provides"] = s.ProvidesFor(t)
	env["assumes"] = []string(s.AssumesFor(t))
	env["skip"] = t.Skip.Active() || s.Skip.Active()
	env["steps"] = len(t.Steps)
	return env
}
