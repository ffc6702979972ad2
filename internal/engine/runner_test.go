package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
)

// fakeTransport records every operation and answers evals through a
// configurable respond function.
type fakeTransport struct {
	evals    []string
	commands []string
	users    []string
	timeouts []time.Duration
	conns    []*fakeConn

	respond        func(code string) (client.EvalResult, error)
	commandRespond func(command string) ([]string, error)
}

func (f *fakeTransport) Evaluate(code string) (client.EvalResult, error) {
	f.evals = append(f.evals, code)
	if f.respond != nil {
		return f.respond(code)
	}
	return client.EvalResult{Success: true, Value: moo.Int(0)}, nil
}

func (f *fakeTransport) SendCommand(command string) ([]string, error) {
	f.commands = append(f.commands, command)
	if f.commandRespond != nil {
		return f.commandRespond(command)
	}
	return nil, nil
}

func (f *fakeTransport) SwitchUser(user string) error {
	f.users = append(f.users, user)
	return nil
}

func (f *fakeTransport) OpenConnection(user string) (Connection, error) {
	conn := &fakeConn{user: user}
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) SetTimeout(d time.Duration) {
	f.timeouts = append(f.timeouts, d)
}

type fakeConn struct {
	user   string
	sent   []string
	reply  []string
	closed bool
}

func (c *fakeConn) Send(text string) ([]string, error) {
	c.sent = append(c.sent, text)
	return c.reply, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func respondWith(answers map[string]client.EvalResult) func(string) (client.EvalResult, error) {
	return func(code string) (client.EvalResult, error) {
		if result, ok := answers[code]; ok {
			return result, nil
		}
		return client.EvalResult{}, fmt.Errorf("unexpected eval: %q", code)
	}
}

func TestRunSingle(t *testing.T) {
	ft := &fakeTransport{respond: respondWith(map[string]client.EvalResult{
		"return 1 + 1;": {Success: true, Value: moo.Int(2)},
	})}
	r := New(ft)

	s := &suite.Suite{Name: "arithmetic", Stem: "arithmetic"}
	test := &suite.Test{Name: "addition", Permission: "programmer",
		Code: "1 + 1", Expect: &suite.Expectation{Value: 2}}

	require.NoError(t, r.Run(s, test))
	assert.Equal(t, []string{"programmer"}, ft.users)
	assert.Equal(t, []string{"return 1 + 1;"}, ft.evals)
}

func TestRunSingle_SetupJoinsBody(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	setup := &suite.Block{Code: suite.CodeList("x = 10;")}
	test := &suite.Test{Name: "scoped", Setup: setup, Code: "x + 1"}

	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	require.Len(t, ft.evals, 1, "setup must share the eval with the body")
	assert.Equal(t, "x = 10;\nreturn x + 1;", ft.evals[0])
}

func TestRunSingle_TeardownRunsOnFailure(t *testing.T) {
	ft := &fakeTransport{respond: func(code string) (client.EvalResult, error) {
		if code == "return 1 + 1;" {
			return client.EvalResult{Success: true, Value: moo.Int(3)}, nil
		}
		return client.EvalResult{Success: true}, nil
	}}
	r := New(ft)

	teardown := &suite.Block{Code: suite.CodeList(`recycle($tmp);`)}
	test := &suite.Test{Name: "broken", Teardown: teardown,
		Code: "1 + 1", Expect: &suite.Expectation{Value: 2}}

	err := r.Run(&suite.Suite{Stem: "s"}, test)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ft.evals, `recycle($tmp);`)
}

func TestRun_AppliesTimeout(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	test := &suite.Test{Name: "slow", Code: "1", TimeoutMS: 250}
	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	assert.Equal(t, []time.Duration{250 * time.Millisecond, client.DefaultTimeout}, ft.timeouts)
}

func TestRunSteps_CaptureAndSubstitute(t *testing.T) {
	ft := &fakeTransport{respond: respondWith(map[string]client.EvalResult{
		"return 2 + 2;": {Success: true, Value: moo.Int(4)},
		"return 4 + 1;": {Success: true, Value: moo.Int(5)},
	})}
	r := New(ft)

	first, second := "2 + 2", "{x} + 1"
	test := &suite.Test{Name: "capture", Steps: []*suite.Step{
		{Run: &first, Capture: "x"},
		{Run: &second, Expect: &suite.Expectation{Value: 5}},
	}}

	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	assert.Equal(t, []string{"return 2 + 2;", "return 4 + 1;"}, ft.evals)
}

func TestRunSteps_CaptureErrorCode(t *testing.T) {
	ft := &fakeTransport{respond: respondWith(map[string]client.EvalResult{
		"return 1 / 0;":      {Success: false, Code: moo.EDiv},
		"return E_DIV == 2;": {Success: true, Value: moo.Int(0)},
	})}
	r := New(ft)

	boom, check := "1 / 0", "{err} == 2"
	test := &suite.Test{Name: "err_capture", Steps: []*suite.Step{
		{Run: &boom, Capture: "err"},
		{Run: &check},
	}}

	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	assert.Equal(t, "return E_DIV == 2;", ft.evals[1])
}

func TestRunSteps_SendOutputMismatch(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	test := &suite.Test{Name: "two_users", Steps: []*suite.Step{
		{NewConnection: &suite.NewConnection{Capture: "alice"}, As: "builder"},
		{Send: &suite.SendSpec{Text: "look", Connection: "alice"},
			Expect: &suite.Expectation{Output: &suite.OutputExpect{Match: "room"}}},
	}}

	// The fake connection replies with no lines, so the match fails.
	err := r.Run(&suite.Suite{Stem: "s"}, test)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.True(t, ft.conns[0].closed)
}

func ptr(s string) *string { return &s }

func TestRunSteps_SendAndClose(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	test := &suite.Test{Name: "wire", Steps: []*suite.Step{
		{NewConnection: &suite.NewConnection{Capture: "alice"}, As: "builder"},
		{Send: &suite.SendSpec{Text: "say hi", Connection: "alice"}, Capture: "out"},
		{CloseConnection: ptr("alice")},
	}}

	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	require.Len(t, ft.conns, 1)
	assert.Equal(t, "builder", ft.conns[0].user)
	assert.Equal(t, []string{"say hi"}, ft.conns[0].sent)
	assert.True(t, ft.conns[0].closed)
}

func TestRunSteps_UnknownConnection(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	test := &suite.Test{Name: "missing", Steps: []*suite.Step{
		{Send: &suite.SendSpec{Text: "look", Connection: "ghost"}},
	}}

	err := r.Run(&suite.Suite{Stem: "s"}, test)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, ae.Message, "unknown connection 'ghost'")
}

func TestRunSteps_ConnectionsClosedOnFailure(t *testing.T) {
	ft := &fakeTransport{respond: func(code string) (client.EvalResult, error) {
		return client.EvalResult{Success: false, Code: moo.EPerm}, nil
	}}
	r := New(ft)

	boom := "caller_perms()"
	test := &suite.Test{Name: "leak_check", Steps: []*suite.Step{
		{NewConnection: &suite.NewConnection{Capture: "alice"}},
		{Run: &boom, Expect: &suite.Expectation{Value: 1}},
	}}

	err := r.Run(&suite.Suite{Stem: "s"}, test)
	require.Error(t, err)
	require.Len(t, ft.conns, 1)
	assert.True(t, ft.conns[0].closed, "open connections must close even when a step fails")
}

func TestRunSteps_CleanupRunsOnFailure(t *testing.T) {
	calls := []string{}
	ft := &fakeTransport{respond: func(code string) (client.EvalResult, error) {
		calls = append(calls, code)
		if code == "return 1;" {
			return client.EvalResult{Success: true, Value: moo.Int(2)}, nil
		}
		return client.EvalResult{Success: true}, nil
	}}
	r := New(ft)

	body, cleanup := "1", "recycle({obj})"
	test := &suite.Test{
		Name:    "cleanup",
		Steps:   []*suite.Step{{Run: &body, Capture: "obj", Expect: &suite.Expectation{Value: 1}}},
		Cleanup: []*suite.Step{{Run: &cleanup, As: "wizard"}},
	}

	err := r.Run(&suite.Suite{Stem: "s"}, test)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Contains(t, calls, "return recycle(2);", "cleanup must run with captures substituted")
	assert.Equal(t, "wizard", ft.users[len(ft.users)-1])
}

func TestRunSteps_VerbSetup(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	test := &suite.Test{Name: "verbed", Steps: []*suite.Step{
		{VerbSetup: &suite.VerbSetup{
			Object: "$tmp",
			Name:   "probe",
			Args:   []string{"this", "none", "this"},
			Code:   "return args;",
		}},
	}}

	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	require.Len(t, ft.evals, 1)
	want := `add_verb($tmp, {player, "xd", "probe"}, {"this", "none", "this"}); ` +
		`return set_verb_code($tmp, "probe", {"return args;"});`
	assert.Equal(t, want, ft.evals[0])
}

func TestRunSteps_CommandCapture(t *testing.T) {
	ft := &fakeTransport{commandRespond: func(command string) ([]string, error) {
		return []string{"You see nothing special."}, nil
	}}
	r := New(ft)

	cmd := "look"
	test := &suite.Test{Name: "cmd", Steps: []*suite.Step{
		{Command: &cmd, Capture: "out",
			Expect: &suite.Expectation{Output: &suite.OutputExpect{Contains: "nothing"}}},
	}}

	require.NoError(t, r.Run(&suite.Suite{Stem: "s"}, test))
	assert.Equal(t, []string{"look"}, ft.commands)
}

func TestEnsureSuiteSetup_OncePerSuite(t *testing.T) {
	ft := &fakeTransport{}
	r := New(ft)

	s := &suite.Suite{
		Name:  "props",
		Stem:  "props",
		Setup: &suite.Block{Permission: "wizard", Code: suite.CodeList(`add_property(#0, "t", 0, {#0, "rc"});`)},
	}

	require.NoError(t, r.EnsureSuiteSetup(s))
	require.NoError(t, r.EnsureSuiteSetup(s))
	assert.Len(t, ft.evals, 1, "setup must run once per suite")
	assert.Equal(t, []string{"wizard"}, ft.users)

	r.SuiteTeardown(s)
	require.NoError(t, r.EnsureSuiteSetup(s))
	assert.Len(t, ft.evals, 2, "teardown clears the setup marker")
}

func TestEnsureSuiteSetup_DiscardsEvalFailures(t *testing.T) {
	ft := &fakeTransport{respond: func(code string) (client.EvalResult, error) {
		return client.EvalResult{Success: false, Code: moo.EInvArg}, nil
	}}
	r := New(ft)

	s := &suite.Suite{Name: "p", Stem: "p",
		Setup: &suite.Block{Code: suite.CodeList("a;", "b;")}}
	require.NoError(t, r.EnsureSuiteSetup(s), "MOO-level setup failures are not fatal")
	assert.Len(t, ft.evals, 2)
}

func TestEnsureSuiteSetup_TransportFailureAborts(t *testing.T) {
	ft := &fakeTransport{respond: func(code string) (client.EvalResult, error) {
		return client.EvalResult{}, errors.New("connection reset")
	}}
	r := New(ft)

	s := &suite.Suite{Name: "p", Stem: "p",
		Setup: &suite.Block{Code: suite.CodeList("a;")}}
	require.Error(t, r.EnsureSuiteSetup(s))
	require.Error(t, r.EnsureSuiteSetup(s), "failed setup must not be marked done")
}

func TestSubstitute(t *testing.T) {
	vars := map[string]any{
		"n":   moo.Int(7),
		"obj": moo.Obj(42),
		"s":   moo.Str("hi"),
		"e":   moo.EDiv,
	}
	tests := []struct {
		in   string
		want string
	}{
		{"{n} + 1", "7 + 1"},
		{"valid({obj})", "valid(#42)"},
		{"{s}", `"hi"`},
		{"{e} == 2", "E_DIV == 2"},
		{"{unknown}", "{unknown}"},
		{"{1, 2}", "{1, 2}"},
		{"no placeholders", "no placeholders"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Substitute(tt.in, vars), tt.in)
	}
}

func TestWrapExpression(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2 + 2", "return 2 + 2;"},
		{"x = 1;", "return x = 1;"},
		{"return 5;", "return 5;"},
		{"if (1) x = 2; endif", "if (1) x = 2; endif"},
		{"for i in [1..3] endfor", "for i in [1..3] endfor"},
		{"while (0) endwhile", "while (0) endwhile"},
		{"try return 1; except (ANY) endtry", "try return 1; except (ANY) endtry"},
		{"iffy()", "return iffy();"},
		{"format(x)", "return format(x);"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wrapExpression(tt.in), tt.in)
	}
}
