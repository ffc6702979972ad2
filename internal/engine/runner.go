package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
	"github.com/MongooseMoo/moo-conformance-tests/internal/suite"
	"github.com/MongooseMoo/moo-conformance-tests/pkg/logging"
)

// Transport is the server session the runner drives. Wrap a *client.Client
// with FromClient; tests substitute a fake.
type Transport interface {
	Evaluate(code string) (client.EvalResult, error)
	SendCommand(command string) ([]string, error)
	SwitchUser(user string) error
	OpenConnection(user string) (Connection, error)
}

// Connection is an auxiliary session opened by a new_connection step.
type Connection interface {
	Send(text string) ([]string, error)
	Close() error
}

// clientTransport lifts *client.Client onto Transport; the only mismatch
// is OpenConnection's concrete return type.
type clientTransport struct {
	*client.Client
}

func (t clientTransport) OpenConnection(user string) (Connection, error) {
	return t.Client.OpenConnection(user)
}

// WrapClient adapts a real server session to Transport.
func WrapClient(c *client.Client) Transport {
	return clientTransport{c}
}

// FromClient builds a runner driving a real server session.
func FromClient(c *client.Client) *Runner {
	return New(WrapClient(c))
}

// timeoutSetter is implemented by transports whose read deadline can be
// adjusted per test (timeout_ms in the suite file).
type timeoutSetter interface {
	SetTimeout(d time.Duration)
}

// Runner executes suite tests against one transport. It tracks which
// suites have had their setup run so the harness can hand it tests in any
// order without repeating fixture work. Not safe for concurrent use;
// scenarios drive the server one at a time.
type Runner struct {
	transport Transport
	setupDone map[string]bool
}

func New(transport Transport) *Runner {
	return &Runner{
		transport: transport,
		setupDone: make(map[string]bool),
	}
}

// EnsureSuiteSetup runs the suite's setup block once. Statements execute
// one at a time and MOO-level failures are discarded: setup routinely
// re-adds properties that already exist, and E_INVARG there means the
// fixture is already in place. Transport failures still abort.
func (r *Runner) EnsureSuiteSetup(s *suite.Suite) error {
	if s.Setup == nil || r.setupDone[s.Name] {
		return nil
	}
	if s.Setup.Permission != "" {
		if err := r.transport.SwitchUser(s.Setup.Permission); err != nil {
			return err
		}
	}
	for _, stmt := range s.Setup.Code.Lines() {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := r.transport.Evaluate(stmt); err != nil {
			return fmt.Errorf("suite '%s' setup: %w", s.Name, err)
		}
	}
	r.setupDone[s.Name] = true
	return nil
}

// SuiteTeardown runs the suite's teardown block best-effort and forgets
// the setup marker so a later run of the same suite sets up again.
func (r *Runner) SuiteTeardown(s *suite.Suite) {
	defer delete(r.setupDone, s.Name)
	if s.Teardown == nil {
		return
	}
	if s.Teardown.Permission != "" {
		_ = r.transport.SwitchUser(s.Teardown.Permission)
	}
	code := strings.Join(s.Teardown.Code.Lines(), "\n")
	if strings.TrimSpace(code) == "" {
		return
	}
	if _, err := r.transport.Evaluate(code); err != nil {
		logging.Warn("Engine", "Suite '%s' teardown failed: %v", s.Name, err)
	}
}

// Run executes one test. A nil return is a pass; *AssertionError is a
// conformance failure; any other error is a harness or transport problem.
func (r *Runner) Run(s *suite.Suite, t *suite.Test) error {
	if err := r.transport.SwitchUser(t.Permission); err != nil {
		return err
	}
	if ts, ok := r.transport.(timeoutSetter); ok && t.TimeoutMS > 0 {
		ts.SetTimeout(time.Duration(t.TimeoutMS) * time.Millisecond)
		defer ts.SetTimeout(client.DefaultTimeout)
	}

	context := fmt.Sprintf("Test '%s'", s.TestID(t))
	if t.HasSteps() {
		return r.runSteps(context, t)
	}
	return r.runSingle(context, t)
}

// runSingle executes a code/statement/verb test as one round trip. Test
// setup lines join the body so variables they bind stay in scope; teardown
// lines run afterward on every path, each evaluated separately with the
// outcome discarded.
func (r *Runner) runSingle(context string, t *suite.Test) (err error) {
	code, err := t.CodeToExecute()
	if err != nil {
		return err
	}

	var parts []string
	if t.Setup != nil {
		parts = append(parts, t.Setup.Code.Lines()...)
	}
	parts = append(parts, code)

	defer func() {
		if t.Teardown == nil {
			return
		}
		for _, stmt := range t.Teardown.Code.Lines() {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			_, _ = r.transport.Evaluate(stmt)
		}
	}()

	result, err := r.transport.Evaluate(strings.Join(parts, "\n"))
	if err != nil {
		return err
	}
	return Verify(context, t.Expect, result)
}

// runSteps executes a multi-step test over shared captured variables and
// named connections. The deferred block is the cleanup guarantee: cleanup
// steps and connection closes run whether the steps passed, failed an
// expectation, or died on the wire.
func (r *Runner) runSteps(context string, t *suite.Test) (err error) {
	vars := make(map[string]any)
	conns := make(map[string]Connection)

	defer func() {
		r.runCleanup(t, vars, conns)
		for name, conn := range conns {
			if cerr := conn.Close(); cerr != nil {
				logging.Debug("Engine", "Closing connection '%s': %v", name, cerr)
			}
		}
	}()

	for i, step := range t.Steps {
		if err := r.runStep(fmt.Sprintf("%s step %d", context, i+1), step, vars, conns); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStep(context string, step *suite.Step, vars map[string]any, conns map[string]Connection) error {
	if step.As != "" {
		if err := r.transport.SwitchUser(step.As); err != nil {
			return err
		}
	}

	switch {
	case step.NewConnection != nil:
		conn, err := r.transport.OpenConnection(step.As)
		if err != nil {
			return err
		}
		conns[step.NewConnection.Capture] = conn
		return nil

	case step.Send != nil:
		conn, ok := conns[step.Send.Connection]
		if !ok {
			return assertf(context, "unknown connection '%s'; open connections: %v",
				step.Send.Connection, connectionNames(conns))
		}
		text := Substitute(step.Send.Text, vars)
		lines, err := conn.Send(text)
		if err != nil {
			return err
		}
		if step.Capture != "" {
			vars[step.Capture] = lines
		}
		if step.Expect != nil {
			return VerifyOutput(context, step.Expect.Output, lines)
		}
		return nil

	case step.CloseConnection != nil:
		name := *step.CloseConnection
		conn, ok := conns[name]
		if !ok {
			return assertf(context, "unknown connection '%s'; open connections: %v",
				name, connectionNames(conns))
		}
		delete(conns, name)
		return conn.Close()

	case step.VerbSetup != nil:
		result, err := r.installVerb(step.VerbSetup, vars)
		if err != nil {
			return err
		}
		capture(step, vars, result)
		if step.Expect != nil {
			return Verify(context, step.Expect, result)
		}
		return nil

	case step.Command != nil:
		command := Substitute(*step.Command, vars)
		lines, err := r.transport.SendCommand(command)
		if err != nil {
			return err
		}
		if step.Capture != "" {
			vars[step.Capture] = lines
		}
		if step.Expect != nil {
			return VerifyOutput(context, step.Expect.Output, lines)
		}
		return nil

	case step.Run != nil:
		code := wrapExpression(Substitute(*step.Run, vars))
		result, err := r.transport.Evaluate(code)
		if err != nil {
			return err
		}
		capture(step, vars, result)
		if step.Expect != nil {
			return Verify(context, step.Expect, result)
		}
		return nil
	}

	// Unreachable for loaded suites; the step unmarshaler enforces an action.
	return fmt.Errorf("%s: step has no action", context)
}

// installVerb creates a verb and sets its code in one round trip, because
// eval executions share no variable scope: add_verb and set_verb_code must
// see the same object expression together.
func (r *Runner) installVerb(vs *suite.VerbSetup, vars map[string]any) (client.EvalResult, error) {
	obj := Substitute(vs.Object, vars)

	args := make([]string, len(vs.Args))
	for i, a := range vs.Args {
		args[i] = moo.Quote(a)
	}

	lines := strings.Split(vs.Code, "\n")
	quoted := make([]string, len(lines))
	for i, line := range lines {
		quoted[i] = moo.Quote(line)
	}

	code := fmt.Sprintf(`add_verb(%s, {player, "xd", "%s"}, {%s}); return set_verb_code(%s, "%s", {%s});`,
		obj, vs.Name, strings.Join(args, ", "),
		obj, vs.Name, strings.Join(quoted, ", "))
	return r.transport.Evaluate(code)
}

// capture stores a step result: the value on success, the error code (or
// message) on failure, so later steps can substitute either.
func capture(step *suite.Step, vars map[string]any, result client.EvalResult) {
	if step.Capture == "" {
		return
	}
	if result.Success {
		vars[step.Capture] = result.Value
		return
	}
	if result.Code != "" {
		vars[step.Capture] = result.Code
		return
	}
	vars[step.Capture] = result.ErrorMessage
}

// runCleanup executes the cleanup steps best-effort: permission switches
// honored, variables substituted, every failure discarded so one test's
// cleanup can never block the next test.
func (r *Runner) runCleanup(t *suite.Test, vars map[string]any, conns map[string]Connection) {
	for _, step := range t.Cleanup {
		if step.As != "" {
			_ = r.transport.SwitchUser(step.As)
		}
		switch {
		case step.Run != nil:
			_, _ = r.transport.Evaluate(wrapExpression(Substitute(*step.Run, vars)))
		case step.Command != nil:
			_, _ = r.transport.SendCommand(Substitute(*step.Command, vars))
		case step.CloseConnection != nil:
			if conn, ok := conns[*step.CloseConnection]; ok {
				delete(conns, *step.CloseConnection)
				_ = conn.Close()
			}
		}
	}
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute replaces {name} placeholders with the MOO literal encoding of
// captured values. Unknown names stay untouched, since braces are also MOO
// list syntax.
func Substitute(text string, vars map[string]any) string {
	if len(vars) == 0 {
		return text
	}
	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1 : len(match)-1]
		value, ok := vars[name]
		if !ok {
			return match
		}
		return moo.EncodeAny(value)
	})
}

// statementKeywords open MOO control constructs; code starting with one is
// executed as written instead of being wrapped in a return.
var statementKeywords = []string{"if", "for", "while", "try"}

// wrapExpression turns bare expressions into "return <expr>;" so their
// value comes back, leaving statements and code with an explicit return
// alone.
func wrapExpression(code string) string {
	trimmed := strings.TrimSpace(code)
	if strings.Contains(trimmed, "return ") || strings.HasPrefix(trimmed, "return") {
		return code
	}
	for _, kw := range statementKeywords {
		rest, ok := strings.CutPrefix(trimmed, kw)
		if ok && (rest == "" || !isIdentChar(rest[0])) {
			return code
		}
	}
	if strings.HasSuffix(trimmed, ";") {
		return "return " + trimmed
	}
	return "return " + trimmed + ";"
}

func isIdentChar(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func connectionNames(conns map[string]Connection) []string {
	names := make([]string, 0, len(conns))
	for name := range conns {
		names = append(names, name)
	}
	return names
}
