package suite

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MongooseMoo/moo-conformance-tests/internal/moo"
)

// DefaultTimeoutMS bounds a single test when the suite does not override
// timeout_ms.
const DefaultTimeoutMS = 5000

// Suite is one YAML file of tests.
type Suite struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Version     string     `yaml:"version"`
	Skip        SkipFlag   `yaml:"skip"`
	Requires    Requires   `yaml:"requires"`
	Setup       *Block     `yaml:"setup"`
	Teardown    *Block     `yaml:"teardown"`
	Tests       []*Test    `yaml:"tests"`
	Provides    string     `yaml:"provides"`
	Assumes     StringList `yaml:"assumes"`

	// Path and Stem locate the file the suite was loaded from; the loader
	// fills them in.
	Path string `yaml:"-"`
	Stem string `yaml:"-"`
}

func (s *Suite) UnmarshalYAML(node *yaml.Node) error {
	type plain Suite
	raw := plain{Version: "1.0"}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*s = Suite(raw)
	return nil
}

// TestID returns the identifier used in reports and capability tracking.
func (s *Suite) TestID(t *Test) string {
	return s.Stem + "::" + t.Name
}

// ProvidesFor returns the capability a test provides: the test's own if
// set, otherwise the suite-level default.
func (s *Suite) ProvidesFor(t *Test) string {
	if t.Provides != "" {
		return t.Provides
	}
	return s.Provides
}

// AssumesFor returns the capabilities a test assumes, test-level first.
func (s *Suite) AssumesFor(t *Test) []string {
	if len(t.Assumes) > 0 {
		return t.Assumes
	}
	return s.Assumes
}

// Requires declares what a suite needs from the server. The harness
// surfaces these in reports; they are informational, not enforced.
type Requires struct {
	Builtins   []string `yaml:"builtins"`
	Features   []string `yaml:"features"`
	MinVersion string   `yaml:"min_version"`
}

// Test is a single test case. One of Code, Statement, Verb, or Steps
// drives it; Code wins when several are set.
type Test struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Skip        SkipFlag     `yaml:"skip"`
	SkipIf      string       `yaml:"skip_if"`
	Permission  string       `yaml:"permission"`
	Setup       *Block       `yaml:"setup"`
	Teardown    *Block       `yaml:"teardown"`
	Code        string       `yaml:"code"`
	Statement   string       `yaml:"statement"`
	Verb        string       `yaml:"verb"`
	Steps       []*Step      `yaml:"steps"`
	Args        []any        `yaml:"args"`
	Argstr      string       `yaml:"argstr"`
	Expect      *Expectation `yaml:"expect"`
	Cleanup     []*Step      `yaml:"cleanup"`
	TimeoutMS   int          `yaml:"timeout_ms"`
	Provides    string       `yaml:"provides"`
	Assumes     StringList   `yaml:"assumes"`
}

func (t *Test) UnmarshalYAML(node *yaml.Node) error {
	type plain Test
	raw := plain{Permission: "programmer", TimeoutMS: DefaultTimeoutMS}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*t = Test(raw)
	return nil
}

// HasSteps reports whether this is a multi-step test.
func (t *Test) HasSteps() bool {
	return len(t.Steps) > 0
}

// CodeToExecute builds the eval body for a single-shot test:
//
//   - code wraps in "return <code>;" unless the author already did
//   - statement runs as written, with a terminating semicolon ensured
//   - verb becomes "return <verb>(<args>);" with args in literal form
//
// Multi-step tests never pass through here.
func (t *Test) CodeToExecute() (string, error) {
	if t.HasSteps() {
		return "", fmt.Errorf("Test '%s' uses steps", t.Name)
	}
	switch {
	case t.Code != "":
		code := strings.TrimSpace(t.Code)
		if strings.HasPrefix(code, "return ") {
			if !strings.HasSuffix(code, ";") {
				code += ";"
			}
			return code, nil
		}
		return "return " + code + ";", nil
	case t.Statement != "":
		stmt := strings.TrimSpace(t.Statement)
		if !strings.HasSuffix(stmt, ";") {
			stmt += ";"
		}
		return stmt, nil
	case t.Verb != "":
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = moo.EncodeAny(a)
		}
		return fmt.Sprintf("return %s(%s);", t.Verb, strings.Join(args, ", ")), nil
	}
	return "", fmt.Errorf("Test '%s' has no code, statement, verb, or steps", t.Name)
}

// Step is one action in a multi-step test. Exactly one action field is
// set; the unmarshaler enforces that. Scalar actions are pointers so an
// explicitly empty value still selects the action.
type Step struct {
	Run             *string        `yaml:"run"`
	Command         *string        `yaml:"command"`
	VerbSetup       *VerbSetup     `yaml:"verb_setup"`
	NewConnection   *NewConnection `yaml:"new_connection"`
	Send            *SendSpec      `yaml:"send"`
	CloseConnection *string        `yaml:"close_connection"`
	Capture         string         `yaml:"capture"`
	As              string         `yaml:"as"`
	Expect          *Expectation   `yaml:"expect"`
}

func (st *Step) UnmarshalYAML(node *yaml.Node) error {
	type plain Step
	var raw plain
	if err := node.Decode(&raw); err != nil {
		return err
	}
	actions := 0
	for _, set := range []bool{
		raw.Run != nil,
		raw.Command != nil,
		raw.VerbSetup != nil,
		raw.NewConnection != nil,
		raw.Send != nil,
		raw.CloseConnection != nil,
	} {
		if set {
			actions++
		}
	}
	if actions == 0 {
		return fmt.Errorf("Test step must have an action field (run, command, verb_setup, new_connection, send, or close_connection)")
	}
	if actions > 1 {
		return fmt.Errorf("Test step must have exactly one action field")
	}
	*st = Step(raw)
	return nil
}

// VerbSetup creates a verb declaratively before later steps call it.
type VerbSetup struct {
	Object string   `yaml:"object"`
	Name   string   `yaml:"name"`
	Args   []string `yaml:"args"`
	Code   string   `yaml:"code"`
}

// NewConnection opens an extra socket connection and stores its handle
// under Capture. The YAML form is either a mapping with a capture key or
// a bare string naming the variable.
type NewConnection struct {
	Capture string
}

func (n *NewConnection) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n.Capture = node.Value
	} else {
		var raw struct {
			Capture string `yaml:"capture"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		n.Capture = raw.Capture
	}
	if n.Capture == "" {
		n.Capture = "conn"
	}
	return nil
}

// SendSpec sends raw text on a named connection.
type SendSpec struct {
	Text       string `yaml:"text"`
	Connection string `yaml:"connection"`
}

// Expectation asserts on a test or step outcome. Authors set one of the
// fields; several at once all apply.
type Expectation struct {
	Value         any           `yaml:"value"`
	Error         string        `yaml:"error"`
	Type          string        `yaml:"type"`
	Match         string        `yaml:"match"`
	Contains      any           `yaml:"contains"`
	Range         []float64     `yaml:"range"`
	Satisfies     string        `yaml:"satisfies"`
	Notifications []string      `yaml:"notifications"`
	Output        *OutputExpect `yaml:"output"`
}

// ExpectsError reports whether the expectation names an error code.
func (e *Expectation) ExpectsError() bool {
	return e != nil && e.Error != ""
}

// OutputExpect asserts on the raw output of a command step. Exact holds a
// string (joined comparison) or a []string (line comparison); the YAML
// shorthand forms "output: text" and "output: [a, b]" both mean exact.
type OutputExpect struct {
	Exact    any
	Match    string
	Contains string
}

func (o *OutputExpect) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode, yaml.SequenceNode:
		exact, err := decodeExact(node)
		if err != nil {
			return err
		}
		o.Exact = exact
		return nil
	case yaml.MappingNode:
		var raw struct {
			Exact    *yaml.Node `yaml:"exact"`
			Match    string     `yaml:"match"`
			Contains string     `yaml:"contains"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		if raw.Exact != nil {
			exact, err := decodeExact(raw.Exact)
			if err != nil {
				return err
			}
			o.Exact = exact
		}
		o.Match = raw.Match
		o.Contains = raw.Contains
		return nil
	}
	return fmt.Errorf("output expectation must be a string, list, or mapping")
}

func decodeExact(node *yaml.Node) (any, error) {
	if node.Kind == yaml.SequenceNode {
		var lines []string
		if err := node.Decode(&lines); err != nil {
			return nil, err
		}
		return lines, nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return nil, err
	}
	return s, nil
}

// Block is a setup or teardown block. The YAML shorthand form is a bare
// string of code; the full form is a mapping with permission and code.
type Block struct {
	Permission string
	Code       Code
}

func (b *Block) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		b.Permission = "programmer"
		return node.Decode(&b.Code)
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("setup/teardown must be a string or a mapping")
	}
	var raw struct {
		Permission string `yaml:"permission"`
		Code       Code   `yaml:"code"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	b.Permission = raw.Permission
	if b.Permission == "" {
		b.Permission = "programmer"
	}
	b.Code = raw.Code
	return nil
}

// Code is a block of MOO statements, written either as one multi-line
// string or as an explicit list of lines. The two forms differ: string
// form drops blank lines, list form is taken verbatim.
type Code struct {
	text   string
	list   []string
	isList bool
}

// CodeText builds a Code from a multi-line string.
func CodeText(text string) Code {
	return Code{text: text}
}

// CodeList builds a Code from explicit lines.
func CodeList(lines ...string) Code {
	return Code{list: lines, isList: true}
}

func (c *Code) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*c = Code{}
			return nil
		}
		return node.Decode(&c.text)
	case yaml.SequenceNode:
		c.isList = true
		return node.Decode(&c.list)
	}
	return fmt.Errorf("code must be a string or a list of strings")
}

// Lines returns the statements to execute, one per element.
func (c Code) Lines() []string {
	if c.isList {
		return c.list
	}
	trimmed := strings.TrimSpace(c.text)
	if trimmed == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// Empty reports whether the block holds no statements.
func (c Code) Empty() bool {
	return len(c.Lines()) == 0
}

// SkipFlag is YAML "skip: true" or "skip: reason". An empty string reads
// as not skipped.
type SkipFlag struct {
	skip   bool
	reason string
}

// Skipped builds an active flag, mainly for tests.
func Skipped(reason string) SkipFlag {
	return SkipFlag{skip: true, reason: reason}
}

func (s *SkipFlag) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("skip must be a boolean or a string")
	}
	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*s = SkipFlag{skip: b}
	case "!!null":
		*s = SkipFlag{}
	default:
		*s = SkipFlag{skip: node.Value != "", reason: node.Value}
	}
	return nil
}

// Active reports whether the flag skips anything.
func (s SkipFlag) Active() bool {
	return s.skip
}

// Reason returns the author's explanation, empty for plain "skip: true".
func (s SkipFlag) Reason() string {
	return s.reason
}

// StringList accepts both "assumes: fork" and "assumes: [fork, suspend]".
type StringList []string

func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			*l = nil
			return nil
		}
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return err
		}
		*l = StringList(out)
		return nil
	}
	return fmt.Errorf("expected a string or a list of strings")
}
