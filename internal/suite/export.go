package suite

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// The doc* structs mirror the YAML surface of a suite file, shorthand
// unions included. The runtime types in types.go cannot be reflected
// directly because their custom unmarshalers hide the accepted shapes, so
// the schema is generated from these instead. Keep the two in sync when the
// YAML surface changes, then run scripts/gen-schema to refresh the embedded
// copy.

type docSuite struct {
	Name        string       `json:"name" jsonschema:"required,description=Suite name shown in reports"`
	Description string       `json:"description,omitempty"`
	Version     any          `json:"version,omitempty" jsonschema:"oneof_type=string;number"`
	Skip        any          `json:"skip,omitempty" jsonschema:"oneof_type=boolean;string,description=Skip the whole suite; a string gives the reason"`
	Requires    *docRequires `json:"requires,omitempty"`
	Setup       any          `json:"setup,omitempty" jsonschema:"oneof_type=string;object"`
	Teardown    any          `json:"teardown,omitempty" jsonschema:"oneof_type=string;object"`
	Tests       []docTest    `json:"tests,omitempty"`
	Provides    string       `json:"provides,omitempty" jsonschema:"description=Capability every passing test in this suite helps verify"`
	Assumes     any          `json:"assumes,omitempty" jsonschema:"oneof_type=string;array"`
}

type docRequires struct {
	Builtins   []string `json:"builtins,omitempty"`
	Features   []string `json:"features,omitempty"`
	MinVersion string   `json:"min_version,omitempty"`
}

type docTest struct {
	Name        string          `json:"name" jsonschema:"required"`
	Description string          `json:"description,omitempty"`
	Skip        any             `json:"skip,omitempty" jsonschema:"oneof_type=boolean;string"`
	SkipIf      string          `json:"skip_if,omitempty"`
	Permission  string          `json:"permission,omitempty" jsonschema:"description=Login role; defaults to programmer"`
	Setup       any             `json:"setup,omitempty" jsonschema:"oneof_type=string;object"`
	Teardown    any             `json:"teardown,omitempty" jsonschema:"oneof_type=string;object"`
	Code        string          `json:"code,omitempty"`
	Statement   string          `json:"statement,omitempty"`
	Verb        string          `json:"verb,omitempty"`
	Args        []any           `json:"args,omitempty"`
	Argstr      string          `json:"argstr,omitempty"`
	Steps       []docStep       `json:"steps,omitempty"`
	Expect      *docExpectation `json:"expect,omitempty"`
	Cleanup     []docStep       `json:"cleanup,omitempty"`
	TimeoutMS   int             `json:"timeout_ms,omitempty"`
	Provides    string          `json:"provides,omitempty"`
	Assumes     any             `json:"assumes,omitempty" jsonschema:"oneof_type=string;array"`
}

type docStep struct {
	Run             string          `json:"run,omitempty"`
	Command         string          `json:"command,omitempty"`
	VerbSetup       *docVerbSetup   `json:"verb_setup,omitempty"`
	NewConnection   any             `json:"new_connection,omitempty" jsonschema:"oneof_type=string;object;null"`
	Send            *docSend        `json:"send,omitempty"`
	CloseConnection string          `json:"close_connection,omitempty"`
	Capture         string          `json:"capture,omitempty" jsonschema:"description=Variable name the step result is stored under"`
	As              string          `json:"as,omitempty" jsonschema:"description=Switch to this login role before the step"`
	Expect          *docExpectation `json:"expect,omitempty"`
}

type docVerbSetup struct {
	Object string   `json:"object" jsonschema:"required"`
	Name   string   `json:"name" jsonschema:"required"`
	Args   []string `json:"args,omitempty"`
	Code   string   `json:"code,omitempty"`
}

type docSend struct {
	Text       string `json:"text" jsonschema:"required"`
	Connection string `json:"connection" jsonschema:"required"`
}

type docExpectation struct {
	Value         any       `json:"value,omitempty" jsonschema:"oneof_type=string;number;boolean;array;object"`
	Error         string    `json:"error,omitempty" jsonschema:"pattern=^E_[A-Z]+$"`
	Type          string    `json:"type,omitempty" jsonschema:"enum=int,enum=float,enum=str,enum=obj,enum=anon,enum=err,enum=list,enum=map,enum=bool"`
	Match         string    `json:"match,omitempty"`
	Contains      any       `json:"contains,omitempty" jsonschema:"oneof_type=string;number;boolean;array"`
	Range         []float64 `json:"range,omitempty"`
	Satisfies     string    `json:"satisfies,omitempty"`
	Notifications []string  `json:"notifications,omitempty"`
	Output        any       `json:"output,omitempty" jsonschema:"oneof_type=string;array;object"`
}

// GenerateJSONSchema produces the JSON Schema (Draft 2020-12) for suite
// files. The loader validates every raw document against the embedded copy
// of this schema before typed decoding.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false
	r.Anonymous = true
	r.AllowAdditionalProperties = false
	r.KeyNamer = func(s string) string { return s }

	s := r.Reflect(&docSuite{})
	s.ID = "https://github.com/MongooseMoo/moo-conformance-tests/schemas/suite-v1.json"
	s.Title = "MOO Conformance Suite"
	s.Description = "Schema for mooconf test suite YAML documents"

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal suite schema: %w", err)
	}
	return canonicalJSON(data)
}

// canonicalJSON re-marshals through a map so keys come out sorted at every
// level. The reflector emits $defs in struct-discovery order, which shifts
// whenever the doc types move; sorting keeps regeneration byte-stable
// against the committed schema. Output ends with a newline.
func canonicalJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("canonicalize suite schema: %w", err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("canonicalize suite schema: %w", err)
	}
	return buf.Bytes(), nil
}
