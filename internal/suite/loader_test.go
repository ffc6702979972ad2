package suite

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const basicSuite = `name: arithmetic
description: Integer arithmetic
tests:
  - name: addition
    code: 1 + 1
    expect:
      value: 2
  - name: division_by_zero
    code: 1 / 0
    expect:
      error: E_DIV
`

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "arithmetic.yaml", basicSuite)

	s, err := LoadFile(path)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, "arithmetic", s.Name)
	assert.Equal(t, "arithmetic", s.Stem)
	assert.Equal(t, path, s.Path)
	require.Len(t, s.Tests, 2)
	assert.Equal(t, "arithmetic::addition", s.TestID(s.Tests[0]))
	assert.Equal(t, "programmer", s.Tests[0].Permission)
	assert.Equal(t, DefaultTimeoutMS, s.Tests[0].TimeoutMS)
	assert.Equal(t, "E_DIV", s.Tests[1].Expect.Error)
}

func TestLoadFile_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "empty.yaml", "\n")

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestLoadFile_SchemaRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "typo.yaml", `name: typo
tests:
  - name: t1
    code: "1"
    expects:
      value: 1
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema")
}

func TestLoadFile_StepShorthands(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "steps.yaml", `name: steps
tests:
  - name: multi
    steps:
      - new_connection: alice
      - send:
          text: look
          connection: alice
        expect:
          output:
            match: "room"
      - run: 2 + 2
        capture: x
      - run: "{x} + 1"
        expect:
          value: 5
      - close_connection: alice
    cleanup:
      - run: 'recycle($tmp)'
`)

	s, err := LoadFile(path)
	require.NoError(t, err)
	test := s.Tests[0]
	require.Len(t, test.Steps, 5)
	assert.Equal(t, "alice", test.Steps[0].NewConnection.Capture)
	assert.Equal(t, "alice", test.Steps[1].Send.Connection)
	assert.Equal(t, "room", test.Steps[1].Expect.Output.Match)
	assert.Equal(t, "x", test.Steps[2].Capture)
	require.NotNil(t, test.Steps[4].CloseConnection)
	assert.Equal(t, "alice", *test.Steps[4].CloseConnection)
	require.Len(t, test.Cleanup, 1)
}

func TestLoadFile_StepNeedsExactlyOneAction(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(writeSuite(t, dir, "none.yaml", `name: none
tests:
  - name: t
    steps:
      - capture: x
`))
	require.Error(t, err)

	_, err = LoadFile(writeSuite(t, dir, "two.yaml", `name: two
tests:
  - name: t
    steps:
      - run: "1"
        command: look
`))
	require.Error(t, err)
}

func TestLoad_SkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "good.yaml", basicSuite)
	writeSuite(t, dir, "broken.yaml", "name: [unclosed\n")
	writeSuite(t, dir, "notes.txt", "not a suite")

	suites, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, suites, 1)
	assert.Equal(t, "arithmetic", suites[0].Name)
}

func TestLoad_MissingDirectory(t *testing.T) {
	suites, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, suites)
}

func TestLoad_SuiteLevelShorthands(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "caps.yaml", `name: caps
skip: false
provides: fork
assumes: tasks
setup: |
  add_property(#0, "tmp", 0, {#0, "rc"});
teardown:
  permission: wizard
  code:
    - delete_property(#0, "tmp");
tests:
  - name: t1
    statement: 'fork (0) endfork'
`)

	suites, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, suites, 1)
	s := suites[0]
	assert.Equal(t, []string{"tasks"}, []string(s.Assumes))
	assert.Equal(t, "fork", s.ProvidesFor(s.Tests[0]))
	require.NotNil(t, s.Setup)
	assert.Equal(t, "programmer", s.Setup.Permission)
	assert.Equal(t, "wizard", s.Teardown.Permission)
	assert.Equal(t, []string{`delete_property(#0, "tmp");`}, s.Teardown.Code.Lines())
}

func TestGenerateJSONSchema(t *testing.T) {
	generated, err := GenerateJSONSchema()
	require.NoError(t, err)
	for _, def := range []string{"docSuite", "docTest", "docStep", "docExpectation"} {
		assert.Contains(t, string(generated), def)
	}
}

func TestEmbeddedSchemaCompiles(t *testing.T) {
	_, err := compiledSchema()
	require.NoError(t, err)
}
