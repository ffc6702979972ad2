package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns its combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeSuite(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mooconf version 1.2.3")
}

func TestListCommand(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "arithmetic.yaml", `name: arithmetic
description: Integer arithmetic.
tests:
  - name: addition
    code: 1 + 1
    expect:
      value: 2
`)

	out, err := execute(t, "list", "--suite-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "arithmetic")
	assert.Contains(t, out, "Integer arithmetic.")
}

func TestListCommand_TestsJSON(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "fork.yaml", `name: fork
provides: fork
tests:
  - name: fork_works
    code: "1"
`)

	out, err := execute(t, "list", "--suite-dir", dir, "--tests", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"id": "fork::fork_works"`)
	assert.Contains(t, out, `"provides": "fork"`)
}

func TestLintCommand(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "a.yaml", `name: a
tests:
  - name: one
    code: "1"
`)

	_, err := execute(t, "lint", "--suite-dir", dir)
	require.NoError(t, err)

	writeSuite(t, dir, "b.yaml", `name: b
tests:
  - name: duplicate_of_one
    code: "1"
`)
	out, err := execute(t, "lint", "--suite-dir", dir)
	require.Error(t, err)
	assert.Contains(t, out, "duplicate_of_one")
}

func TestSelfUpdate_RejectsDevBuild(t *testing.T) {
	SetVersion("dev")
	_, err := execute(t, "self-update")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "development version")
}
