package suite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filterSuite() *Suite {
	return &Suite{
		Name: "tasks",
		Stem: "tasks",
		Tests: []*Test{
			{Name: "fork_basic", Provides: "fork", Code: "1"},
			{Name: "queued_info", Assumes: StringList{"fork"}, Code: "1"},
			{Name: "plain", Code: "1", Steps: nil},
		},
	}
}

func TestFilterByName(t *testing.T) {
	s := filterSuite()
	f, err := BuildExpression("FORK", "")
	require.NoError(t, err)

	ok, err := f.Matches(s, s.Tests[0])
	require.NoError(t, err)
	assert.True(t, ok, "case-insensitive substring should match")

	ok, err = f.Matches(s, s.Tests[2])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFilterByExpression(t *testing.T) {
	s := filterSuite()
	f, err := BuildExpression("", `provides != "" or "fork" in assumes`)
	require.NoError(t, err)

	want := []bool{true, true, false}
	for i, test := range s.Tests {
		ok, err := f.Matches(s, test)
		require.NoError(t, err)
		assert.Equal(t, want[i], ok, test.Name)
	}
}

func TestFilterExpressionCompileError(t *testing.T) {
	_, err := BuildExpression("", "provides ==")
	require.Error(t, err)
}

func TestNilFilterMatchesEverything(t *testing.T) {
	s := filterSuite()
	var f *Filter
	ok, err := f.Matches(s, s.Tests[0])
	require.NoError(t, err)
	assert.True(t, ok)
}
