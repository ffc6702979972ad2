package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MongooseMoo/moo-conformance-tests/internal/client"
	"github.com/MongooseMoo/moo-conformance-tests/internal/config"
	"github.com/MongooseMoo/moo-conformance-tests/internal/server"
)

func TestServerStatus_Unmanaged(t *testing.T) {
	cfg := config.Default()
	c := client.New(client.Config{Host: cfg.Host, Port: cfg.Port})

	st := serverStatus(cfg, c, nil)
	assert.Equal(t, cfg.Host, st.Host)
	assert.Equal(t, cfg.Port, st.Port)
	assert.False(t, st.Managed)
	assert.True(t, st.Running)
	assert.Empty(t, st.StartedAt)
}

func TestServerStatus_ManagedNotStarted(t *testing.T) {
	db := filepath.Join(t.TempDir(), "minimal.db")
	require.NoError(t, os.WriteFile(db, []byte("db"), 0o644))
	mgr, err := server.New(server.Config{Command: "sleep 60 {db} {port}", DBPath: db})
	require.NoError(t, err)

	cfg := config.Default()
	c := client.New(client.Config{Host: cfg.Host, Port: cfg.Port})

	st := serverStatus(cfg, c, mgr)
	assert.True(t, st.Managed)
	assert.False(t, st.Running)
	assert.Empty(t, st.StartedAt, "a manager that never started has no start time")
}
