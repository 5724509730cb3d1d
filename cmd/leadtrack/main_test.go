package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadtrack-engine/internal/domain"
	"leadtrack-engine/internal/leads"
	"leadtrack-engine/internal/workspace"
)

func run(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestImportThenUpdate(t *testing.T) {
	t.Setenv("LEADTRACK_DATA_DIR", "")
	t.Setenv("LEADTRACK_CONFIG", "")
	t.Setenv("LEADTRACK_PORT", "")
	dir := t.TempDir()
	src := filepath.Join(dir, "leads.csv")
	require.NoError(t, os.WriteFile(src, []byte("Email;Company;Stage\nann@acme.io;Acme;contacted\nbob@initech.io;Initech;\n"), 0o644))

	require.NoError(t, run(t, "--data-dir", dir, "--log-level", "error", "import", src))
	assert.FileExists(t, filepath.Join(dir, "config.yml"))

	ws, err := workspace.Open(context.Background(), workspace.Options{DataDir: dir})
	require.NoError(t, err)
	got := ws.Query(leads.Filter{Search: "acme"})
	require.NoError(t, ws.Close(context.Background()))
	require.Len(t, got, 1)
	assert.Equal(t, domain.StatusContacted, got[0].Status)

	require.NoError(t, run(t, "--data-dir", dir, "--log-level", "error", "update", got[0].ID, "status", "won"))
	require.Error(t, run(t, "--data-dir", dir, "--log-level", "error", "update", got[0].ID, "colour", "red"))
	require.Error(t, run(t, "--data-dir", dir, "--log-level", "error", "note", "no-such-id", "hello"))

	ws, err = workspace.Open(context.Background(), workspace.Options{DataDir: dir})
	require.NoError(t, err)
	defer ws.Close(context.Background())
	l, err := ws.Get(got[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWon, l.Status)
	assert.NotNil(t, l.LastContactAt)
	assert.Equal(t, 2, ws.Analytics().Total)
}

func TestBackupCommand(t *testing.T) {
	t.Setenv("LEADTRACK_DATA_DIR", "")
	t.Setenv("LEADTRACK_CONFIG", "")
	t.Setenv("LEADTRACK_PORT", "")
	dir := t.TempDir()

	require.NoError(t, run(t, "--data-dir", dir, "--log-level", "error", "stats"))
	require.NoError(t, run(t, "--data-dir", dir, "--log-level", "error", "backup"))

	matches, err := filepath.Glob(filepath.Join(dir, "backups", "leads_backup_*.db"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}
