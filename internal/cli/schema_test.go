package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDSN(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "riftlogctl_test.db")
}

func TestSchemaCreateAndStatus(t *testing.T) {
	dsn := testDSN(t)
	rootOpts := &RootOptions{Driver: "sqlite", DSN: dsn, Format: "text"}

	createCmd := newSchemaCreateCommand(rootOpts)
	createCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, createCmd.RunE(createCmd, nil))

	buf := &bytes.Buffer{}
	statusCmd := newSchemaStatusCommand(rootOpts)
	statusCmd.SetOut(buf)
	require.NoError(t, statusCmd.RunE(statusCmd, nil))

	output := buf.String()
	assert.Contains(t, output, "streams")
	assert.Contains(t, output, "subscriptions")
	assert.NotContains(t, output, "MISSING")
}

func TestSchemaStatus_MissingTables(t *testing.T) {
	dsn := testDSN(t)
	rootOpts := &RootOptions{Driver: "sqlite", DSN: dsn, Format: "json"}

	buf := &bytes.Buffer{}
	statusCmd := newSchemaStatusCommand(rootOpts)
	statusCmd.SetOut(buf)
	require.NoError(t, statusCmd.RunE(statusCmd, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSchemaMigrate_IsIdempotent(t *testing.T) {
	dsn := testDSN(t)
	rootOpts := &RootOptions{Driver: "sqlite", DSN: dsn, Format: "text"}

	createCmd := newSchemaCreateCommand(rootOpts)
	createCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, createCmd.RunE(createCmd, nil))

	migrateCmd := newSchemaMigrateCommand(rootOpts)
	migrateCmd.SetOut(&bytes.Buffer{})
	require.NoError(t, migrateCmd.RunE(migrateCmd, nil), "re-running schema apply must not fail")
}
