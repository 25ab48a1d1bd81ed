package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, logs bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateSeedVerify(t *testing.T) {
	// GIVEN: A fresh database file
	// WHEN: Migrating, seeding the demo and verifying
	// THEN: Each command succeeds and the chain verifies

	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "books.db")

	out, err := run(t, "migrate", "--db", db, "--log-format", "json")
	require.NoError(t, err)
	assert.Equal(t, "schema version 3\n", out)

	out, err = run(t, "seed", "--db", db, "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 customers, 3 products, 5 batches")

	out, err = run(t, "verify", "--db", db, "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "audit chain: valid, 9 records")
	assert.Contains(t, out, "stock: consistent")
}

func TestVerify_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	db := filepath.Join(dir, "books.db")

	_, err := run(t, "seed", "--db", db, "--log-format", "json")
	require.NoError(t, err)

	// GIVEN: Someone drops the refusal trigger and edits a sealed payload
	raw, err := sql.Open("sqlite3", db)
	require.NoError(t, err)
	_, err = raw.Exec("DROP TRIGGER trg_audit_log_no_update")
	require.NoError(t, err)
	_, err = raw.Exec(`UPDATE audit_log SET payload = '{"total":"0.00"}' WHERE id = 3`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	out, err := run(t, "verify", "--db", db, "--log-format", "json")

	assert.ErrorIs(t, err, errCheckFailed)
	assert.Contains(t, out, "audit chain: BROKEN at record 3")
}

func TestInvalidConfig(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := run(t, "migrate", "--db", ":memory:", "--stockout-policy", "sometimes")
	assert.Error(t, err)
}
