package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/books-engine/config"
	"github.com/warp/books-engine/inventory"
)

// isolate runs the test in an empty directory so no stray .env or books.yaml is read.
func isolate(t *testing.T) string {
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "books.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.AuditHashTimeout)
	assert.Equal(t, inventory.StockoutAllow, cfg.StockoutPolicy)
	assert.Equal(t, time.Hour, cfg.IntegrityInterval)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("BOOKS_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("BOOKS_STOCKOUT_POLICY", "REJECT")
	t.Setenv("BOOKS_AUDIT_HASH_TIMEOUT", "500ms")
	t.Setenv("BOOKS_ENVIRONMENT", "production")

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Equal(t, inventory.StockoutReject, cfg.StockoutPolicy)
	assert.Equal(t, 500*time.Millisecond, cfg.AuditHashTimeout)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.LogFormat, "production logs json unless told otherwise")
}

func TestLoad_ProductionHonorsExplicitLogFormat(t *testing.T) {
	isolate(t)
	t.Setenv("BOOKS_ENVIRONMENT", "production")
	t.Setenv("BOOKS_LOG_FORMAT", "console")

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_ConfigFile_EnvWins(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "books.yaml"), []byte(
		"db_path: /var/lib/books/books.db\nlog_format: json\nintegrity_interval: 15m\n"), 0o600))
	t.Setenv("BOOKS_LOG_FORMAT", "console")

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/books/books.db", cfg.DBPath)
	assert.Equal(t, 15*time.Minute, cfg.IntegrityInterval)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BOOKS_DB_PATH=from-dotenv.db\n"), 0o600))
	// Register a restore of the variable, then clear it so .env can set it.
	t.Setenv("BOOKS_DB_PATH", "")
	require.NoError(t, os.Unsetenv("BOOKS_DB_PATH"))

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv.db", cfg.DBPath)
}

func TestLoad_Rejections(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		file string
	}{
		{name: "log format", env: map[string]string{"BOOKS_LOG_FORMAT": "xml"}},
		{name: "stockout policy", env: map[string]string{"BOOKS_STOCKOUT_POLICY": "backorder"}},
		{name: "hash timeout", env: map[string]string{"BOOKS_AUDIT_HASH_TIMEOUT": "0s"}},
		{name: "negative interval", env: map[string]string{"BOOKS_INTEGRITY_INTERVAL": "-1m"}},
		{name: "missing explicit file", file: "does-not-exist.yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.Load(config.New(), tc.file)
			assert.Error(t, err)
		})
	}
}

func TestTaxRates(t *testing.T) {
	dir := isolate(t)

	cfg := &config.Config{}
	table, err := cfg.TaxRates()
	require.NoError(t, err)
	assert.Equal(t, "Florida", table.State)

	path := filepath.Join(dir, "rates.json")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"state": "Georgia", "base_rate": "0.04", "discretionary": {"Fulton": "0.03"}}`), 0o600))
	cfg.TaxRatesFile = path
	table, err = cfg.TaxRates()
	require.NoError(t, err)
	assert.Equal(t, "Georgia", table.State)
	assert.Equal(t, "0.04", table.BaseRate.String())

	cfg.TaxRatesFile = filepath.Join(dir, "missing.json")
	_, err = cfg.TaxRates()
	assert.Error(t, err)
}
