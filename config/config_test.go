package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bin-ledger/config"
)

var keys = []string{
	"APP_PORT", "CORS_ALLOWED_ORIGINS", "LEDGER_BACKEND", "DB_PATH", "DATABASE_URL",
	"COLLAB_BASE_URL", "COLLAB_TOKEN", "OUTBOX_SCHEDULE", "ALLOCATION_STRATEGY",
	"PUTAWAY_STRATEGY", "LAYOUT_FILE", "DEFAULT_UOM", "LOG_LEVEL",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "wms.db", cfg.Store.DBPath)
	assert.Equal(t, "@every 15s", cfg.Outbox.Schedule)
	assert.Equal(t, "fefo", cfg.Inventory.AllocationStrategy)
	assert.Equal(t, "consolidate", cfg.Inventory.PutawayStrategy)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Collab.BaseURL)
	assert.False(t, cfg.InMemory())
}

func TestLoad_FromEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never overrides variables that are already set, so the
	// blanked keys must be unset for the file to win.
	for _, k := range keys {
		os.Unsetenv(k)
	}

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"APP_PORT=9090\nDB_PATH=:memory:\nCORS_ALLOWED_ORIGINS=http://a, http://b\nALLOCATION_STRATEGY=fifo\n"), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.InMemory())
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "fifo", cfg.Inventory.AllocationStrategy)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	t.Setenv("LEDGER_BACKEND", "postgres")
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/wms")
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, config.BackendPostgres, cfg.Store.Backend)

	t.Setenv("LEDGER_BACKEND", "mongo")
	_, err = config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)

	t.Setenv("LEDGER_BACKEND", "")
	t.Setenv("ALLOCATION_STRATEGY", "lifo")
	_, err = config.Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "ALLOCATION_STRATEGY")

	var nilCfg *config.Config
	assert.Error(t, nilCfg.Validate())
}
