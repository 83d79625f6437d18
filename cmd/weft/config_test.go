package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearWeftEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WEFT_LOG_LEVEL",
		"WEFT_JOURNAL",
		"WEFT_EVALUATOR",
		"WEFT_POOL_SIZE",
		"WEFT_PANEL",
		"WEFT_HTTP_ALLOW",
		"WEFT_STRICT_VARIABLES",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearWeftEnv(t)

	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"))

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "template", cfg.Evaluator)
	assert.Equal(t, 4, cfg.PoolSize)
	assert.Empty(t, cfg.Journal)
	assert.Empty(t, cfg.HTTPAllow)
	assert.False(t, cfg.StrictVars)
	assert.Empty(t, cfg.Jobs)
}

func TestLoadConfigFromSettingsFile(t *testing.T) {
	clearWeftEnv(t)

	path := filepath.Join(t.TempDir(), "settings.json")
	settings := `{
		"log_level": "debug",
		"journal": "/tmp/weft.db",
		"evaluator": "cel",
		"pool_size": 8,
		"panel_addr": "127.0.0.1:8977",
		"http_allow": ["Authorization", "X-Request-Id"],
		"strict_variables": true,
		"jobs": [
			{"workflow": "nightly-report", "version": 2, "cron": "0 3 * * *", "input": {"region": "eu"}}
		],
		"plugins": [
			{"name": "github", "command": "github-mcp", "args": ["--stdio"], "env": ["GITHUB_TOKEN=t"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(settings), 0o600))

	cfg := loadConfigFrom(path)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/weft.db", cfg.Journal)
	assert.Equal(t, "cel", cfg.Evaluator)
	assert.Equal(t, 8, cfg.PoolSize)
	assert.Equal(t, "127.0.0.1:8977", cfg.PanelAddr)
	assert.Equal(t, []string{"Authorization", "X-Request-Id"}, cfg.HTTPAllow)
	assert.True(t, cfg.StrictVars)
	require.Len(t, cfg.Jobs, 1)
	assert.Equal(t, "nightly-report", cfg.Jobs[0].Workflow)
	assert.Equal(t, 2, cfg.Jobs[0].Version)
	assert.Equal(t, "0 3 * * *", cfg.Jobs[0].Cron)
	assert.Equal(t, map[string]any{"region": "eu"}, cfg.Jobs[0].Input)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "github", cfg.Plugins[0].Name)
	assert.Equal(t, "github-mcp", cfg.Plugins[0].Command)
	assert.Equal(t, []string{"--stdio"}, cfg.Plugins[0].Args)
}

func TestLoadConfigPartialSettingsKeepDefaults(t *testing.T) {
	clearWeftEnv(t)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "warn"}`), 0o600))

	cfg := loadConfigFrom(path)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "template", cfg.Evaluator)
	assert.Equal(t, 4, cfg.PoolSize)
}

func TestLoadConfigEnvOverridesSettings(t *testing.T) {
	clearWeftEnv(t)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"log_level": "debug", "evaluator": "cel", "pool_size": 8}`), 0o600))

	t.Setenv("WEFT_LOG_LEVEL", "error")
	t.Setenv("WEFT_JOURNAL", "/var/lib/weft/events.db")
	t.Setenv("WEFT_EVALUATOR", "jq")
	t.Setenv("WEFT_POOL_SIZE", "16")
	t.Setenv("WEFT_PANEL", "127.0.0.1:9000")
	t.Setenv("WEFT_HTTP_ALLOW", "Authorization, X-Api-Key ,")
	t.Setenv("WEFT_STRICT_VARIABLES", "true")

	cfg := loadConfigFrom(path)

	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, "/var/lib/weft/events.db", cfg.Journal)
	assert.Equal(t, "jq", cfg.Evaluator)
	assert.Equal(t, 16, cfg.PoolSize)
	assert.Equal(t, "127.0.0.1:9000", cfg.PanelAddr)
	assert.Equal(t, []string{"Authorization", "X-Api-Key"}, cfg.HTTPAllow)
	assert.True(t, cfg.StrictVars)
}

func TestLoadConfigBadPoolSizeIgnored(t *testing.T) {
	clearWeftEnv(t)
	t.Setenv("WEFT_POOL_SIZE", "many")

	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 4, cfg.PoolSize)

	t.Setenv("WEFT_POOL_SIZE", "0")
	cfg = loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, 4, cfg.PoolSize)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, slogLevel("debug"))
	assert.Equal(t, slog.LevelInfo, slogLevel("info"))
	assert.Equal(t, slog.LevelWarn, slogLevel("warn"))
	assert.Equal(t, slog.LevelWarn, slogLevel("WARNING"))
	assert.Equal(t, slog.LevelError, slogLevel("error"))
	assert.Equal(t, slog.LevelInfo, slogLevel("unknown"))
}

func TestJournalDSN(t *testing.T) {
	assert.Equal(t, "file:/tmp/weft.db", journalDSN("/tmp/weft.db"))
	assert.Equal(t, "file:weft.db", journalDSN("weft.db"))
	assert.Equal(t, "file:/tmp/weft.db", journalDSN("file:/tmp/weft.db"))
	assert.Equal(t, "libsql://weft.turso.io", journalDSN("libsql://weft.turso.io"))
}
