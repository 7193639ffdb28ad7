package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTOMLConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultTOMLConfig()
	serverCfg := cfg.ToServerConfig()
	defaults := DefaultConfig()

	assert.Equal(t, defaults.Port, serverCfg.Port)
	assert.Equal(t, defaults.HistoryLimit, serverCfg.HistoryLimit)
	assert.Equal(t, defaults.MaxMessageLength, serverCfg.MaxMessageLength)
	assert.Equal(t, defaults.MaxUsernameLength, serverCfg.MaxUsernameLength)
	assert.Equal(t, defaults.HeartbeatInterval, serverCfg.HeartbeatInterval)
	assert.Equal(t, defaults.AuthTimeout, serverCfg.AuthTimeout)
	assert.Equal(t, 0, serverCfg.RetentionDays)
	assert.Equal(t, []string{"*"}, serverCfg.AllowedOrigins)
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	serverCfg := cfg.ToServerConfig()
	assert.Equal(t, DefaultConfig(), serverCfg)
}

func TestLoadConfigWritesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config should be written")

	// and it round-trips
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
[server]
port = 9090
database_path = "/var/lib/wschat/chat.db"
database_backend = "badger"
allowed_origins = ["https://chat.example"]

[limits]
max_message_length = 280
history_limit = 20
heartbeat_interval_seconds = 15

[retention]
retention_days = 30
cleanup_interval_minutes = 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	serverCfg := cfg.ToServerConfig()
	assert.Equal(t, 9090, serverCfg.Port)
	assert.Equal(t, 280, serverCfg.MaxMessageLength)
	assert.Equal(t, 20, serverCfg.HistoryLimit)
	assert.Equal(t, 15*time.Second, serverCfg.HeartbeatInterval)
	assert.Equal(t, 30, serverCfg.RetentionDays)
	assert.Equal(t, 5*time.Minute, serverCfg.RetentionInterval)
	assert.Equal(t, []string{"https://chat.example"}, serverCfg.AllowedOrigins)
	assert.Equal(t, 20, serverCfg.MaxUsernameLength, "unset values keep defaults")

	backend, err := cfg.GetDatabaseBackend()
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, backend)

	dbPath, err := cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/wschat/chat.db", dbPath)
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestGetDatabaseBackend(t *testing.T) {
	for input, want := range map[string]string{"": BackendSQLite, "SQLite": BackendSQLite, " badger ": BackendBadger} {
		cfg := TOMLConfig{Server: ServerSection{DatabaseBackend: input}}
		got, err := cfg.GetDatabaseBackend()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	cfg := TOMLConfig{Server: ServerSection{DatabaseBackend: "postgres"}}
	_, err := cfg.GetDatabaseBackend()
	assert.Error(t, err)
}

func TestGetDatabasePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultTOMLConfig()
	path, err := cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".wschat", "chat.db"), path)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_PATH", "/tmp/other.db")
	t.Setenv("MAX_MESSAGE_LENGTH", "140")
	t.Setenv("MESSAGE_HISTORY_LIMIT", "10")
	t.Setenv("HEARTBEAT_INTERVAL", "45s")
	t.Setenv("AUTH_TIMEOUT", "3s")
	t.Setenv("CORS_ORIGIN", "https://a.example, https://b.example,")

	env, err := LoadEnvOverrides("")
	require.NoError(t, err)

	cfg := DefaultTOMLConfig()
	env.Apply(&cfg)
	serverCfg := cfg.ToServerConfig()

	assert.Equal(t, 7000, serverCfg.Port)
	assert.Equal(t, "/tmp/other.db", cfg.Server.DatabasePath)
	assert.Equal(t, 140, serverCfg.MaxMessageLength)
	assert.Equal(t, 10, serverCfg.HistoryLimit)
	assert.Equal(t, 45*time.Second, serverCfg.HeartbeatInterval)
	assert.Equal(t, 3*time.Second, serverCfg.AuthTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, serverCfg.AllowedOrigins)
}

func TestEnvOverridesFromDotEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("DATABASE_BACKEND=badger\n"), 0644))
	t.Cleanup(func() { _ = os.Unsetenv("DATABASE_BACKEND") })

	env, err := LoadEnvOverrides(envFile)
	require.NoError(t, err)
	assert.Equal(t, "badger", env.DatabaseBackend)
}

func TestEnvOverridesMissingDotEnv(t *testing.T) {
	_, err := LoadEnvOverrides(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestEnvOverridesInvalidDuration(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "often")

	_, err := LoadEnvOverrides("")
	assert.Error(t, err)
}

func TestEnvOverridesRejectSubSecondDurations(t *testing.T) {
	for _, tc := range []struct{ name, value string }{
		{"HEARTBEAT_INTERVAL", "500ms"},
		{"HEARTBEAT_INTERVAL", "1500ms"},
		{"AUTH_TIMEOUT", "500ms"},
		{"AUTH_TIMEOUT", "-2s"},
	} {
		t.Run(tc.name+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.name, tc.value)

			_, err := LoadEnvOverrides("")
			assert.ErrorContains(t, err, tc.name)
		})
	}
}
