package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/nexus/internal/config"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "Default host must be 127.0.0.1 for security")
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "ollama", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dimension)
	assert.Equal(t, 5, cfg.Search.DefaultTopK)
	assert.Equal(t, 20, cfg.Search.MaxTopK)
	assert.True(t, cfg.Search.ReembedOnUpdate)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "127.0.0.1:8000", cfg.Address())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_HOST", "0.0.0.0")
	t.Setenv("NEXUS_PORT", "9090")
	t.Setenv("NEXUS_EMBEDDING_PROVIDER", "hash")
	t.Setenv("NEXUS_REEMBED_ON_UPDATE", "no")
	t.Setenv("NEXUS_SEARCH_TIMEOUT", "3s")
	t.Setenv("NEXUS_ALLOWED_ORIGINS", "localhost:*, example.com")
	t.Setenv("NEXUS_API_KEY", "secret")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.False(t, cfg.Search.ReembedOnUpdate)
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.Equal(t, []string{"localhost:*", "example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "secret", cfg.Security.APIKey)
}

func TestLoadConfig_DatabaseURL(t *testing.T) {
	t.Setenv("NEXUS_STORAGE_ENGINE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/nexus")

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@localhost/nexus", cfg.Storage.PostgresDSN)

	t.Setenv("NEXUS_DATABASE_URL", "postgres://override/nexus")
	cfg, err = config.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://override/nexus", cfg.Storage.PostgresDSN)
}

func TestLoadConfig_YAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	yamlDoc := `
server:
  port: 7000
embedding:
  provider: hash
  dimension: 64
  timeout: 5s
search:
  default_top_k: 3
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))
	t.Setenv("NEXUS_PORT", "7100")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7100, cfg.Server.Port, "env wins over file")
	assert.Equal(t, "hash", cfg.Embedding.Provider)
	assert.Equal(t, 64, cfg.Embedding.Dimension)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 3, cfg.Search.DefaultTopK)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset keys keep defaults")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown engine", func(c *config.Config) { c.Storage.Engine = "mysql" }},
		{"postgres without dsn", func(c *config.Config) { c.Storage.Engine = "postgres" }},
		{"unknown provider", func(c *config.Config) { c.Embedding.Provider = "anthropic" }},
		{"onnx without paths", func(c *config.Config) { c.Embedding.Provider = "onnx" }},
		{"default top k above max", func(c *config.Config) { c.Search.DefaultTopK = 50 }},
		{"production without key", func(c *config.Config) { c.Security.Mode = "production" }},
		{"unknown mode", func(c *config.Config) { c.Security.Mode = "open" }},
		{"negative backup interval", func(c *config.Config) { c.Backup.Interval = -time.Second }},
		{"zero backups kept", func(c *config.Config) { c.Backup.Keep = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, config.Default().Validate())
}

func TestBackupDir(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.DataPath = "/var/lib/nexus"
	assert.Equal(t, filepath.Join("/var/lib/nexus", "backups"), cfg.BackupDir())

	cfg.Backup.Dir = "/mnt/snapshots"
	assert.Equal(t, "/mnt/snapshots", cfg.BackupDir())
}

func TestEventsDir(t *testing.T) {
	cfg := config.Default()
	assert.True(t, cfg.Events.Enabled)

	cfg.Storage.DataPath = "/var/lib/nexus"
	assert.Equal(t, filepath.Join("/var/lib/nexus", "events"), cfg.EventsDir())

	t.Setenv("NEXUS_EVENTS_ENABLED", "false")
	loaded, err := config.LoadConfig("")
	require.NoError(t, err)
	assert.False(t, loaded.Events.Enabled)
}
