package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	assert.Equal(t, 5*time.Minute, cfg.Permissions.CacheTTL)
	assert.Equal(t, 1000, cfg.Permissions.CacheMaxEntries)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.True(t, cfg.Monitoring.Prometheus.Enabled)
	assert.Equal(t, "@daily", cfg.Maintenance.AuditSchedule)
}

func TestLoadConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	contents := []byte(`
server:
  port: 9100
  log_level: debug
auth:
  jwt:
    secret: file-secret
    access_token_ttl: 30m
permissions:
  cache_ttl: 90s
  cache_max_entries: 250
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), contents, 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "file-secret", cfg.Auth.JWT.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	assert.Equal(t, 90*time.Second, cfg.Permissions.CacheTTL)
	assert.Equal(t, 250, cfg.Permissions.CacheMaxEntries)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("QUERYDECK_SERVER_PORT", "9200")
	t.Setenv("QUERYDECK_AUDIT_RETENTION_DAYS", "14")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 14, cfg.Audit.RetentionDays)
}
