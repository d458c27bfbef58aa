package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 10.0, cfg.Budget.DailyLimit)
	assert.Equal(t, 1.0, cfg.Budget.ProjectLimit)
	assert.Equal(t, 100, cfg.Quota.Capacity)
	assert.Equal(t, 3, cfg.Queue.MaxDeliveries)
	assert.Equal(t, time.Hour, cfg.Cache.L1TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.L2TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  http_port: 9000
budget:
  daily_limit: 25.5
  enforce: false
ledger:
  driver: postgres
  host: db.internal
  port: 5432
  user: cf
  password: secret
  name: ledger
  ssl_mode: disable
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 25.5, cfg.Budget.DailyLimit)
	assert.False(t, cfg.Budget.Enforce)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Contains(t, cfg.Ledger.DSN(), "host=db.internal")
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("CONTENTFLOW_SERVER_HTTP_PORT", "7070")
	t.Setenv("CONTENTFLOW_BUDGET_DAILY_LIMIT", "3.5")
	t.Setenv("CONTENTFLOW_QUEUE_BLOCK_TIMEOUT", "2s")
	t.Setenv("CONTENTFLOW_AUTH_API_KEYS", "key-a, key-b")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, 3.5, cfg.Budget.DailyLimit)
	assert.Equal(t, 2*time.Second, cfg.Queue.BlockTimeout)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Auth.APIKeys)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	cfg.Quota.Capacity = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid HTTP port")
	assert.Contains(t, err.Error(), "quota capacity")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	mysql := DatabaseConfig{Driver: "mysql", Host: "h", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(h:3306)/n?parseTime=true", mysql.DSN())

	sqlite := DatabaseConfig{Driver: "sqlite", Name: "x.db"}
	assert.Equal(t, "x.db", sqlite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Equal(t, "", unknown.DSN())
}
