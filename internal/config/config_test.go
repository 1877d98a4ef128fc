package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 10, cfg.Harvest.PageCount)
	require.Equal(t, 30, cfg.Harvest.FirstPageCutoff)
	require.Equal(t, 4, cfg.Harvest.Concurrency)
	require.Equal(t, 3, cfg.Harvest.RetryLimit)
	require.Equal(t, 10*time.Minute, cfg.HarvestInterval())
	require.Equal(t, 250*time.Millisecond, cfg.BackoffBase())
	require.Equal(t, "sqlite", cfg.Store.Provider)
	require.Equal(t, "hnwatch.db", cfg.Store.SQLite.Path)
	require.Equal(t, "noop", cfg.Notify.Provider)
	require.True(t, cfg.Logging.Development)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 30
auth:
  enabled: true
  api_key: secret
harvest:
  page_count: 5
  first_page_cutoff: 20
  concurrency: 2
  retry_limit: 4
  backoff_base_ms: 100
  rate_limit_rps: 0.5
  interval_minutes: 15
http:
  timeout_seconds: 45
  user_agent: custom-agent
store:
  provider: postgres
  postgres:
    dsn: postgres://localhost/hnwatch
    max_conns: 8
notify:
  provider: memory
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 5, cfg.Harvest.PageCount)
	require.Equal(t, 20, cfg.Harvest.FirstPageCutoff)
	require.Equal(t, 0.5, cfg.Harvest.RateLimitRPS)
	require.Equal(t, 15*time.Minute, cfg.HarvestInterval())
	require.Equal(t, 45*time.Second, cfg.HTTPTimeout())
	require.Equal(t, "custom-agent", cfg.HTTP.UserAgent)
	require.Equal(t, "postgres", cfg.Store.Provider)
	require.Equal(t, "postgres://localhost/hnwatch", cfg.Store.Postgres.DSN)
	require.Equal(t, int32(8), cfg.Store.Postgres.MaxConns)
	require.Equal(t, "memory", cfg.Notify.Provider)
	require.False(t, cfg.Logging.Development)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Harvest.PageCount = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "mysql"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Store.Provider = "postgres"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Notify.Provider = "pubsub"
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())
}
