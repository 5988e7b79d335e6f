package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
upstream:
  timeout_seconds: 45
  rate_limit_rps: 0.5
index:
  backend: postgres
  dsn: postgres://localhost/gazette
registry:
  backend: static
  watchers:
    - id: 1
      label: compras
      active: true
      attach_csv: true
      mail_to: ["a@example.com"]
      terms:
        - text: licitação
        - text: pregão eletrônico
          exact: true
events:
  backend: kafka
  brokers: ["kafka-1:9092", "kafka-2:9092"]
schedule:
  enabled: true
  at: "07:30"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "secret", cfg.Auth.APIKey)
	require.Equal(t, 45*time.Second, Seconds(cfg.Upstream.TimeoutSeconds))
	require.InDelta(t, 0.5, cfg.Upstream.RateLimitRPS, 1e-9)
	require.Equal(t, "postgres", cfg.Index.Backend)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events.Brokers)

	require.Len(t, cfg.Registry.Watchers, 1)
	w := cfg.Registry.Watchers[0]
	require.True(t, w.AttachExport)
	require.Equal(t, []string{"a@example.com"}, w.Recipients)
	require.Equal(t, []gazette.Term{{Text: "licitação"}, {Text: "pregão eletrônico", Exact: true}}, w.Terms)

	hour, minute, err := cfg.Schedule.Clock()
	require.NoError(t, err)
	require.Equal(t, 7, hour)
	require.Equal(t, 30, minute)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Index.Backend)
	require.Equal(t, "static", cfg.Registry.Backend)
	require.Equal(t, "memory", cfg.Mail.Backend)
	require.Equal(t, 1025, cfg.Mail.Port)
	require.Equal(t, "America/Sao_Paulo", cfg.Pipeline.TimeZone)
	require.Equal(t, gazette.DefaultViewerURL, cfg.Links.ViewerURL)
	require.Equal(t, int64(gazette.DefaultNotebookID), cfg.Links.NotebookID)
	require.True(t, cfg.Features.ReplayEnabled)
	require.Equal(t, 120, cfg.Extractor.TimeoutSeconds)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GAZETTE_SERVER_PORT", "7070")
	t.Setenv("GAZETTE_MAIL_BACKEND", "smtp")
	t.Setenv("GAZETTE_MAIL_HOST", "smtp.example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "smtp", cfg.Mail.Backend)
	require.Equal(t, "smtp.example.com", cfg.Mail.Host)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"rate", func(c *Config) { c.Upstream.RateLimitRPS = 0 }, "upstream.rate_limit_rps"},
		{"concurrency", func(c *Config) { c.Pipeline.WatcherConcurrency = 0 }, "pipeline.watcher_concurrency"},
		{"time zone", func(c *Config) { c.Pipeline.TimeZone = "Mars/Olympus" }, "pipeline.time_zone"},
		{"index backend", func(c *Config) { c.Index.Backend = "sqlite" }, "index.backend"},
		{"index dsn", func(c *Config) { c.Index.Backend = "postgres" }, "index.dsn"},
		{"registry dsn", func(c *Config) { c.Registry.Backend = "postgres" }, "registry.dsn"},
		{"gcs bucket", func(c *Config) { c.Archive.Backend = "gcs" }, "archive.bucket"},
		{"pubsub project", func(c *Config) { c.Events.Backend = "pubsub" }, "events.project_id"},
		{"kafka brokers", func(c *Config) { c.Events.Backend = "kafka" }, "events.brokers"},
		{"elastic addresses", func(c *Config) { c.Search.Backend = "elastic" }, "search.addresses"},
		{"duplicate watcher", func(c *Config) {
			c.Registry.Watchers = []gazette.Watcher{{ID: 1}, {ID: 1}}
		}, "duplicate id"},
		{"schedule", func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.At = "8am"
		}, "schedule.at"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := base
			tc.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}
}
