// Package config loads and validates gazette-watch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gazette-watch/internal/gazette"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Index     IndexConfig     `mapstructure:"index"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Mail      MailConfig      `mapstructure:"mail"`
	Links     LinksConfig     `mapstructure:"links"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Events    EventsConfig    `mapstructure:"events"`
	Search    SearchConfig    `mapstructure:"search"`
	History   HistoryConfig   `mapstructure:"history"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// ServiceConfig names the deployment.
type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	ReadTimeoutSeconds    int `mapstructure:"read_timeout_seconds"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	// RunTimeoutSeconds bounds a run started through the API.
	RunTimeoutSeconds int `mapstructure:"run_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// FeaturesConfig gates optional routes.
type FeaturesConfig struct {
	ReplayEnabled bool `mapstructure:"replay_enabled"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry SDK provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// UpstreamConfig configures the gazette fetcher.
type UpstreamConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	UserAgent      string  `mapstructure:"user_agent"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxAttempts    int     `mapstructure:"max_attempts"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// ExtractorConfig locates the poppler tools.
type ExtractorConfig struct {
	PdfInfoPath    string `mapstructure:"pdfinfo_path"`
	PdfToTextPath  string `mapstructure:"pdftotext_path"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	TempDir        string `mapstructure:"temp_dir"`
}

// IndexConfig selects and tunes the document index.
type IndexConfig struct {
	Backend        string `mapstructure:"backend"`
	SnapshotPath   string `mapstructure:"snapshot_path"`
	DSN            string `mapstructure:"dsn"`
	Table          string `mapstructure:"table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	EnsureSchema   bool   `mapstructure:"ensure_schema"`
}

// RegistryConfig selects the watcher source.
type RegistryConfig struct {
	Backend        string            `mapstructure:"backend"`
	DSN            string            `mapstructure:"dsn"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Watchers       []gazette.Watcher `mapstructure:"watchers"`
}

// MailConfig selects the outbound transport.
type MailConfig struct {
	Backend        string `mapstructure:"backend"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	From           string `mapstructure:"from"`
	TLSPolicy      string `mapstructure:"tls_policy"`
	SSL            bool   `mapstructure:"ssl"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LinksConfig controls page deep links.
type LinksConfig struct {
	ViewerURL  string `mapstructure:"viewer_url"`
	NotebookID int64  `mapstructure:"notebook_id"`
}

// PipelineConfig tunes runs.
type PipelineConfig struct {
	WatcherConcurrency int    `mapstructure:"watcher_concurrency"`
	TimeZone           string `mapstructure:"time_zone"`
}

// ArchiveConfig selects where raw editions are kept.
type ArchiveConfig struct {
	Backend  string `mapstructure:"backend"`
	LocalDir string `mapstructure:"local_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// EventsConfig selects the run event broker.
type EventsConfig struct {
	Backend   string   `mapstructure:"backend"`
	Topic     string   `mapstructure:"topic"`
	ProjectID string   `mapstructure:"project_id"`
	Brokers   []string `mapstructure:"brokers"`
}

// SearchConfig configures the archive search mirror.
type SearchConfig struct {
	Backend        string   `mapstructure:"backend"`
	Addresses      []string `mapstructure:"addresses"`
	Index          string   `mapstructure:"index"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
}

// HistoryConfig selects where run summaries are kept.
type HistoryConfig struct {
	Backend string `mapstructure:"backend"`
	DSN     string `mapstructure:"dsn"`
	Table   string `mapstructure:"table"`
	Max     int    `mapstructure:"max"`
}

// ScheduleConfig enables the daily run in serve mode.
type ScheduleConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	At      string `mapstructure:"at"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GAZETTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", "gazette-watch")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.run_timeout_seconds", 900)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("features.replay_enabled", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("upstream.base_url", "https://www.jornalminasgerais.mg.gov.br")
	v.SetDefault("upstream.user_agent", "gazette-watch/0.1")
	v.SetDefault("upstream.timeout_seconds", 30)
	v.SetDefault("upstream.max_attempts", 3)
	v.SetDefault("upstream.rate_limit_rps", 1.0)
	v.SetDefault("upstream.rate_limit_burst", 1)
	v.SetDefault("extractor.pdfinfo_path", "pdfinfo")
	v.SetDefault("extractor.pdftotext_path", "pdftotext")
	v.SetDefault("extractor.timeout_seconds", 120)
	v.SetDefault("extractor.temp_dir", "")
	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.snapshot_path", "")
	v.SetDefault("index.dsn", "")
	v.SetDefault("index.table", "gazette_pages")
	v.SetDefault("index.max_conns", 4)
	v.SetDefault("index.timeout_seconds", 30)
	v.SetDefault("index.max_attempts", 3)
	v.SetDefault("index.ensure_schema", true)
	v.SetDefault("registry.backend", "static")
	v.SetDefault("registry.dsn", "")
	v.SetDefault("registry.timeout_seconds", 10)
	v.SetDefault("mail.backend", "memory")
	v.SetDefault("mail.host", "localhost")
	v.SetDefault("mail.port", 1025)
	v.SetDefault("mail.username", "")
	v.SetDefault("mail.password", "")
	v.SetDefault("mail.from", "diario@localhost")
	v.SetDefault("mail.tls_policy", "")
	v.SetDefault("mail.ssl", false)
	v.SetDefault("mail.timeout_seconds", 30)
	v.SetDefault("links.viewer_url", gazette.DefaultViewerURL)
	v.SetDefault("links.notebook_id", gazette.DefaultNotebookID)
	v.SetDefault("pipeline.watcher_concurrency", 1)
	v.SetDefault("pipeline.time_zone", "America/Sao_Paulo")
	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.local_dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "")
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.topic", "gazette-runs")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("search.backend", "none")
	v.SetDefault("search.addresses", []string{})
	v.SetDefault("search.index", "gazette-pages")
	v.SetDefault("search.username", "")
	v.SetDefault("search.password", "")
	v.SetDefault("search.timeout_seconds", 30)
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.table", "gazette_runs")
	v.SetDefault("history.max", 100)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.at", "08:00")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		return fmt.Errorf("upstream.timeout_seconds must be > 0")
	}
	if c.Upstream.RateLimitRPS <= 0 {
		return fmt.Errorf("upstream.rate_limit_rps must be > 0")
	}
	if c.Extractor.TimeoutSeconds <= 0 {
		return fmt.Errorf("extractor.timeout_seconds must be > 0")
	}
	if c.Index.TimeoutSeconds <= 0 {
		return fmt.Errorf("index.timeout_seconds must be > 0")
	}
	if c.Mail.TimeoutSeconds <= 0 {
		return fmt.Errorf("mail.timeout_seconds must be > 0")
	}
	if c.Pipeline.WatcherConcurrency <= 0 {
		return fmt.Errorf("pipeline.watcher_concurrency must be > 0")
	}
	if _, err := time.LoadLocation(c.Pipeline.TimeZone); err != nil {
		return fmt.Errorf("pipeline.time_zone: %w", err)
	}

	checks := []struct {
		key, value string
		allowed    []string
	}{
		{"index.backend", c.Index.Backend, []string{"memory", "postgres"}},
		{"registry.backend", c.Registry.Backend, []string{"static", "postgres"}},
		{"mail.backend", c.Mail.Backend, []string{"memory", "smtp"}},
		{"archive.backend", c.Archive.Backend, []string{"none", "memory", "local", "gcs"}},
		{"events.backend", c.Events.Backend, []string{"none", "memory", "pubsub", "kafka"}},
		{"search.backend", c.Search.Backend, []string{"none", "elastic"}},
		{"history.backend", c.History.Backend, []string{"memory", "postgres"}},
	}
	for _, chk := range checks {
		if !contains(chk.allowed, chk.value) {
			return fmt.Errorf("%s must be one of %s, got %q", chk.key, strings.Join(chk.allowed, ", "), chk.value)
		}
	}

	switch {
	case c.Index.Backend == "postgres" && c.Index.DSN == "":
		return fmt.Errorf("index.dsn is required for the postgres backend")
	case c.Registry.Backend == "postgres" && c.Registry.DSN == "":
		return fmt.Errorf("registry.dsn is required for the postgres backend")
	case c.History.Backend == "postgres" && c.History.DSN == "":
		return fmt.Errorf("history.dsn is required for the postgres backend")
	case c.Mail.Backend == "smtp" && c.Mail.Host == "":
		return fmt.Errorf("mail.host is required for the smtp backend")
	case c.Archive.Backend == "local" && c.Archive.LocalDir == "":
		return fmt.Errorf("archive.local_dir is required for the local backend")
	case c.Archive.Backend == "gcs" && c.Archive.Bucket == "":
		return fmt.Errorf("archive.bucket is required for the gcs backend")
	case c.Events.Backend == "pubsub" && c.Events.ProjectID == "":
		return fmt.Errorf("events.project_id is required for the pubsub backend")
	case c.Events.Backend == "kafka" && len(c.Events.Brokers) == 0:
		return fmt.Errorf("events.brokers is required for the kafka backend")
	case c.Search.Backend == "elastic" && len(c.Search.Addresses) == 0:
		return fmt.Errorf("search.addresses is required for the elastic backend")
	}

	seen := make(map[int64]bool, len(c.Registry.Watchers))
	for _, w := range c.Registry.Watchers {
		if seen[w.ID] {
			return fmt.Errorf("registry.watchers: duplicate id %d", w.ID)
		}
		seen[w.ID] = true
	}

	if c.Schedule.Enabled {
		if _, _, err := c.Schedule.Clock(); err != nil {
			return err
		}
	}
	return nil
}

// Clock parses Schedule.At as HH:MM.
func (s ScheduleConfig) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", s.At)
	if err != nil {
		return 0, 0, fmt.Errorf("schedule.at must be HH:MM: %w", err)
	}
	return t.Hour(), t.Minute(), nil
}

// Seconds converts a seconds knob into a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
