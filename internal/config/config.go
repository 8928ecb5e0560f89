// Package config loads and validates reg-radar configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/reg-radar/internal/staleness"
)

// EnvPrefix is prepended to every environment override, e.g.
// REGRADAR_PIPELINE_CONCURRENCY=8.
const EnvPrefix = "REGRADAR"

// Database drivers understood by the app container.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	DB       DBConfig       `mapstructure:"db"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Health   HealthConfig   `mapstructure:"health"`
	Mail     MailConfig     `mapstructure:"mail"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DBConfig selects and tunes the persistence backend.
type DBConfig struct {
	Driver     string       `mapstructure:"driver"`
	DSN        string       `mapstructure:"dsn"`
	SQLitePath string       `mapstructure:"sqlite_path"`
	Tables     TablesConfig `mapstructure:"tables"`
	MaxConns   int32        `mapstructure:"max_conns"`
	MinConns   int32        `mapstructure:"min_conns"`
	// MaxConnLifetimeMinutes of zero keeps the pgx default.
	MaxConnLifetimeMinutes int `mapstructure:"max_conn_lifetime_minutes"`
}

// TablesConfig overrides relation names.
type TablesConfig struct {
	Sources string `mapstructure:"sources"`
	Items   string `mapstructure:"items"`
	Runs    string `mapstructure:"runs"`
}

// SourcesConfig points at an optional YAML registry used instead of the
// coverage table.
type SourcesConfig struct {
	File string `mapstructure:"file"`
}

// CrawlerConfig governs plain HTTP fetching.
type CrawlerConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	ConnectTimeoutSec int    `mapstructure:"connect_timeout_seconds"`
	MaxRetries        int    `mapstructure:"max_retries"`
	BackoffStepMs     int    `mapstructure:"backoff_step_ms"`
	RespectRobots     bool   `mapstructure:"respect_robots"`
	MaxItems          int    `mapstructure:"max_items"`
	// PerHostRPS of zero or less disables per-host rate limiting.
	PerHostRPS   float64 `mapstructure:"per_host_rps"`
	PerHostBurst int     `mapstructure:"per_host_burst"`
}

// HeadlessConfig configures the Chrome renderer used for requires_js sources.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int  `mapstructure:"settle_delay_ms"`
	DetectShells  bool `mapstructure:"detect_shells"`
	ShellMinBytes int  `mapstructure:"shell_min_bytes"`
}

// PipelineConfig bounds a collect run.
type PipelineConfig struct {
	SourceLimit         int `mapstructure:"source_limit"`
	Concurrency         int `mapstructure:"concurrency"`
	RunTimeoutSeconds   int `mapstructure:"run_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	PreviewItems        int `mapstructure:"preview_items"`
}

// HealthConfig holds health check defaults.
type HealthConfig struct {
	MinSilenceHours int    `mapstructure:"min_silence_hours"`
	Overrides       string `mapstructure:"silence_overrides"`
	SinceHours      int    `mapstructure:"since_hours"`
	MaxRows         int    `mapstructure:"max_rows"`
}

// MailConfig configures the Mailgun channel.
type MailConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Domain  string `mapstructure:"domain"`
	To      string `mapstructure:"to"`
	BaseURL string `mapstructure:"base_url"`
}

// PubSubConfig enables discovery announcements when both fields are set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig controls the Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps the environment names older deployments export onto keys.
var legacyEnv = map[string]string{
	"db.dsn":       "DATABASE_URL",
	"mail.api_key": "MAILGUN_API_KEY",
	"mail.domain":  "MAILGUN_DOMAIN",
	"mail.to":      "ALERT_TO_EMAIL",
}

// LoadDotEnv reads ENV_PATH (or ./.env) into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv() error {
	path := os.Getenv("ENV_PATH")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from disk and environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

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
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.sqlite_path", "reg-radar.db")
	v.SetDefault("db.tables.sources", "")
	v.SetDefault("db.tables.items", "")
	v.SetDefault("db.tables.runs", "")
	v.SetDefault("sources.file", "")
	v.SetDefault("crawler.user_agent", "reg-radar/1.0 (+https://github.com/JakeFAU/reg-radar)")
	v.SetDefault("crawler.timeout_seconds", 40)
	v.SetDefault("crawler.connect_timeout_seconds", 15)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.backoff_step_ms", 1200)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_items", 50)
	v.SetDefault("crawler.per_host_rps", 1.0)
	v.SetDefault("crawler.per_host_burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_delay_ms", 750)
	v.SetDefault("headless.detect_shells", true)
	v.SetDefault("headless.shell_min_bytes", 2048)
	v.SetDefault("pipeline.source_limit", 10)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.run_timeout_seconds", 900)
	v.SetDefault("pipeline.write_timeout_seconds", 120)
	v.SetDefault("pipeline.preview_items", 5)
	v.SetDefault("health.min_silence_hours", staleness.DefaultThresholdHours)
	v.SetDefault("health.silence_overrides", "")
	v.SetDefault("health.since_hours", 48)
	v.SetDefault("health.max_rows", 50000)
	v.SetDefault("mail.api_key", "")
	v.SetDefault("mail.domain", "")
	v.SetDefault("mail.to", "")
	v.SetDefault("mail.base_url", "https://api.mailgun.net/v3")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "reg_radar")
	v.SetDefault("logging.development", false)
}

// Validate performs sanity checks on the loaded configuration. Credentials
// are checked per command by RequireDatabase and RequireMail.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("db.driver must be one of postgres, sqlite, memory (got %q)", c.DB.Driver)
	}
	if c.Crawler.TimeoutSeconds <= 0 || c.Crawler.ConnectTimeoutSec <= 0 {
		return fmt.Errorf("crawler timeouts must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Crawler.BackoffStepMs < 0 {
		return fmt.Errorf("crawler.backoff_step_ms must be >= 0")
	}
	if c.Crawler.MaxItems <= 0 {
		return fmt.Errorf("crawler.max_items must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Pipeline.SourceLimit <= 0 {
		return fmt.Errorf("pipeline.source_limit must be > 0")
	}
	if c.Pipeline.Concurrency <= 0 {
		return fmt.Errorf("pipeline.concurrency must be > 0")
	}
	if c.Pipeline.RunTimeoutSeconds < 0 || c.Pipeline.WriteTimeoutSeconds < 0 {
		return fmt.Errorf("pipeline timeouts must be >= 0")
	}
	if c.Health.MinSilenceHours <= 0 || c.Health.SinceHours <= 0 {
		return fmt.Errorf("health hours must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// RequireDatabase checks that the selected driver has what it needs to connect.
func (c Config) RequireDatabase() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	case DriverSQLite:
		if strings.TrimSpace(c.DB.SQLitePath) == "" {
			return fmt.Errorf("db.sqlite_path is required for the sqlite driver")
		}
	}
	return nil
}

// RequireMail checks the Mailgun credentials and recipients.
func (c Config) RequireMail() error {
	var missing []string
	if strings.TrimSpace(c.Mail.APIKey) == "" {
		missing = append(missing, "MAILGUN_API_KEY")
	}
	if strings.TrimSpace(c.Mail.Domain) == "" {
		missing = append(missing, "MAILGUN_DOMAIN")
	}
	if len(c.Mail.Recipients()) == 0 {
		missing = append(missing, "ALERT_TO_EMAIL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing mail settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Recipients splits the comma separated To list.
func (m MailConfig) Recipients() []string {
	var out []string
	for _, part := range strings.Split(m.To, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SilenceOverrides parses health.silence_overrides.
func (h HealthConfig) SilenceOverrides() map[string]int {
	return staleness.ParseOverrides(h.Overrides)
}

// RunTimeout bounds a collect run; zero means no limit.
func (p PipelineConfig) RunTimeout() time.Duration {
	return time.Duration(p.RunTimeoutSeconds) * time.Second
}

// WriteTimeout bounds persistence after a cancelled run.
func (p PipelineConfig) WriteTimeout() time.Duration {
	return time.Duration(p.WriteTimeoutSeconds) * time.Second
}

// Timeout is the per-request budget.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectTimeout is the dial budget.
func (c CrawlerConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}

// BackoffStep is the linear backoff unit between candidate passes.
func (c CrawlerConfig) BackoffStep() time.Duration {
	return time.Duration(c.BackoffStepMs) * time.Millisecond
}
