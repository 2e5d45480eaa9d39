// Package config loads application configuration and builds the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Ticketing  TicketingConfig  `yaml:"ticketing" mapstructure:"ticketing"`
	DryRun     DryRunConfig     `yaml:"dry_run" mapstructure:"dry_run"`
	Matching   MatchingConfig   `yaml:"matching" mapstructure:"matching"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Bulk       BulkConfig       `yaml:"bulk" mapstructure:"bulk"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Archive    ArchiveConfig    `yaml:"archive" mapstructure:"archive"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Watch      WatchConfig      `yaml:"watch" mapstructure:"watch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// TicketingConfig configures the ticketing API gateway.
type TicketingConfig struct {
	BaseURL              string `yaml:"base_url" mapstructure:"base_url"`
	Token                string `yaml:"token" mapstructure:"token"`
	OrgID                string `yaml:"org_id" mapstructure:"org_id"`
	TimeoutSecs          int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinIntervalMs        int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	RateLimitRetries     int    `yaml:"rate_limit_retries" mapstructure:"rate_limit_retries"`
	ServerErrorRetries   int    `yaml:"server_error_retries" mapstructure:"server_error_retries"`
	MaxRateLimitWaitSecs int    `yaml:"max_rate_limit_wait_secs" mapstructure:"max_rate_limit_wait_secs"`
}

// Timeout returns the per-request HTTP timeout.
func (c TicketingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// DryRunConfig suppresses external mutations per record family.
type DryRunConfig struct {
	Tickets bool `yaml:"tickets" mapstructure:"tickets"`
	Permits bool `yaml:"permits" mapstructure:"permits"`
}

// MatchingConfig configures heuristic violation -> ticket matching.
type MatchingConfig struct {
	Enabled       bool    `yaml:"enabled" mapstructure:"enabled"`
	Model         string  `yaml:"model" mapstructure:"model"`
	APIKey        string  `yaml:"api_key" mapstructure:"api_key"`
	RadiusMeters  float64 `yaml:"radius_meters" mapstructure:"radius_meters"`
	LookbackDays  int     `yaml:"lookback_days" mapstructure:"lookback_days"`
	MaxCandidates int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	City          string  `yaml:"city" mapstructure:"city"`
	State         string  `yaml:"state" mapstructure:"state"`
}

// WorkflowConfig holds ticketing workflow identifiers.
type WorkflowConfig struct {
	CloseStepID int64 `yaml:"close_step_id" mapstructure:"close_step_id"`
}

// BulkConfig configures initial-sync bulk permit creation.
type BulkConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	CallSize     int `yaml:"call_size" mapstructure:"call_size"`
	BatchDelayMs int `yaml:"batch_delay_ms" mapstructure:"batch_delay_ms"`
}

// GeocodeConfig configures the address geocoder.
type GeocodeConfig struct {
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ArchiveConfig configures raw attachment archiving to S3. Empty bucket disables it.
type ArchiveConfig struct {
	Bucket   string `yaml:"bucket" mapstructure:"bucket"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
	Region   string `yaml:"region" mapstructure:"region"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
}

// IngestConfig configures attachment decoding.
type IngestConfig struct {
	Charset string `yaml:"charset" mapstructure:"charset"`
}

// PolicyConfig points at the optional sync policy file.
type PolicyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// WatchConfig configures the drop-directory poller.
type WatchConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Schedule string `yaml:"schedule" mapstructure:"schedule"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-health alerting.
type MonitoringConfig struct {
	Enabled                bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ChangeErrorThreshold   int     `yaml:"change_error_threshold" mapstructure:"change_error_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have no defaults, so AutomaticEnv alone would not surface them on Unmarshal.
	for _, key := range []string{"store.database_url", "ticketing.token", "ticketing.org_id", "matching.api_key", "archive.bucket", "policy.path", "monitoring.webhook_url"} {
		if err := v.BindEnv(key); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("ticketing.timeout_secs", 30)
	v.SetDefault("ticketing.min_interval_ms", 250)
	v.SetDefault("ticketing.rate_limit_retries", 5)
	v.SetDefault("ticketing.server_error_retries", 3)
	v.SetDefault("ticketing.max_rate_limit_wait_secs", 60)
	v.SetDefault("dry_run.tickets", false)
	v.SetDefault("dry_run.permits", false)
	v.SetDefault("matching.enabled", false)
	v.SetDefault("matching.model", "claude-haiku-4-5-20251001")
	v.SetDefault("matching.radius_meters", 150.0)
	v.SetDefault("matching.lookback_days", 90)
	v.SetDefault("matching.max_candidates", 10)
	v.SetDefault("bulk.batch_size", 1000)
	v.SetDefault("bulk.call_size", 100)
	v.SetDefault("bulk.batch_delay_ms", 2000)
	v.SetDefault("geocode.base_url", "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress")
	v.SetDefault("geocode.rate_limit", 5.0)
	v.SetDefault("archive.prefix", "attachments")
	v.SetDefault("archive.region", "us-east-1")
	v.SetDefault("ingest.charset", "utf-8")
	v.SetDefault("watch.schedule", "@every 1h")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.change_error_threshold", 50)
	v.SetDefault("monitoring.review_backlog_threshold", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
