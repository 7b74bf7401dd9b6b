// Package config loads and validates the audit trail configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the AUDIT_ prefix (e.g., AUDIT_DATABASE_HOST
// overrides database.host in the YAML). The same binary therefore runs with a
// config.yaml in local development and with pure environment variables in containers.
//
// A subset of settings (log level, business-hours window) can be reloaded at runtime
// through Watch, which re-reads the file whenever fsnotify reports a change.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	Security      SecurityConfig      `mapstructure:"security"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// ArchiveConfig selects the object store that receives exported archive batches
// after each retention run.
type ArchiveConfig struct {
	Enabled bool               `mapstructure:"enabled"`
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Azure   AzureStorageConfig `mapstructure:"azure"`
	S3      S3StorageConfig    `mapstructure:"s3"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Bucket   string `mapstructure:"bucket"`

	// Authentication method: "default", "static", "oidc", "assume_role"
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN              string `mapstructure:"role_arn"`
	RoleSessionName      string `mapstructure:"role_session_name"`
	ExternalID           string `mapstructure:"external_id"`
	WebIdentityTokenFile string `mapstructure:"web_identity_token_file"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`

	// Authentication method: "default", "service_account", "workload_identity"
	AuthMethod      string `mapstructure:"auth_method"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS      CORSConfig      `mapstructure:"cors"`
	TLS       TLSConfig       `mapstructure:"tls"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig limits API requests per caller. Backend "redis" shares the budget
// across replicas; "memory" keeps it per process.
type RateLimitConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Backend           string `mapstructure:"backend"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig groups the settings of the audit pipeline.
type AuditConfig struct {
	Buffer     BufferConfig     `mapstructure:"buffer"`
	Fallback   FallbackConfig   `mapstructure:"fallback"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Retention  RetentionConfig  `mapstructure:"retention"`
}

// BufferConfig controls batching of events between the logger and the database.
type BufferConfig struct {
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	BatchSize      int           `mapstructure:"batch_size"`
	WriteChunkSize int           `mapstructure:"write_chunk_size"`
	FlushThreshold int           `mapstructure:"flush_threshold"`
	// MaxBuffered is a hard cap on pending events; 0 means unbounded.
	MaxBuffered  int           `mapstructure:"max_buffered"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// FallbackConfig controls the local append-only log used when the database is unreachable.
type FallbackConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// ChainConfig controls the integrity hash chain.
type ChainConfig struct {
	Algorithm       string `mapstructure:"algorithm"`
	ResumeOnStartup bool   `mapstructure:"resume_on_startup"`
}

// RiskConfig controls risk scoring.
type RiskConfig struct {
	Timezone           string        `mapstructure:"timezone"`
	BusinessHoursStart int           `mapstructure:"business_hours_start"`
	BusinessHoursEnd   int           `mapstructure:"business_hours_end"`
	FailureWindow      time.Duration `mapstructure:"failure_window"`
	FailureWindowSize  int           `mapstructure:"failure_window_size"`
	LookupTimeout      time.Duration `mapstructure:"lookup_timeout"`
}

// EscalationConfig controls the critical event escalator.
type EscalationConfig struct {
	QueueSize     int           `mapstructure:"queue_size"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
}

// RetentionConfig controls the scheduled retention manager.
type RetentionConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationsConfig holds the destinations for critical event alerts.
type NotificationsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Redis   RedisConfig   `mapstructure:"redis"`
	SMTP    SMTPConfig    `mapstructure:"smtp"`
}

// WebhookConfig holds webhook alert configuration
type WebhookConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	TimeoutSecs int               `mapstructure:"timeout_secs"`
}

// RedisConfig holds Redis pub/sub alert configuration
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// SMTPConfig holds outbound mail server configuration for alert emails
type SMTPConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	// UseTLS enables STARTTLS (port 587) or implicit TLS (port 465); false = plain SMTP
	UseTLS bool `mapstructure:"use_tls"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Archive
		"archive.enabled",
		"archive.backend",
		"archive.prefix",
		"archive.azure.account_name",
		"archive.azure.account_key",
		"archive.azure.container_name",
		"archive.s3.endpoint",
		"archive.s3.region",
		"archive.s3.bucket",
		"archive.s3.auth_method",
		"archive.s3.access_key_id",
		"archive.s3.secret_access_key",
		"archive.s3.role_arn",
		"archive.s3.role_session_name",
		"archive.s3.external_id",
		"archive.s3.web_identity_token_file",
		"archive.gcs.bucket",
		"archive.gcs.project_id",
		"archive.gcs.auth_method",
		"archive.gcs.credentials_file",
		"archive.gcs.credentials_json",
		"archive.gcs.endpoint",
		"archive.local.base_path",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",
		"security.rate_limit.enabled",
		"security.rate_limit.backend",
		"security.rate_limit.requests_per_minute",
		"security.rate_limit.burst",
		"security.rate_limit.redis_addr",
		"security.rate_limit.redis_password",
		"security.rate_limit.redis_db",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit pipeline
		"audit.buffer.flush_interval",
		"audit.buffer.batch_size",
		"audit.buffer.write_chunk_size",
		"audit.buffer.flush_threshold",
		"audit.buffer.max_buffered",
		"audit.buffer.write_timeout",
		"audit.fallback.path",
		"audit.fallback.max_size_mb",
		"audit.fallback.max_backups",
		"audit.chain.algorithm",
		"audit.chain.resume_on_startup",
		"audit.risk.timezone",
		"audit.risk.business_hours_start",
		"audit.risk.business_hours_end",
		"audit.risk.failure_window",
		"audit.risk.failure_window_size",
		"audit.risk.lookup_timeout",
		"audit.escalation.queue_size",
		"audit.escalation.notify_timeout",
		"audit.retention.enabled",
		"audit.retention.schedule",
		"audit.retention.timeout",

		// Notifications
		"notifications.enabled",
		"notifications.webhook.enabled",
		"notifications.webhook.url",
		"notifications.webhook.timeout_secs",
		"notifications.redis.enabled",
		"notifications.redis.addr",
		"notifications.redis.password",
		"notifications.redis.db",
		"notifications.redis.channel",
		"notifications.smtp.enabled",
		"notifications.smtp.host",
		"notifications.smtp.port",
		"notifications.smtp.username",
		"notifications.smtp.password",
		"notifications.smtp.from",
		"notifications.smtp.to",
		"notifications.smtp.use_tls",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// newViper builds a viper instance with defaults, file lookup, and environment binding.
func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/audit-trail")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("AUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}
	return v, nil
}

// decode unmarshals, expands secrets, and validates.
func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Archive.Azure.AccountKey = expandEnv(cfg.Archive.Azure.AccountKey)
	cfg.Archive.S3.AccessKeyID = expandEnv(cfg.Archive.S3.AccessKeyID)
	cfg.Archive.S3.SecretAccessKey = expandEnv(cfg.Archive.S3.SecretAccessKey)
	cfg.Notifications.Redis.Password = expandEnv(cfg.Notifications.Redis.Password)
	cfg.Notifications.SMTP.Password = expandEnv(cfg.Notifications.SMTP.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and invokes onChange with a freshly validated
// Config every time the underlying file changes. Invalid edits are logged and
// ignored so the running process keeps its last good configuration.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			slog.Warn("ignoring invalid configuration change", "file", e.Name, "error", err)
			return
		}
		slog.Info("configuration reloaded", "file", e.Name)
		onChange(next)
	})
	v.WatchConfig()
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "audit_trail")
	v.SetDefault("database.user", "audit")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Archive defaults
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.prefix", "archive")
	v.SetDefault("archive.local.base_path", "./archive")

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.tls.enabled", false)
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.backend", "memory")
	v.SetDefault("security.rate_limit.requests_per_minute", 600)
	v.SetDefault("security.rate_limit.burst", 100)
	v.SetDefault("security.rate_limit.redis_addr", "localhost:6379")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "audit-trail")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit pipeline defaults
	v.SetDefault("audit.buffer.flush_interval", "5s")
	v.SetDefault("audit.buffer.batch_size", 100)
	v.SetDefault("audit.buffer.write_chunk_size", 50)
	v.SetDefault("audit.buffer.flush_threshold", 50)
	v.SetDefault("audit.buffer.max_buffered", 0)
	v.SetDefault("audit.buffer.write_timeout", "10s")
	v.SetDefault("audit.fallback.path", "./logs/audit-fallback.jsonl")
	v.SetDefault("audit.fallback.max_size_mb", 100)
	v.SetDefault("audit.fallback.max_backups", 5)
	v.SetDefault("audit.chain.algorithm", "sha256")
	v.SetDefault("audit.chain.resume_on_startup", true)
	v.SetDefault("audit.risk.timezone", "UTC")
	v.SetDefault("audit.risk.business_hours_start", 8)
	v.SetDefault("audit.risk.business_hours_end", 18)
	v.SetDefault("audit.risk.failure_window", "1h")
	v.SetDefault("audit.risk.failure_window_size", 10000)
	v.SetDefault("audit.risk.lookup_timeout", "2s")
	v.SetDefault("audit.escalation.queue_size", 256)
	v.SetDefault("audit.escalation.notify_timeout", "10s")
	v.SetDefault("audit.retention.enabled", true)
	v.SetDefault("audit.retention.schedule", "@daily")
	v.SetDefault("audit.retention.timeout", "30m")

	// Notifications defaults
	v.SetDefault("notifications.enabled", false)
	v.SetDefault("notifications.webhook.timeout_secs", 10)
	v.SetDefault("notifications.redis.addr", "localhost:6379")
	v.SetDefault("notifications.redis.channel", "audit:critical")
	v.SetDefault("notifications.smtp.port", 587)
	v.SetDefault("notifications.smtp.use_tls", true)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}

	if err := c.Archive.validate(); err != nil {
		return err
	}

	// Validate TLS if enabled
	if c.Security.TLS.Enabled {
		if c.Security.TLS.CertFile == "" {
			return fmt.Errorf("security.tls.cert_file is required when TLS is enabled")
		}
		if c.Security.TLS.KeyFile == "" {
			return fmt.Errorf("security.tls.key_file is required when TLS is enabled")
		}
	}

	if err := c.Security.RateLimit.validate(); err != nil {
		return err
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if err := c.Audit.validate(); err != nil {
		return err
	}

	return c.Notifications.validate()
}

func (r *RateLimitConfig) validate() error {
	if !r.Enabled {
		return nil
	}
	if r.RequestsPerMinute <= 0 || r.Burst <= 0 {
		return fmt.Errorf("security.rate_limit.requests_per_minute and burst must be positive")
	}
	switch r.Backend {
	case "memory":
	case "redis":
		if r.RedisAddr == "" {
			return fmt.Errorf("security.rate_limit.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid security.rate_limit.backend: %s (must be memory or redis)", r.Backend)
	}
	return nil
}

func (a *ArchiveConfig) validate() error {
	validBackends := map[string]bool{"azure": true, "s3": true, "gcs": true, "local": true}
	if !validBackends[a.Backend] {
		return fmt.Errorf("invalid archive backend: %s (must be azure, s3, gcs, or local)", a.Backend)
	}
	if !a.Enabled {
		return nil
	}

	switch a.Backend {
	case "azure":
		if a.Azure.AccountName == "" {
			return fmt.Errorf("archive.azure.account_name is required when using Azure backend")
		}
		if a.Azure.AccountKey == "" {
			return fmt.Errorf("archive.azure.account_key is required when using Azure backend")
		}
		if a.Azure.ContainerName == "" {
			return fmt.Errorf("archive.azure.container_name is required when using Azure backend")
		}
	case "s3":
		if a.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when using S3 backend")
		}
		if a.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when using S3 backend")
		}
	case "gcs":
		if a.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket is required when using GCS backend")
		}
	case "local":
		if a.Local.BasePath == "" {
			return fmt.Errorf("archive.local.base_path is required when using local backend")
		}
	}
	return nil
}

func (a *AuditConfig) validate() error {
	b := a.Buffer
	if b.FlushInterval <= 0 {
		return fmt.Errorf("audit.buffer.flush_interval must be positive")
	}
	if b.BatchSize < 1 {
		return fmt.Errorf("audit.buffer.batch_size must be at least 1")
	}
	if b.WriteChunkSize < 1 {
		return fmt.Errorf("audit.buffer.write_chunk_size must be at least 1")
	}
	if b.FlushThreshold < 1 {
		return fmt.Errorf("audit.buffer.flush_threshold must be at least 1")
	}
	if b.MaxBuffered != 0 && b.MaxBuffered < b.BatchSize {
		return fmt.Errorf("audit.buffer.max_buffered must be 0 (unbounded) or at least batch_size (%d)", b.BatchSize)
	}
	if a.Fallback.Path == "" {
		return fmt.Errorf("audit.fallback.path is required")
	}

	switch a.Chain.Algorithm {
	case "sha256", "blake2b-256":
	default:
		return fmt.Errorf("invalid audit.chain.algorithm: %s (must be sha256 or blake2b-256)", a.Chain.Algorithm)
	}

	r := a.Risk
	if _, err := time.LoadLocation(r.Timezone); err != nil {
		return fmt.Errorf("invalid audit.risk.timezone %q: %w", r.Timezone, err)
	}
	if r.BusinessHoursStart < 0 || r.BusinessHoursEnd > 24 || r.BusinessHoursStart >= r.BusinessHoursEnd {
		return fmt.Errorf("invalid business hours window [%d, %d)", r.BusinessHoursStart, r.BusinessHoursEnd)
	}

	if a.Escalation.QueueSize < 1 {
		return fmt.Errorf("audit.escalation.queue_size must be at least 1")
	}

	if a.Retention.Enabled {
		if _, err := cron.ParseStandard(a.Retention.Schedule); err != nil {
			return fmt.Errorf("invalid audit.retention.schedule %q: %w", a.Retention.Schedule, err)
		}
	}
	return nil
}

func (n *NotificationsConfig) validate() error {
	if !n.Enabled {
		return nil
	}
	if n.Webhook.Enabled && n.Webhook.URL == "" {
		return fmt.Errorf("notifications.webhook.url is required when the webhook is enabled")
	}
	if n.Redis.Enabled && n.Redis.Addr == "" {
		return fmt.Errorf("notifications.redis.addr is required when Redis is enabled")
	}
	if n.SMTP.Enabled {
		if n.SMTP.Host == "" || n.SMTP.From == "" {
			return fmt.Errorf("notifications.smtp.host and notifications.smtp.from are required when SMTP is enabled")
		}
		if len(n.SMTP.To) == 0 {
			return fmt.Errorf("notifications.smtp.to must list at least one recipient")
		}
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Location returns the configured business-hours time zone, falling back to UTC.
func (r *RiskConfig) Location() *time.Location {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
