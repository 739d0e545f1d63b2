package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// Lock backends
const (
	LockBackendSQLite = "sqlite"
	LockBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Logger         LoggerConfig         `mapstructure:"logger"`
	Engine         EngineConfig         `mapstructure:"engine"`
	Retry          RetryConfig          `mapstructure:"retry"`
	Eligibility    EligibilityConfig    `mapstructure:"eligibility"`
	Inquiry        InquiryConfig        `mapstructure:"inquiry"`
	Grant          GrantConfig          `mapstructure:"grant"`
	Notification   NotificationConfig   `mapstructure:"notification"`
	Lock           LockConfig           `mapstructure:"lock"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Lark           LarkConfig           `mapstructure:"lark"`
	Telemetry      TelemetryConfig      `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EngineConfig holds workflow engine configuration
type EngineConfig struct {
	MaxConcurrentInstances int  `mapstructure:"max_concurrent_instances"`
	RecoverOnStart         bool `mapstructure:"recover_on_start"`
}

// RetryConfig is the activity retry policy of the bonus workflows
type RetryConfig struct {
	FirstInterval time.Duration `mapstructure:"first_interval"`
	Coefficient   float64       `mapstructure:"coefficient"`
	MaxInterval   time.Duration `mapstructure:"max_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// GrantMaxAttempts overrides MaxAttempts for the grant call
	GrantMaxAttempts int `mapstructure:"grant_max_attempts"`
}

// EligibilityConfig holds eligibility check configuration
type EligibilityConfig struct {
	Validity          time.Duration `mapstructure:"validity"`
	NotificationDelay time.Duration `mapstructure:"notification_delay"`
}

// InquiryConfig holds the tax-authority inquiry endpoint
type InquiryConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	SOAPAction    string        `mapstructure:"soap_action"`
	ThresholdCode string        `mapstructure:"threshold_code"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// GrantConfig holds the bonus grant endpoint
type GrantConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	SigningSecret string        `mapstructure:"signing_secret"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// NotificationConfig holds the notification endpoint
type NotificationConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	APIKey       string        `mapstructure:"api_key"`
	APIKeyHeader string        `mapstructure:"api_key_header"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LockConfig selects where family leases live
type LockConfig struct {
	Backend        string `mapstructure:"backend"`
	RedisURL       string `mapstructure:"redis_url"`
	RedisKeyPrefix string `mapstructure:"redis_key_prefix"`
}

// ReconciliationConfig holds the stale activation sweep configuration
type ReconciliationConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	StaleThreshold time.Duration `mapstructure:"stale_threshold"`
	ReportDir      string        `mapstructure:"report_dir"`
	LarkChatID     string        `mapstructure:"lark_chat_id"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

// TelemetryConfig holds tracing configuration
type TelemetryConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load loads configuration from file and environment variables. An empty
// path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.path", "data/bonus.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.max_concurrent_instances", 64)
	v.SetDefault("engine.recover_on_start", true)

	v.SetDefault("retry.first_interval", 5*time.Second)
	v.SetDefault("retry.coefficient", 1.5)
	v.SetDefault("retry.max_interval", time.Minute)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.timeout", 10*time.Minute)
	v.SetDefault("retry.grant_max_attempts", 10)

	v.SetDefault("eligibility.validity", 24*time.Hour)
	v.SetDefault("eligibility.notification_delay", time.Minute)

	v.SetDefault("inquiry.threshold_code", "BVBONUS")
	v.SetDefault("inquiry.timeout", 30*time.Second)

	v.SetDefault("grant.issuer", "bonus-orchestrator")
	v.SetDefault("grant.token_ttl", 5*time.Minute)
	v.SetDefault("grant.timeout", 30*time.Second)

	v.SetDefault("notification.api_key_header", "Ocp-Apim-Subscription-Key")
	v.SetDefault("notification.timeout", 30*time.Second)

	v.SetDefault("lock.backend", LockBackendSQLite)
	v.SetDefault("lock.redis_key_prefix", "bonus:lease:")

	v.SetDefault("reconciliation.enabled", false)
	v.SetDefault("reconciliation.interval", time.Hour)
	v.SetDefault("reconciliation.stale_threshold", 24*time.Hour)
	v.SetDefault("reconciliation.report_dir", "reports")

	v.SetDefault("telemetry.service_name", "bonus-orchestrator")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// bindEnvVars binds secrets to their conventional environment names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"grant.signing_secret":   "GRANT_SIGNING_SECRET",
		"notification.api_key":   "NOTIFICATION_API_KEY",
		"lark.app_id":            "LARK_APP_ID",
		"lark.app_secret":        "LARK_APP_SECRET",
		"lock.redis_url":         "REDIS_URL",
		"telemetry.endpoint":     "OTEL_EXPORTER_OTLP_ENDPOINT",
		"inquiry.endpoint":       "INQUIRY_ENDPOINT",
		"grant.endpoint":         "GRANT_ENDPOINT",
		"notification.endpoint":  "NOTIFICATION_ENDPOINT",
		"reconciliation.enabled": "RECONCILIATION_ENABLED",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration. All problems are reported at once.
func (c *Config) Validate() error {
	var result *multierror.Error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		fail("server.port must be between 1 and 65535")
	}
	if c.Database.Path == "" {
		fail("database.path is required")
	}
	if c.Engine.MaxConcurrentInstances <= 0 {
		fail("engine.max_concurrent_instances must be positive")
	}

	if c.Retry.MaxAttempts <= 0 || c.Retry.GrantMaxAttempts <= 0 {
		fail("retry.max_attempts and retry.grant_max_attempts must be positive")
	}
	if c.Retry.Coefficient < 1 {
		fail("retry.coefficient must be at least 1")
	}
	if c.Eligibility.Validity <= 0 {
		fail("eligibility.validity must be positive")
	}

	if c.Inquiry.Endpoint == "" {
		fail("inquiry.endpoint is required")
	}
	if c.Grant.Endpoint == "" {
		fail("grant.endpoint is required")
	}
	if c.Grant.SigningSecret == "" {
		fail("grant.signing_secret is required (GRANT_SIGNING_SECRET)")
	}
	if c.Notification.Endpoint == "" {
		fail("notification.endpoint is required")
	}

	switch c.Lock.Backend {
	case LockBackendSQLite:
	case LockBackendRedis:
		if c.Lock.RedisURL == "" {
			fail("lock.redis_url is required for the redis backend (REDIS_URL)")
		}
	default:
		fail("lock.backend must be %q or %q, got %q", LockBackendSQLite, LockBackendRedis, c.Lock.Backend)
	}

	if c.Reconciliation.Enabled {
		if c.Reconciliation.Interval <= 0 || c.Reconciliation.StaleThreshold <= 0 {
			fail("reconciliation.interval and reconciliation.stale_threshold must be positive")
		}
		if c.Reconciliation.LarkChatID != "" && (c.Lark.AppID == "" || c.Lark.AppSecret == "") {
			fail("lark.app_id and lark.app_secret are required to alert reconciliation.lark_chat_id")
		}
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		fail("telemetry.sample_ratio must be within [0, 1]")
	}

	return result.ErrorOrNil()
}
