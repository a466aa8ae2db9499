package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tracked-mail-relay-go/internal/errs"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// ProviderConfig holds the email-delivery API settings
type ProviderConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	APIEndpoint     string        `mapstructure:"api_endpoint"`
	APIVersion      string        `mapstructure:"api_version"`
	Domain          string        `mapstructure:"domain"`
	Timeout         time.Duration `mapstructure:"timeout"`
	FallbackOnError bool          `mapstructure:"fallback_on_error"`
	TrackOpens      bool          `mapstructure:"track_opens"`
	TrackClicks     bool          `mapstructure:"track_clicks"`
	InlineImages    bool          `mapstructure:"inline_images"`
	InlineBaseURL   string        `mapstructure:"inline_base_url"`
	InlineBasePath  string        `mapstructure:"inline_base_path"`
	TestMode        bool          `mapstructure:"test_mode"`
}

// FallbackConfig selects and configures the direct-delivery transport
type FallbackConfig struct {
	Kind              string `mapstructure:"kind"`
	SMTPHost          string `mapstructure:"smtp_host"`
	SMTPPort          int    `mapstructure:"smtp_port"`
	SMTPUser          string `mapstructure:"smtp_user"`
	SMTPPassword      string `mapstructure:"smtp_password"`
	GmailClientID     string `mapstructure:"gmail_client_id"`
	GmailClientSecret string `mapstructure:"gmail_client_secret"`
	GmailRefreshToken string `mapstructure:"gmail_refresh_token"`
	GmailUserEmail    string `mapstructure:"gmail_user_email"`
}

// SyncConfig tunes the event-log polling
type SyncConfig struct {
	PageLimit int           `mapstructure:"page_limit"`
	Overlap   time.Duration `mapstructure:"overlap"`
	LockKey   string        `mapstructure:"lock_key"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

const (
	FallbackSMTP  = "smtp"
	FallbackGmail = "gmail"
	FallbackNone  = "none"

	DriverMySQL  = "mysql"
	DriverMemory = "memory"
)

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.slow_threshold", "1s")

	v.SetDefault("provider.api_endpoint", "api.mailgun.net")
	v.SetDefault("provider.api_version", "v3")
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.fallback_on_error", true)
	v.SetDefault("provider.track_opens", false)
	v.SetDefault("provider.track_clicks", false)
	v.SetDefault("provider.inline_images", true)
	v.SetDefault("provider.inline_base_path", ".")
	v.SetDefault("provider.test_mode", false)

	v.SetDefault("fallback.kind", FallbackSMTP)
	v.SetDefault("fallback.smtp_host", "localhost")
	v.SetDefault("fallback.smtp_port", 25)

	v.SetDefault("sync.page_limit", 25)
	v.SetDefault("sync.overlap", "60s")
	v.SetDefault("sync.lock_key", "mail-relay:event-sync")
	v.SetDefault("sync.lock_ttl", "10m")

	v.SetDefault("scheduler.interval_minutes", 5)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.max_idle_conns", "DB_MAX_IDLE_CONNS")
	v.BindEnv("database.max_open_conns", "DB_MAX_OPEN_CONNS")
	v.BindEnv("database.conn_max_lifetime", "DB_CONN_MAX_LIFETIME")
	v.BindEnv("database.slow_threshold", "DB_SLOW_THRESHOLD")

	// Provider
	v.BindEnv("provider.api_key", "MAILGUN_API_KEY")
	v.BindEnv("provider.api_endpoint", "MAILGUN_API_ENDPOINT")
	v.BindEnv("provider.api_version", "MAILGUN_API_VERSION")
	v.BindEnv("provider.domain", "MAILGUN_DOMAIN")
	v.BindEnv("provider.timeout", "MAILGUN_TIMEOUT")
	v.BindEnv("provider.fallback_on_error", "MAILGUN_FALLBACK_ON_ERROR")
	v.BindEnv("provider.track_opens", "MAILGUN_TRACK_OPENS")
	v.BindEnv("provider.track_clicks", "MAILGUN_TRACK_CLICKS")
	v.BindEnv("provider.inline_images", "MAILGUN_INLINE_IMAGES")
	v.BindEnv("provider.inline_base_url", "MAILGUN_INLINE_BASE_URL")
	v.BindEnv("provider.inline_base_path", "MAILGUN_INLINE_BASE_PATH")
	v.BindEnv("provider.test_mode", "MAILGUN_TEST_MODE")

	// Fallback
	v.BindEnv("fallback.kind", "FALLBACK_KIND")
	v.BindEnv("fallback.smtp_host", "FALLBACK_SMTP_HOST")
	v.BindEnv("fallback.smtp_port", "FALLBACK_SMTP_PORT")
	v.BindEnv("fallback.smtp_user", "FALLBACK_SMTP_USER")
	v.BindEnv("fallback.smtp_password", "FALLBACK_SMTP_PASSWORD")
	v.BindEnv("fallback.gmail_client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("fallback.gmail_client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("fallback.gmail_refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("fallback.gmail_user_email", "GMAIL_USER_EMAIL")

	// Sync
	v.BindEnv("sync.page_limit", "SYNC_PAGE_LIMIT")
	v.BindEnv("sync.overlap", "SYNC_OVERLAP")
	v.BindEnv("sync.lock_key", "SYNC_LOCK_KEY")
	v.BindEnv("sync.lock_ttl", "SYNC_LOCK_TTL")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// Scheduler
	v.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// BaseURL returns the API root every provider request is issued against,
// e.g. https://api.mailgun.net/v3
func (c *ProviderConfig) BaseURL() string {
	endpoint := strings.TrimRight(c.APIEndpoint, "/")
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	if c.APIVersion == "" {
		return endpoint
	}
	return endpoint + "/" + strings.Trim(c.APIVersion, "/")
}

// Validate checks the provider credentials and sending domain
func (c *ProviderConfig) Validate() error {
	if c.APIKey == "" {
		return errs.Required("provider.api_key")
	}
	if c.APIEndpoint == "" {
		return errs.Required("provider.api_endpoint")
	}
	if c.Domain == "" {
		return errs.Required("provider.domain")
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errs.Required("server.port")
	}

	switch c.Database.Driver {
	case DriverMySQL:
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return &errs.ConfigurationError{Key: "database", Reason: "host, user, and dbname are required"}
		}
	case DriverMemory:
	default:
		return &errs.ConfigurationError{Key: "database.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}

	if err := c.Provider.Validate(); err != nil {
		return err
	}

	switch c.Fallback.Kind {
	case FallbackSMTP:
		if c.Fallback.SMTPHost == "" {
			return errs.Required("fallback.smtp_host")
		}
	case FallbackGmail:
		if c.Fallback.GmailClientID == "" || c.Fallback.GmailClientSecret == "" || c.Fallback.GmailRefreshToken == "" {
			return &errs.ConfigurationError{Key: "fallback.gmail", Reason: "OAuth2 credentials are required when using the Gmail fallback"}
		}
	case FallbackNone:
	default:
		return &errs.ConfigurationError{Key: "fallback.kind", Reason: fmt.Sprintf("unsupported fallback %q", c.Fallback.Kind)}
	}

	if c.Sync.PageLimit <= 0 {
		return &errs.ConfigurationError{Key: "sync.page_limit", Reason: "must be greater than 0"}
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return &errs.ConfigurationError{Key: "scheduler.interval_minutes", Reason: "must be greater than 0"}
	}

	return nil
}
