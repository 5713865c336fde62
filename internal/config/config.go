package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres   = "postgres"
	DriverClickHouse = "clickhouse"
	DriverMemory     = "memory"
)

type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	ClickHouse ClickHouseConfig
	Storage    StorageConfig
	RateLimit  RateLimitConfig
	Code       CodeConfig
	Cache      CacheConfig
	Recorder   RecorderConfig
	Analytics  AnalyticsConfig
	Geo        GeoConfig
	Auth       AuthConfig
}

type AppConfig struct {
	Env             string
	Port            string
	BaseURL         string
	ShutdownTimeout time.Duration
}

type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

type ClickHouseConfig struct {
	Addr        string
	User        string
	Password    string
	DBName      string
	DialTimeout time.Duration
}

// StorageConfig selects the backends for links and click events.
type StorageConfig struct {
	LinkDriver  string
	EventDriver string
}

type RateLimitConfig struct {
	Requests int
	Duration time.Duration
}

type CodeConfig struct {
	Length           int
	MaxAttempts      int
	MinCustomLength  int
	MaxCustomLength  int
	ReservedPrefixes []string
}

type CacheConfig struct {
	LinkTTL time.Duration
}

type RecorderConfig struct {
	QueueSize         int
	Workers           int
	BatchSize         int
	FlushInterval     time.Duration
	WriteTimeout      time.Duration
	FingerprintSalt   string
	FingerprintWindow time.Duration
}

type AnalyticsConfig struct {
	Retention      time.Duration
	RetentionSweep time.Duration
	TopN           int
	DefaultWindow  time.Duration
}

type GeoConfig struct {
	DatabasePath string
}

type AuthConfig struct {
	BasicUser     string
	BasicPassword string
}

func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	setDefaults()

	// Read config file (optional, env vars take precedence)
	_ = viper.ReadInConfig()

	cfg := &Config{
		App: AppConfig{
			Env:             viper.GetString("APP_ENV"),
			Port:            viper.GetString("APP_PORT"),
			BaseURL:         strings.TrimRight(viper.GetString("APP_BASE_URL"), "/"),
			ShutdownTimeout: viper.GetDuration("APP_SHUTDOWN_TIMEOUT"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetString("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
			MaxConns: viper.GetInt("POSTGRES_MAX_CONNS"),
			MinConns: viper.GetInt("POSTGRES_MIN_CONNS"),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("REDIS_ENABLED"),
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
			PoolSize: viper.GetInt("REDIS_POOL_SIZE"),
		},
		ClickHouse: ClickHouseConfig{
			Addr:        viper.GetString("CLICKHOUSE_ADDR"),
			User:        viper.GetString("CLICKHOUSE_USER"),
			Password:    viper.GetString("CLICKHOUSE_PASSWORD"),
			DBName:      viper.GetString("CLICKHOUSE_DB"),
			DialTimeout: viper.GetDuration("CLICKHOUSE_DIAL_TIMEOUT"),
		},
		Storage: StorageConfig{
			LinkDriver:  viper.GetString("STORAGE_LINK_DRIVER"),
			EventDriver: viper.GetString("STORAGE_EVENT_DRIVER"),
		},
		RateLimit: RateLimitConfig{
			Requests: viper.GetInt("RATE_LIMIT_REQUESTS"),
			Duration: viper.GetDuration("RATE_LIMIT_DURATION"),
		},
		Code: CodeConfig{
			Length:           viper.GetInt("SHORT_CODE_LENGTH"),
			MaxAttempts:      viper.GetInt("SHORT_CODE_MAX_ATTEMPTS"),
			MinCustomLength:  viper.GetInt("SHORT_CODE_MIN_CUSTOM_LENGTH"),
			MaxCustomLength:  viper.GetInt("SHORT_CODE_MAX_CUSTOM_LENGTH"),
			ReservedPrefixes: splitList(viper.GetString("SHORT_CODE_RESERVED_PREFIXES")),
		},
		Cache: CacheConfig{
			LinkTTL: viper.GetDuration("CACHE_LINK_TTL"),
		},
		Recorder: RecorderConfig{
			QueueSize:         viper.GetInt("RECORDER_QUEUE_SIZE"),
			Workers:           viper.GetInt("RECORDER_WORKERS"),
			BatchSize:         viper.GetInt("RECORDER_BATCH_SIZE"),
			FlushInterval:     viper.GetDuration("RECORDER_FLUSH_INTERVAL"),
			WriteTimeout:      viper.GetDuration("RECORDER_WRITE_TIMEOUT"),
			FingerprintSalt:   viper.GetString("RECORDER_FINGERPRINT_SALT"),
			FingerprintWindow: viper.GetDuration("RECORDER_FINGERPRINT_WINDOW"),
		},
		Analytics: AnalyticsConfig{
			Retention:      viper.GetDuration("ANALYTICS_RETENTION"),
			RetentionSweep: viper.GetDuration("ANALYTICS_RETENTION_SWEEP"),
			TopN:           viper.GetInt("ANALYTICS_TOP_N"),
			DefaultWindow:  viper.GetDuration("ANALYTICS_DEFAULT_WINDOW"),
		},
		Geo: GeoConfig{
			DatabasePath: viper.GetString("GEOIP_DATABASE_PATH"),
		},
		Auth: AuthConfig{
			BasicUser:     viper.GetString("AUTH_BASIC_USER"),
			BasicPassword: viper.GetString("AUTH_BASIC_PASSWORD"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("APP_PORT", "8080")
	viper.SetDefault("APP_BASE_URL", "http://localhost:8080")
	viper.SetDefault("APP_SHUTDOWN_TIMEOUT", "30s")

	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", "5432")
	viper.SetDefault("POSTGRES_USER", "shortlink")
	viper.SetDefault("POSTGRES_PASSWORD", "shortlink")
	viper.SetDefault("POSTGRES_DB", "shortlink")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("POSTGRES_MAX_CONNS", 25)
	viper.SetDefault("POSTGRES_MIN_CONNS", 5)

	viper.SetDefault("REDIS_ENABLED", true)
	viper.SetDefault("REDIS_HOST", "localhost")
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_POOL_SIZE", 10)

	viper.SetDefault("CLICKHOUSE_ADDR", "localhost:9000")
	viper.SetDefault("CLICKHOUSE_USER", "default")
	viper.SetDefault("CLICKHOUSE_PASSWORD", "")
	viper.SetDefault("CLICKHOUSE_DB", "shortlink")
	viper.SetDefault("CLICKHOUSE_DIAL_TIMEOUT", "30s")

	viper.SetDefault("STORAGE_LINK_DRIVER", DriverPostgres)
	viper.SetDefault("STORAGE_EVENT_DRIVER", DriverPostgres)

	viper.SetDefault("RATE_LIMIT_REQUESTS", 100)
	viper.SetDefault("RATE_LIMIT_DURATION", "1m")

	viper.SetDefault("SHORT_CODE_LENGTH", 7)
	viper.SetDefault("SHORT_CODE_MAX_ATTEMPTS", 5)
	viper.SetDefault("SHORT_CODE_MIN_CUSTOM_LENGTH", 3)
	viper.SetDefault("SHORT_CODE_MAX_CUSTOM_LENGTH", 32)
	viper.SetDefault("SHORT_CODE_RESERVED_PREFIXES", "api,health,metrics,docs,static,admin")

	viper.SetDefault("CACHE_LINK_TTL", "1h")

	viper.SetDefault("RECORDER_QUEUE_SIZE", 10000)
	viper.SetDefault("RECORDER_WORKERS", 2)
	viper.SetDefault("RECORDER_BATCH_SIZE", 100)
	viper.SetDefault("RECORDER_FLUSH_INTERVAL", "2s")
	viper.SetDefault("RECORDER_WRITE_TIMEOUT", "10s")
	viper.SetDefault("RECORDER_FINGERPRINT_SALT", "change-me")
	viper.SetDefault("RECORDER_FINGERPRINT_WINDOW", "24h")

	viper.SetDefault("ANALYTICS_RETENTION", "0")
	viper.SetDefault("ANALYTICS_RETENTION_SWEEP", "1h")
	viper.SetDefault("ANALYTICS_TOP_N", 10)
	viper.SetDefault("ANALYTICS_DEFAULT_WINDOW", "720h")

	viper.SetDefault("GEOIP_DATABASE_PATH", "")

	viper.SetDefault("AUTH_BASIC_USER", "")
	viper.SetDefault("AUTH_BASIC_PASSWORD", "")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.LinkDriver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported link driver %q", c.Storage.LinkDriver))
	}
	switch c.Storage.EventDriver {
	case DriverPostgres, DriverClickHouse, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unsupported event driver %q", c.Storage.EventDriver))
	}

	if c.Code.Length < 4 {
		errs = append(errs, errors.New("SHORT_CODE_LENGTH must be at least 4"))
	}
	if c.Code.MaxAttempts < 1 {
		errs = append(errs, errors.New("SHORT_CODE_MAX_ATTEMPTS must be positive"))
	}
	if c.Code.MinCustomLength < 1 || c.Code.MaxCustomLength < c.Code.MinCustomLength {
		errs = append(errs, errors.New("custom code length bounds are invalid"))
	}
	if c.Recorder.QueueSize < 1 || c.Recorder.Workers < 1 || c.Recorder.BatchSize < 1 {
		errs = append(errs, errors.New("recorder queue size, workers and batch size must be positive"))
	}
	if c.Recorder.FlushInterval <= 0 || c.Recorder.WriteTimeout <= 0 {
		errs = append(errs, errors.New("RECORDER_FLUSH_INTERVAL and RECORDER_WRITE_TIMEOUT must be positive"))
	}
	if c.Recorder.FingerprintWindow <= 0 {
		errs = append(errs, errors.New("RECORDER_FINGERPRINT_WINDOW must be positive"))
	}
	if c.Analytics.Retention < 0 {
		errs = append(errs, errors.New("ANALYTICS_RETENTION must not be negative"))
	}
	if c.Analytics.Retention > 0 && c.Analytics.RetentionSweep <= 0 {
		errs = append(errs, errors.New("ANALYTICS_RETENTION_SWEEP must be positive when retention is set"))
	}
	if c.RateLimit.Requests < 1 || c.RateLimit.Duration <= 0 {
		errs = append(errs, errors.New("rate limit requests and duration must be positive"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production settings.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

func (c *PostgresConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func (c *RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
