package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const (
	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"

	ReceiptPolicyStrict     = "strict"
	ReceiptPolicyBestEffort = "best_effort"
)

// CronParser accepts the six-field (with seconds) specs used by the scheduler.
var CronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Health    HealthConfig    `mapstructure:"health"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	Env             string        `mapstructure:"env"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is the database/sql driver name: "postgres" (lib/pq) or "pgx".
	Driver          string        `mapstructure:"driver"`
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SchedulerConfig struct {
	LateCheckSpec     string `mapstructure:"late_check_spec"`
	AggregateHealSpec string `mapstructure:"aggregate_heal_spec"`
	Timezone          string `mapstructure:"timezone"`
	Concurrency       int    `mapstructure:"concurrency"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LedgerConfig struct {
	MaxConflictRetries uint64        `mapstructure:"max_conflict_retries"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	ReceiptPolicy      string        `mapstructure:"receipt_policy"`
	ReceiptFolder      string        `mapstructure:"receipt_folder"`
	HealGrace          time.Duration `mapstructure:"heal_grace"`
}

type UploadConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.backend", StorageBackendPostgres)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "5m")

	v.SetDefault("scheduler.late_check_spec", "0 0 * * * *")
	v.SetDefault("scheduler.aggregate_heal_spec", "0 30 2 * * *")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.concurrency", 8)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("ledger.max_conflict_retries", 5)
	v.SetDefault("ledger.initial_backoff", "20ms")
	v.SetDefault("ledger.receipt_policy", ReceiptPolicyStrict)
	v.SetDefault("ledger.receipt_folder", "receipts")
	v.SetDefault("ledger.heal_grace", "2m")

	v.SetDefault("upload.base_url", "")
	v.SetDefault("upload.token", "")
	v.SetDefault("upload.timeout", "10s")

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.service_name", "microlend-ledger")

	v.SetDefault("rate_limit.rps", 50)
	v.SetDefault("rate_limit.burst", 100)

	v.SetDefault("health.timeout", "5s")
}

// Load reads configuration from an optional .env file and environment variables.
// Keys are dotted (server.port) and map to upper-case env names (SERVER_PORT).
func Load() (*Config, error) {
	// Don't fail if .env file doesn't exist
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Storage.Backend {
	case StorageBackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
		if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
			return fmt.Errorf("DATABASE_DRIVER must be postgres or pgx, got %q", c.Database.Driver)
		}
	case StorageBackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %s or %s, got %q",
			StorageBackendPostgres, StorageBackendMemory, c.Storage.Backend)
	}

	switch c.Ledger.ReceiptPolicy {
	case ReceiptPolicyStrict, ReceiptPolicyBestEffort:
	default:
		return fmt.Errorf("LEDGER_RECEIPT_POLICY must be %s or %s, got %q",
			ReceiptPolicyStrict, ReceiptPolicyBestEffort, c.Ledger.ReceiptPolicy)
	}

	if c.Ledger.MaxConflictRetries == 0 {
		return fmt.Errorf("LEDGER_MAX_CONFLICT_RETRIES must be greater than 0")
	}

	if c.Ledger.InitialBackoff <= 0 {
		return fmt.Errorf("LEDGER_INITIAL_BACKOFF must be a positive duration")
	}

	if c.Ledger.HealGrace < 0 {
		return fmt.Errorf("LEDGER_HEAL_GRACE must not be negative")
	}

	if _, err := CronParser.Parse(c.Scheduler.LateCheckSpec); err != nil {
		return fmt.Errorf("SCHEDULER_LATE_CHECK_SPEC is not a valid cron spec: %w", err)
	}

	if _, err := CronParser.Parse(c.Scheduler.AggregateHealSpec); err != nil {
		return fmt.Errorf("SCHEDULER_AGGREGATE_HEAL_SPEC is not a valid cron spec: %w", err)
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE is not a known location: %w", err)
	}

	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("SCHEDULER_CONCURRENCY must be greater than 0")
	}

	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}

	if c.Health.Timeout <= 0 {
		return fmt.Errorf("HEALTH_TIMEOUT must be a positive duration")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// Location returns the scheduler timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}
