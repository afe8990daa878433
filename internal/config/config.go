package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the settlement service
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Distributor DistributorConfig `mapstructure:"distributor"`
	Access      AccessConfig      `mapstructure:"access"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString builds a pgx connection string from the settings.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis configuration for event dedup and ownership caching
type RedisConfig struct {
	URL        string `mapstructure:"url"`
	Enabled    bool   `mapstructure:"enabled"`
	MaxRetries int    `mapstructure:"max_retries"`
	PoolSize   int    `mapstructure:"pool_size"`
}

// NATSConfig holds message broker configuration for the ledger event stream
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Enabled       bool          `mapstructure:"enabled"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// LedgerConfig holds ledger gateway configuration
type LedgerConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retry   RetryConfig   `mapstructure:"retry"`
}

// RetryConfig bounds the retry policy for transient ledger failures
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// SettlementConfig holds orchestrator and correlator configuration
type SettlementConfig struct {
	RunInterval    time.Duration `mapstructure:"run_interval"`
	Partitions     int           `mapstructure:"partitions"`
	PartitionQueue int           `mapstructure:"partition_queue"`
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
}

// DistributorConfig bounds the reward fan-out
type DistributorConfig struct {
	FanoutLimit int `mapstructure:"fanout_limit"`
}

// AccessConfig holds access gate configuration
type AccessConfig struct {
	OwnershipCacheTTL time.Duration `mapstructure:"ownership_cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "settlement")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "settlement")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("ledger.url", "http://localhost:8095")
	v.SetDefault("ledger.timeout", "10s")
	v.SetDefault("ledger.retry.max_attempts", 5)
	v.SetDefault("ledger.retry.base_backoff", "500ms")
	v.SetDefault("ledger.retry.max_backoff", "30s")

	v.SetDefault("settlement.run_interval", "1m")
	v.SetDefault("settlement.partitions", 8)
	v.SetDefault("settlement.partition_queue", 256)
	v.SetDefault("settlement.dedup_ttl", "24h")

	v.SetDefault("distributor.fanout_limit", 10)

	v.SetDefault("access.ownership_cache_ttl", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("SETTLEMENT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
