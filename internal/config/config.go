// Package config provides configuration management for the Tradernet identity core.
// Configuration can be loaded from YAML files and environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Password  PasswordConfig  `mapstructure:"password"`
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Lock      LockConfig      `mapstructure:"lock"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// DatabaseConfig holds database connection settings.
// Supports both PostgreSQL and SQLite backends.
type DatabaseConfig struct {
	// Driver specifies the database driver: "postgres" or "sqlite".
	Driver string `mapstructure:"driver"`

	// PostgreSQL settings (used when Driver is "postgres")
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`

	// SQLite settings (used when Driver is "sqlite")
	Path            string `mapstructure:"path"`             // Path to SQLite database file
	JournalMode     string `mapstructure:"journal_mode"`     // WAL, DELETE, TRUNCATE, etc.
	BusyTimeout     int    `mapstructure:"busy_timeout"`     // Milliseconds to wait for locks
	CacheSize       int    `mapstructure:"cache_size"`       // Page cache size (negative = KB)
	SynchronousMode string `mapstructure:"synchronous_mode"` // NORMAL, FULL, OFF
}

// DSN returns the PostgreSQL connection string.
// Only valid when Driver is "postgres".
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// IsEmbedded returns true if using an embedded database (SQLite).
func (c DatabaseConfig) IsEmbedded() bool {
	return c.Driver == "sqlite"
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Enabled     bool          `mapstructure:"enabled"`
}

// Addr returns the Redis address in host:port format.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	// Enabled determines if metrics collection is active.
	Enabled bool `mapstructure:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`

	// TextfilePath, when set, receives the collected metrics in text
	// exposition format after each admin command.
	TextfilePath string `mapstructure:"textfile_path"`
}

// PasswordConfig holds password history and ageing settings.
type PasswordConfig struct {
	// HistorySize is the number of credentials retained per user.
	HistorySize int `mapstructure:"history_size"`

	// MaxAge is the age after which a password expires. Zero disables expiry.
	MaxAge time.Duration `mapstructure:"max_age"`

	// WarningPeriod is how long before expiry the expires-in-days hint is set.
	WarningPeriod time.Duration `mapstructure:"warning_period"`

	// Algorithm is the hash algorithm for new passwords: "bcrypt" or "pbkdf2".
	Algorithm string `mapstructure:"algorithm"`

	// BcryptCost is the bcrypt work factor.
	BcryptCost int `mapstructure:"bcrypt_cost"`

	// PBKDF2Iterations is the PBKDF2 iteration count.
	PBKDF2Iterations int `mapstructure:"pbkdf2_iterations"`

	// MinLength is the minimum accepted password length.
	MinLength int `mapstructure:"min_length"`
}

// Cost returns the work factor for the configured algorithm.
func (c PasswordConfig) Cost() int {
	if strings.EqualFold(c.Algorithm, "pbkdf2") {
		return c.PBKDF2Iterations
	}
	return c.BcryptCost
}

// LockoutConfig holds failed-login lockout settings.
type LockoutConfig struct {
	// MaxAttempts is the number of consecutive failures that locks an account.
	// Zero disables lockout.
	MaxAttempts int `mapstructure:"max_attempts"`
}

// IdentityConfig holds identity provider settings.
type IdentityConfig struct {
	// ExternalManagement delegates authentication to an external identity
	// provider and disables password history.
	ExternalManagement bool `mapstructure:"external_management"`
}

// BootstrapConfig holds first-run settings.
type BootstrapConfig struct {
	SuperuserUsername string `mapstructure:"superuser_username"`

	// SuperuserPassword is the initial super user password. When empty, a
	// random password is generated and logged once.
	SuperuserPassword string `mapstructure:"superuser_password"`
}

// LockConfig holds per-user write lock settings.
type LockConfig struct {
	// Backend is "memory", "redis" or "none".
	Backend string `mapstructure:"backend"`

	TTL        time.Duration `mapstructure:"ttl"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// CacheConfig holds role reference data cache settings.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// Load reads configuration from the specified file and environment variables.
// Environment variables take precedence over file values.
// Environment variables are prefixed with TRADERNET_ and use _ as separator.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix("TRADERNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file configuration
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/tradernet")
	}

	// Read config file (optional - environment variables can be used instead)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "tradernet")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "tradernet")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)
	// SQLite defaults
	v.SetDefault("database.path", "./data/tradernet.db")
	v.SetDefault("database.journal_mode", "WAL")
	v.SetDefault("database.busy_timeout", 5000)
	v.SetDefault("database.cache_size", -2000)
	v.SetDefault("database.synchronous_mode", "NORMAL")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "tradernet")
	v.SetDefault("metrics.textfile_path", "")

	// Password defaults
	v.SetDefault("password.history_size", 5)
	v.SetDefault("password.max_age", 90*24*time.Hour)
	v.SetDefault("password.warning_period", 14*24*time.Hour)
	v.SetDefault("password.algorithm", "bcrypt")
	v.SetDefault("password.bcrypt_cost", 10)
	v.SetDefault("password.pbkdf2_iterations", 210000)
	v.SetDefault("password.min_length", 8)

	// Lockout defaults
	v.SetDefault("lockout.max_attempts", 5)

	// Identity defaults
	v.SetDefault("identity.external_management", false)

	// Bootstrap defaults
	v.SetDefault("bootstrap.superuser_username", "admin")
	v.SetDefault("bootstrap.superuser_password", "")

	// Lock defaults
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_delay", 50*time.Millisecond)
	v.SetDefault("lock.max_retries", 100)

	// Cache defaults
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 5*time.Minute)
}

// Validate checks the configuration for required values and valid ranges.
func (c *Config) Validate() error {
	// Validate database configuration
	validDrivers := map[string]bool{"postgres": true, "sqlite": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be 'postgres' or 'sqlite'")
	}

	if c.Database.Driver == "postgres" {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required for postgres driver")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required for postgres driver")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database.database is required for postgres driver")
		}
	} else if c.Database.Driver == "sqlite" {
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite driver")
		}
	}

	// Validate password configuration
	if c.Password.HistorySize < 1 {
		return fmt.Errorf("password.history_size must be at least 1")
	}
	if c.Password.MaxAge < 0 || c.Password.WarningPeriod < 0 {
		return fmt.Errorf("password.max_age and password.warning_period must not be negative")
	}
	validAlgorithms := map[string]bool{"bcrypt": true, "pbkdf2": true}
	if !validAlgorithms[strings.ToLower(c.Password.Algorithm)] {
		return fmt.Errorf("password.algorithm must be 'bcrypt' or 'pbkdf2'")
	}

	if c.Lockout.MaxAttempts < 0 {
		return fmt.Errorf("lockout.max_attempts must not be negative")
	}

	// Validate lock configuration
	validLockBackends := map[string]bool{"memory": true, "redis": true, "none": true}
	if !validLockBackends[c.Lock.Backend] {
		return fmt.Errorf("lock.backend must be one of: memory, redis, none")
	}
	if c.Lock.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("lock.backend 'redis' requires redis.enabled")
	}

	if c.Bootstrap.SuperuserUsername == "" {
		return fmt.Errorf("bootstrap.superuser_username is required")
	}

	// Validate logging configuration
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error, fatal, panic")
	}

	return nil
}

// MustLoad loads configuration or panics on error.
// Useful for main function initialization.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
