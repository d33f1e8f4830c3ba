// Package config loads the crudkit configuration from crudkit.yaml, CRUDKIT_
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conduit-lang/crudkit/internal/orm/behaviors"
	"github.com/conduit-lang/crudkit/internal/orm/datasource"
)

// EnvPrefix prefixes every environment override, e.g. CRUDKIT_SERVER_PORT
const EnvPrefix = "CRUDKIT"

// DriverMemory selects the in-memory store
const DriverMemory = "memory"

var knownDrivers = []string{DriverMemory, "sqlite3", "pgx", "postgres"}

// Config represents the crudkit configuration
type Config struct {
	Data      DataConfig      `mapstructure:"data"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// DataConfig holds the data source and behaviors defaults
type DataConfig struct {
	DefaultPageSize            int    `mapstructure:"default_page_size"`
	MaxPageSize                int    `mapstructure:"max_page_size"`
	DefaultTimeZone            string `mapstructure:"default_time_zone"`
	ValidateAttributesForSaves bool   `mapstructure:"validate_attributes_for_saves"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	// Seed loads the sample data after the tables are created
	Seed bool `mapstructure:"seed"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Profiling mounts /debug/pprof for ProfilingRoles
	Profiling      bool     `mapstructure:"profiling"`
	ProfilingRoles []string `mapstructure:"profiling_roles"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// AuthConfig configures bearer tokens
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// RateLimitConfig throttles API requests per caller. Zero requests
// disables it; an empty RedisURL keeps the counters in memory.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	RedisURL string        `mapstructure:"redis_url"`
}

// Enabled reports whether requests are throttled
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data.default_page_size", datasource.DefaultPageSize)
	v.SetDefault("data.max_page_size", datasource.MaxPageSize)
	v.SetDefault("data.default_time_zone", "UTC")
	v.SetDefault("data.validate_attributes_for_saves", true)
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "file:crudkit.db?_foreign_keys=on")
	v.SetDefault("database.seed", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.profiling", false)
	v.SetDefault("server.profiling_roles", []string{"Admin"})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("rate_limit.requests", 0)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.redis_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. An empty path searches crudkit.yaml in the
// working directory and $HOME/.crudkit; a missing file leaves the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crudkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.crudkit")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values
func (c *Config) Validate() error {
	if !contains(knownDrivers, c.Database.Driver) {
		return fmt.Errorf("database.driver must be one of %s, got: %q", strings.Join(knownDrivers, ", "), c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", c.Server.Port)
	}
	if c.Data.DefaultPageSize <= 0 {
		return fmt.Errorf("data.default_page_size must be positive, got: %d", c.Data.DefaultPageSize)
	}
	if c.Data.MaxPageSize <= 0 {
		return fmt.Errorf("data.max_page_size must be positive, got: %d", c.Data.MaxPageSize)
	}
	if c.Data.DefaultPageSize > c.Data.MaxPageSize {
		return fmt.Errorf("data.default_page_size (%d) exceeds data.max_page_size (%d)", c.Data.DefaultPageSize, c.Data.MaxPageSize)
	}
	if _, err := time.LoadLocation(c.Data.DefaultTimeZone); err != nil {
		return fmt.Errorf("data.default_time_zone: %w", err)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive, got: %s", c.Auth.TokenTTL)
	}
	if c.RateLimit.Requests < 0 {
		return fmt.Errorf("rate_limit.requests must not be negative, got: %d", c.RateLimit.Requests)
	}
	if c.RateLimit.Enabled() && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got: %s", c.RateLimit.Window)
	}
	return nil
}

// DataSource converts the data settings for datasource.WithConfig
func (c *Config) DataSource() datasource.Config {
	loc, err := time.LoadLocation(c.Data.DefaultTimeZone)
	if err != nil {
		loc = time.UTC
	}
	return datasource.Config{
		DefaultPageSize: c.Data.DefaultPageSize,
		MaxPageSize:     c.Data.MaxPageSize,
		DefaultTimeZone: loc,
	}
}

// Behaviors converts the data settings for behaviors.WithConfig
func (c *Config) Behaviors() behaviors.Config {
	return behaviors.Config{ValidateAttributesForSaves: c.Data.ValidateAttributesForSaves}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
