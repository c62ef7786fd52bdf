package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the disclosure service
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration
	Database DatabaseConfig `mapstructure:"database"`

	// Emergency token configuration
	Tokens TokenConfig `mapstructure:"tokens"`

	// Key escrow configuration
	Escrow EscrowConfig `mapstructure:"escrow"`

	// Signed assertion configuration
	JWT JWTConfig `mapstructure:"jwt"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// TokenConfig holds emergency token lifecycle configuration.
// DefaultExpirationHours and DefaultMaxUses are the documented defaults
// applied when token generation omits them.
type TokenConfig struct {
	DefaultExpirationHours int      `mapstructure:"default_expiration_hours"`
	DefaultMaxUses         int      `mapstructure:"default_max_uses"`
	RefreshExtensionHours  int      `mapstructure:"refresh_extension_hours"`
	NonRefreshableLevels   []string `mapstructure:"non_refreshable_levels"`
	ShareBaseURL           string   `mapstructure:"share_base_url"`
}

// EscrowConfig holds threshold key escrow configuration
type EscrowConfig struct {
	DefaultTimeDelayHours int `mapstructure:"default_time_delay_hours"`
	MaxTimeDelayHours     int `mapstructure:"max_time_delay_hours"`
	RequestTTLDays        int `mapstructure:"request_ttl_days"`
}

// JWTConfig holds signed assertion configuration
type JWTConfig struct {
	SecretKey           string `mapstructure:"secret_key"`
	AssertionTTLMinutes int    `mapstructure:"assertion_ttl_minutes"`
	Issuer              string `mapstructure:"issuer"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/disclosure-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "disclosure")
	viper.SetDefault("database.user", "disclosure")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// Token defaults: 3 days and 10 uses unless the caller chooses otherwise
	viper.SetDefault("tokens.default_expiration_hours", 72)
	viper.SetDefault("tokens.default_max_uses", 10)
	viper.SetDefault("tokens.refresh_extension_hours", 24)
	viper.SetDefault("tokens.non_refreshable_levels", []string{"full"})
	viper.SetDefault("tokens.share_base_url", "https://localhost:8080/emergency")

	// Escrow defaults: 24h cooling-off, requests expire after 30 days
	viper.SetDefault("escrow.default_time_delay_hours", 24)
	viper.SetDefault("escrow.max_time_delay_hours", 720)
	viper.SetDefault("escrow.request_ttl_days", 30)

	// JWT defaults
	viper.SetDefault("jwt.assertion_ttl_minutes", 15)
	viper.SetDefault("jwt.issuer", "disclosure-engine")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Tokens.DefaultExpirationHours < 1 || config.Tokens.DefaultExpirationHours > 8760 {
		return fmt.Errorf("invalid default token expiration: %d hours", config.Tokens.DefaultExpirationHours)
	}

	if config.Tokens.DefaultMaxUses < 1 || config.Tokens.DefaultMaxUses > 1000 {
		return fmt.Errorf("invalid default token max uses: %d", config.Tokens.DefaultMaxUses)
	}

	if config.Escrow.DefaultTimeDelayHours < 0 {
		return fmt.Errorf("invalid escrow time delay: %d hours", config.Escrow.DefaultTimeDelayHours)
	}

	return nil
}
