// Package config loads service settings and opens the connections they describe.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"

	"portfolio-tracker/models"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all service configuration.
type Config struct {
	Environment string             `toml:"environment"`
	Server      ServerConfig       `toml:"server"`
	Storage     StorageConfig      `toml:"storage"`
	Database    DatabaseConfig     `toml:"database"`
	Redis       RedisConfig        `toml:"redis"`
	Market      MarketConfig       `toml:"market"`
	Valuation   ValuationConfig    `toml:"valuation"`
	Benchmarks  []models.Benchmark `toml:"benchmarks"`
	Auth        AuthConfig         `toml:"auth"`
	Logging     LoggingConfig      `toml:"logging"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr is the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type StorageConfig struct {
	Driver string `toml:"driver"` // postgres or memory
}

type DatabaseConfig struct {
	Host     string `toml:"host"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
	Port     string `toml:"port"`
	SSLMode  string `toml:"sslmode"`
	TimeZone string `toml:"timezone"`
}

// DSN renders the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.TimeZone)
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// MarketConfig configures the upstream price source and its caches.
type MarketConfig struct {
	BaseURL    string `toml:"base_url"`
	APIKey     string `toml:"api_key"`
	RateLimit  int    `toml:"rate_limit"` // requests per minute
	Timeout    string `toml:"timeout"`
	QuoteTTL   string `toml:"quote_ttl"`
	HistoryTTL string `toml:"history_ttl"`
}

func (c MarketConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 30*time.Second)
}

func (c MarketConfig) GetQuoteTTL() time.Duration {
	return parseDuration(c.QuoteTTL, 5*time.Minute)
}

func (c MarketConfig) GetHistoryTTL() time.Duration {
	return parseDuration(c.HistoryTTL, 24*time.Hour)
}

type ValuationConfig struct {
	// Reference is the benchmark used for monthly DCA and for the trading
	// calendar of the history series.
	Reference string `toml:"reference"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// NewDefaultConfig returns a Config with development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Host: "0.0.0.0", Port: 8080},
		Storage:     StorageConfig{Driver: DriverPostgres},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			User:     "postgres",
			Name:     "portfolio",
			Port:     "5432",
			SSLMode:  "disable",
			TimeZone: "UTC",
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Market: MarketConfig{
			BaseURL:    "https://www.alphavantage.co",
			RateLimit:  5,
			Timeout:    "30s",
			QuoteTTL:   "5m",
			HistoryTTL: "24h",
		},
		Valuation:  ValuationConfig{Reference: "SPY"},
		Benchmarks: models.DefaultBenchmarks(),
		Auth:       AuthConfig{JWTSecret: "dev-jwt-secret-change-in-production"},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig layers the given TOML files over the defaults, then applies
// a .env file if present and finally environment overrides. Missing files
// are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" {
		cfg.Market.APIKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Market.RateLimit <= 0 {
		return fmt.Errorf("market.rate_limit must be positive")
	}
	if c.IsProduction() && c.Auth.JWTSecret == NewDefaultConfig().Auth.JWTSecret {
		return fmt.Errorf("auth.jwt_secret must be set in production")
	}
	for i, b := range c.Benchmarks {
		c.Benchmarks[i].Ticker = strings.ToUpper(strings.TrimSpace(b.Ticker))
	}
	c.Valuation.Reference = strings.ToUpper(strings.TrimSpace(c.Valuation.Reference))
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
