package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the refmetric service.
type Config struct {
	Server      ServerConfig
	Tracking    TrackingConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	ClickHouse  ClickHouseConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Geo         GeoConfig
	Leaderboard LeaderboardConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	BaseURL         string
	ShutdownTimeout time.Duration
}

// TrackingConfig controls the click redirect ingress.
type TrackingConfig struct {
	// Destination is where visitors land after a tracked click. The
	// link code is appended as a ref query parameter.
	Destination string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ClickHouseConfig configures the optional analytics archive. When
// disabled, stats are computed from the primary Postgres store.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

type AuthConfig struct {
	Enabled   bool
	MasterKey string
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled    bool
	RPS        float64
	Burst      int
	TrackRPS   float64
	TrackBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP enrichment of click events.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// LeaderboardConfig controls the Redis-backed revenue leaderboard.
type LeaderboardConfig struct {
	Enabled bool
	Key     string
	Size    int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("REFMETRIC_HTTP_ADDR", ":8080"),
			Env:             getEnv("REFMETRIC_ENV", "development"),
			BaseURL:         getEnv("REFMETRIC_BASE_URL", "http://localhost:8080"),
			ShutdownTimeout: getDurationEnv("REFMETRIC_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Tracking: TrackingConfig{
			Destination: getEnv("REFMETRIC_TRACK_DESTINATION", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("REFMETRIC_DB_HOST", "localhost"),
			Port:     getIntEnv("REFMETRIC_DB_PORT", 5432),
			User:     getEnv("REFMETRIC_DB_USER", "refmetric"),
			Password: getEnv("REFMETRIC_DB_PASSWORD", "refmetric_secret"),
			DBName:   getEnv("REFMETRIC_DB_NAME", "refmetric"),
			SSLMode:  getEnv("REFMETRIC_DB_SSLMODE", "disable"),
			MaxConns: getIntEnv("REFMETRIC_DB_MAX_CONNS", 25),
			MinConns: getIntEnv("REFMETRIC_DB_MIN_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REFMETRIC_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REFMETRIC_REDIS_PASSWORD", ""),
			DB:       getIntEnv("REFMETRIC_REDIS_DB", 0),
		},
		ClickHouse: ClickHouseConfig{
			Enabled:  getBoolEnv("REFMETRIC_CLICKHOUSE_ENABLED", false),
			Host:     getEnv("REFMETRIC_CLICKHOUSE_HOST", "localhost"),
			Port:     getIntEnv("REFMETRIC_CLICKHOUSE_PORT", 9000),
			Database: getEnv("REFMETRIC_CLICKHOUSE_DB", "refmetric"),
			User:     getEnv("REFMETRIC_CLICKHOUSE_USER", "default"),
			Password: getEnv("REFMETRIC_CLICKHOUSE_PASSWORD", ""),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("REFMETRIC_AUTH_ENABLED", true),
			MasterKey: getEnv("REFMETRIC_API_KEY_MASTER", ""),
			SkipPaths: getSliceEnv("REFMETRIC_AUTH_SKIP_PATHS", []string{"/health", "/metrics", "/r/", "/postback/conversion"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getBoolEnv("REFMETRIC_RATE_LIMIT_ENABLED", true),
			RPS:        getFloatEnv("REFMETRIC_RATE_LIMIT_RPS", 100),
			Burst:      getIntEnv("REFMETRIC_RATE_LIMIT_BURST", 20),
			TrackRPS:   getFloatEnv("REFMETRIC_RATE_LIMIT_TRACK_RPS", 1000),
			TrackBurst: getIntEnv("REFMETRIC_RATE_LIMIT_TRACK_BURST", 100),
		},
		Log: LogConfig{
			Level:  getEnv("REFMETRIC_LOG_LEVEL", "info"),
			Format: getEnv("REFMETRIC_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("REFMETRIC_METRICS_ENABLED", true),
			Path:    getEnv("REFMETRIC_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("REFMETRIC_GEO_ENABLED", false),
			DatabasePath: getEnv("REFMETRIC_GEO_DB_PATH", "/app/data/GeoLite2-City.mmdb"),
		},
		Leaderboard: LeaderboardConfig{
			Enabled: getBoolEnv("REFMETRIC_LEADERBOARD_ENABLED", true),
			Key:     getEnv("REFMETRIC_LEADERBOARD_KEY", "leaderboard:revenue"),
			Size:    getIntEnv("REFMETRIC_LEADERBOARD_SIZE", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Auth.Enabled && c.Auth.MasterKey == "" {
		return fmt.Errorf("REFMETRIC_API_KEY_MASTER is required when auth is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
