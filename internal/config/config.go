package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the Crewboard server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Engine    EngineConfig
	Recommend RecommendConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// EngineConfig tunes the request/allocation engine.
type EngineConfig struct {
	// RequestTTL is how long a pending request lives before it expires.
	RequestTTL time.Duration
	// SweepInterval is how often the expiry scheduler runs.
	SweepInterval time.Duration
	// SweepBatchSize caps how many rows one sweep pass touches.
	SweepBatchSize int
	// RateLimitPerMin is the per-key API rate limit.
	RateLimitPerMin int
}

// RecommendConfig points at the recommendation collaborator. An empty BaseURL
// disables score lookups; requests are then created without a match score.
type RecommendConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CREWBOARD_PORT", 8080),
			Env:  envString("CREWBOARD_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			RequestTTL:      envDuration("REQUEST_TTL", 14*24*time.Hour),
			SweepInterval:   envDuration("EXPIRY_SWEEP_INTERVAL", 2*time.Minute),
			SweepBatchSize:  envInt("EXPIRY_SWEEP_BATCH_SIZE", 500),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Recommend: RecommendConfig{
			BaseURL: os.Getenv("RECOMMEND_BASE_URL"),
			Timeout: envDuration("RECOMMEND_TIMEOUT", 5*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Engine.RequestTTL <= 0 {
		return fmt.Errorf("REQUEST_TTL must be positive, got %s", c.Engine.RequestTTL)
	}
	if c.Engine.SweepInterval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive, got %s", c.Engine.SweepInterval)
	}
	if c.Engine.SweepBatchSize <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_BATCH_SIZE must be positive, got %d", c.Engine.SweepBatchSize)
	}

	if c.Recommend.BaseURL != "" &&
		!strings.HasPrefix(c.Recommend.BaseURL, "http://") && !strings.HasPrefix(c.Recommend.BaseURL, "https://") {
		return fmt.Errorf("RECOMMEND_BASE_URL must start with http:// or https://, got %q", c.Recommend.BaseURL)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
