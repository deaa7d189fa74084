package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Run      RunConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Relay    RelayConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgents   []string
}

type RunConfig struct {
	TimeLimit          time.Duration
	ItemTimeout        time.Duration
	ParallelPlatforms  bool
	LockBackend        string
	LockKey            string
	CleanupProbability float64
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	Stream       string
}

type LoggingConfig struct {
	Level  string
	Format string
}

const (
	LockBackendRedis    = "redis"
	LockBackendPostgres = "postgres"
)

func Load() (*Config, error) {
	// a missing .env is fine, the scheduler usually injects the environment
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8085),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			Timeout:      getDurationOrDefault("SCRAPER_TIMEOUT", 30*time.Second),
			MaxRedirects: getIntOrDefault("SCRAPER_MAX_REDIRECTS", 3),
			UserAgents:   getStringSliceOrDefault("SCRAPER_USER_AGENTS", defaultUserAgents()),
		},
		Run: RunConfig{
			TimeLimit:          getDurationOrDefault("RUN_TIME_LIMIT", 30*time.Minute),
			ItemTimeout:        getDurationOrDefault("RUN_ITEM_TIMEOUT", 5*time.Minute),
			ParallelPlatforms:  getBoolOrDefault("RUN_PARALLEL_PLATFORMS", false),
			LockBackend:        getEnvOrDefault("RUN_LOCK_BACKEND", LockBackendRedis),
			LockKey:            getEnvOrDefault("RUN_LOCK_KEY", "discount-monitor:scrape-run"),
			CleanupProbability: getFloatOrDefault("RUN_CLEANUP_PROBABILITY", 0.1),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "product_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			Stream:       getEnvOrDefault("RELAY_STREAM", "stream:notifications"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Run.TimeLimit <= 0 {
		return fmt.Errorf("RUN_TIME_LIMIT must be positive")
	}

	if c.Run.ItemTimeout <= 0 {
		return fmt.Errorf("RUN_ITEM_TIMEOUT must be positive")
	}

	if c.Run.LockBackend != LockBackendRedis && c.Run.LockBackend != LockBackendPostgres {
		return fmt.Errorf("unknown RUN_LOCK_BACKEND: %q", c.Run.LockBackend)
	}

	if c.Run.CleanupProbability < 0 || c.Run.CleanupProbability > 1 {
		return fmt.Errorf("RUN_CLEANUP_PROBABILITY must be within [0,1]")
	}

	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("at least one user agent is required")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, "|") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:109.0) Gecko/20100101 Firefox/121.0",
	}
}
