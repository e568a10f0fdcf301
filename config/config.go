package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	// HTTP API
	APIPort int

	// Database configuration
	DatabaseHost     string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseSSLMode  string

	// Redis configuration
	RedisHost     string
	RedisPort     string
	RedisPassword string

	// Market data provider configuration
	MarketData MarketDataConfig

	// Sandbox configuration
	Sandbox SandboxConfig

	// Pipeline configuration
	Pipeline PipelineConfig

	// WebhookURLs receive execution completion notifications
	WebhookURLs []string

	// Logging
	LogLevel string
}

// MarketDataConfig holds settings for the historical price data provider
type MarketDataConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	MaxRetryTime   time.Duration
}

// SandboxConfig holds settings for the isolated backtest worker
type SandboxConfig struct {
	// Timeout is the hard wall-clock budget for one worker run.
	// The subprocess is killed when it elapses.
	Timeout time.Duration

	// WorkDirRoot is where per-run scratch directories are created.
	// Empty means the system temp directory.
	WorkDirRoot string
}

// PipelineConfig holds execution orchestrator parameters
type PipelineConfig struct {
	// MaxConcurrentExecutions bounds how many executions run stages at once.
	MaxConcurrentExecutions int

	// SpecCacheTTL is how long compiled signal specifications stay cached.
	SpecCacheTTL time.Duration
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		APIPort: getEnvInt("API_PORT", 8080),

		// Database configuration
		DatabaseHost:     getEnvOrDefault("DB_HOST", "localhost"),
		DatabasePort:     getEnvInt("DB_PORT", 5432),
		DatabaseName:     getEnvOrDefault("DB_NAME", "quantflow"),
		DatabaseUser:     getEnvOrDefault("DB_USER", "quantflow"),
		DatabasePassword: getEnvOrDefault("DB_PASSWORD", "quantflow123"),
		DatabaseSSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),

		// Redis configuration
		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),

		MarketData: MarketDataConfig{
			BaseURL:        getEnvOrDefault("MARKET_DATA_BASE_URL", "https://api.coingecko.com/api/v3"),
			APIKey:         getEnvOrDefault("MARKET_DATA_API_KEY", ""),
			RequestTimeout: getEnvDuration("MARKET_DATA_TIMEOUT", 30*time.Second),
			MaxRetryTime:   getEnvDuration("MARKET_DATA_MAX_RETRY_TIME", 30*time.Second),
		},

		Sandbox: SandboxConfig{
			Timeout:     getEnvDuration("SANDBOX_TIMEOUT", 300*time.Second),
			WorkDirRoot: getEnvOrDefault("SANDBOX_WORK_DIR", ""),
		},

		Pipeline: PipelineConfig{
			MaxConcurrentExecutions: getEnvInt("PIPELINE_MAX_CONCURRENT", 8),
			SpecCacheTTL:            getEnvDuration("PIPELINE_SPEC_CACHE_TTL", 24*time.Hour),
		},

		WebhookURLs: getEnvList("WEBHOOK_URLS"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

// getEnvList splits a comma-separated environment variable, dropping
// empty entries
func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvDuration gets environment variable as a time.Duration or returns default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
