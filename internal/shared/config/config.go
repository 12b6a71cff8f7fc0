package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis (optional; the cache falls back to a bounded in-memory store
	// and rate limiting is disabled when unset)
	RedisURL string

	// Provider API Keys
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// Governance
	GlobalCheapMode bool
	MonthlyCapUSD   float64

	// Caching
	CacheTTLSeconds    int
	CacheMaxAgeSeconds int
	CacheMaxEntries    int

	// Quality gate
	GateEnabled     bool
	GateMaxAttempts int

	// Providers
	ProviderTimeoutSeconds int

	// Fallback catalog overlay (optional YAML file)
	FallbackCatalogPath string

	// Rate Limiting
	DefaultRateLimit int

	// Pricing defaults used when a model has no pricing row
	DefaultInputPer1kUSD  float64
	DefaultOutputPer1kUSD float64
	DefaultImageUSD       float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                   getEnv("PORT", "8080"),
		Env:                    getEnv("ENV", "development"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		RedisURL:               getEnv("REDIS_URL", ""),
		OpenAIAPIKey:           getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:        getEnv("ANTHROPIC_API_KEY", ""),
		GlobalCheapMode:        getEnvBool("GLOBAL_CHEAP_MODE", false),
		MonthlyCapUSD:          getEnvFloat("MONTHLY_CAP_USD", 50.0),
		CacheTTLSeconds:        getEnvInt("CACHE_TTL_SECONDS", 3600),
		CacheMaxAgeSeconds:     getEnvInt("CACHE_MAX_AGE_SECONDS", 7*24*3600),
		CacheMaxEntries:        getEnvInt("CACHE_MAX_ENTRIES", 4096),
		GateEnabled:            getEnvBool("GATE_ENABLED", true),
		GateMaxAttempts:        getEnvInt("GATE_MAX_ATTEMPTS", 2),
		ProviderTimeoutSeconds: getEnvInt("PROVIDER_TIMEOUT_SECONDS", 45),
		FallbackCatalogPath:    getEnv("FALLBACK_CATALOG_PATH", ""),
		DefaultRateLimit:       getEnvInt("DEFAULT_RATE_LIMIT", 100),
		DefaultInputPer1kUSD:   getEnvFloat("DEFAULT_INPUT_PER_1K_USD", 0.005),
		DefaultOutputPer1kUSD:  getEnvFloat("DEFAULT_OUTPUT_PER_1K_USD", 0.015),
		DefaultImageUSD:        getEnvFloat("DEFAULT_IMAGE_USD", 0.04),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// At least one provider API key is required
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("at least one provider API key is required (OPENAI_API_KEY or ANTHROPIC_API_KEY)")
	}

	if cfg.GateMaxAttempts < 1 {
		return nil, fmt.Errorf("GATE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.MonthlyCapUSD <= 0 {
		return nil, fmt.Errorf("MONTHLY_CAP_USD must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
