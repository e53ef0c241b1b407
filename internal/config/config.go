package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database. Empty selects the in-memory profile store.
	DatabaseURL string

	// HTTP Server
	HTTPAddr string

	// Composite score category weights. Must sum to 1.0.
	WeightTechnical    float64
	WeightAlignment    float64
	WeightBehavior     float64
	WeightContribution float64

	// Scoring
	MetricsURL            string  // external metrics service; empty uses the in-process collector
	SignificanceThreshold float64 // score delta that triggers signature regeneration
	MetricsTimeout        time.Duration
	MetricsRetries        int
	AllowStaleFallback    bool // serve last known score when metrics are unavailable

	// Registry
	MaxStaleness   time.Duration
	ScoreCacheSize int

	// Scheduler
	RecomputeInterval time.Duration
	RecomputeWorkers  int
	ScorePeriod       time.Duration // activity window fed to each recompute

	// Decay
	DecayInterval time.Duration
	DecayRate     float64 // per-day multiplicative decay for idle agents
	IdleThreshold time.Duration

	// Penalties
	AppealWindow time.Duration
	InitialStake float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("TRUSTD_DB_URL", ""),
		HTTPAddr:    getEnv("TRUSTD_HTTP_ADDR", ":8080"),

		WeightTechnical:    getEnvFloat("TRUSTD_WEIGHT_TECHNICAL", 0.30),
		WeightAlignment:    getEnvFloat("TRUSTD_WEIGHT_ALIGNMENT", 0.30),
		WeightBehavior:     getEnvFloat("TRUSTD_WEIGHT_BEHAVIOR", 0.25),
		WeightContribution: getEnvFloat("TRUSTD_WEIGHT_CONTRIBUTION", 0.15),

		MetricsURL:            getEnv("TRUSTD_METRICS_URL", ""),
		SignificanceThreshold: getEnvFloat("TRUSTD_SIGNIFICANCE_THRESHOLD", 1.0),
		MetricsTimeout:        getEnvDuration("TRUSTD_METRICS_TIMEOUT", "5s"),
		MetricsRetries:        getEnvInt("TRUSTD_METRICS_RETRIES", 3),
		AllowStaleFallback:    getEnvBool("TRUSTD_ALLOW_STALE_FALLBACK", false),

		MaxStaleness:   getEnvDuration("TRUSTD_MAX_STALENESS", "1h"),
		ScoreCacheSize: getEnvInt("TRUSTD_SCORE_CACHE_SIZE", 4096),

		RecomputeInterval: getEnvDuration("TRUSTD_RECOMPUTE_INTERVAL", "15m"),
		RecomputeWorkers:  getEnvInt("TRUSTD_RECOMPUTE_WORKERS", 4),
		ScorePeriod:       getEnvDuration("TRUSTD_SCORE_PERIOD", "168h"),

		DecayInterval: getEnvDuration("TRUSTD_DECAY_INTERVAL", "24h"),
		DecayRate:     getEnvFloat("TRUSTD_DECAY_RATE", 0.01),
		IdleThreshold: getEnvDuration("TRUSTD_IDLE_THRESHOLD", "168h"),

		AppealWindow: getEnvDuration("TRUSTD_APPEAL_WINDOW", "168h"), // 7 days
		InitialStake: getEnvFloat("TRUSTD_INITIAL_STAKE", 100.0),
	}

	// A bad weight table is fatal at startup and must never be silently
	// corrected.
	sum := cfg.WeightTechnical + cfg.WeightAlignment + cfg.WeightBehavior + cfg.WeightContribution
	if sum < 0.999999 || sum > 1.000001 {
		return nil, fmt.Errorf("category weights must sum to 1.0, got %g", sum)
	}

	if cfg.ScoreCacheSize < 1 {
		return nil, fmt.Errorf("TRUSTD_SCORE_CACHE_SIZE must be positive")
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration retrieves an environment variable as a duration or returns a default value
func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		// If parsing fails, use the default
		duration, _ = time.ParseDuration(defaultValue)
	}
	return duration
}
