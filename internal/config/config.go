// Package config provides configuration management for the terminal backend.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	HTTPAddr string
	Debug    bool

	// Cache settings
	MarketsTTL      time.Duration
	NewsTTL         time.Duration
	TelegramTTL     time.Duration
	XTTL            time.Duration
	PricesTTL       time.Duration
	UpstreamTimeout time.Duration
	CacheCoalesce   bool

	// Redis settings (optional shared cache)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MongoDB settings (optional alert store)
	MongoURI string
	MongoDB  string

	// Refresh loop
	SyncInterval time.Duration

	// LLM settings
	LLMAPIKey   string
	LLMEndpoint string
	LLMModel    string

	// Social feeds
	TelegramBotToken string
	TelegramChannels []string
	XBearerToken     string
	XAccounts        []string

	// Matching thresholds
	ShortTagLen     int
	ShortKeywordLen int
	DateSeriesRatio float64
	ActivityMedium  float64
	ActivityHigh    float64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg := &Config{
		// Server
		HTTPAddr: getEnv("HTTP_ADDR", ":3000"),
		Debug:    getEnvBool("DEBUG", false),

		// Cache
		MarketsTTL:      getEnvDuration("MARKETS_TTL", 30*time.Second),
		NewsTTL:         getEnvDuration("NEWS_TTL", 30*time.Second),
		TelegramTTL:     getEnvDuration("TELEGRAM_TTL", 30*time.Second),
		XTTL:            getEnvDuration("X_TTL", 60*time.Second),
		PricesTTL:       getEnvDuration("PRICES_TTL", 60*time.Second),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		CacheCoalesce:   getEnvBool("CACHE_COALESCE", false),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		// MongoDB
		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "polyterminal"),

		// Refresh loop
		SyncInterval: getEnvDuration("SYNC_INTERVAL", 30*time.Second),

		// LLM
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMEndpoint: getEnv("LLM_ENDPOINT", "https://api.openai.com/v1"),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),

		// Social
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChannels: getEnvList("TELEGRAM_CHANNELS"),
		XBearerToken:     getEnv("X_BEARER_TOKEN", ""),
		XAccounts:        getEnvList("X_ACCOUNTS"),

		// Thresholds
		ShortTagLen:     getEnvInt("SHORT_TAG_LEN", 4),
		ShortKeywordLen: getEnvInt("SHORT_KEYWORD_LEN", 3),
		DateSeriesRatio: getEnvFloat("DATE_SERIES_RATIO", 0.5),
		ActivityMedium:  getEnvFloat("ACTIVITY_MEDIUM", 25000),
		ActivityHigh:    getEnvFloat("ACTIVITY_HIGH", 100000),
	}

	return cfg, nil
}

// Validate rejects inconsistent thresholds and warns about optional
// features that are disabled.
func (c *Config) Validate() error {
	if !(c.DateSeriesRatio > 0 && c.DateSeriesRatio <= 1) {
		return fmt.Errorf("DATE_SERIES_RATIO must be in (0, 1], got %v", c.DateSeriesRatio)
	}
	if !(c.ActivityMedium > 0) || !(c.ActivityHigh > 0) {
		return fmt.Errorf("ACTIVITY_MEDIUM and ACTIVITY_HIGH must be positive, got %v and %v", c.ActivityMedium, c.ActivityHigh)
	}
	if c.ActivityMedium > c.ActivityHigh {
		return fmt.Errorf("ACTIVITY_MEDIUM (%v) must not exceed ACTIVITY_HIGH (%v)", c.ActivityMedium, c.ActivityHigh)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.SyncInterval)
	}

	if c.LLMAPIKey == "" {
		log.Warn().Msg("LLM_API_KEY not set, relevance will use tag ranking only")
	}
	if c.TelegramBotToken == "" {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, Telegram feed disabled")
	}
	if c.XBearerToken == "" {
		log.Warn().Msg("X_BEARER_TOKEN not set, X feed disabled")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value; nil when unset.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
