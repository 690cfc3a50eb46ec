package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"backoffice/internal/ratelimit"
)

type Config struct {
	// HTTP Server
	Port               string
	RateLimitPerMinute int

	// Data
	DataBackend  string
	SQLiteDBPath string
	SeedFile     string

	// AMQP (optional; owner notifications are skipped without it)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Redis (optional; keyed locks stay in-process without it)
	RedisURL string

	// Google
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string
	GoogleOAuthClientFile    string
	GoogleOAuthTokenFile     string
	GoogleDriveFolderID      string
	GmailSender              string

	// Google API limiter
	LimiterMinInterval time.Duration
	LimiterHighWater   int
	LimiterStrategy    string
	LimiterMaxRetries  int
	LimiterRetryWindow time.Duration

	// Month-end
	ReadinessCacheSize int
	ReadinessCacheTTL  time.Duration
	BatchParallelism   int

	// Worker
	SweepInterval time.Duration
	SweepLookback int

	LogLevel string
}

func Load() *Config {
	def := ratelimit.DefaultConfig()
	return &Config{
		Port:               getEnv("PORT", "8081"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/backoffice.db"),
		SeedFile:     getEnv("PROPERTIES_SEED_FILE", "./data/properties.txt"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "backoffice"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "owner_notifications"),

		RedisURL: getEnv("REDIS_URL", ""),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleOAuthClientFile:    getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:     getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleDriveFolderID:      getEnv("GOOGLE_DRIVE_FOLDER_ID", ""),
		GmailSender:              getEnv("GMAIL_SENDER", ""),

		LimiterMinInterval: getEnvDuration("LIMITER_MIN_INTERVAL", def.MinInterval),
		LimiterHighWater:   getEnvInt("LIMITER_HIGH_WATER", def.HighWater),
		LimiterStrategy:    getEnv("LIMITER_STRATEGY", string(def.Strategy)),
		LimiterMaxRetries:  getEnvInt("LIMITER_MAX_RETRIES", def.MaxRetries),
		LimiterRetryWindow: getEnvDuration("LIMITER_RETRY_WINDOW", def.MaxRetryWindow),

		ReadinessCacheSize: getEnvInt("READINESS_CACHE_SIZE", 1000),
		ReadinessCacheTTL:  getEnvDuration("READINESS_CACHE_TTL", 0),
		BatchParallelism:   getEnvInt("BATCH_PARALLELISM", 4),

		SweepInterval: getEnvDuration("NOTIFY_SWEEP_INTERVAL", 15*time.Minute),
		SweepLookback: getEnvInt("NOTIFY_SWEEP_LOOKBACK_MONTHS", 2),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// GoogleEnabled reports whether a spreadsheet is configured.
func (c *Config) GoogleEnabled() bool { return c.GoogleSpreadsheetID != "" }

// LimiterConfig builds the Google API limiter settings. Call after Validate.
func (c *Config) LimiterConfig() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.MinInterval = c.LimiterMinInterval
	cfg.HighWater = c.LimiterHighWater
	if st, err := ratelimit.ParseStrategy(c.LimiterStrategy); err == nil {
		cfg.Strategy = st
	}
	cfg.MaxRetries = c.LimiterMaxRetries
	cfg.MaxRetryWindow = c.LimiterRetryWindow
	return cfg
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}

	switch c.DataBackend {
	case "memory":
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.DataBackend))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RedisURL != "" {
		if parsedURL, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", parsedURL.Scheme))
		}
	}

	if c.GoogleEnabled() {
		if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" && os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
			errors = append(errors, "GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS is required when GOOGLE_SPREADSHEET_ID is set")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
	}
	if c.GoogleOAuthTokenFile != "" {
		if _, err := os.Stat(c.GoogleOAuthTokenFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google OAuth token file does not exist: %s", c.GoogleOAuthTokenFile))
		}
	}
	if c.GmailSender != "" && !strings.Contains(c.GmailSender, "@") {
		errors = append(errors, fmt.Sprintf("invalid Gmail sender '%s': must be an email address", c.GmailSender))
	}

	if c.LimiterMinInterval < 0 {
		errors = append(errors, fmt.Sprintf("invalid limiter min interval %v: must not be negative", c.LimiterMinInterval))
	}
	if c.LimiterHighWater < 1 {
		errors = append(errors, fmt.Sprintf("invalid limiter high water %d: must be at least 1", c.LimiterHighWater))
	}
	if _, err := ratelimit.ParseStrategy(c.LimiterStrategy); err != nil {
		errors = append(errors, fmt.Sprintf("invalid limiter strategy '%s': must be LEAK or OVERFLOW", c.LimiterStrategy))
	}
	if c.LimiterMaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("invalid limiter max retries %d: must not be negative", c.LimiterMaxRetries))
	}
	if c.LimiterRetryWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid limiter retry window %v: must be at least 1 second", c.LimiterRetryWindow))
	}

	if c.ReadinessCacheSize < 0 {
		errors = append(errors, fmt.Sprintf("invalid readiness cache size %d: must not be negative", c.ReadinessCacheSize))
	}
	if c.BatchParallelism < 1 || c.BatchParallelism > 64 {
		errors = append(errors, fmt.Sprintf("invalid batch parallelism %d: must be between 1 and 64", c.BatchParallelism))
	}

	if c.SweepInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at least 1 second", c.SweepInterval))
	} else if c.SweepInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sweep interval %v: must be at most 24 hours", c.SweepInterval))
	}
	if c.SweepLookback < 0 || c.SweepLookback > 24 {
		errors = append(errors, fmt.Sprintf("invalid sweep lookback %d: must be between 0 and 24 months", c.SweepLookback))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
