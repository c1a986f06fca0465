package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DatabaseURL          string
	OctavURL             string
	OctavTimeout         time.Duration
	OctavRetryMax        int
	OctavRetryBaseDelay  time.Duration
	AutomationTick       time.Duration
	DefaultIntervalHours int
	Timezone             string
	HTTPPort             string
	AdminAPIKey          string
	LogLevel             string
	LogFormat            string
	SheetsSpreadsheetID  string
	SheetsCredentials    string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; variables already
// set in the environment win.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	return Config{
		DatabaseURL:          envOrDefaultWarn("DATABASE_URL", ""),
		OctavURL:             envOrDefault("OCTAV_URL", "https://api.octav.fi"),
		OctavTimeout:         envOrDefaultDuration("OCTAV_TIMEOUT", 30*time.Second),
		OctavRetryMax:        envOrDefaultInt("OCTAV_RETRY_MAX", 3),
		OctavRetryBaseDelay:  envOrDefaultDuration("OCTAV_RETRY_BASE_DELAY", 2*time.Second),
		AutomationTick:       envOrDefaultDuration("AUTOMATION_TICK", 15*time.Minute),
		DefaultIntervalHours: envOrDefaultInt("DEFAULT_INTERVAL_HOURS", 24),
		Timezone:             envOrDefault("TIMEZONE", "UTC"),
		HTTPPort:             envOrDefault("HTTP_PORT", "8080"),
		AdminAPIKey:          os.Getenv("ADMIN_API_KEY"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		LogFormat:            envOrDefault("LOG_FORMAT", "text"),
		SheetsSpreadsheetID:  os.Getenv("SHEETS_SPREADSHEET_ID"),
		SheetsCredentials:    os.Getenv("SHEETS_CREDENTIALS_JSON"),
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		slog.Warn("invalid timezone, using UTC", "timezone", c.Timezone, "error", err)
		return time.UTC
	}
	return loc
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultWarn(key, defaultVal string) string {
	v := envOrDefault(key, defaultVal)
	if v == "" {
		slog.Warn("required env var not set", "key", key)
	}
	return v
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			slog.Warn("invalid integer env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return n
	}
	return defaultVal
}

func envOrDefaultDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			slog.Warn("invalid duration env var, using default", "key", key, "value", v, "default", defaultVal)
			return defaultVal
		}
		return d
	}
	return defaultVal
}
