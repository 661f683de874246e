package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all daemon configuration, read from environment
// variables with sensible defaults.
//
// Environment Variables:
// Backend Configuration:
// - BACKEND_API_URL: base URL of the survey backend (required)
// - BACKEND_API_TOKEN: bearer token for backend requests
// - BACKEND_EVENTS_URL: SSE stream URL (default: BACKEND_API_URL + /api/events)
//
// Observer Configuration:
// - POLL_INTERVAL: job status poll interval (default: 2s)
// - GENERATION_CEILING: max responses per run for uncapped surveys (default: 100)
//
// Schedule Configuration:
// - GENERATE_CRON_EXPR: cron expression for scheduled runs (optional)
// - GENERATE_SURVEY_IDS: comma-separated survey ids for scheduled runs
// - GENERATE_COUNT: responses requested per scheduled run (default: 25)
//
// System Configuration:
// - HTTP_ADDR: local API listen address (default: :8790)
// - CACHE_DB_PATH: sqlite path for read-model caches (default: /app/data/genwatch.db)
// - LOG_LEVEL: debug|info|warn|error (default: info)

type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Observer ObserverConfig `json:"observer"`
	Schedule ScheduleConfig `json:"schedule"`
	System   SystemConfig   `json:"system"`
}

type BackendConfig struct {
	APIURL    string `json:"api_url"`
	APIToken  string `json:"api_token"`
	EventsURL string `json:"events_url"`
}

type ObserverConfig struct {
	PollInterval      time.Duration `json:"poll_interval"`
	GenerationCeiling int           `json:"generation_ceiling"`
}

type ScheduleConfig struct {
	CronExpr  string   `json:"cron_expr"`
	SurveyIDs []string `json:"survey_ids"`
	Count     int      `json:"count"`
}

// Enabled reports whether scheduled generation runs are configured.
func (s ScheduleConfig) Enabled() bool {
	return s.CronExpr != "" && len(s.SurveyIDs) > 0
}

type SystemConfig struct {
	HTTPAddr    string `json:"http_addr"`
	CacheDBPath string `json:"cache_db_path"`
	LogLevel    string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Backend: BackendConfig{
			APIURL:    getEnvString("BACKEND_API_URL", ""),
			APIToken:  getEnvString("BACKEND_API_TOKEN", ""),
			EventsURL: getEnvString("BACKEND_EVENTS_URL", ""),
		},
		Observer: ObserverConfig{
			PollInterval:      getEnvDuration("POLL_INTERVAL", 2*time.Second),
			GenerationCeiling: getEnvInt("GENERATION_CEILING", 100),
		},
		Schedule: ScheduleConfig{
			CronExpr:  getEnvString("GENERATE_CRON_EXPR", ""),
			SurveyIDs: splitList(getEnvString("GENERATE_SURVEY_IDS", "")),
			Count:     getEnvInt("GENERATE_COUNT", 25),
		},
		System: SystemConfig{
			HTTPAddr:    getEnvString("HTTP_ADDR", ":8790"),
			CacheDBPath: getEnvString("CACHE_DB_PATH", "/app/data/genwatch.db"),
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
		},
	}

	if config.Backend.EventsURL == "" && config.Backend.APIURL != "" {
		config.Backend.EventsURL = strings.TrimRight(config.Backend.APIURL, "/") + "/api/events"
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Backend.APIURL == "" {
		return fmt.Errorf("BACKEND_API_URL is required")
	}
	if c.Observer.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Observer.GenerationCeiling <= 0 {
		return fmt.Errorf("GENERATION_CEILING must be positive")
	}
	if c.Schedule.CronExpr != "" {
		if _, err := cron.ParseStandard(c.Schedule.CronExpr); err != nil {
			return fmt.Errorf("invalid GENERATE_CRON_EXPR: %w", err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ret := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			ret = append(ret, trimmed)
		}
	}
	return ret
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration value from environment variables with default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
