// Package config provides configuration loading and validation for the
// ranker service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the ranker service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database (optional; the feed index falls back to memory when unset)
	DatabaseURL string `koanf:"database_url"`

	// Redis (optional; the trending cache falls back to memory when unset)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// Ranking job
	RankingIntervalMinutes int     `koanf:"ranking_interval_minutes"`
	CandidateWindowHours   int     `koanf:"candidate_window_hours"`
	CandidateBatchSize     int     `koanf:"candidate_batch_size"`
	MinTrendingScore       float64 `koanf:"min_trending_score"`
	TrendingTopPercent     float64 `koanf:"trending_top_percent"`
	TrendingTopCount       int     `koanf:"trending_top_count"`

	// Score calibration file (optional JSON weight overrides)
	CalibrationPath string `koanf:"calibration_path"`

	// Trending cache
	CacheTTLMinutes int `koanf:"cache_ttl_minutes"`

	// Feed retention
	FeedRetentionDays int `koanf:"feed_retention_days"`

	// Background task pool
	TaskWorkers   int `koanf:"task_workers"`
	TaskQueueSize int `koanf:"task_queue_size"`
}

// Configuration validation errors.
var (
	ErrInvalidPort               = errors.New("PORT must be a valid integer")
	ErrInvalidRankingInterval    = errors.New("RANKING_INTERVAL_MINUTES must be positive")
	ErrInvalidCandidateWindow    = errors.New("CANDIDATE_WINDOW_HOURS must be positive")
	ErrInvalidCandidateBatchSize = errors.New("CANDIDATE_BATCH_SIZE must be positive")
	ErrInvalidTopPercent         = errors.New("TRENDING_TOP_PERCENT must be in (0, 100]")
	ErrInvalidTopCount           = errors.New("TRENDING_TOP_COUNT must be positive")
	ErrInvalidMinScore           = errors.New("MIN_TRENDING_SCORE must not be negative")
	ErrInvalidFeedRetention      = errors.New("FEED_RETENTION_DAYS must be positive")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultRankingIntervalMinutes = 5
	DefaultCandidateWindowHours   = 48
	DefaultCandidateBatchSize     = 1000
	DefaultMinTrendingScore       = 10.0
	DefaultTrendingTopPercent     = 5.0
	DefaultTrendingTopCount       = 500
	DefaultCacheTTLMinutes        = 10
	DefaultFeedRetentionDays      = 30
	DefaultTaskWorkers            = 4
	DefaultTaskQueueSize          = 256
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be
// loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, err := getEnvIntOrDefault("PORT", k.Int("port"), DefaultPort)
	if err != nil {
		loadErrs = append(loadErrs, fmt.Errorf("%w: %w", ErrInvalidPort, err))
	}
	interval, err := getEnvIntOrDefault("RANKING_INTERVAL_MINUTES", k.Int("ranking_interval_minutes"), DefaultRankingIntervalMinutes)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	windowHours, err := getEnvIntOrDefault("CANDIDATE_WINDOW_HOURS", k.Int("candidate_window_hours"), DefaultCandidateWindowHours)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	batchSize, err := getEnvIntOrDefault("CANDIDATE_BATCH_SIZE", k.Int("candidate_batch_size"), DefaultCandidateBatchSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	minScore, err := getEnvFloatOrDefault("MIN_TRENDING_SCORE", k.Float64("min_trending_score"), DefaultMinTrendingScore)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	topPercent, err := getEnvFloatOrDefault("TRENDING_TOP_PERCENT", k.Float64("trending_top_percent"), DefaultTrendingTopPercent)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	topCount, err := getEnvIntOrDefault("TRENDING_TOP_COUNT", k.Int("trending_top_count"), DefaultTrendingTopCount)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	cacheTTL, err := getEnvIntOrDefault("CACHE_TTL_MINUTES", k.Int("cache_ttl_minutes"), DefaultCacheTTLMinutes)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	retention, err := getEnvIntOrDefault("FEED_RETENTION_DAYS", k.Int("feed_retention_days"), DefaultFeedRetentionDays)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	taskWorkers, err := getEnvIntOrDefault("TASK_WORKERS", k.Int("task_workers"), DefaultTaskWorkers)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	taskQueue, err := getEnvIntOrDefault("TASK_QUEUE_SIZE", k.Int("task_queue_size"), DefaultTaskQueueSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Port:                   port,
		Env:                    getEnvOrDefault("ENV", k.String("env"), DefaultEnv),
		DatabaseURL:            getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:              getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:          getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		RankingIntervalMinutes: interval,
		CandidateWindowHours:   windowHours,
		CandidateBatchSize:     batchSize,
		MinTrendingScore:       minScore,
		TrendingTopPercent:     topPercent,
		TrendingTopCount:       topCount,
		CalibrationPath:        getEnvOrKoanf("CALIBRATION_PATH", k, "calibration_path"),
		CacheTTLMinutes:        cacheTTL,
		FeedRetentionDays:      retention,
		TaskWorkers:            taskWorkers,
		TaskQueueSize:          taskQueue,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer", envKey)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float", envKey)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all configuration values are in range.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.RankingIntervalMinutes <= 0 {
		errs = append(errs, ErrInvalidRankingInterval)
	}
	if c.CandidateWindowHours <= 0 {
		errs = append(errs, ErrInvalidCandidateWindow)
	}
	if c.CandidateBatchSize <= 0 {
		errs = append(errs, ErrInvalidCandidateBatchSize)
	}
	if c.TrendingTopPercent <= 0 || c.TrendingTopPercent > 100 {
		errs = append(errs, ErrInvalidTopPercent)
	}
	if c.TrendingTopCount <= 0 {
		errs = append(errs, ErrInvalidTopCount)
	}
	if c.MinTrendingScore < 0 {
		errs = append(errs, ErrInvalidMinScore)
	}
	if c.FeedRetentionDays <= 0 {
		errs = append(errs, ErrInvalidFeedRetention)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                     fmt.Sprintf("%d", c.Port),
		"env":                      c.Env,
		"database_url":             maskDatabaseURL(c.DatabaseURL),
		"redis_addr":               c.RedisAddr,
		"redis_password":           maskSecret(c.RedisPassword),
		"ranking_interval_minutes": fmt.Sprintf("%d", c.RankingIntervalMinutes),
		"candidate_window_hours":   fmt.Sprintf("%d", c.CandidateWindowHours),
		"candidate_batch_size":     fmt.Sprintf("%d", c.CandidateBatchSize),
		"min_trending_score":       fmt.Sprintf("%g", c.MinTrendingScore),
		"trending_top_percent":     fmt.Sprintf("%g", c.TrendingTopPercent),
		"trending_top_count":       fmt.Sprintf("%d", c.TrendingTopCount),
		"calibration_path":         c.CalibrationPath,
		"cache_ttl_minutes":        fmt.Sprintf("%d", c.CacheTTLMinutes),
		"feed_retention_days":      fmt.Sprintf("%d", c.FeedRetentionDays),
		"task_workers":             fmt.Sprintf("%d", c.TaskWorkers),
		"task_queue_size":          fmt.Sprintf("%d", c.TaskQueueSize),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
