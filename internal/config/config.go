// Package config reads process configuration from the environment. It is
// read once at startup by cmd/main.go.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	StateTable  string
	ParamPrefix string
	LogLevel    slog.Level

	MaxUtteranceLength     int
	MaxHistoryMessages     int
	TranslationConcurrency int

	OpenAIBaseURL        string
	OpenAITimeout        time.Duration
	OpenAIRateLimitRPS   float64
	OpenAIRateLimitBurst int
	ModerationEnabled    bool

	OfflineRetry time.Duration
	StateTTL     time.Duration
}

// Load reads the configuration. STATE_TABLE and PARAM_PREFIX are required;
// everything else falls back to a default when unset or malformed. Limits
// must be positive; OFFLINE_RETRY_SECONDS=0 disables offline probing.
func Load() (Config, error) {
	stateTable, err := requireEnv("STATE_TABLE")
	if err != nil {
		return Config{}, err
	}
	paramPrefix, err := requireEnv("PARAM_PREFIX")
	if err != nil {
		return Config{}, err
	}
	level, err := ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		StateTable:             stateTable,
		ParamPrefix:            paramPrefix,
		LogLevel:               level,
		MaxUtteranceLength:     envIntOrDefault("MAX_UTTERANCE_LENGTH", 500),
		MaxHistoryMessages:     envIntOrDefault("MAX_HISTORY_MESSAGES", 40),
		TranslationConcurrency: envIntOrDefault("TRANSLATION_CONCURRENCY", 4),
		OpenAIBaseURL:          envOrDefault("OPENAI_BASE_URL", ""),
		OpenAITimeout:          time.Duration(envIntOrDefault("OPENAI_TIMEOUT_SECONDS", 20)) * time.Second,
		OpenAIRateLimitRPS:     envFloatOrDefault("OPENAI_RATE_LIMIT_RPS", 5),
		OpenAIRateLimitBurst:   envIntOrDefault("OPENAI_RATE_LIMIT_BURST", 10),
		ModerationEnabled:      envBoolOrDefault("MODERATION_ENABLED", true),
		OfflineRetry:           time.Duration(envIntOrDefault("OFFLINE_RETRY_SECONDS", 30)) * time.Second,
		StateTTL:               time.Duration(envIntOrDefault("STATE_TTL_DAYS", 30)) * 24 * time.Hour,
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	positive := []struct {
		key string
		val float64
	}{
		{"MAX_UTTERANCE_LENGTH", float64(c.MaxUtteranceLength)},
		{"MAX_HISTORY_MESSAGES", float64(c.MaxHistoryMessages)},
		{"TRANSLATION_CONCURRENCY", float64(c.TranslationConcurrency)},
		{"OPENAI_TIMEOUT_SECONDS", c.OpenAITimeout.Seconds()},
		{"OPENAI_RATE_LIMIT_RPS", c.OpenAIRateLimitRPS},
		{"OPENAI_RATE_LIMIT_BURST", float64(c.OpenAIRateLimitBurst)},
		{"STATE_TTL_DAYS", c.StateTTL.Hours()},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("config: %s must be positive", p.key)
		}
	}
	if c.OfflineRetry < 0 {
		return fmt.Errorf("config: OFFLINE_RETRY_SECONDS must not be negative")
	}
	return nil
}

// ParseLevel maps debug|info|warn|error to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown LOG_LEVEL %q", s)
	}
}

func requireEnv(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOrDefault(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}
