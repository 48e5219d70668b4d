package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string           `yaml:"discord_token"`
	DatabasePath      string           `yaml:"database_path"`
	LogLevel          string           `yaml:"log_level"`
	DefaultLogChannel string           `yaml:"default_log_channel"`
	CooldownSeconds   int              `yaml:"cooldown_seconds"`
	RetentionDays     int              `yaml:"retention_days"`
	Moderation        ModerationConfig `yaml:"moderation"`
	Timeout           TimeoutConfig    `yaml:"timeout"`
	Health            HealthConfig     `yaml:"health"`
}

type ModerationConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetryAttempts  int    `yaml:"retry_attempts"`
}

type TimeoutConfig struct {
	MinMinutes int `yaml:"min_minutes"`
	MaxMinutes int `yaml:"max_minutes"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:      "/data/modwatch.db",
		LogLevel:          "info",
		DefaultLogChannel: "",
		CooldownSeconds:   5,
		RetentionDays:     30,
		Moderation: ModerationConfig{
			TimeoutSeconds: 30,
			RetryAttempts:  3,
		},
		Timeout: TimeoutConfig{MinMinutes: 30, MaxMinutes: 60},
		Health:  HealthConfig{Enabled: false, Addr: ":8080"},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Moderation.BaseURL == "" {
		return Config{}, errors.New("MODERATION_API_URL is required")
	}
	if cfg.Timeout.MinMinutes < 1 || cfg.Timeout.MaxMinutes < 1 {
		return Config{}, errors.New("timeout range must be at least 1 minute")
	}
	if cfg.Timeout.MinMinutes > cfg.Timeout.MaxMinutes {
		return Config{}, fmt.Errorf("timeout range inverted: min=%d max=%d", cfg.Timeout.MinMinutes, cfg.Timeout.MaxMinutes)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.CooldownSeconds = envInt("COOLDOWN_SECONDS", cfg.CooldownSeconds)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Moderation.BaseURL = envString("MODERATION_API_URL", cfg.Moderation.BaseURL)
	cfg.Moderation.APIKey = envString("MODERATION_API_KEY", cfg.Moderation.APIKey)
	cfg.Moderation.TimeoutSeconds = envInt("MODERATION_TIMEOUT_SECONDS", cfg.Moderation.TimeoutSeconds)
	cfg.Moderation.RetryAttempts = envInt("MODERATION_RETRY_ATTEMPTS", cfg.Moderation.RetryAttempts)
	cfg.Timeout.MinMinutes = envInt("TIMEOUT_MIN_MINUTES", cfg.Timeout.MinMinutes)
	cfg.Timeout.MaxMinutes = envInt("TIMEOUT_MAX_MINUTES", cfg.Timeout.MaxMinutes)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
