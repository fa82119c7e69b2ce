package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	InitialClockSec int `yaml:"initial_clock_sec"`
	InitialRating   int `yaml:"initial_rating"`
	RatingK         int `yaml:"rating_k"`

	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	ChallengeTTLSec  int `yaml:"challenge_ttl_sec"`

	WebhookURL string `yaml:"webhook_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func (c *AppConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSec) * time.Second
}

func (c *AppConfig) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLSec) * time.Second
}

// Load reads the optional YAML file named by ARENA_CONFIG (config.yaml when
// unset), then applies environment overrides on top.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8080",
		InitialClockSec:  600,
		InitialRating:    1200,
		RatingK:          32,
		SweepIntervalSec: 10,
		ChallengeTTLSec:  600,
		LogLevel:         "info",
		LogFormat:        "json",
	}

	path := strings.TrimSpace(os.Getenv("ARENA_CONFIG"))
	if path == "" {
		path = "config.yaml"
	}
	if raw, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		cfg.DatabaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("INITIAL_CLOCK_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.InitialClockSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("INITIAL_RATING")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.InitialRating = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("RATING_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RatingK = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SWEEP_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepIntervalSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHALLENGE_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChallengeTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_URL")); v != "" {
		cfg.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.LogFormat = v
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}
