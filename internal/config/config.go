package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit configures the per-IP request limiter.
type RateLimit struct {
	Enabled bool          `yaml:"enabled"`
	Window  time.Duration `yaml:"window"`
	Max     int           `yaml:"max"`
}

// Config holds all server settings. Values come from an optional YAML file
// with environment variables taking precedence.
type Config struct {
	ListenAddr           string    `yaml:"listen_addr"`
	AllowedOrigin        string    `yaml:"allowed_origin"`
	RedisAddr            string    `yaml:"redis_addr"`
	RequireAuth          bool      `yaml:"require_auth"`
	JWKSURL              string    `yaml:"jwks_url"`
	JWTIssuer            string    `yaml:"jwt_issuer"`
	MessageRetentionDays int       `yaml:"message_retention_days"`
	RateLimit            RateLimit `yaml:"rate_limit"`
	DebugLogs            bool      `yaml:"debug_logs"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:           ":8787",
		AllowedOrigin:        "*",
		MessageRetentionDays: 30,
		RateLimit: RateLimit{
			Window: time.Minute,
			Max:    120,
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.ListenAddr, "LISTEN_ADDR")
	setString(&c.AllowedOrigin, "ALLOWED_ORIGIN")
	setString(&c.RedisAddr, "REDIS_ADDR")
	setBool(&c.RequireAuth, "REQUIRE_AUTH")
	setString(&c.JWKSURL, "JWKS_URL")
	setString(&c.JWTIssuer, "JWT_ISSUER")
	setInt(&c.MessageRetentionDays, "MESSAGE_RETENTION_DAYS")
	setBool(&c.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setDuration(&c.RateLimit.Window, "RATE_LIMIT_WINDOW")
	setInt(&c.RateLimit.Max, "RATE_LIMIT_MAX")
	setBool(&c.DebugLogs, "DEBUG_LOGS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true"
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
