package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type serverConfig struct {
	Port      string
	LogLevel  string
	LogFormat string

	EnableVersionAdminAPI      bool
	VersionAdminAuthMode       string
	VersionAdminBootstrapToken string

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	MaxBodyBytes               int64
	AssembleRateLimitPerMinute int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration

	SignBaseURL   string
	SignAuthToken string
}

// configOverlay holds optional values from the file named by TVE_CONFIG_FILE.
// Environment variables always win over the file; the file wins over
// built-in defaults.
type configOverlay struct {
	Port                string `yaml:"port"`
	LogLevel            string `yaml:"log_level"`
	LogFormat           string `yaml:"log_format"`
	AdminAuthMode       string `yaml:"admin_auth_mode"`
	AdminBootstrapToken string `yaml:"admin_bootstrap_token"`
	SchedulerInterval   string `yaml:"scheduler_interval"`
	RedisAddr           string `yaml:"redis_addr"`
	SignBaseURL         string `yaml:"sign_base_url"`
}

func loadServerConfig() (serverConfig, error) {
	var overlay configOverlay
	if path := strings.TrimSpace(os.Getenv("TVE_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return serverConfig{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &overlay); err != nil {
			return serverConfig{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg := serverConfig{
		Port:      firstNonEmpty(os.Getenv("SERVICE_PORT"), overlay.Port, "8084"),
		LogLevel:  firstNonEmpty(os.Getenv("LOG_LEVEL"), overlay.LogLevel, "info"),
		LogFormat: firstNonEmpty(os.Getenv("LOG_FORMAT"), overlay.LogFormat, "json"),

		EnableVersionAdminAPI:      envBoolDefault("ENABLE_VERSION_ADMIN_API", true),
		VersionAdminAuthMode:       strings.ToLower(firstNonEmpty(os.Getenv("VERSION_ADMIN_AUTH_MODE"), overlay.AdminAuthMode, "bootstrap")),
		VersionAdminBootstrapToken: firstNonEmpty(os.Getenv("VERSION_ADMIN_BOOTSTRAP_TOKEN"), overlay.AdminBootstrapToken, ""),

		SchedulerEnabled:  envBoolDefault("SCHEDULER_ENABLED", true),
		SchedulerInterval: envDurationDefault("SCHEDULER_INTERVAL", overlay.SchedulerInterval, 30*time.Second),

		MaxBodyBytes:               envInt64Default("MAX_BODY_BYTES", 262144),
		AssembleRateLimitPerMinute: envIntDefault("ASSEMBLE_RATE_LIMIT_PER_MINUTE", 0),

		RedisAddr:     firstNonEmpty(os.Getenv("REDIS_ADDR"), overlay.RedisAddr, ""),
		RedisPassword: strings.TrimSpace(os.Getenv("REDIS_PASSWORD")),
		RedisDB:       envIntDefault("REDIS_DB", 0),
		SnapshotTTL:   envDurationDefault("SNAPSHOT_TTL", "", 24*time.Hour),

		SignBaseURL:   firstNonEmpty(os.Getenv("SIGN_BASE_URL"), overlay.SignBaseURL, ""),
		SignAuthToken: strings.TrimSpace(os.Getenv("SIGN_AUTH_TOKEN")),
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func envBoolDefault(key string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return def
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envIntDefault(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if v < 0 {
		return 0
	}
	return v
}

func envInt64Default(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func envDurationDefault(key, overlay string, def time.Duration) time.Duration {
	raw := firstNonEmpty(os.Getenv(key), overlay)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
