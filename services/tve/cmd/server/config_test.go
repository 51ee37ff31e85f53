package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVICE_PORT", "LOG_LEVEL", "LOG_FORMAT",
		"ENABLE_VERSION_ADMIN_API", "VERSION_ADMIN_AUTH_MODE", "VERSION_ADMIN_BOOTSTRAP_TOKEN",
		"SCHEDULER_ENABLED", "SCHEDULER_INTERVAL",
		"MAX_BODY_BYTES", "ASSEMBLE_RATE_LIMIT_PER_MINUTE",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "SNAPSHOT_TTL",
		"SIGN_BASE_URL", "SIGN_AUTH_TOKEN", "TVE_CONFIG_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadServerConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig: %v", err)
	}
	if cfg.Port != "8084" || cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("unexpected base defaults: %+v", cfg)
	}
	if !cfg.EnableVersionAdminAPI || cfg.VersionAdminAuthMode != "bootstrap" {
		t.Fatalf("unexpected admin defaults: %+v", cfg)
	}
	if !cfg.SchedulerEnabled || cfg.SchedulerInterval != 30*time.Second {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg)
	}
	if cfg.MaxBodyBytes != 262144 || cfg.AssembleRateLimitPerMinute != 0 {
		t.Fatalf("unexpected limit defaults: %+v", cfg)
	}
	if cfg.SnapshotTTL != 24*time.Hour || cfg.RedisAddr != "" || cfg.SignBaseURL != "" {
		t.Fatalf("unexpected integration defaults: %+v", cfg)
	}
}

func TestLoadServerConfigYAMLOverlay(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "tve.yaml")
	overlay := `
port: "9100"
log_level: debug
admin_auth_mode: credential
scheduler_interval: 5s
redis_addr: localhost:6379
sign_base_url: http://sign.internal
`
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("TVE_CONFIG_FILE", path)

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig: %v", err)
	}
	if cfg.Port != "9100" || cfg.LogLevel != "debug" {
		t.Fatalf("overlay must beat defaults: %+v", cfg)
	}
	if cfg.VersionAdminAuthMode != "credential" || cfg.SchedulerInterval != 5*time.Second {
		t.Fatalf("overlay admin/scheduler not applied: %+v", cfg)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.SignBaseURL != "http://sign.internal" {
		t.Fatalf("overlay integrations not applied: %+v", cfg)
	}
}

func TestLoadServerConfigEnvBeatsYAML(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "tve.yaml")
	if err := os.WriteFile(path, []byte("port: \"9100\"\nlog_level: debug\n"), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}
	t.Setenv("TVE_CONFIG_FILE", path)
	t.Setenv("SERVICE_PORT", "7200")

	cfg, err := loadServerConfig()
	if err != nil {
		t.Fatalf("loadServerConfig: %v", err)
	}
	if cfg.Port != "7200" {
		t.Fatalf("env must beat overlay, got port %q", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("overlay must still fill unset keys, got level %q", cfg.LogLevel)
	}
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("TVE_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := loadServerConfig(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvHelpers(t *testing.T) {
	clearConfigEnv(t)

	t.Setenv("X_BOOL", "off")
	if envBoolDefault("X_BOOL", true) {
		t.Fatal("off must parse false")
	}
	t.Setenv("X_BOOL", "garbage")
	if !envBoolDefault("X_BOOL", true) {
		t.Fatal("unparseable bool must keep default")
	}

	t.Setenv("X_INT", "-5")
	if got := envIntDefault("X_INT", 3); got != 0 {
		t.Fatalf("negative ints clamp to 0, got %d", got)
	}
	t.Setenv("X_INT64", "0")
	if got := envInt64Default("X_INT64", 100); got != 100 {
		t.Fatalf("non-positive int64 must keep default, got %d", got)
	}

	t.Setenv("X_DUR", "90s")
	if got := envDurationDefault("X_DUR", "", time.Minute); got != 90*time.Second {
		t.Fatalf("duration parse: got %v", got)
	}
	t.Setenv("X_DUR", "")
	if got := envDurationDefault("X_DUR", "45s", time.Minute); got != 45*time.Second {
		t.Fatalf("overlay duration: got %v", got)
	}
	if got := envDurationDefault("X_DUR", "", time.Minute); got != time.Minute {
		t.Fatalf("default duration: got %v", got)
	}
}
