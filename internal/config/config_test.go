package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "DEADLINE_SWEEP_SCHEDULE", "RATE_REFRESH_SCHEDULE", "CLOSE_CODE_TTL_MINUTES", "REQUIRE_CLOSE_VERIFICATION", "EVENTS_EXCHANGE"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.DeadlineSweepSchedule != "0 * * * *" || cfg.RateRefreshSchedule != "0 2 * * *" {
		t.Fatalf("unexpected default schedules %q / %q", cfg.DeadlineSweepSchedule, cfg.RateRefreshSchedule)
	}
	if cfg.CloseCodeTTL() != 15*time.Minute {
		t.Fatalf("expected 15 minute close code ttl, got %v", cfg.CloseCodeTTL())
	}
	if cfg.RequireCloseVerification {
		t.Fatal("expected close verification to be optional by default")
	}
	if cfg.EventsExchange != "crowdfunding.events" {
		t.Fatalf("unexpected default exchange %q", cfg.EventsExchange)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("PORT", "3000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "3000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_AccessSecretAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "AT_SECRET")
	t.Setenv("JWT_ACCESS_SECRET", "alias-secret")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.AccessTokenSecret != "alias-secret" {
		t.Fatalf("expected access secret from alias, got %q", cfg.AccessTokenSecret)
	}
}

func TestLoadConfig_NormalizesInvalidValues(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("CLOSE_CODE_TTL_MINUTES", "-3")
	t.Setenv("RATE_REFRESH_TIMEZONE", "Not/AZone")
	t.Setenv("CALLBACK_URL", " https://api.sewlesew.example/ ")
	t.Setenv("REDIS_RATE_LIMIT_PREFIX", "   ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CloseCodeTTLMinutes != 15 {
		t.Fatalf("expected ttl reset to 15, got %d", cfg.CloseCodeTTLMinutes)
	}
	if cfg.RateRefreshTimezone != "UTC" {
		t.Fatalf("expected timezone fallback to UTC, got %q", cfg.RateRefreshTimezone)
	}
	if cfg.CallbackURL != "https://api.sewlesew.example" {
		t.Fatalf("expected trimmed callback url, got %q", cfg.CallbackURL)
	}
	if cfg.RedisRateLimitPrefix != "sewlesew:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CHAPA_SECRET_KEY")
	unsetEnvWithCleanup(t, "REQUIRE_CLOSE_VERIFICATION")

	dir := t.TempDir()
	content := "CHAPA_SECRET_KEY=CHASECK_TEST-123\nREQUIRE_CLOSE_VERIFICATION=true\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ChapaSecretKey != "CHASECK_TEST-123" {
		t.Fatalf("expected chapa key from .env, got %q", cfg.ChapaSecretKey)
	}
	if !cfg.RequireCloseVerification {
		t.Fatal("expected REQUIRE_CLOSE_VERIFICATION from .env")
	}
}

func TestValidate(t *testing.T) {
	err := Config{}.Validate()
	if err == nil {
		t.Fatal("expected validation error for empty config")
	}
	for _, key := range []string{"DATABASE_URL", "AT_SECRET", "INTERNAL_API_KEY"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("expected %s in validation error, got %v", key, err)
		}
	}

	ok := Config{DatabaseURL: "postgres://", AccessTokenSecret: "s", InternalAPIKey: "k"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
