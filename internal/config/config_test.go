package config

import (
	"testing"

	"github.com/spf13/viper"
)

func loadForTest(t *testing.T) Config {
	t.Helper()
	viper.Reset()
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	return cfg
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadForTest(t)

	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.StartingBalanceCents != 1_000_000 {
		t.Fatalf("expected default starting balance 1000000, got %d", cfg.StartingBalanceCents)
	}
	if cfg.RedisRateLimitPrefix != "bank:rate_limit" {
		t.Fatalf("expected default rate limit prefix, got %q", cfg.RedisRateLimitPrefix)
	}
	if cfg.InitiationRateLimitPerMin != 10 {
		t.Fatalf("expected default rate limit 10, got %d", cfg.InitiationRateLimitPerMin)
	}
	if cfg.DarajaBaseURL != "https://sandbox.safaricom.co.ke" {
		t.Fatalf("expected sandbox base URL default, got %q", cfg.DarajaBaseURL)
	}
}

func TestLoadConfig_StartingBalanceInWholeUnits(t *testing.T) {
	t.Setenv("STARTING_BALANCE", "2500.50")
	cfg := loadForTest(t)

	if cfg.StartingBalanceCents != 250_050 {
		t.Fatalf("expected 250050 cents, got %d", cfg.StartingBalanceCents)
	}
}

func TestLoadConfig_NegativeStartingBalanceCoerced(t *testing.T) {
	t.Setenv("STARTING_BALANCE_CENTS", "-500")
	cfg := loadForTest(t)

	if cfg.StartingBalanceCents != 0 {
		t.Fatalf("expected coercion to zero, got %d", cfg.StartingBalanceCents)
	}
}

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "8080")
	t.Setenv("PORT", "9999")
	cfg := loadForTest(t)

	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_CallbackBaseURLTrimmed(t *testing.T) {
	t.Setenv("CALLBACK_BASE_URL", " https://bank.example.com/ ")
	cfg := loadForTest(t)

	if cfg.CallbackBaseURL != "https://bank.example.com" {
		t.Fatalf("expected trimmed callback base URL, got %q", cfg.CallbackBaseURL)
	}
}
