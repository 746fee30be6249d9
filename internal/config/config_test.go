package config

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.ExpirationInterval != 1*time.Second {
		t.Errorf("ExpirationInterval = %v, want 1s", cfg.ExpirationInterval)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.DatabaseURL != "" || cfg.LedgerURL != "" {
		t.Errorf("expected in-memory defaults, got db %q ledger %q", cfg.DatabaseURL, cfg.LedgerURL)
	}
	if cfg.LedgerTimeout != 10*time.Second {
		t.Errorf("LedgerTimeout = %v, want 10s", cfg.LedgerTimeout)
	}
	if !cfg.LedgerSimBalance.Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("LedgerSimBalance = %s, want 1000000", cfg.LedgerSimBalance)
	}
	if !cfg.CheckHoldings {
		t.Error("CheckHoldings = false, want true")
	}
	if cfg.PlatformAccount != "platform" {
		t.Errorf("PlatformAccount = %q, want %q", cfg.PlatformAccount, "platform")
	}
	if !cfg.PlatformFeeRate.Equal(decimal.RequireFromString("0.025")) {
		t.Errorf("PlatformFeeRate = %s, want 0.025", cfg.PlatformFeeRate)
	}
	if !cfg.BuyerFeeShare.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("BuyerFeeShare = %s, want 0.5", cfg.BuyerFeeShare)
	}
	if !cfg.MinFee.IsZero() || !cfg.MaxFee.IsZero() {
		t.Errorf("fee bounds = %s..%s, want 0..0", cfg.MinFee, cfg.MaxFee)
	}
	if len(cfg.SupportedCurrencies) != 4 || cfg.SupportedCurrencies[0] != "USD" {
		t.Errorf("SupportedCurrencies = %v, want USD first of 4", cfg.SupportedCurrencies)
	}
	if cfg.CASRetries != 10 {
		t.Errorf("CASRetries = %d, want 10", cfg.CASRetries)
	}
	if cfg.StatsTTL != 30*time.Second {
		t.Errorf("StatsTTL = %v, want 30s", cfg.StatsTTL)
	}
	if len(cfg.OperatorAccounts) != 0 {
		t.Errorf("OperatorAccounts = %v, want none", cfg.OperatorAccounts)
	}
	if cfg.StatsCacheSize != 1024 {
		t.Errorf("StatsCacheSize = %d, want 1024", cfg.StatsCacheSize)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EXPIRATION_INTERVAL", "500ms")
	t.Setenv("DATABASE_URL", "postgres://localhost/tokenmarket")
	t.Setenv("LEDGER_URL", "http://ledger:8545")
	t.Setenv("LEDGER_SIM_BALANCE", "1000")
	t.Setenv("CHECK_HOLDINGS", "false")
	t.Setenv("PLATFORM_ACCOUNT", " treasury ")
	t.Setenv("PLATFORM_FEE_RATE", "0.01")
	t.Setenv("BUYER_FEE_SHARE", "1")
	t.Setenv("MIN_FEE", "0.50")
	t.Setenv("MAX_FEE", "100")
	t.Setenv("SUPPORTED_CURRENCIES", "eur, usdc,,")
	t.Setenv("CAS_RETRIES", "3")
	t.Setenv("STATS_TTL", "5s")
	t.Setenv("STATS_CACHE_SIZE", "8")
	t.Setenv("OPERATOR_ACCOUNTS", "desk-1, Desk-2,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.ExpirationInterval != 500*time.Millisecond {
		t.Errorf("ExpirationInterval = %v, want 500ms", cfg.ExpirationInterval)
	}
	if cfg.DatabaseURL != "postgres://localhost/tokenmarket" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.LedgerURL != "http://ledger:8545" {
		t.Errorf("LedgerURL = %q", cfg.LedgerURL)
	}
	if !cfg.LedgerSimBalance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("LedgerSimBalance = %s, want 1000", cfg.LedgerSimBalance)
	}
	if cfg.CheckHoldings {
		t.Error("CheckHoldings = true, want false")
	}
	if cfg.PlatformAccount != "treasury" {
		t.Errorf("PlatformAccount = %q, want %q", cfg.PlatformAccount, "treasury")
	}
	if !cfg.MinFee.Equal(decimal.RequireFromString("0.5")) || !cfg.MaxFee.Equal(decimal.NewFromInt(100)) {
		t.Errorf("fee bounds = %s..%s, want 0.5..100", cfg.MinFee, cfg.MaxFee)
	}
	want := []string{"EUR", "USDC"}
	if len(cfg.SupportedCurrencies) != len(want) {
		t.Fatalf("SupportedCurrencies = %v, want %v", cfg.SupportedCurrencies, want)
	}
	for i := range want {
		if cfg.SupportedCurrencies[i] != want[i] {
			t.Errorf("SupportedCurrencies[%d] = %q, want %q", i, cfg.SupportedCurrencies[i], want[i])
		}
	}
	if len(cfg.OperatorAccounts) != 2 || cfg.OperatorAccounts[0] != "desk-1" || cfg.OperatorAccounts[1] != "Desk-2" {
		t.Errorf("OperatorAccounts = %v, want [desk-1 Desk-2]", cfg.OperatorAccounts)
	}
	if cfg.CASRetries != 3 || cfg.StatsCacheSize != 8 || cfg.StatsTTL != 5*time.Second {
		t.Errorf("unexpected tuning: retries %d, cache %d, ttl %v", cfg.CASRetries, cfg.StatsCacheSize, cfg.StatsTTL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"PORT", "not-a-number"},
		{"LOG_LEVEL", "verbose"},
		{"EXPIRATION_INTERVAL", "0s"},
		{"STATS_TTL", "-1s"},
		{"LEDGER_SIM_BALANCE", "-5"},
		{"CHECK_HOLDINGS", "maybe"},
		{"PLATFORM_ACCOUNT", "   "},
		{"PLATFORM_FEE_RATE", "1"},
		{"PLATFORM_FEE_RATE", "abc"},
		{"BUYER_FEE_SHARE", "1.5"},
		{"MIN_FEE", "-0.01"},
		{"SUPPORTED_CURRENCIES", " , "},
		{"CAS_RETRIES", "0"},
		{"STATS_CACHE_SIZE", "0"},
	}

	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.key, tc.value)

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
		})
	}
}

func TestLoad_MaxFeeBelowMinFee(t *testing.T) {
	clearEnv(t)
	t.Setenv("MIN_FEE", "5")
	t.Setenv("MAX_FEE", "1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when MAX_FEE < MIN_FEE")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	for _, key := range durationEnvKeys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			if _, err := Load(); err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}
