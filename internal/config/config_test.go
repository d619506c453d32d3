package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
)

func TestDefaults_AreValid(t *testing.T) {
	if err := config.Defaults().Validate(); err != nil {
		t.Fatalf("defaults should validate, got: %v", err)
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "MEMORY")
	t.Setenv("LIFECYCLE_MAX_ORACLE_FAILURES", "5")
	t.Setenv("LIFECYCLE_BACKOFF_BASE", "30s")
	t.Setenv("WALLET_FAUCET_COOLDOWN", "12h")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DB.Driver != "memory" {
		t.Errorf("driver = %q, want memory", cfg.DB.Driver)
	}
	if cfg.Lifecycle.MaxOracleFailures != 5 {
		t.Errorf("max oracle failures = %d, want 5", cfg.Lifecycle.MaxOracleFailures)
	}
	if cfg.Lifecycle.BackoffBase != 30*time.Second {
		t.Errorf("backoff base = %s, want 30s", cfg.Lifecycle.BackoffBase)
	}
	if cfg.Wallet.FaucetCooldown != 12*time.Hour {
		t.Errorf("faucet cooldown = %s, want 12h", cfg.Wallet.FaucetCooldown)
	}
	if len(cfg.Server.WSAllowedOrigins) != 2 {
		t.Errorf("origins = %v, want 2 entries", cfg.Server.WSAllowedOrigins)
	}
}

func TestLoad_RejectsBadInteger(t *testing.T) {
	t.Setenv("TRADING_MAX_RETRIES", "three")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error for non-integer TRADING_MAX_RETRIES")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := config.Defaults()
	cfg.DB.Driver = "sqlite"
	cfg.Trading.MaxRetries = 0
	cfg.Lifecycle.BackoffMax = time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"LEDGER_DRIVER", "TRADING_MAX_RETRIES", "backoff"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestValidate_MemoryLedgerNotAllowedInProduction(t *testing.T) {
	cfg := config.Defaults()
	cfg.DB.Driver = "memory"
	cfg.Server.Env = "production"
	if err := cfg.Validate(); err == nil {
		t.Fatal("memory ledger in production should be rejected")
	}
}
