package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Trading.Coins) == 0 {
		t.Error("defaults missing coins")
	}
	if cfg.EvalIntervalDuration() != 10*time.Second {
		t.Errorf("eval interval = %v, want 10s", cfg.EvalIntervalDuration())
	}
	if len(cfg.Trading.DCALadder) != 7 {
		t.Errorf("ladder stages = %d, want 7", len(cfg.Trading.DCALadder))
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"trading": {
			"coins": ["SOL"],
			"eval_interval": "30s",
			"allocation_usd": 200,
			"dca_ladder": [-3, -6],
			"pm_start_no_dca_pct": 4.0,
			"pm_start_with_dca_pct": 2.0,
			"trailing_gap_pct": 0.25,
			"max_dca_per_window": 1,
			"dca_window_hours": 12
		}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Trading.Coins) != 1 || cfg.Trading.Coins[0] != "SOL" {
		t.Errorf("coins = %v, want [SOL]", cfg.Trading.Coins)
	}
	if cfg.Trading.AllocationUSD != 200 {
		t.Errorf("allocation = %v, want 200", cfg.Trading.AllocationUSD)
	}
	if cfg.EvalIntervalDuration() != 30*time.Second {
		t.Errorf("eval interval = %v, want 30s", cfg.EvalIntervalDuration())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("TRADING_COINS", "btc, eth ,sol")
	t.Setenv("SERVER_PORT", "9999")
	t.Setenv("EXCHANGE_PAPER_MODE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"BTC", "ETH", "SOL"}
	if len(cfg.Trading.Coins) != len(want) {
		t.Fatalf("coins = %v, want %v", cfg.Trading.Coins, want)
	}
	for i, coin := range want {
		if cfg.Trading.Coins[i] != coin {
			t.Errorf("coin %d = %q, want %q", i, cfg.Trading.Coins[i], coin)
		}
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"no coins", func(c *Config) { c.Trading.Coins = nil }, true},
		{"zero allocation", func(c *Config) { c.Trading.AllocationUSD = 0 }, true},
		{"positive ladder level", func(c *Config) { c.Trading.DCALadder = []float64{-2.5, 5} }, true},
		{"zero window", func(c *Config) { c.Predictor.WindowSize = 0 }, true},
		{"bad timeframe", func(c *Config) { c.Strategy.Timeframe = "5m" }, true},
		{"live mode without keys", func(c *Config) { c.Exchange.PaperMode = false }, true},
		{"live mode with keys", func(c *Config) {
			c.Exchange.PaperMode = false
			c.Exchange.APIKey = "k"
			c.Exchange.SecretKey = "s"
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
