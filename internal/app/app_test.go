package app

import (
	"context"
	"testing"
	"time"

	"callcoin-platform/internal/config"
)

func memoryConfig() config.Config {
	return config.Config{
		App:       config.AppConfig{Env: "local", Port: 8080, Store: config.StoreMemory},
		Auth:      config.AuthConfig{JWTSecret: "access", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
		Signaling: config.SignalingConfig{Secret: "signaling"},
		Metering:  config.MeteringConfig{TickInterval: time.Minute, MissedTicks: 3},
		Coins: config.CoinDefaults{
			AudioPerMinute: 10,
			VideoPerMinute: 20,
			ChatPerMessage: 1,
			ResponderPct:   70,
			CoinValue:      "0.10",
			Currency:       "INR",
		},
	}
}

func TestBuild_MemoryBackends(t *testing.T) {
	a, err := Build(memoryConfig(), nil, Backends{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	ctx := context.Background()

	if err := a.Health(ctx); err != nil {
		t.Fatalf("health without backends: %v", err)
	}
	if err := a.Migrate(ctx); err != nil {
		t.Fatalf("migrate on memory store: %v", err)
	}
	cfg, err := a.Pricing.Current(ctx)
	if err != nil {
		t.Fatalf("current config: %v", err)
	}
	if cfg.AudioCoinsPerMinute != 10 || cfg.CoinValue.String() != "0.1" || !cfg.ChatEnabled {
		t.Fatalf("expected env defaults, got %+v", cfg)
	}

	if _, err := a.Accounts.Register(ctx, "u1", "user"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.Wallet.Purchase(ctx, "u1", 30, "o-1"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	acct, err := a.Accounts.Get(ctx, "u1")
	if err != nil || acct.Balance != 30 {
		t.Fatalf("ledger and accounts must share the store, got %+v %v", acct, err)
	}
	a.Close()
}

func TestCoinDefaults_RejectsBadCoinValue(t *testing.T) {
	d := memoryConfig().Coins
	d.CoinValue = "ten cents"
	if _, err := CoinDefaults(d); err == nil {
		t.Fatalf("expected parse error")
	}
	cfg := memoryConfig()
	cfg.Coins.CoinValue = "x"
	if _, err := Build(cfg, nil, Backends{}); err == nil {
		t.Fatalf("expected build to fail on bad coin value")
	}
}
