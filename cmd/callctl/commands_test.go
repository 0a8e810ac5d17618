package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"callcoin-platform/internal/app"
	"callcoin-platform/internal/config"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/reaper"
)

func memoryApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Config{
		App:       config.AppConfig{Env: "local", Port: 8080, Store: config.StoreMemory},
		Auth:      config.AuthConfig{JWTSecret: "a", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour},
		Signaling: config.SignalingConfig{Secret: "b"},
		Metering: config.MeteringConfig{
			TickInterval:   time.Minute,
			ConnectTimeout: 30 * time.Second,
			RingTimeout:    45 * time.Second,
			MissedTicks:    3,
			CatchUpGrace:   15 * time.Second,
		},
		Coins: config.CoinDefaults{AudioPerMinute: 10, VideoPerMinute: 20, ChatPerMessage: 1, ResponderPct: 70, CoinValue: "0.10", Currency: "INR"},
	}
	a, err := app.Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), app.Backends{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a
}

func run(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(func(context.Context) (*app.App, error) { return a, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigSetAndShow(t *testing.T) {
	a := memoryApp(t)

	if _, err := run(t, a, "config", "set", "--audio", "15", "--coin-value", "0.2", "--actor", "ops"); err != nil {
		t.Fatalf("set: %v", err)
	}
	out, err := run(t, a, "config", "show")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var cfg pricing.CoinConfig
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if cfg.AudioCoinsPerMinute != 15 || cfg.VideoCoinsPerMinute != 20 || cfg.CreatedBy != "ops" || cfg.CoinValue.String() != "0.2" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := run(t, a, "config", "set", "--responder-pct", "101"); err == nil {
		t.Fatalf("expected invalid commission to fail")
	}
}

func TestSweepPrintsReport(t *testing.T) {
	a := memoryApp(t)
	out, err := run(t, a, "sweep", "--at", "2026-05-01T12:00:00Z")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var rep reaper.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if rep.Changed() {
		t.Fatalf("expected empty report, got %+v", rep)
	}
	if _, err := run(t, a, "sweep", "--at", "noon"); err == nil {
		t.Fatalf("expected bad --at to fail")
	}
}

func TestAccountCreditIsIdempotentPerOrder(t *testing.T) {
	a := memoryApp(t)
	ctx := context.Background()
	if _, err := a.Accounts.Register(ctx, "u1", "user"); err != nil {
		t.Fatalf("register: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := run(t, a, "account", "credit", "u1", "25", "--order", "ord-1"); err != nil {
			t.Fatalf("credit %d: %v", i, err)
		}
	}
	bal, err := a.Wallet.Balance(ctx, "u1")
	if err != nil || bal != 25 {
		t.Fatalf("expected balance 25, got %d (%v)", bal, err)
	}
	if _, err := run(t, a, "account", "credit", "u1", "25"); err == nil {
		t.Fatalf("expected missing --order to fail")
	}
}

func TestMigrateOnMemoryStore(t *testing.T) {
	out, err := run(t, memoryApp(t), "migrate")
	if err != nil || !strings.Contains(out, "nothing to migrate") {
		t.Fatalf("unexpected migrate result %q %v", out, err)
	}
}
