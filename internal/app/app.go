// Package app assembles the services shared by the api, worker and callctl
// processes.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"callcoin-platform/internal/accounts"
	"callcoin-platform/internal/audit"
	"callcoin-platform/internal/auth"
	"callcoin-platform/internal/calls"
	"callcoin-platform/internal/chat"
	"callcoin-platform/internal/config"
	"callcoin-platform/internal/jobs"
	"callcoin-platform/internal/meter"
	"callcoin-platform/internal/pricing"
	"callcoin-platform/internal/realtime"
	"callcoin-platform/internal/reaper"
	"callcoin-platform/internal/reporting"
	"callcoin-platform/internal/signaling"
	"callcoin-platform/internal/store"
	"callcoin-platform/internal/wallet"
	"callcoin-platform/pkg/logger"
	"callcoin-platform/pkg/utils"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Backends are the external connections. A nil DB selects the in-memory
// stores; a nil Redis keeps fan-out, sessions and the sweep lock in process;
// a nil Queue disables delayed jobs and leaves them to the reaper.
type Backends struct {
	DB    *sql.DB
	Redis *redis.Client
	Queue *asynq.Client
}

type App struct {
	Config config.Config
	Log    *slog.Logger

	Backends Backends

	Auth      *auth.Manager
	Signaling *signaling.Issuer
	Accounts  *accounts.Service
	Pricing   *pricing.Service
	Wallet    *wallet.Service
	Calls     *calls.Service
	CallStore calls.Store
	Meter     *meter.Meter
	Chat      *chat.Service
	Audit     *audit.Service
	Reporting *reporting.Service
	Reaper    *reaper.Reaper

	Hub       *realtime.Hub
	Publisher *realtime.Publisher
	Realtime  *realtime.Server

	broker      *realtime.RedisBroker
	broadcaster *pricing.RedisBroadcaster
	closers     []func() error
}

// Open connects to the backends cfg names and builds the App. Redis is
// optional outside production.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	var b Backends
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	if cfg.App.Store == config.StorePostgres {
		db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{
			SlowQuery: cfg.DB.SlowQueryThreshold,
			Logger:    logger.Component(log, "postgres"),
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.DB = db
		closers = append(closers, db.Close)
	}

	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	switch {
	case err != nil && cfg.IsProduction():
		closeAll()
		return nil, fmt.Errorf("redis: %w", err)
	case err != nil:
		log.Warn("redis unavailable, running single-process", "err", err)
	default:
		b.Redis = rdb
		b.Queue = asynq.NewClient(RedisOpt(cfg))
		closers = append(closers, rdb.Close, b.Queue.Close)
	}

	a, err := Build(cfg, log, b)
	if err != nil {
		closeAll()
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// RedisOpt is the asynq connection for cfg.
func RedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr()}
}

// Build wires every service over b.
func Build(cfg config.Config, log *slog.Logger, b Backends) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	defaults, err := CoinDefaults(cfg.Coins)
	if err != nil {
		return nil, err
	}
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}
	issuer, err := signaling.NewIssuer(cfg.Signaling)
	if err != nil {
		return nil, fmt.Errorf("signaling: %w", err)
	}

	a := &App{Config: cfg, Log: log, Backends: b, Auth: authManager, Signaling: issuer}

	a.Hub = realtime.NewHub()
	var broker realtime.Broker = realtime.NewLocalBroker(a.Hub)
	var sessions realtime.SessionRegistry = realtime.NewMemorySessions()
	var locker reaper.Locker = reaper.NewLocalLocker()
	var scheduler interface {
		calls.Scheduler
		meter.TickScheduler
	} = jobs.NoopScheduler{}
	if b.Redis != nil {
		a.broker = realtime.NewRedisBroker(b.Redis, logger.Component(log, "realtime"))
		a.broadcaster = pricing.NewRedisBroadcaster(b.Redis, logger.Component(log, "pricing"))
		broker = a.broker
		sessions = realtime.NewRedisSessions(b.Redis)
		locker = reaper.NewRedisLocker(b.Redis, logger.Component(log, "reaper"))
	}
	if b.Queue != nil {
		scheduler = jobs.NewScheduler(b.Queue, logger.Component(log, "jobs"))
	}
	a.Publisher = realtime.NewPublisher(broker)

	var (
		acctStore    accounts.Store
		ledgerStore  wallet.Store
		chatStore    chat.Store
		pricingRepo  pricing.Repository
		auditRepo    audit.Repository
		reaperSource reaper.CallStore
	)
	if b.DB != nil {
		acctStore = accounts.NewPostgresStore(b.DB)
		ledgerStore = wallet.NewPostgresStore(b.DB)
		pg := calls.NewPostgresStore(b.DB)
		a.CallStore, reaperSource = pg, pg
		chatStore = chat.NewPostgresStore(b.DB)
		pricingRepo = pricing.NewPostgresRepo(b.DB)
		auditRepo = audit.NewPostgresRepo(b.DB)
	} else {
		mem := accounts.NewMemoryStore()
		acctStore = mem
		ledgerStore = wallet.NewMemoryStore(mem)
		cs := calls.NewMemoryStore(mem)
		a.CallStore, reaperSource = cs, cs
		chatStore = chat.NewMemoryStore()
		pricingRepo = pricing.NewMemoryRepo()
		auditRepo = audit.NewMemoryRepo()
	}

	a.Audit = audit.NewService(auditRepo)
	a.Pricing = pricing.NewService(pricingRepo, defaults, logger.Component(log, "pricing")).WithAudit(a.Audit)
	if a.broadcaster != nil {
		a.Pricing.WithPublisher(a.broadcaster)
	}
	a.Accounts = accounts.NewService(acctStore, a.Publisher, logger.Component(log, "accounts"))
	a.Wallet = wallet.NewService(ledgerStore, a.Pricing, logger.Component(log, "wallet"))
	a.Calls = calls.NewService(calls.Deps{
		Store:          a.CallStore,
		Accounts:       a.Accounts,
		Biller:         a.Wallet,
		Rates:          a.Pricing,
		Scheduler:      scheduler,
		Notifier:       a.Publisher,
		Credentials:    issuer,
		Log:            logger.Component(log, "calls"),
		TickInterval:   cfg.Metering.TickInterval,
		ConnectTimeout: cfg.Metering.ConnectTimeout,
	})
	a.Meter = meter.New(a.Calls, a.Wallet, scheduler, a.Publisher, cfg.Metering.TickInterval, logger.Component(log, "meter"))
	a.Chat = chat.NewService(chatStore, a.Accounts, a.Wallet, a.Pricing, a.Publisher, logger.Component(log, "chat"))
	a.Reporting = reporting.NewService(reporting.Sources{Calls: a.Calls, Ledger: a.Wallet}, a.Pricing)
	a.Reaper = reaper.New(reaper.Deps{
		Store:  reaperSource,
		Calls:  a.Calls,
		Meter:  a.Meter,
		Audit:  a.Audit,
		Locker: locker,
		Log:    logger.Component(log, "reaper"),
		Config: reaper.Config{
			TickInterval:   cfg.Metering.TickInterval,
			ConnectTimeout: cfg.Metering.ConnectTimeout,
			RingTimeout:    cfg.Metering.RingTimeout,
			MissedTicks:    cfg.Metering.MissedTicks,
			CatchUpGrace:   cfg.Metering.CatchUpGrace,
		},
	})
	a.Realtime = realtime.NewServer(realtime.ServerDeps{
		Hub:       a.Hub,
		Publisher: a.Publisher,
		Sessions:  sessions,
		Tokens:    authManager,
		Chat:      a.Chat,
		Presence:  a.Accounts,
		Log:       logger.Component(log, "realtime"),
	})
	return a, nil
}

// CoinDefaults converts the env seed into the config used when no active
// version is stored.
func CoinDefaults(d config.CoinDefaults) (pricing.CoinConfig, error) {
	value, err := decimal.NewFromString(d.CoinValue)
	if err != nil {
		return pricing.CoinConfig{}, fmt.Errorf("COINS_VALUE: %w", err)
	}
	return pricing.CoinConfig{
		AudioCoinsPerMinute:    d.AudioPerMinute,
		VideoCoinsPerMinute:    d.VideoPerMinute,
		ChatCoinsPerMessage:    d.ChatPerMessage,
		ResponderCommissionPct: d.ResponderPct,
		MinRedeemCoins:         d.MinRedeemCoins,
		CoinValue:              value,
		Currency:               d.Currency,
		MaxCallDurationSeconds: d.MaxCallDurationSec,
		ChatEnabled:            true,
		CreatedBy:              "env",
	}, nil
}

// Migrate applies the Postgres schema. It is a no-op for the memory store.
func (a *App) Migrate(ctx context.Context) error {
	if a.Backends.DB == nil {
		return nil
	}
	return store.Migrate(ctx, a.Backends.DB, logger.Component(a.Log, "store"))
}

// Listen runs the cross-process subscriptions until ctx is done: realtime
// fan-out into the local hub and coin config invalidation.
func (a *App) Listen(ctx context.Context) {
	if a.broker != nil {
		go a.broker.Listen(ctx, a.Hub)
	}
	a.ListenConfig(ctx)
}

// ListenConfig drops the cached coin config whenever another process
// activates a new version.
func (a *App) ListenConfig(ctx context.Context) {
	if a.broadcaster != nil {
		go a.broadcaster.Listen(ctx, a.Pricing.Invalidate)
	}
}

// Health pings every configured backend.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if a.Backends.DB != nil {
		if err := utils.HealthCheck(ctx, a.Backends.DB, 2*time.Second); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.Backends.Redis != nil {
		if err := a.Backends.Redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "err", err)
		}
	}
}
