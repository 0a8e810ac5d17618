package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the api, worker and callctl processes.
// All values come from env (or a .env file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Signaling SignalingConfig
	Metering  MeteringConfig
	Coins     CoinDefaults
	Worker    WorkerConfig
}

type AppConfig struct {
	Env  string
	Port int

	// Store selects the persistence backend: postgres or memory.
	Store string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// SlowQueryThreshold enables slow query logging when > 0.
	SlowQueryThreshold time.Duration
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// SignalingConfig configures room-scoped media credentials.
type SignalingConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// MeteringConfig holds the live meter and reaper timings.
type MeteringConfig struct {
	TickInterval   time.Duration
	ConnectTimeout time.Duration
	RingTimeout    time.Duration
	MissedTicks    int
	CatchUpGrace   time.Duration
	ReaperInterval time.Duration
}

// CoinDefaults seed the coin config table when no active row exists.
type CoinDefaults struct {
	AudioPerMinute     int64
	VideoPerMinute     int64
	ChatPerMessage     int64
	ResponderPct       int
	MinRedeemCoins     int64
	CoinValue          string
	Currency           string
	MaxCallDurationSec int
}

type WorkerConfig struct {
	Concurrency int
}

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	intOf := func(n int, err error) int {
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return n
	}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = intOf(mustInt("APP_PORT"))
	c.App.Store = strings.TrimSpace(os.Getenv("APP_STORE"))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = intOf(optInt("DB_PORT", 5432))
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.SlowQueryThreshold = optDuration("DB_SLOW_QUERY", 200*time.Millisecond)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = intOf(optInt("REDIS_PORT", 6379))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = optDuration("JWT_ACCESS_TTL", 0)
	c.Auth.RefreshTokenTTL = optDuration("JWT_REFRESH_TTL", 0)

	c.Signaling.Secret = os.Getenv("SIGNALING_SECRET")
	c.Signaling.Issuer = strings.TrimSpace(os.Getenv("SIGNALING_ISSUER"))
	c.Signaling.Audience = strings.TrimSpace(os.Getenv("SIGNALING_AUDIENCE"))
	c.Signaling.TTL = optDuration("SIGNALING_TTL", 0)

	c.Metering.TickInterval = optDuration("METER_TICK_INTERVAL", 0)
	c.Metering.ConnectTimeout = optDuration("METER_CONNECT_TIMEOUT", 0)
	c.Metering.RingTimeout = optDuration("METER_RING_TIMEOUT", 0)
	c.Metering.MissedTicks = intOf(optInt("METER_MISSED_TICKS", 0))
	c.Metering.CatchUpGrace = optDuration("METER_CATCHUP_GRACE", 0)
	c.Metering.ReaperInterval = optDuration("REAPER_INTERVAL", 0)

	c.Coins.AudioPerMinute = int64(intOf(optInt("COINS_AUDIO_PER_MINUTE", 10)))
	c.Coins.VideoPerMinute = int64(intOf(optInt("COINS_VIDEO_PER_MINUTE", 20)))
	c.Coins.ChatPerMessage = int64(intOf(optInt("COINS_CHAT_PER_MESSAGE", 1)))
	c.Coins.ResponderPct = intOf(optInt("COINS_RESPONDER_PCT", 70))
	c.Coins.MinRedeemCoins = int64(intOf(optInt("COINS_MIN_REDEEM", 1000)))
	c.Coins.CoinValue = optString("COINS_VALUE", "0.10")
	c.Coins.Currency = optString("COINS_CURRENCY", "INR")
	c.Coins.MaxCallDurationSec = intOf(optInt("COINS_MAX_CALL_SECONDS", 0))

	c.Worker.Concurrency = intOf(optInt("WORKER_CONCURRENCY", 10))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.Store == "" {
		c.App.Store = StorePostgres
	}
	switch c.App.Store {
	case StorePostgres:
		errs = append(errs, c.validateDB()...)
	case StoreMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("APP_STORE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("APP_STORE must be one of postgres, memory, got %q", c.App.Store))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Signaling.Secret == "" {
		errs = append(errs, errors.New("SIGNALING_SECRET is required"))
	} else if c.Signaling.Secret == c.Auth.JWTSecret {
		errs = append(errs, errors.New("SIGNALING_SECRET must differ from JWT_SECRET"))
	}
	if c.Signaling.TTL <= 0 {
		c.Signaling.TTL = 2 * time.Hour
	}

	errs = append(errs, c.Metering.applyDefaults()...)

	if c.Coins.ResponderPct < 0 || c.Coins.ResponderPct > 100 {
		errs = append(errs, fmt.Errorf("COINS_RESPONDER_PCT must be within 0..100, got %d", c.Coins.ResponderPct))
	}
	if c.Coins.AudioPerMinute <= 0 || c.Coins.VideoPerMinute <= 0 {
		errs = append(errs, errors.New("COINS_AUDIO_PER_MINUTE and COINS_VIDEO_PER_MINUTE must be > 0"))
	}
	if c.Coins.ChatPerMessage < 0 {
		errs = append(errs, errors.New("COINS_CHAT_PER_MESSAGE must be >= 0"))
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 10
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (m *MeteringConfig) applyDefaults() []error {
	if m.TickInterval <= 0 {
		m.TickInterval = time.Minute
	}
	if m.ConnectTimeout <= 0 {
		m.ConnectTimeout = 30 * time.Second
	}
	if m.RingTimeout <= 0 {
		m.RingTimeout = 45 * time.Second
	}
	if m.MissedTicks <= 0 {
		m.MissedTicks = 3
	}
	if m.CatchUpGrace <= 0 {
		m.CatchUpGrace = 15 * time.Second
	}
	if m.ReaperInterval <= 0 {
		m.ReaperInterval = 30 * time.Second
	}
	if m.MissedTicks < 2 {
		return []error{errors.New("METER_MISSED_TICKS must be >= 2")}
	}
	if m.CatchUpGrace >= m.TickInterval*time.Duration(m.MissedTicks-1) {
		return []error{errors.New("METER_CATCHUP_GRACE must be shorter than the stall window")}
	}
	return nil
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string, def int) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return def, nil
	}
	return mustInt(key)
}

func optString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
