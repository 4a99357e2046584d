package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const minAuthSecretLen = 32

type Config struct {
	AppEnv        string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`

	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// An empty DatabaseURL selects the seeded in-memory store.
	DatabaseURL         string `envconfig:"DATABASE_URL"`
	DatabaseApplySchema bool   `envconfig:"DATABASE_APPLY_SCHEMA" default:"true"`

	// An empty RedisAddr disables the report cache.
	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"posledger:"`
	ReportCacheTTL time.Duration `envconfig:"REPORT_CACHE_TTL" default:"30s"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`

	DefaultCashLimit decimal.Decimal `envconfig:"DEFAULT_CASH_LIMIT" default:"5000.00"`

	LogFormat string     `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  slog.Level `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads the environment. It does not check secrets; call Validate
// before serving.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.AuthSecret) < minAuthSecretLen {
		return fmt.Errorf("AUTH_SECRET must be at least %d characters", minAuthSecretLen)
	}
	if c.AccessTokenTTL <= 0 {
		return errors.New("ACCESS_TOKEN_TTL must be positive")
	}
	if !c.DefaultCashLimit.IsPositive() {
		return fmt.Errorf("DEFAULT_CASH_LIMIT must be positive, got %s", c.DefaultCashLimit)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// NewLogger returns a slog.Logger writing to stdout in the configured format.
func NewLogger(cfg Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel, AddSource: cfg.IsProduction()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
