// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/agentbank/pkg/logger"
)

// Config is the complete runtime configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Auth       AuthConfig
	Queue      QueueConfig
	RateLimit  RateLimitConfig
	Redis      RedisConfig
	Commission CommissionConfig
	Audit      AuditConfig
	// CatalogPath points at an optional YAML seed catalog.
	CatalogPath string `env:"CATALOG_PATH"`
}

type ServerConfig struct {
	Host         string        `env:"SERVER_HOST,default=0.0.0.0"`
	Port         int           `env:"SERVER_PORT,default=8080"`
	ReadTimeout  time.Duration `env:"SERVER_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s"`
	// CORSOrigins is a semicolon separated list of dashboard origins.
	CORSOrigins []string `env:"SERVER_CORS_ORIGINS"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// DSN selects the Postgres store; empty runs the in-memory store.
	DSN          string `env:"DATABASE_DSN"`
	MaxOpenConns int    `env:"DATABASE_MAX_OPEN_CONNS,default=20"`
	MaxIdleConns int    `env:"DATABASE_MAX_IDLE_CONNS,default=5"`
	AutoMigrate  bool   `env:"DATABASE_AUTO_MIGRATE,default=true"`
}

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info"`
	Format     string `env:"LOG_FORMAT,default=json"`
	Output     string `env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `env:"LOG_FILE_PREFIX,default=agentbank"`
}

// Logger converts the section into logger settings.
func (l LoggingConfig) Logger() logger.LoggingConfig {
	return logger.LoggingConfig{Level: l.Level, Format: l.Format, Output: l.Output, FilePrefix: l.FilePrefix}
}

type AuthConfig struct {
	JWTSecret string        `env:"AUTH_JWT_SECRET"`
	Issuer    string        `env:"AUTH_ISSUER,default=agentbank"`
	TokenTTL  time.Duration `env:"AUTH_TOKEN_TTL,default=12h"`
}

type QueueConfig struct {
	// ClaimTTL is how long a validator may hold an operation before the
	// reaper returns it to the queue.
	ClaimTTL        time.Duration `env:"QUEUE_CLAIM_TTL,default=15m"`
	ReaperSchedule  string        `env:"QUEUE_REAPER_SCHEDULE,default=@every 1m"`
	UrgentAfter     time.Duration `env:"QUEUE_URGENT_AFTER,default=30m"`
	MaxClaimRetries int           `env:"QUEUE_MAX_CLAIM_RETRIES,default=3"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `env:"RATE_LIMIT_RPS,default=20"`
	Burst             int     `env:"RATE_LIMIT_BURST,default=40"`
}

type RedisConfig struct {
	Addr     string        `env:"REDIS_ADDR"`
	Password string        `env:"REDIS_PASSWORD"`
	DB       int           `env:"REDIS_DB,default=0"`
	StatsTTL time.Duration `env:"REDIS_STATS_TTL,default=5s"`
}

type CommissionConfig struct {
	ChiefShare string `env:"COMMISSION_CHIEF_SHARE,default=0.30"`
	Precision  int32  `env:"COMMISSION_PRECISION,default=2"`
	Currency   string `env:"DEFAULT_CURRENCY,default=XOF"`
}

// ChiefShareDecimal parses ChiefShare.
func (c CommissionConfig) ChiefShareDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(strings.TrimSpace(c.ChiefShare))
}

type AuditConfig struct {
	FilePath string `env:"AUDIT_LOG_PATH"`
	Capacity int    `env:"AUDIT_LOG_CAPACITY,default=1000"`
}

// Load reads an optional .env file and decodes the environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	share, err := c.Commission.ChiefShareDecimal()
	if err != nil {
		return fmt.Errorf("invalid commission chief share: %w", err)
	}
	if share.IsNegative() || share.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission chief share %s outside [0,1]", share)
	}
	if c.Commission.Precision < 0 {
		return fmt.Errorf("commission precision must not be negative")
	}
	if c.Queue.ClaimTTL <= 0 {
		return fmt.Errorf("queue claim ttl must be positive")
	}
	if c.Queue.MaxClaimRetries <= 0 {
		c.Queue.MaxClaimRetries = 1
	}
	return nil
}
