// Package config loads runtime settings from the environment.
package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port     string `env:"PORT,      default=8080"`
	Env      string `env:"ENV,       default=development"`
	LogLevel string `env:"LOG_LEVEL, default=info"`

	Backend BackendConfig
	Session SessionConfig
	Mongo   MongoConfig
	Redis   RedisConfig
	Audit   AuditConfig
}

// BackendConfig points at the managed auth/database backend.
type BackendConfig struct {
	URL           string        `env:"BACKEND_URL,        required"`
	AnonKey       string        `env:"BACKEND_ANON_KEY,   required"`
	JWTSecret     string        `env:"BACKEND_JWT_SECRET"`
	Timeout       time.Duration `env:"BACKEND_TIMEOUT,    default=10s"`
	RoleRPC       string        `env:"ROLE_RPC,           default=get_user_role"`
	ProfilesTable string        `env:"PROFILES_TABLE,     default=profiles"`
	AutoRefresh   bool          `env:"AUTO_REFRESH,       default=true"`
	RefreshMargin time.Duration `env:"REFRESH_MARGIN,     default=60s"`
}

// SessionConfig controls how the current session is persisted in Redis.
type SessionConfig struct {
	// Secret seals the persisted session. Empty stores it in plain JSON.
	Secret string        `env:"SESSION_SECRET"`
	TTL    time.Duration `env:"SESSION_TTL, default=720h"`
	Key    string        `env:"SESSION_KEY, default=default"`
}

type MongoConfig struct {
	URI      string `env:"MONGO_URI, default=mongodb://localhost:27017"`
	Database string `env:"MONGO_DB,  default=portal_auth"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR,     default=localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,       default=0"`
}

type AuditConfig struct {
	Enabled bool `env:"AUDIT_ENABLED, default=true"`
	Workers int  `env:"AUDIT_WORKERS, default=4"`
}

// IsDevelopment reports whether the service runs in a local environment.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "local"
}

// Load reads configuration from environment variables using go-envconfig.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, envconfig.OsLookuper())
}

// LoadFrom reads configuration through lookuper.
func LoadFrom(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Audit.Workers < 1 {
		return nil, fmt.Errorf("config: AUDIT_WORKERS must be at least 1, got %d", cfg.Audit.Workers)
	}
	return &cfg, nil
}
