package main

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/99minutos/portal-auth/internal/infrastructure/backend"
	redisdb "github.com/99minutos/portal-auth/internal/infrastructure/db/redis"
	"github.com/99minutos/portal-auth/internal/pkg/config"
	"github.com/99minutos/portal-auth/internal/pkg/sealer"
	"github.com/99minutos/portal-auth/pkg/logger"
)

// app bundles what every command needs: configuration, a logger, and a
// backend client whose session is persisted in Redis.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	rdb    *goredis.Client
	client *backend.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  cfg.IsDevelopment(),
		Service: "portal-auth",
	})

	sl, err := sealer.New(cfg.Session.Secret)
	if err != nil {
		return nil, fmt.Errorf("session sealer: %w", err)
	}
	if sl == nil {
		log.Warn().Msg("SESSION_SECRET is empty, persisted sessions are stored unsealed")
	}

	rdb, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}

	store := redisdb.NewSessionStore(rdb, sl, redisdb.WithTTL(cfg.Session.TTL))
	client, err := backend.New(backend.Config{
		URL:           cfg.Backend.URL,
		AnonKey:       cfg.Backend.AnonKey,
		JWTSecret:     cfg.Backend.JWTSecret,
		RoleRPC:       cfg.Backend.RoleRPC,
		ProfilesTable: cfg.Backend.ProfilesTable,
		Timeout:       cfg.Backend.Timeout,
		RefreshMargin: cfg.Backend.RefreshMargin,
		StorageKey:    cfg.Session.Key,
	}, log, backend.WithSessionStore(store))
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, rdb: rdb, client: client}, nil
}

func (a *app) Close() {
	if err := a.rdb.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing redis")
	}
}
