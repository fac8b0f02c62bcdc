package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/99minutos/portal-auth/internal/api"
	"github.com/99minutos/portal-auth/internal/api/handler"
	"github.com/99minutos/portal-auth/internal/core/ports"
	"github.com/99minutos/portal-auth/internal/core/service"
	mongodb "github.com/99minutos/portal-auth/internal/infrastructure/db/mongo"
	redisdb "github.com/99minutos/portal-auth/internal/infrastructure/db/redis"
	"github.com/99minutos/portal-auth/internal/infrastructure/queue"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the auth state to the UI over HTTP",
		Long: `Start the HTTP service. It restores the persisted session, keeps it
refreshed, records every auth transition in the audit trail and pushes state
changes to websocket clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	// Workers outlive ctx so events from the final sign-out still drain.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	var auditSvc ports.AuditService
	var mongoPing func(context.Context) error
	if a.cfg.Audit.Enabled {
		mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
			URI:      a.cfg.Mongo.URI,
			Database: a.cfg.Mongo.Database,
			AppName:  "portal-auth",
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := mongodb.Disconnect(context.Background(), mongoClient); err != nil {
				log.Warn().Err(err).Msg("closing mongo")
			}
		}()
		mongoPing = func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) }

		repo := mongodb.NewAuditRepository(db)
		if err := repo.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("could not ensure audit indexes")
		}
		auditSvc = service.NewAuditService(repo, redisdb.NewDedupChecker(a.rdb), log)
		dispatcher := queue.NewDispatcher(a.cfg.Audit.Workers, auditSvc, log)
		dispatcher.Start(workerCtx)
		defer func() {
			stopWorkers()
			dispatcher.Wait()
		}()

		// Registered before Initialize so the restored session is audited.
		unsubscribe := a.client.OnAuthStateChange(queue.NewAuditListener(dispatcher).Listener())
		defer unsubscribe()
	}

	state := service.NewAuthState(a.client, log)
	if err := state.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("starting without a session")
	}

	if a.cfg.Backend.AutoRefresh {
		go a.client.RunAutoRefresh(ctx, 0)
	}

	e := api.NewRouter(api.Dependencies{
		State: state,
		Auth:  a.client,
		Audit: auditSvc,
		Checks: readinessChecks(
			func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
			mongoPing,
		),
		Log: log,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", a.cfg.Port).Msg("http server listening")
		if err := e.Start(":" + a.cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}

	state.Close()
	return nil
}

// readinessChecks lists the dependencies /health/ready pings. Mongo backs only
// the audit trail, so a nil mongoPing leaves it out.
func readinessChecks(redisPing, mongoPing func(context.Context) error) []handler.Check {
	checks := []handler.Check{{Name: "redis", Ping: redisPing}}
	if mongoPing != nil {
		checks = append(checks, handler.Check{Name: "mongodb", Ping: mongoPing})
	}
	return checks
}
