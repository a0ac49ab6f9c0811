// Worker purges expired action tokens and one-time codes every CLEANUP_INTERVAL.
// It reads the same environment as the server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"credential-lifecycle/backend/internal/app"
	"credential-lifecycle/backend/internal/cleanup"
	"credential-lifecycle/backend/internal/config"
	"credential-lifecycle/backend/internal/db"
	otelsetup "credential-lifecycle/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	a, err := app.New(cfg, app.Infra{
		DB:      database,
		Tracer:  providers.Tracer(),
		Meter:   providers.Meter(),
		Emitter: providers.EventEmitter(),
	})
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	sweeper := cleanup.NewSweeper(
		cleanup.Task{Name: "action_tokens", Purge: a.ActionTokens.PurgeExpired},
		cleanup.Task{Name: "mfa_codes", Purge: a.Methods.ClearExpiredCodes},
	)

	log.Printf("worker: sweeping every %s", cfg.CleanupInterval)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx, cfg.CleanupInterval)
	})
	if err := g.Wait(); err != nil {
		log.Printf("worker: %v", err)
	}
	log.Println("worker: stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
}
