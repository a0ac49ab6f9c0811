package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"

	"credential-lifecycle/backend/internal/app"
	"credential-lifecycle/backend/internal/config"
	"credential-lifecycle/backend/internal/db"
	"credential-lifecycle/backend/internal/ephemeral"
	"credential-lifecycle/backend/internal/health"
	"credential-lifecycle/backend/internal/server"
	"credential-lifecycle/backend/internal/server/interceptors"
	"credential-lifecycle/backend/internal/telemetry"
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

	var states ephemeral.Backend
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		states = ephemeral.NewRedisBackend(rdb, "")
	} else {
		log.Println("ephemeral: REDIS_ADDR not set, using in-process memory")
		states = ephemeral.NewMemoryBackend()
	}

	emitter := providers.EventEmitter()
	// The credential services are built here so a bad key or config fails at startup. No RPC routes
	// to a.MFA or a.ActionTokens yet; callers embed internal/app, and this binary serves health only.
	a, err := app.New(cfg, app.Infra{
		DB:          database,
		States:      states,
		Tracer:      providers.Tracer(),
		Meter:       providers.Meter(),
		Emitter:     emitter,
		IPExtractor: interceptors.ClientIP,
	})
	if err != nil {
		log.Fatalf("app: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}

	healthSrv := grpchealth.NewServer()
	checker := health.NewChecker(healthSrv, map[string]health.Pinger{"postgres": database, "ephemeral": a.States})
	s := server.NewGRPCServer(server.Deps{Health: healthSrv, Emitter: emitter})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		checker.Run(gctx, health.DefaultInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down gRPC server...")
		s.GracefulStop()
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("serve: %v", err)
	}
	log.Println("gRPC server stopped")

	// Let in-flight async emits finish before the exporters shut down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry: shutdown: %v", err)
	}
}
