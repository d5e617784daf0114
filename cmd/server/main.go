package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"turnopos/internal/config"
	"turnopos/internal/guard"
	"turnopos/internal/infra"
	"turnopos/internal/repository"
	"turnopos/internal/router"
	"turnopos/internal/service"
	"turnopos/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// @title TurnoPOS Cajas API
// @version 1.0
// @description Ledger de cajas por sucursal: apertura, movimientos, arqueo y cierre.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ────────────────────────────────────────────────────────────────
	var (
		db   *gorm.DB
		repo repository.CajaRepository
	)
	switch cfg.Store {
	case "memory":
		log.Warn().Msg("STORE=memory: ledger is not persisted")
		repo = repository.NewMemoryCajaRepository()
	default:
		db, err = infra.NewDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		repo = repository.NewCajaRepository(db)
	}

	// Redis backs the billing queue; the memory demo runs without it.
	var rdb *redis.Client
	rdb, err = infra.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		if cfg.Store != "memory" {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		log.Warn().Err(err).Msg("redis unavailable: invoice payments are processed inline")
	}

	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is empty: tokens are signed with an empty key")
	}

	// ── Services ─────────────────────────────────────────────────────────────
	metrics := infra.NewMetrics()
	cajaSvc := service.NewCajaService(repo, guard.New(), metrics, service.CajaOptions{
		DesvioCriticoRequiereObservaciones: cfg.CriticalVarianceRequiresNotes,
		LockTimeout:                        cfg.LockTimeout,
	})
	pagosSvc := service.NewPagoFacturaService(cajaSvc, repo, metrics)
	breaker := infra.NewCircuitBreaker("ledger-store", infra.DefaultCBConfig())

	r := router.New(cfg, router.Deps{
		DB:      db,
		Redis:   rdb,
		Cajas:   cajaSvc,
		Pagos:   pagosSvc,
		Metrics: metrics,
		Breaker: breaker,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("turnopos cajas listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	// Graceful shutdown on SIGINT / SIGTERM or when any component fails
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if rdb != nil {
		pagoWorker := worker.NewPagoFacturaWorker(pagosSvc, breaker)
		handlers := worker.WorkerHandlers{worker.JobPagoFactura: pagoWorker.Handle}
		g.Go(func() error {
			return worker.RunWorkerPool(gctx, rdb, handlers, cfg.WorkerPoolSize)
		})
	}

	g.Go(func() error {
		return worker.RunAuditCron(gctx, cajaSvc, cfg.AuditInterval)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exited with error")
	}

	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	log.Info().Msg("server exited")
}

// setupLogger: dev pretty console, prod JSON.
func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "cajas").Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
