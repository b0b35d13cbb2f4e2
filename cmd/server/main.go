package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/techassess/internal/config"
	"github.com/stemsi/techassess/internal/content"
	"github.com/stemsi/techassess/internal/database"
	"github.com/stemsi/techassess/internal/handler"
	"github.com/stemsi/techassess/internal/logger"
	"github.com/stemsi/techassess/internal/repository"
	"github.com/stemsi/techassess/internal/router"
	"github.com/stemsi/techassess/internal/service"
	"github.com/stemsi/techassess/internal/validator"
	"github.com/stemsi/techassess/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting assessment server")

	if cfg.AdminPasswordHash == "" {
		log.Warn().Msg("ADMIN_PASSWORD_HASH is not set; reviewer login is disabled")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	// ─── Load Assessment Content ───────────────────────────────────────
	assessment, err := content.Load(cfg.ContentPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.ContentPath).Msg("Failed to load assessment content")
	}
	log.Info().
		Str("title", assessment.Title).
		Int("duration_minutes", assessment.DurationMinutes).
		Msg("Assessment loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	sessionRepo := repository.NewSessionRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)
	submissionRepo := repository.NewSubmissionRepository(pool)
	sessionCache := repository.NewSessionCache(rdb, cfg.StartCacheTTL)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	executorService := service.NewExecutorService(cfg.ExecutorURL, cfg.ExecutorTimeout, log)
	sessionService := service.NewSessionService(
		sessionRepo,
		progressRepo,
		submissionRepo,
		sessionCache,
		executorService,
		assessment,
		cfg.SubmitGrace,
		log,
	)

	// ─── Initialize Handlers ───────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Session: handler.NewSessionHandler(sessionService),
		Admin:   handler.NewAdminHandler(sessionService),
		Monitor: handler.NewMonitorHandler(rdb, sessionService, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	for _, start := range []func(context.Context){
		worker.NewProgressWorker(pool, rdb, log).Start,
		worker.NewTabSwitchWorker(pool, rdb, log).Start,
		worker.NewExpiryWorker(pool, sessionCache, cfg.ExpirySweep, cfg.SubmitGrace, log).Start,
	} {
		workers.Add(1)
		go func() {
			defer workers.Done()
			start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r, limiter := router.SetupRouter(authService, handlers, cfg)
	defer limiter.Stop()

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; each flushes its pending batch first.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
