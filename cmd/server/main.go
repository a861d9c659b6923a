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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/logitest/attempt-service/internal/config"
	"github.com/logitest/attempt-service/internal/database"
	"github.com/logitest/attempt-service/internal/grading"
	"github.com/logitest/attempt-service/internal/handler"
	"github.com/logitest/attempt-service/internal/logger"
	"github.com/logitest/attempt-service/internal/middleware"
	"github.com/logitest/attempt-service/internal/observability"
	"github.com/logitest/attempt-service/internal/repository"
	"github.com/logitest/attempt-service/internal/router"
	"github.com/logitest/attempt-service/internal/service"
	"github.com/logitest/attempt-service/internal/validator"
	"github.com/logitest/attempt-service/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("start_policy", string(cfg.StartPolicy)).
		Msg("Starting attempt service")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Tracing ───────────────────────────────────────────────────────
	shutdownTracing, err := observability.InitTracing(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize tracing")
	}

	// ─── Grading Policy ────────────────────────────────────────────────
	policy, err := config.LoadGradingPolicy(cfg.GradingConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load grading policy")
	}
	log.Info().
		Float64("correct", policy.CorrectWeight).
		Float64("half_correct", policy.HalfCorrectWeight).
		Float64("reversed", policy.ReversedWeight).
		Msg("Grading policy loaded")

	// ─── Storage ───────────────────────────────────────────────────────
	st, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer st.close()

	// ─── Initialize Services ──────────────────────────────────────────
	var publisher service.FinalizationPublisher = service.NoopPublisher{}
	if st.rdb != nil {
		publisher = service.NewRedisFinalizationPublisher(st.rdb)
	}

	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)
	attemptService := service.NewAttemptService(
		st.attempts,
		st.bank,
		grading.NewEngine(policy),
		publisher,
		service.AttemptOptions{StartPolicy: cfg.StartPolicy, AllowRetake: cfg.AllowRetake},
		log,
	)
	resultsService := service.NewResultsService(st.attempts, st.bank, log)

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Load active tests into Redis BEFORE accepting traffic so the first
	// wave of starts does not stampede the database.
	if st.cache != nil {
		if err := st.cache.PrewarmActiveTests(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache prewarm failed")
		}
	}

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Attempt: handler.NewAttemptHandler(attemptService, resultsService, log),
		WS:      handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		System:  handler.NewSystemHandler(st.rdb, st.checks, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	startLimiter := middleware.NewRateLimiter(cfg.StartRateLimit, time.Minute)
	workers.Add(1)
	go func() {
		defer workers.Done()
		startLimiter.Run(workerCtx)
	}()

	if cfg.ReaperEnabled {
		reaper := worker.NewReaperWorker(attemptService, cfg.ReaperInterval, cfg.ReaperIdleGrace, cfg.ReaperBatchSize, log)
		workers.Add(1)
		go func() {
			defer workers.Done()
			reaper.Start(workerCtx)
		}()
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(handlers, router.Deps{
		Auth:         authService,
		StartLimiter: startLimiter,
		Log:          log,
	}, cfg)

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

	// 2. Stop background workers; a reap in flight finishes its attempt.
	workerCancel()
	workers.Wait()

	// 3. Flush spans.
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Tracing shutdown error")
	}

	log.Info().Msg("Shutdown complete")
}

// storage is everything the services read from and write to.
type storage struct {
	attempts repository.AttemptStore
	bank     repository.QuestionBank
	cache    *repository.CachedQuestionBank
	pool     *pgxpool.Pool
	rdb      *redis.Client
	checks   []handler.HealthCheck
}

func (s *storage) close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// openStorage wires the configured store driver. The postgres driver needs
// Redis; the memory driver treats it as optional.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*storage, error) {
	st := &storage{}

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		if cfg.QuestionBankFile == "" {
			return nil, errors.New("QUESTION_BANK_FILE is required with STORE_DRIVER=memory")
		}
		bank, err := repository.LoadQuestionBankFile(cfg.QuestionBankFile)
		if err != nil {
			return nil, err
		}
		st.attempts = repository.NewMemoryAttemptStore()
		st.bank = bank
		log.Warn().Str("file", cfg.QuestionBankFile).Msg("Using in-memory attempt store; attempts are lost on restart")

	default:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		st.pool = pool
		st.attempts = repository.NewPostgresAttemptStore(pool)
		st.bank = repository.NewQuestionBankRepository(pool)
		st.checks = append(st.checks, handler.HealthCheck{Name: "postgres", Check: pool.Ping})
	}

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		if cfg.StoreDriver != config.StoreDriverMemory {
			st.close()
			return nil, err
		}
		log.Warn().Err(err).Msg("Redis unavailable; question cache and finalized queue disabled")
		return st, nil
	}
	st.rdb = rdb
	st.cache = repository.NewCachedQuestionBank(st.bank, rdb, cfg.QuestionCacheTTL, log)
	st.bank = st.cache
	st.checks = append(st.checks, handler.HealthCheck{
		Name:  "redis",
		Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	return st, nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
