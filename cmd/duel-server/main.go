package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	appcfg "github.com/park285/code-duel/internal/config"
	"github.com/park285/code-duel/internal/bus"
	"github.com/park285/code-duel/internal/coordinator"
	"github.com/park285/code-duel/internal/duel"
	"github.com/park285/code-duel/internal/expiry"
	"github.com/park285/code-duel/internal/gateway"
	"github.com/park285/code-duel/internal/judge"
	"github.com/park285/code-duel/internal/msgcat"
	"github.com/park285/code-duel/internal/notify"
	"github.com/park285/code-duel/internal/obslog"
	"github.com/park285/code-duel/internal/problem"
	"github.com/park285/code-duel/internal/review"
	"go.uber.org/zap"
)

func main() {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := duel.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis_init_error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	catalog, err := msgcat.New(cfg.MessageOverrideDir)
	if err != nil {
		logger.Fatal("msgcat_init_error", zap.Error(err))
	}

	// Problems and results live in Postgres when configured; otherwise the
	// embedded catalog is served from memory and results are not archived.
	var (
		problems problem.Repository
		archive  *duel.Archive
		db       *sql.DB
	)
	seed, err := problem.LoadSeed(cfg.ProblemSeedFile)
	if err != nil {
		logger.Fatal("problem_seed_error", zap.Error(err))
	}
	if cfg.DatabaseURL != "" {
		db, err = problem.OpenDB(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db_init_error", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		repo := problem.NewPostgresRepository(db)
		if cfg.ProblemSeedFile != "" {
			if err := problem.Seed(ctx, repo, seed); err != nil {
				logger.Fatal("problem_seed_error", zap.Error(err))
			}
		}
		problems = repo
		if archive, err = duel.NewArchiveFromDB(db); err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
	} else {
		repo := problem.NewMemoryRepository()
		if err := problem.Seed(ctx, repo, seed); err != nil {
			logger.Fatal("problem_seed_error", zap.Error(err))
		}
		problems = repo
	}

	events, err := newBus(cfg)
	if err != nil {
		logger.Fatal("bus_init_error", zap.Error(err))
	}
	defer func() { _ = events.Close() }()

	store := duel.NewStore(rdb)
	channel := notify.NewChannel(rdb)

	var expArchive expiry.Archiver
	coordOpts := []coordinator.Option{coordinator.WithEvents(events)}
	if archive != nil {
		expArchive = archive
		coordOpts = append(coordOpts, coordinator.WithArchive(archive))
	}

	timer := expiry.NewTimer(rdb, store, channel, expArchive)
	defer timer.Close()
	if n, err := timer.Rearm(ctx); err != nil {
		logger.Warn("timer_rearm_error", zap.Error(err))
	} else if n > 0 {
		logger.Info("timer_rearmed", zap.Int("count", n))
	}

	sweeper := expiry.NewSweeper(store, channel, expArchive, cfg.SweepInterval)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("sweep_start_error", zap.Error(err))
	}
	defer func() { _ = sweeper.Stop() }()

	coord := coordinator.New(store, channel, timer, coordOpts...)
	if err := coord.Register(events); err != nil {
		logger.Fatal("coordinator_register_error", zap.Error(err))
	}

	piston := judge.NewPistonClient(cfg.PistonURL,
		judge.WithLimits(cfg.PistonRunTimeout, cfg.PistonCompileLimit),
		judge.WithRetry(cfg.PistonRetry),
	)
	eval := judge.NewEvaluator(store, problems, piston,
		judge.WithCasePause(cfg.JudgeCasePause),
		judge.WithCatalog(catalog),
	)
	if err := judge.NewWorker(eval, events).Register(events); err != nil {
		logger.Fatal("judge_register_error", zap.Error(err))
	}

	var gen review.Generator
	if cfg.GeminiAPIKey != "" {
		gen = review.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiAPIKey)
	} else {
		logger.Info("review_fallback_only", zap.String("reason", "GEMINI_API_KEY not set"))
	}
	if err := review.New(gen, channel, review.WithCatalog(catalog)).Register(events); err != nil {
		logger.Fatal("review_register_error", zap.Error(err))
	}

	handlers := gateway.New(store, problems, events, channel, catalog, gateway.Options{
		AllowedDurations: cfg.AllowedDurations,
		DefaultDuration:  cfg.DefaultDuration,
		Health: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			if db != nil {
				return db.PingContext(ctx)
			}
			return nil
		},
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.String("bus", cfg.BusDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
	if mb, ok := events.(*bus.MemoryBus); ok {
		mb.Drain()
	}
}

func newBus(cfg *appcfg.AppConfig) (bus.Bus, error) {
	if cfg.BusDriver == appcfg.BusAMQP {
		return bus.NewAMQPBus(cfg.AMQPURL)
	}
	return bus.NewMemoryBus(), nil
}
