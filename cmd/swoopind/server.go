package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atharva20-coder/swoopin-engine/automation/engine"
	"github.com/atharva20-coder/swoopin-engine/automation/quotastore"
	"github.com/atharva20-coder/swoopin-engine/intake"
	"github.com/atharva20-coder/swoopin-engine/jobqueue"
	"github.com/atharva20-coder/swoopin-engine/platform"
	"github.com/atharva20-coder/swoopin-engine/scheduler"
	"github.com/atharva20-coder/swoopin-engine/store"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Logger          *slog.Logger
	DatabaseURL     string
	MaxDBConns      int
	RedisURL        string
	Bind            string
	MetricsListen   string
	WebhookSecret   string
	VerifyToken     string
	PlatformAPIHost string
	OpenAIAPIKey    string
	Workers         int
}

type Server struct {
	cfg        Config
	logger     *slog.Logger
	intake     *intake.Server
	dispatcher *jobqueue.Dispatcher
	scheduler  *scheduler.Scheduler
}

func NewServer(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.SetupDatabase(cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		return nil, err
	}
	models := append(store.AllModels(), &jobqueue.GormJob{}, &quotastore.UsageCounter{})
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	st := store.NewStore(db, logger)

	var rdb *redis.Client
	var quotas quotastore.QuotaStore
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		quotas, err = quotastore.NewRedisQuotaStore(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		logger.Info("using redis quota counters", "url", cfg.RedisURL)
	} else {
		quotas = quotastore.NewGormQuotaStore(db)
		logger.Info("using database quota counters")
	}

	messenger := platform.NewClient(cfg.PlatformAPIHost, logger)

	var ai platform.AIResponder
	if cfg.OpenAIAPIKey != "" {
		ai = platform.NewOpenAIResponder(cfg.OpenAIAPIKey)
	}

	queue := jobqueue.NewGormstore(db)
	eng := engine.New(logger, st, quotas, messenger, ai, queue)
	dispatcher := jobqueue.NewDispatcher(queue, cfg.Workers, time.Second, eng.ProcessJob, logger)

	ingester := intake.NewIngester(logger, queue, st, rdb, cfg.WebhookSecret)
	intakeSrv := intake.NewServer(logger, ingester, cfg.VerifyToken)

	sched := scheduler.New(logger, st, quotas, messenger)

	return &Server{
		cfg:        cfg,
		logger:     logger,
		intake:     intakeSrv,
		dispatcher: dispatcher,
		scheduler:  sched,
	}, nil
}

// Run starts the webhook server, the job dispatcher, the scheduled post
// sweep, and the metrics listener, then blocks until a shutdown signal.
func (srv *Server) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 4)

	go func() {
		if err := srv.RunMetrics(srv.cfg.MetricsListen); err != nil {
			errCh <- fmt.Errorf("metrics listener: %w", err)
		}
	}()
	go func() {
		if err := srv.intake.Start(srv.cfg.Bind); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()
	go func() {
		if err := srv.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	go func() {
		if err := srv.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		srv.logger.Info("shutting down", "signal", s.String())
	}

	// stop accepting new deliveries first, then let the workers drain
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.intake.Shutdown(shutdownCtx); err != nil {
		srv.logger.Error("webhook server shutdown", "err", err)
	}
	cancel()
	return nil
}

func (srv *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}
