package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joeylife94/asgard-sub000/internal/api"
	"github.com/joeylife94/asgard-sub000/internal/audit"
	"github.com/joeylife94/asgard-sub000/internal/breaker"
	"github.com/joeylife94/asgard-sub000/internal/broker"
	"github.com/joeylife94/asgard-sub000/internal/config"
	"github.com/joeylife94/asgard-sub000/internal/orchestrator"
	"github.com/joeylife94/asgard-sub000/internal/ratelimit"
	"github.com/joeylife94/asgard-sub000/internal/store"
	"github.com/joeylife94/asgard-sub000/internal/workerclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		return err
	}

	publisher := broker.NewPublisher(cfg.KafkaBrokers, cfg.PublishTimeout)
	defer publisher.Close()

	orch := orchestrator.New(st, st, publisher, cfg.RequestsTopic, cfg.MaxAttempts, logger)

	// The audit log itself backs the redrive limit; Redis takes over when
	// configured so replicas share one budget.
	var limiter audit.Limiter = audit.NewLogCountLimiter(st, cfg.RedriveLimit, cfg.RedriveWindow)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = audit.NewRedisLimiter(ratelimit.NewSlidingWindow(client, cfg.RedriveLimit, cfg.RedriveWindow))
		logger.Info("redrive limiter backed by redis", "addr", cfg.RedisAddr)
	}
	redriver := audit.NewRedriver(orch.Redrive, st, limiter, logger)

	worker := workerclient.New(cfg.WorkerBaseURL, cfg.WorkerTimeout,
		breaker.New("analysis-worker", cfg.BreakerFailures, cfg.BreakerCooldown))

	server := api.New(cfg, st, orch, redriver, worker, logger)
	httpServer := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "port", cfg.HTTPPort)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
