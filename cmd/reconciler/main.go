package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"

	"github.com/joeylife94/asgard-sub000/internal/broker"
	"github.com/joeylife94/asgard-sub000/internal/config"
	"github.com/joeylife94/asgard-sub000/internal/reconcile"
	"github.com/joeylife94/asgard-sub000/internal/store"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil && err != context.Canceled {
		logger.Error("reconciler exited", "error", err)
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

	dlqPublisher := broker.NewPublisher(cfg.KafkaBrokers, cfg.PublishTimeout)
	defer dlqPublisher.Close()

	results := reconcile.NewResultReconciler(st, nil, logger)
	deadLetters := reconcile.NewDeadLetterReconciler(st, logger)

	resultConsumer := broker.NewConsumer(broker.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.ResultsTopic,
		GroupID:       cfg.ConsumerGroup,
		DLQTopic:      cfg.DLQTopic,
		MaxDeliveries: cfg.MaxDeliveries,
		Backoff:       cfg.ConsumerBackoff,
		Logger:        logger,
		Handler: func(ctx context.Context, msg kafka.Message) error {
			return results.Handle(ctx, msg.Value)
		},
	}, dlqPublisher)

	// The DLQ consumer has no onward dead-letter target: exhausted
	// messages are logged and dropped instead of looping back onto the
	// same topic.
	dlqConsumer := broker.NewConsumer(broker.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.DLQTopic,
		GroupID:       cfg.ConsumerGroup,
		MaxDeliveries: cfg.MaxDeliveries,
		Backoff:       cfg.ConsumerBackoff,
		Logger:        logger,
		Handler: func(ctx context.Context, msg kafka.Message) error {
			return deadLetters.Handle(ctx, msg.Value)
		},
	}, nil)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- resultConsumer.Run(ctx) }()
	go func() { errCh <- dlqConsumer.Run(ctx) }()

	logger.Info("reconciler started",
		"results_topic", cfg.ResultsTopic, "dlq_topic", cfg.DLQTopic, "group", cfg.ConsumerGroup)

	err = <-errCh
	cancel()
	<-errCh
	return err
}
