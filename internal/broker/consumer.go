package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/joeylife94/asgard-sub000/internal/events"
	"github.com/joeylife94/asgard-sub000/internal/telemetry"
)

// Handler processes one message. Returning an error triggers the
// container's retry; wrapping it in events.ErrMalformed (or returning a
// Permanent error) skips retry and goes straight to the dead-letter topic.
type Handler func(ctx context.Context, msg kafka.Message) error

// permanentError marks a handler failure that redelivery cannot fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer dead-letters the message without
// burning redelivery attempts on it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe) || errors.Is(err, events.ErrMalformed)
}

// ConsumerConfig wires one topic subscription to a handler.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	DLQTopic      string
	MaxDeliveries int
	Backoff       time.Duration
	Handler       Handler
	Logger        *slog.Logger
}

// dlqPublisher is the slice of Publisher the consumer forwards through.
type dlqPublisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Consumer is the per-topic container: it fetches with manual commits,
// retries transient handler failures with capped backoff, and forwards
// exhausted or malformed messages to the dead-letter topic before
// committing the offset. Handlers never manage delivery themselves.
type Consumer struct {
	cfg    ConsumerConfig
	reader *kafka.Reader
	dlq    dlqPublisher
	log    *slog.Logger
}

// NewConsumer builds a consumer-group reader for cfg.Topic. The dlq
// publisher may be shared across consumers.
func NewConsumer(cfg ConsumerConfig, dlq *Publisher) *Consumer {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		cfg: cfg,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // explicit commits only
		}),
		log: logger.With("component", "consumer", "topic", cfg.Topic),
	}
	if dlq != nil {
		c.dlq = dlq
	}
	return c
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}

		if err := c.deliver(ctx, msg); err != nil {
			if dlErr := c.deadLetter(ctx, msg, err); dlErr != nil {
				// Committing here would drop a message that was neither
				// processed nor dead-lettered. Stop instead; the restarted
				// reader re-fetches from the last committed offset.
				return fmt.Errorf("dead-letter %s partition=%d offset=%d: %w",
					msg.Topic, msg.Partition, msg.Offset, dlErr)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("commit failed", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// deliver runs the handler up to MaxDeliveries times. A nil return means
// the message was processed; a non-nil return means it must be dead-lettered.
func (c *Consumer) deliver(ctx context.Context, msg kafka.Message) error {
	var err error
	for attempt := 1; attempt <= c.cfg.MaxDeliveries; attempt++ {
		err = c.cfg.Handler(ctx, msg)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return err
		}
		c.log.Warn("handler failed, will retry",
			"partition", msg.Partition, "offset", msg.Offset, "attempt", attempt, "error", err)
		telemetry.ConsumerRetries.Inc()

		if attempt < c.cfg.MaxDeliveries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Backoff * time.Duration(attempt)):
			}
		}
	}
	return err
}

// deadLetter publishes the failed message to the DLQ topic, preserving the
// original coordinates so operators can trace it back. A non-nil return
// means the message is neither processed nor forwarded and its offset must
// not be committed.
func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if errors.Is(cause, events.ErrMalformed) {
		telemetry.MalformedEvents.Inc()
	}
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		c.log.Error("message dropped, no dlq configured",
			"partition", msg.Partition, "offset", msg.Offset, "error", cause)
		return nil
	}

	ev := events.DeadLetterEvent{
		SchemaVersion:     events.SchemaVersion,
		ErrorCode:         "CONSUMER_FAILED",
		ErrorMessage:      cause.Error(),
		OriginalTopic:     msg.Topic,
		OriginalPartition: msg.Partition,
		OriginalOffset:    msg.Offset,
		FailedAt:          time.Now().UTC(),
	}
	if errors.Is(cause, events.ErrMalformed) {
		ev.ErrorCode = "MALFORMED_EVENT"
	}

	// Best-effort extraction of job identity from the failed payload.
	var probe struct {
		JobID          *uuid.UUID `json:"job_id"`
		IdempotencyKey string     `json:"idempotency_key"`
		TraceID        string     `json:"trace_id"`
	}
	if json.Unmarshal(msg.Value, &probe) == nil {
		ev.JobID = probe.JobID
		ev.IdempotencyKey = probe.IdempotencyKey
		ev.TraceID = probe.TraceID
	}
	var payload map[string]any
	if json.Unmarshal(msg.Value, &payload) == nil {
		ev.Payload = payload
	} else {
		ev.Payload = map[string]any{"raw": string(msg.Value)}
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	key := msg.Key
	if key == nil && ev.JobID != nil {
		key = []byte(ev.JobID.String())
	}
	if err := c.dlq.Publish(ctx, c.cfg.DLQTopic, key, raw); err != nil {
		c.log.Error("dead-letter publish failed",
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
		return err
	}
	return nil
}
