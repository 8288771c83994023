// Package broker wraps segmentio/kafka-go with the two pieces this system
// needs: a keyed publisher and a consumer container that owns retry,
// backoff, and dead-letter forwarding for its handlers.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes events keyed by job id. The hash balancer pins every
// message for one key to one partition, which keeps per-job ordering as
// long as partition counts are stable.
type Publisher struct {
	writer  *kafka.Writer
	timeout time.Duration
}

// NewPublisher builds a writer against the given brokers.
func NewPublisher(brokers []string, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
			Async:        false,
		},
		timeout: timeout,
	}
}

// Publish writes one message under a bounded timeout so a broker outage
// surfaces as an error instead of hanging the caller.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
