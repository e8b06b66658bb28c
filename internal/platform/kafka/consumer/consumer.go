// Package consumer provides a consumer-group poll loop with at-least-once
// delivery: records are marked for commit only after the handler accepts
// them, so a handler error leads to redelivery rather than a silent drop.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"blogguard/internal/platform/config"
)

// Message is one consumed record, decoupled from the broker client so
// handlers stay testable without a running broker.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes a consumed message. Returning an error leaves the record
// uncommitted; the broker redelivers it after the group rebalances.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Group runs one consumer group over a set of topics.
type Group struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger

	// retryBackoff paces the loop after a handler error so a persistently
	// failing store does not spin the CPU.
	retryBackoff time.Duration
}

// NewGroup joins the configured consumer group on the given topics.
func NewGroup(cfg config.KafkaConfig, topics []string, handler Handler, logger *slog.Logger) (*Group, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(topics...),
		kgo.AutoCommitMarks(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Group{
		client:       client,
		handler:      handler,
		logger:       logger,
		retryBackoff: time.Second,
	}, nil
}

// Run polls until the context is cancelled. A failing record is retried in
// place until the handler accepts it: polling must never move past an
// unmarked record, because with AutoCommitMarks a later marked offset
// commits over the earlier failure and the record is lost for good.
func (g *Group) Run(ctx context.Context) error {
	defer g.client.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches := g.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			g.logger.Error("kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		var recs []*kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			recs = append(recs, rec)
		})

		for _, rec := range recs {
			msg := &Message{
				Topic:     rec.Topic,
				Key:       rec.Key,
				Value:     rec.Value,
				Timestamp: rec.Timestamp,
			}
			if err := g.handleWithRetry(ctx, msg); err != nil {
				return err
			}
			g.client.MarkCommitRecords(rec)
		}
	}
}

// handleWithRetry delivers one message, retrying with backoff for as long as
// the handler keeps failing. Returns only the context error: a persistently
// failing store blocks the partition rather than skipping records.
func (g *Group) handleWithRetry(ctx context.Context, msg *Message) error {
	for {
		err := g.handler.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		g.logger.Error("message handling failed, retrying",
			"topic", msg.Topic,
			"key", string(msg.Key),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.retryBackoff):
		}
	}
}
