// Package producer publishes security messages to the broker at the
// destination chosen by the router. Publishing is best-effort from the
// business caller's perspective: transport errors are logged and counted,
// never allowed to fail the triggering operation.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blogguard/internal/security"
	"blogguard/pkg/requestcontext"
)

var (
	publishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogguard_security_messages_published_total",
		Help: "Security messages published, by destination topic",
	}, []string{"topic"})

	publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogguard_security_publish_failures_total",
		Help: "Security message publish failures, by destination topic",
	}, []string{"topic"})

	asyncDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogguard_security_async_dropped_total",
		Help: "Async security messages dropped because the buffer was full",
	})

	publishDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "blogguard_security_publish_duration_seconds",
		Help:    "Latency of broker publishes",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

// Broker is the transport the producer publishes through.
type Broker interface {
	Produce(ctx context.Context, topic, key string, value []byte) error
}

// Producer serializes messages and sends them to their routed destination.
type Producer struct {
	broker  Broker
	logger  *slog.Logger
	timeout time.Duration

	inbox chan *security.Message
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closing bool
}

// Option configures the Producer.
type Option func(*Producer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Producer) { p.logger = logger }
}

// WithTimeout bounds each broker publish.
func WithTimeout(d time.Duration) Option {
	return func(p *Producer) { p.timeout = d }
}

// WithAsyncBuffer enables the background worker with the given inbox size.
// Without it, PublishAsync falls back to a synchronous publish.
func WithAsyncBuffer(size int) Option {
	return func(p *Producer) {
		if size > 0 {
			p.inbox = make(chan *security.Message, size)
		}
	}
}

// New creates a Producer. Close must be called to drain the async inbox.
func New(broker Broker, opts ...Option) *Producer {
	p := &Producer{
		broker:  broker,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Publish routes, serializes and sends one message synchronously. The error
// return exists for strict capture mode and tests; ordinary callers ignore
// it, and the failure is already logged and counted here.
func (p *Producer) Publish(ctx context.Context, msg *security.Message) error {
	dest := security.Route(msg)

	if err := msg.Validate(); err != nil {
		publishFailures.WithLabelValues(dest.Topic).Inc()
		p.logger.Error("invalid security message dropped",
			"topic", dest.Topic,
			"operation", msg.Operation,
			"error", err,
		)
		return fmt.Errorf("validate message: %w", err)
	}

	value, err := json.Marshal(msg)
	if err != nil {
		publishFailures.WithLabelValues(dest.Topic).Inc()
		p.logger.Error("security message marshal failed",
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	if err := p.broker.Produce(ctx, dest.Topic, dest.Key, value); err != nil {
		publishFailures.WithLabelValues(dest.Topic).Inc()
		p.logger.Error("security message publish failed",
			"topic", dest.Topic,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	publishDuration.Observe(time.Since(start).Seconds())
	publishedTotal.WithLabelValues(dest.Topic).Inc()
	return nil
}

// PublishAsync hands the message to the background worker without blocking
// the caller. A full inbox drops the message with a log line and counter
// bump; losing an audit record beats stalling the business request.
func (p *Producer) PublishAsync(msg *security.Message) {
	p.mu.RLock()
	if p.closing || p.inbox == nil {
		p.mu.RUnlock()
		_ = p.Publish(context.Background(), msg)
		return
	}
	defer p.mu.RUnlock()

	select {
	case p.inbox <- msg:
	default:
		asyncDropped.Inc()
		p.logger.Warn("async audit buffer full, message dropped",
			"message_id", msg.ID,
			"operation", msg.Operation,
		)
	}
}

// PublishSecurityEvent synthesizes and publishes a security event enriched
// with the ambient network context. Best-effort: errors are logged inside
// Publish and not returned.
func (p *Producer) PublishSecurityEvent(ctx context.Context, eventType string, severity int, description string) {
	msg := security.NewSecurityEvent(eventType, severity, description)
	msg.ActorID = requestcontext.ActorID(ctx)
	msg.ActorName = requestcontext.ActorName(ctx)
	msg.RequestID = requestcontext.RequestID(ctx)
	msg.SourceIP = requestcontext.ClientIP(ctx)
	msg.UserAgent = requestcontext.UserAgent(ctx)
	_ = p.Publish(ctx, msg)
}

func (p *Producer) worker() {
	defer p.wg.Done()
	for msg := range p.inbox {
		_ = p.Publish(context.Background(), msg)
	}
}

// Close drains the async inbox and stops the worker. Messages enqueued
// before Close are published best-effort; PublishAsync calls racing Close
// degrade to synchronous publishes.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.closing = true
	p.mu.Unlock()

	if p.inbox != nil {
		close(p.inbox)
		p.wg.Wait()
	}
}
