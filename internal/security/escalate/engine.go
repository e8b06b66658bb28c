// Package escalate aggregates low-level failure messages into security
// events. Counters live in an external store with a sliding-window TTL so
// detection state survives restarts and is shared across instances.
//
// Dedup policy: a rule fires exactly when its counter reaches the threshold.
// The counter is not reset on escalation; increments beyond the threshold
// within the same window stay silent, and window expiry re-arms detection.
// Exact-match gating is race-safe because the increment is atomic — only one
// concurrent caller can observe the threshold value.
package escalate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blogguard/internal/security"
)

var escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "blogguard_escalations_total",
	Help: "Security events synthesized by the escalation engine, by event type",
}, []string{"event_type"})

// CounterStore is the shared failure-counter backend. IncrementWithExpiry
// must be atomic across concurrent callers: two concurrent failures must
// never observe the same value.
type CounterStore interface {
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Publisher sends synthesized events back into the pipeline.
type Publisher interface {
	Publish(ctx context.Context, msg *security.Message) error
}

// Engine evaluates qualifying messages against its rules.
type Engine struct {
	counters  CounterStore
	publisher Publisher
	rules     []Rule
	logger    *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRules replaces the default rule set.
func WithRules(rules []Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

// New creates an escalation engine.
func New(counters CounterStore, publisher Publisher, opts ...Option) (*Engine, error) {
	if counters == nil {
		return nil, errors.New("counter store is required")
	}
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	e := &Engine{
		counters:  counters,
		publisher: publisher,
		rules:     DefaultRules(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, r := range e.rules {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Observe feeds one message through the rules. Counter-store errors are
// logged and skipped rather than returned: failing the consumer here would
// force a broker redelivery, and re-counting a delivered message is worse
// than missing one increment.
func (e *Engine) Observe(ctx context.Context, msg *security.Message) {
	if msg.IsSecurityEvent() {
		return // never escalate escalations
	}
	for _, rule := range e.rules {
		if !rule.Matches(msg) {
			continue
		}
		for _, dim := range rule.Dimensions {
			value := dimensionValue(dim, msg)
			if value == "" {
				continue
			}
			e.observeCounter(ctx, rule, dim, value, msg)
		}
	}
}

func (e *Engine) observeCounter(ctx context.Context, rule Rule, dim Dimension, value string, msg *security.Message) {
	key := counterKey(rule, dim, value)
	count, err := e.counters.IncrementWithExpiry(ctx, key, rule.Window)
	if err != nil {
		e.logger.Error("failure counter increment failed",
			"rule", rule.Name,
			"key", key,
			"error", err,
		)
		return
	}
	if count != int64(rule.Threshold) {
		return
	}

	event := security.NewSecurityEvent(rule.EventType, rule.Severity, fmt.Sprintf(
		"%s: %d qualifying failures for %s=%s within %s",
		rule.Name, count, dim, value, rule.Window,
	))
	event.ActorID = msg.ActorID
	event.ActorName = msg.ActorName
	event.SourceIP = msg.SourceIP
	event.UserAgent = msg.UserAgent
	event.GeoLocation = msg.GeoLocation
	event.DeviceFingerprint = msg.DeviceFingerprint
	event.RequestID = msg.RequestID
	event.ResourceType = msg.ResourceType
	event.AddTag("escalation")
	event.AddTag(string(dim))

	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Error("escalation publish failed",
			"rule", rule.Name,
			"event_type", rule.EventType,
			"error", err,
		)
		return
	}

	escalationsTotal.WithLabelValues(rule.EventType).Inc()
	e.logger.Warn("security event escalated",
		"rule", rule.Name,
		"event_type", rule.EventType,
		"severity", rule.Severity,
		"dimension", dim,
		"value", value,
		"count", count,
	)
}

func dimensionValue(dim Dimension, msg *security.Message) string {
	switch dim {
	case DimensionIP:
		return msg.SourceIP
	case DimensionUser:
		if msg.ActorID != uuid.Nil {
			return msg.ActorID.String()
		}
		return msg.ActorName
	default:
		return ""
	}
}

func counterKey(rule Rule, dim Dimension, value string) string {
	return fmt.Sprintf("esc:%s:%s:%s", rule.Name, dim, value)
}
