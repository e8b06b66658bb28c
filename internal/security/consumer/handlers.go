package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blogguard/internal/platform/kafka/consumer"
	"blogguard/internal/security"
	"blogguard/internal/security/store"
)

var (
	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogguard_security_messages_consumed_total",
		Help: "Security messages persisted, by topic",
	}, []string{"topic"})

	persistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogguard_security_persist_failures_total",
		Help: "Persistence failures forcing broker redelivery, by topic",
	}, []string{"topic"})

	malformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blogguard_security_malformed_messages_total",
		Help: "Messages skipped because the payload could not be decoded, by topic",
	}, []string{"topic"})
)

// Escalator receives qualifying messages for failure aggregation.
type Escalator interface {
	Observe(ctx context.Context, msg *security.Message)
}

// RecordHandler persists audit-record topics and forwards qualifying
// messages to the escalation engine.
//
// Error policy: a persistence failure is returned (the broker redelivers;
// saves are idempotent on message ID), a malformed payload is logged and
// committed (redelivery cannot fix it), and escalation runs only on the
// first persistence of a message — a redelivered duplicate must not
// increment the failure counters again.
type RecordHandler struct {
	store     store.Store
	escalator Escalator
	logger    *slog.Logger
}

// NewRecordHandler creates a handler for one audit-record topic.
// escalator may be nil for topics that never escalate.
func NewRecordHandler(st store.Store, escalator Escalator, logger *slog.Logger) *RecordHandler {
	return &RecordHandler{store: st, escalator: escalator, logger: logger}
}

// Handle persists one audit record.
func (h *RecordHandler) Handle(ctx context.Context, raw *consumer.Message) error {
	msg, ok := h.decode(raw)
	if !ok {
		return nil
	}

	inserted, err := h.store.SaveAuditRecord(ctx, msg)
	if err != nil {
		persistFailures.WithLabelValues(raw.Topic).Inc()
		h.logger.Error("audit record persistence failed",
			"topic", raw.Topic,
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Errorf("save audit record: %w", err)
	}
	consumedTotal.WithLabelValues(raw.Topic).Inc()

	if inserted && h.escalator != nil && qualifiesForEscalation(msg) {
		h.escalator.Observe(ctx, msg)
	}
	return nil
}

func (h *RecordHandler) decode(raw *consumer.Message) (*security.Message, bool) {
	var msg security.Message
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		malformedTotal.WithLabelValues(raw.Topic).Inc()
		h.logger.Warn("malformed security message skipped",
			"topic", raw.Topic,
			"key", string(raw.Key),
			"error", err,
		)
		return nil, false
	}
	return &msg, true
}

// qualifiesForEscalation selects the outcomes worth counting: failed
// operations, denied access checks, and detected threats.
func qualifiesForEscalation(msg *security.Message) bool {
	switch msg.Result {
	case security.ResultFailure, security.ResultDenied, security.ResultDetected:
		return true
	default:
		return false
	}
}

// EventHandler persists the security-event topic.
type EventHandler struct {
	store  store.Store
	logger *slog.Logger
}

// NewEventHandler creates the security-event topic handler.
func NewEventHandler(st store.Store, logger *slog.Logger) *EventHandler {
	return &EventHandler{store: st, logger: logger}
}

// Handle persists one security event.
func (h *EventHandler) Handle(ctx context.Context, raw *consumer.Message) error {
	var msg security.Message
	if err := json.Unmarshal(raw.Value, &msg); err != nil {
		malformedTotal.WithLabelValues(raw.Topic).Inc()
		h.logger.Warn("malformed security event skipped",
			"topic", raw.Topic,
			"key", string(raw.Key),
			"error", err,
		)
		return nil
	}

	if err := h.store.SaveSecurityEvent(ctx, &msg); err != nil {
		persistFailures.WithLabelValues(raw.Topic).Inc()
		h.logger.Error("security event persistence failed",
			"topic", raw.Topic,
			"message_id", msg.ID,
			"error", err,
		)
		return fmt.Errorf("save security event: %w", err)
	}
	consumedTotal.WithLabelValues(raw.Topic).Inc()

	h.logger.Info("security event persisted",
		"event_type", msg.EventType,
		"severity", msg.Severity,
		"source_ip", msg.SourceIP,
	)
	return nil
}

// NewPipeline wires the full topic → handler table: every audit queue gets
// a RecordHandler (escalation-capable for auth, file, search and
// access-control queues), the event queue gets the EventHandler, and the
// generic audit queue doubles as fallback for unknown topics.
func NewPipeline(st store.Store, escalator Escalator, logger *slog.Logger) *Router {
	auditHandler := NewRecordHandler(st, nil, logger)
	escalating := NewRecordHandler(st, escalator, logger)

	router := NewRouter(logger, auditHandler)
	router.Register(security.TopicSecurityEvent, NewEventHandler(st, logger))
	router.Register(security.TopicUserAuth, escalating)
	router.Register(security.TopicFileUpload, escalating)
	router.Register(security.TopicSearch, escalating)
	router.Register(security.TopicAccessControl, escalating)
	router.Register(security.TopicAuditLog, auditHandler)
	return router
}
