// Package capture intercepts arbitrary operations and turns each invocation
// into exactly one security message: actor and network context on entry, a
// sanitized request snapshot, then outcome, duration and risk on exit.
//
// Capture failures (serialization, broker unavailability) never abort the
// wrapped business operation unless strict mode is configured; the default
// is to log and continue.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"blogguard/internal/security"
	"blogguard/pkg/requestcontext"
)

// maxErrorLength caps captured error messages.
const maxErrorLength = 500

// Descriptor identifies the wrapped operation and how to capture it.
type Descriptor struct {
	Operation    security.Operation
	ResourceType string
	ResourceID   string
	Description  string

	// RiskLevel overrides the operation's base risk when > 0.
	RiskLevel int

	// CaptureRequest snapshots the RequestSummary into the message payload.
	CaptureRequest bool

	// CaptureResponse snapshots the operation's return value on success.
	CaptureResponse bool

	// SensitiveParams lists argument positions to mask in addition to the
	// name-based keyword matching.
	SensitiveParams []int

	// MaxFieldLength bounds serialized payloads in bytes.
	// Zero means DefaultMaxFieldLength.
	MaxFieldLength int

	// Async defers the publish to the producer's background worker instead
	// of blocking the caller on the broker round trip.
	Async bool
}

// Publisher is the producer surface the interceptor publishes to.
type Publisher interface {
	Publish(ctx context.Context, msg *security.Message) error
	PublishAsync(msg *security.Message)
}

// Auditor wraps operations with audit capture.
type Auditor struct {
	publisher Publisher
	logger    *slog.Logger
	strict    bool
}

// Option configures the Auditor.
type Option func(*Auditor)

// WithLogger sets the logger for capture-internal failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Auditor) { a.logger = logger }
}

// WithStrictMode makes capture failures abort the wrapped operation.
func WithStrictMode() Option {
	return func(a *Auditor) { a.strict = true }
}

// New creates an Auditor publishing through the given producer.
func New(publisher Publisher, opts ...Option) *Auditor {
	a := &Auditor{
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Do wraps an operation returning a value. The operation's result and error
// pass through unchanged; exactly one message is published per invocation.
func Do[T any](a *Auditor, ctx context.Context, desc Descriptor, req *RequestSummary, fn func(ctx context.Context) (T, error)) (T, error) {
	msg, captureErr := a.begin(ctx, desc, req)
	if captureErr != nil && a.strict {
		var zero T
		return zero, fmt.Errorf("audit capture: %w", captureErr)
	}

	start := time.Now()
	result, err := fn(ctx)
	msg.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err != nil {
		a.finishFailure(msg, err)
	} else {
		a.finishSuccess(msg, desc, result)
	}

	if pubErr := a.publish(ctx, desc, msg); pubErr != nil && a.strict && err == nil {
		var zero T
		return zero, fmt.Errorf("audit publish: %w", pubErr)
	}
	return result, err
}

// Run wraps an operation with no return value.
func (a *Auditor) Run(ctx context.Context, desc Descriptor, req *RequestSummary, fn func(ctx context.Context) error) error {
	_, err := Do(a, ctx, desc, req, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// begin builds the partial record from ambient context. A serialization
// failure is reported but still yields a usable message: the snapshot is
// simply absent.
func (a *Auditor) begin(ctx context.Context, desc Descriptor, req *RequestSummary) (*security.Message, error) {
	msg := security.NewAuditMessage(desc.Operation)
	msg.ResourceType = desc.ResourceType
	msg.ResourceID = desc.ResourceID
	msg.Description = desc.Description
	if desc.RiskLevel > 0 {
		msg.RiskLevel = desc.RiskLevel
	}

	msg.ActorID = requestcontext.ActorID(ctx)
	msg.ActorName = requestcontext.ActorName(ctx)
	msg.SessionID = requestcontext.SessionID(ctx)
	msg.RequestID = requestcontext.RequestID(ctx)
	msg.SourceIP = requestcontext.ClientIP(ctx)
	msg.UserAgent = requestcontext.UserAgent(ctx)
	msg.GeoLocation = requestcontext.GeoLocation(ctx)
	msg.DeviceFingerprint = requestcontext.DeviceFingerprint(ctx)
	msg.RequestURI = requestcontext.RequestURI(ctx)
	msg.RequestMethod = requestcontext.RequestMethod(ctx)
	msg.Timestamp = requestcontext.Now(ctx)

	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.TraceID = sc.TraceID().String()
	}

	if !desc.CaptureRequest {
		return msg, nil
	}
	payload, err := req.serialize(desc.SensitiveParams, desc.MaxFieldLength)
	if err != nil {
		a.logger.Warn("request snapshot failed",
			"operation", desc.Operation,
			"error", err,
		)
		return msg, err
	}
	msg.RequestPayload = payload
	return msg, nil
}

func (a *Auditor) finishSuccess(msg *security.Message, desc Descriptor, result any) {
	msg.Result = security.ResultSuccess
	if !desc.CaptureResponse || result == nil {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		a.logger.Warn("response snapshot failed",
			"operation", desc.Operation,
			"error", err,
		)
		return
	}
	msg.ResponsePayload = truncate(string(raw), maxLenOrDefault(desc.MaxFieldLength))
}

// finishFailure records the error and raises the risk level: failures are
// floored at 3, already-risky operations are bumped one step, capped at the
// scale maximum.
func (a *Auditor) finishFailure(msg *security.Message, err error) {
	msg.Result = security.ResultFailure
	msg.ErrorMessage = truncate(fmt.Sprintf("%T: %v", err, err), maxErrorLength)
	if msg.RiskLevel < 3 {
		msg.RiskLevel = 3
	} else {
		msg.RiskLevel = min(msg.RiskLevel+1, security.RiskMax)
	}
	msg.AddTag("failure")
}

func (a *Auditor) publish(ctx context.Context, desc Descriptor, msg *security.Message) error {
	if desc.Async {
		a.publisher.PublishAsync(msg)
		return nil
	}
	if err := a.publisher.Publish(ctx, msg); err != nil {
		a.logger.Warn("audit publish failed",
			"operation", desc.Operation,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	return nil
}

func maxLenOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxFieldLength
	}
	return n
}
