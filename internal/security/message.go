// Package security defines the unified message model for the audit and
// security event pipeline. Every sensitive operation in the application is
// captured as a Message, routed to a logical queue, persisted by a consumer,
// and — for certain patterns — escalated into a security event.
package security

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the message variants flowing through the pipeline.
// It determines routing and which table the consumer persists into.
type Kind string

const (
	// KindAuditLog is the default variant for generic operation audits.
	KindAuditLog Kind = "audit_log"

	// KindSecurityEvent is a detected threat pattern with its own
	// processing lifecycle (NEW → PROCESSING → RESOLVED/IGNORED).
	KindSecurityEvent Kind = "security_event"

	// KindUserAuth covers login, logout, registration and credential changes.
	KindUserAuth Kind = "user_auth"

	// KindFileUpload covers uploads and content-scan outcomes.
	KindFileUpload Kind = "file_upload"

	// KindSearch covers search queries (injection probing shows up here).
	KindSearch Kind = "search"

	// KindAccessControl covers permission checks and denials.
	KindAccessControl Kind = "access_control"
)

// Result is the outcome of the captured operation.
type Result string

const (
	ResultSuccess  Result = "SUCCESS"
	ResultFailure  Result = "FAILURE"
	ResultError    Result = "ERROR"
	ResultDetected Result = "DETECTED"
	ResultDenied   Result = "DENIED"
)

// Status is the processing lifecycle of a security event.
// Only messages with Kind == KindSecurityEvent carry a status.
type Status string

const (
	StatusNew        Status = "NEW"
	StatusProcessing Status = "PROCESSING"
	StatusResolved   Status = "RESOLVED"
	StatusIgnored    Status = "IGNORED"
)

// Risk level bounds. Severity for security events uses the same 1–5 scale;
// RiskScore is the 0–100 projection used by downstream alerting.
const (
	RiskMin = 1
	RiskMax = 5
)

// Well-known security event types synthesized by the escalation engine.
const (
	EventBruteForce        = "BRUTE_FORCE_ATTACK"
	EventCredentialAbuse   = "CREDENTIAL_ABUSE"
	EventPrivilegeProbing  = "PRIVILEGE_PROBING"
	EventMaliciousUpload   = "MALICIOUS_FILE_UPLOAD"
	EventSuspiciousPattern = "SUSPICIOUS_PATTERN"
)

// Message is the tagged record unifying audit logs, security events,
// authentication events, file-upload events, search events, and
// access-control events. It is transported immutably through the broker and
// persisted exactly once per delivery; redeliveries are deduplicated on ID.
type Message struct {
	ID   uuid.UUID `json:"id"`
	Kind Kind      `json:"kind"`

	// Identity. ActorID is uuid.Nil for anonymous callers (e.g. a failed
	// login before the user is resolved).
	ActorID   uuid.UUID `json:"actor_id,omitempty"`
	ActorName string    `json:"actor_name,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`

	// Operation.
	Operation    Operation `json:"operation"`
	ResourceType string    `json:"resource_type,omitempty"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Description  string    `json:"description,omitempty"`

	// Network.
	SourceIP          string `json:"source_ip,omitempty"`
	UserAgent         string `json:"user_agent,omitempty"`
	GeoLocation       string `json:"geo_location,omitempty"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	RequestURI        string `json:"request_uri,omitempty"`
	RequestMethod     string `json:"request_method,omitempty"`

	// Outcome.
	Result          Result `json:"result,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`

	// Risk. RiskLevel is 1–5 for audit records; security events additionally
	// carry Severity (1–5) and RiskScore (0–100).
	RiskLevel int `json:"risk_level,omitempty"`
	Severity  int `json:"severity,omitempty"`
	RiskScore int `json:"risk_score,omitempty"`

	// EventType names the detected pattern for security events,
	// e.g. BRUTE_FORCE_ATTACK.
	EventType string `json:"event_type,omitempty"`

	// Payload carries the size-capped, sanitized request/response snapshot.
	RequestPayload  string   `json:"request_payload,omitempty"`
	ResponsePayload string   `json:"response_payload,omitempty"`
	Tags            []string `json:"tags,omitempty"`

	// Timing. Timestamp is creation time; EventTime for security events may
	// differ from persistence time (set by the escalation engine).
	Timestamp time.Time `json:"timestamp"`
	EventTime time.Time `json:"event_time,omitzero"`

	// Processing state, security events only. Mutated after persistence only
	// through the explicit mark-processed administrative action.
	Status      Status     `json:"status,omitempty"`
	Alerted     bool       `json:"alerted,omitempty"`
	AlertTime   *time.Time `json:"alert_time,omitempty"`
	ProcessedBy string     `json:"processed_by,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// IsSecurityEvent reports whether this message routes to the security event
// queue regardless of its originating sub-kind.
func (m *Message) IsSecurityEvent() bool {
	return m.Kind == KindSecurityEvent
}

// HasTag reports whether the message carries the given tag.
func (m *Message) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present.
func (m *Message) AddTag(tag string) {
	if !m.HasTag(tag) {
		m.Tags = append(m.Tags, tag)
	}
}

// NewAuditMessage creates a message for a captured operation. Kind is derived
// from the operation, risk level from the operation's base risk.
func NewAuditMessage(op Operation) *Message {
	return &Message{
		ID:        uuid.New(),
		Kind:      op.Kind(),
		Operation: op,
		RiskLevel: op.BaseRisk(),
		Timestamp: time.Now(),
	}
}

// NewSecurityEvent creates a security event message in the NEW state.
// Severity is clamped to the 1–5 scale; RiskScore is derived from it.
func NewSecurityEvent(eventType string, severity int, description string) *Message {
	severity = min(max(severity, RiskMin), RiskMax)
	now := time.Now()
	return &Message{
		ID:          uuid.New(),
		Kind:        KindSecurityEvent,
		Operation:   OpSecurityEvent,
		EventType:   eventType,
		Severity:    severity,
		RiskScore:   severity * 20,
		RiskLevel:   severity,
		Description: description,
		Result:      ResultDetected,
		Timestamp:   now,
		EventTime:   now,
		Status:      StatusNew,
	}
}

// Validate enforces the model invariants before a message enters the broker:
// security events must carry a severity and start in the NEW state, and a
// FAILURE result implies a risk level of at least 3.
func (m *Message) Validate() error {
	if m.ID == uuid.Nil {
		return fmt.Errorf("message requires an ID")
	}
	if m.Kind == "" {
		return fmt.Errorf("message requires a kind")
	}
	if m.Kind == KindSecurityEvent {
		if m.Severity < RiskMin || m.Severity > RiskMax {
			return fmt.Errorf("security event severity %d outside [%d,%d]", m.Severity, RiskMin, RiskMax)
		}
		if m.Status == "" {
			return fmt.Errorf("security event requires a status")
		}
	}
	if m.Result == ResultFailure && m.RiskLevel < 3 {
		return fmt.Errorf("failure result requires risk level >= 3, got %d", m.RiskLevel)
	}
	return nil
}
