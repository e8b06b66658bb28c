// Package store defines persistence for audit records and security events.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"blogguard/internal/security"
)

// EventFilter narrows security event queries. Zero values mean "any".
type EventFilter struct {
	Status      security.Status
	EventType   string
	MinSeverity int
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// RecordFilter narrows audit record queries.
type RecordFilter struct {
	Kind      security.Kind
	ActorID   uuid.UUID
	Operation security.Operation
	Result    security.Result
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Store persists pipeline output. Saves are idempotent on message ID so
// broker redeliveries produce no duplicate rows.
type Store interface {
	// SaveAuditRecord persists a non-event message. The bool reports whether
	// a new row was written; false means the message was already persisted
	// (a broker redelivery) and must not be counted again downstream.
	SaveAuditRecord(ctx context.Context, msg *security.Message) (bool, error)

	// SaveSecurityEvent persists a security event in its initial state.
	SaveSecurityEvent(ctx context.Context, msg *security.Message) error

	// MarkEventProcessed is the single mutation point for a persisted
	// event's lifecycle: it sets the status, who processed it, and when.
	// Returns sentinel.ErrNotFound when no such event exists.
	MarkEventProcessed(ctx context.Context, id uuid.UUID, status security.Status, processedBy string, processedAt time.Time) error

	// ListSecurityEvents returns events matching the filter, newest first.
	ListSecurityEvents(ctx context.Context, filter EventFilter) ([]*security.Message, error)

	// ListAuditRecords returns audit records matching the filter, newest first.
	ListAuditRecords(ctx context.Context, filter RecordFilter) ([]*security.Message, error)
}
