// Package postgres persists audit records and security events. Inserts are
// idempotent via ON CONFLICT DO NOTHING so broker redeliveries (at-least-once
// delivery) never produce duplicate rows.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"blogguard/internal/security"
	"blogguard/internal/security/store"
	"blogguard/pkg/platform/sentinel"
)

// Store writes to the audit_records and security_events tables.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) SaveAuditRecord(ctx context.Context, msg *security.Message) (bool, error) {
	query := `
		INSERT INTO audit_records (
			id, kind, actor_id, actor_name, session_id, request_id, trace_id,
			operation, resource_type, resource_id, description,
			source_ip, user_agent, geo_location, device_fingerprint,
			request_uri, request_method,
			result, error_message, execution_time_ms, risk_level,
			request_payload, response_payload, tags, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25
		)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.Kind, nullUUID(msg.ActorID), msg.ActorName, msg.SessionID,
		msg.RequestID, msg.TraceID,
		msg.Operation, msg.ResourceType, msg.ResourceID, msg.Description,
		msg.SourceIP, msg.UserAgent, msg.GeoLocation, msg.DeviceFingerprint,
		msg.RequestURI, msg.RequestMethod,
		msg.Result, msg.ErrorMessage, msg.ExecutionTimeMs, msg.RiskLevel,
		msg.RequestPayload, msg.ResponsePayload, pq.Array(msg.Tags), msg.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	// ON CONFLICT DO NOTHING reports zero rows for a redelivered duplicate.
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	return affected > 0, nil
}

func (s *Store) SaveSecurityEvent(ctx context.Context, msg *security.Message) error {
	query := `
		INSERT INTO security_events (
			id, event_type, severity, risk_score, status, description,
			actor_id, actor_name, request_id, trace_id,
			source_ip, user_agent, geo_location, device_fingerprint,
			result, tags, alerted, alert_time, event_time, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.EventType, msg.Severity, msg.RiskScore, msg.Status, msg.Description,
		nullUUID(msg.ActorID), msg.ActorName, msg.RequestID, msg.TraceID,
		msg.SourceIP, msg.UserAgent, msg.GeoLocation, msg.DeviceFingerprint,
		msg.Result, pq.Array(msg.Tags), msg.Alerted, msg.AlertTime, msg.EventTime, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, id uuid.UUID, status security.Status, processedBy string, processedAt time.Time) error {
	query := `
		UPDATE security_events
		SET status = $2, processed_by = $3, processed_at = $4
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, id, status, processedBy, processedAt)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("security event %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) ListSecurityEvents(ctx context.Context, filter store.EventFilter) ([]*security.Message, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.MinSeverity > 0 {
		add("severity >= $%d", filter.MinSeverity)
	}
	if !filter.From.IsZero() {
		add("event_time >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("event_time <= $%d", filter.To)
	}

	query := `
		SELECT id, event_type, severity, risk_score, status, description,
		       actor_id, actor_name, request_id, trace_id,
		       source_ip, user_agent, geo_location, device_fingerprint,
		       result, tags, alerted, processed_by, processed_at, event_time, created_at
		FROM security_events
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY event_time DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limitOrDefault(filter.Limit), offsetOrZero(filter.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	defer rows.Close()

	var out []*security.Message
	for rows.Next() {
		var (
			m           security.Message
			actorID     sql.Null[uuid.UUID]
			processedBy sql.NullString
			processedAt sql.NullTime
		)
		m.Kind = security.KindSecurityEvent
		if err := rows.Scan(
			&m.ID, &m.EventType, &m.Severity, &m.RiskScore, &m.Status, &m.Description,
			&actorID, &m.ActorName, &m.RequestID, &m.TraceID,
			&m.SourceIP, &m.UserAgent, &m.GeoLocation, &m.DeviceFingerprint,
			&m.Result, pq.Array(&m.Tags), &m.Alerted, &processedBy, &processedAt, &m.EventTime, &m.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		if actorID.Valid {
			m.ActorID = actorID.V
		}
		if processedBy.Valid {
			m.ProcessedBy = processedBy.String
		}
		if processedAt.Valid {
			m.ProcessedAt = &processedAt.Time
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *Store) ListAuditRecords(ctx context.Context, filter store.RecordFilter) ([]*security.Message, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if filter.ActorID != uuid.Nil {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.Operation != "" {
		add("operation = $%d", filter.Operation)
	}
	if filter.Result != "" {
		add("result = $%d", filter.Result)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}

	query := `
		SELECT id, kind, actor_id, actor_name, session_id, request_id, trace_id,
		       operation, resource_type, resource_id, description,
		       source_ip, user_agent, geo_location, device_fingerprint,
		       request_uri, request_method,
		       result, error_message, execution_time_ms, risk_level,
		       request_payload, response_payload, tags, created_at
		FROM audit_records
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limitOrDefault(filter.Limit), offsetOrZero(filter.Offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []*security.Message
	for rows.Next() {
		var (
			m       security.Message
			actorID sql.Null[uuid.UUID]
		)
		if err := rows.Scan(
			&m.ID, &m.Kind, &actorID, &m.ActorName, &m.SessionID, &m.RequestID, &m.TraceID,
			&m.Operation, &m.ResourceType, &m.ResourceID, &m.Description,
			&m.SourceIP, &m.UserAgent, &m.GeoLocation, &m.DeviceFingerprint,
			&m.RequestURI, &m.RequestMethod,
			&m.Result, &m.ErrorMessage, &m.ExecutionTimeMs, &m.RiskLevel,
			&m.RequestPayload, &m.ResponsePayload, pq.Array(&m.Tags), &m.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if actorID.Valid {
			m.ActorID = actorID.V
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}

func offsetOrZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
