// Package memory provides an in-memory Store for tests and local
// development. Semantics mirror the postgres store, including idempotent
// saves keyed on message ID.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"blogguard/internal/security"
	"blogguard/internal/security/store"
	"blogguard/pkg/platform/sentinel"
)

// Store keeps records and events in maps guarded by one mutex.
type Store struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*security.Message
	events  map[uuid.UUID]*security.Message
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		records: make(map[uuid.UUID]*security.Message),
		events:  make(map[uuid.UUID]*security.Message),
	}
}

func (s *Store) SaveAuditRecord(_ context.Context, msg *security.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[msg.ID]; ok {
		return false, nil // redelivery
	}
	cp := *msg
	s.records[msg.ID] = &cp
	return true, nil
}

func (s *Store) SaveSecurityEvent(_ context.Context, msg *security.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[msg.ID]; ok {
		return nil
	}
	cp := *msg
	s.events[msg.ID] = &cp
	return nil
}

func (s *Store) MarkEventProcessed(_ context.Context, id uuid.UUID, status security.Status, processedBy string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	event.Status = status
	event.ProcessedBy = processedBy
	event.ProcessedAt = &processedAt
	return nil
}

func (s *Store) ListSecurityEvents(_ context.Context, filter store.EventFilter) ([]*security.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*security.Message
	for _, e := range s.events {
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.MinSeverity > 0 && e.Severity < filter.MinSeverity {
			continue
		}
		if !filter.From.IsZero() && e.EventTime.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.EventTime.After(filter.To) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventTime.After(out[j].EventTime) })
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *Store) ListAuditRecords(_ context.Context, filter store.RecordFilter) ([]*security.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*security.Message
	for _, r := range s.records {
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.ActorID != uuid.Nil && r.ActorID != filter.ActorID {
			continue
		}
		if filter.Operation != "" && r.Operation != filter.Operation {
			continue
		}
		if filter.Result != "" && r.Result != filter.Result {
			continue
		}
		if !filter.From.IsZero() && r.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && r.Timestamp.After(filter.To) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return page(out, filter.Offset, filter.Limit), nil
}

func page(msgs []*security.Message, offset, limit int) []*security.Message {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(msgs) {
		return nil
	}
	msgs = msgs[offset:]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs
}
