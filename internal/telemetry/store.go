// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// METRICS STORE
// =============================================================================

// MetricsStore persists exchange records.
//
// Append is idempotent by record ID: appending the same record twice keeps
// one copy, which lets failed writes be retried safely.
type MetricsStore interface {
	Append(ctx context.Context, rec ExchangeRecord) error

	// Query returns records in scope with Timestamp >= since, oldest first.
	// A zero since means no lower bound.
	Query(ctx context.Context, scope Scope, since time.Time) ([]ExchangeRecord, error)

	// Prune deletes records older than before and returns how many went.
	Prune(ctx context.Context, before time.Time) (int, error)

	// DeleteConversation drops every record of one conversation.
	DeleteConversation(ctx context.Context, conversationID string) error
}

// MemoryStore is an in-process MetricsStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records []ExchangeRecord
	ids     map[string]bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]bool)}
}

// Append implements MetricsStore.
func (s *MemoryStore) Append(ctx context.Context, rec ExchangeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[rec.ID] {
		return nil
	}
	s.ids[rec.ID] = true
	s.records = append(s.records, cloneRecord(rec))
	return nil
}

// Query implements MetricsStore.
func (s *MemoryStore) Query(ctx context.Context, scope Scope, since time.Time) ([]ExchangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]ExchangeRecord, 0, len(s.records))
	for i := range s.records {
		r := &s.records[i]
		if !since.IsZero() && r.Timestamp.Before(since) {
			continue
		}
		if scope.Matches(r) {
			out = append(out, cloneRecord(*r))
		}
	}
	s.mu.RUnlock()

	SortRecords(out)
	return out, nil
}

// Prune implements MetricsStore.
func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(r *ExchangeRecord) bool { return !r.Timestamp.Before(before) }), nil
}

// DeleteConversation implements MetricsStore.
func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter(func(r *ExchangeRecord) bool { return r.ConversationID != conversationID })
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// filter keeps records for which keep returns true. Caller holds s.mu.
func (s *MemoryStore) filter(keep func(*ExchangeRecord) bool) int {
	kept := s.records[:0]
	removed := 0
	for i := range s.records {
		if keep(&s.records[i]) {
			kept = append(kept, s.records[i])
			continue
		}
		delete(s.ids, s.records[i].ID)
		removed++
	}
	// Clear the tail so dropped records can be collected.
	for i := len(kept); i < len(s.records); i++ {
		s.records[i] = ExchangeRecord{}
	}
	s.records = kept
	return removed
}

// SortRecords orders records by timestamp, then ID, giving every store the
// same deterministic output order.
func SortRecords(recs []ExchangeRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].Timestamp.Before(recs[j].Timestamp)
		}
		return recs[i].ID < recs[j].ID
	})
}

func cloneRecord(r ExchangeRecord) ExchangeRecord {
	if r.Sentiment != nil {
		s := *r.Sentiment
		r.Sentiment = &s
	}
	return r
}
