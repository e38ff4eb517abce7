// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is an in-process ConversationStore. Contents are lost on exit.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*Conversation),
		now:   time.Now,
	}
}

// Create implements ConversationStore.
func (s *MemoryStore) Create(ctx context.Context, conv *Conversation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if conv == nil {
		return "", fmt.Errorf("%w: nil conversation", ErrInvalidConversation)
	}
	if err := prepareConversation(conv, s.now()); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.convs[conv.ID]; ok {
		if existing.UserID != conv.UserID {
			return "", ErrConflict
		}
		return conv.ID, nil
	}
	s.convs[conv.ID] = conv.Clone()
	return conv.ID, nil
}

// AppendMessage implements ConversationStore.
func (s *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	for i := range conv.Messages {
		if msg.ID != "" && conv.Messages[i].ID == msg.ID {
			return nil
		}
	}

	floor := conv.CreatedAt
	if n := len(conv.Messages); n > 0 {
		floor = conv.Messages[n-1].Timestamp
	}
	if err := prepareMessage(&msg, floor); err != nil {
		return err
	}
	msg.Metadata = cloneMap(msg.Metadata)

	conv.Messages = append(conv.Messages, msg)
	if msg.Timestamp.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.Timestamp
	}
	return nil
}

// Get implements ConversationStore.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return conv.Clone(), nil
}

// ListByUser implements ConversationStore. Most recently updated first.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]ConversationSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = clampLimit(limit, offset)

	s.mu.RLock()
	var all []ConversationSummary
	for _, conv := range s.convs {
		if conv.UserID == userID {
			all = append(all, conv.Summary())
		}
	}
	s.mu.RUnlock()

	sortSummaries(all)

	if offset >= len(all) {
		return []ConversationSummary{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// Delete implements ConversationStore.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return ErrNotFound
	}
	delete(s.convs, id)
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// sortSummaries orders by UpdatedAt descending, then ID.
func sortSummaries(list []ConversationSummary) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].UpdatedAt.After(list[j].UpdatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
