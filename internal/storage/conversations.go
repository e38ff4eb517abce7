// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/promptlab/internal/util"
)

// =============================================================================
// CONVERSATION TYPES
// =============================================================================

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// MaxMessageRunes is the longest message content accepted.
const MaxMessageRunes = 10000

// PreviewRunes is the length of ConversationSummary.LastMessage.
const PreviewRunes = 100

// List paging bounds for ListByUser.
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Conversation is an ordered exchange between one user and the assistant.
type Conversation struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Message is one immutable turn of a conversation.
type Message struct {
	ID        string         `json:"id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ConversationSummary is the listing view of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	LastMessage  string    `json:"last_message"`
}

// NewMessage builds a message with a fresh ID.
func NewMessage(role, content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

// NewConversationID returns a fresh conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// Validate checks role and content bounds.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("%w: role %q", ErrInvalidMessage, m.Role)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidMessage)
	}
	if n := util.RuneLen(m.Content); n > MaxMessageRunes {
		return fmt.Errorf("%w: content is %d characters, limit %d", ErrInvalidMessage, n, MaxMessageRunes)
	}
	return nil
}

// Summary returns the listing view of c.
func (c *Conversation) Summary() ConversationSummary {
	s := ConversationSummary{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
	}
	if n := len(c.Messages); n > 0 {
		s.LastMessage = preview(c.Messages[n-1].Content)
	}
	return s
}

// Clone returns a deep copy of c.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Metadata = cloneMap(c.Metadata)
	out.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		m.Metadata = cloneMap(m.Metadata)
		out.Messages[i] = m
	}
	return &out
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

// ConversationStore persists conversations and their messages.
//
// Create and AppendMessage are idempotent by ID so a failed write can be
// retried. Timestamps of appended messages are clamped to be non-decreasing
// within a conversation.
type ConversationStore interface {
	Create(ctx context.Context, conv *Conversation) (string, error)
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	Get(ctx context.Context, id string) (*Conversation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]ConversationSummary, error)
	Delete(ctx context.Context, id string) error
}

// =============================================================================
// ERRORS
// =============================================================================

// StoreError is a storage failure that can be matched with errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

var (
	// ErrNotFound is returned when a conversation doesn't exist.
	ErrNotFound = &StoreError{Message: "conversation not found"}

	// ErrConflict is returned when Create reuses an ID owned by another user.
	ErrConflict = &StoreError{Message: "conversation id already in use"}

	// ErrInvalidMessage is returned for a message failing Validate.
	ErrInvalidMessage = &StoreError{Message: "invalid message"}

	// ErrInvalidConversation is returned when Create lacks an owner.
	ErrInvalidConversation = &StoreError{Message: "invalid conversation"}
)

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// prepareConversation fills defaults for Create and validates messages.
func prepareConversation(conv *Conversation, now time.Time) error {
	if conv.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidConversation)
	}
	if conv.ID == "" {
		conv.ID = NewConversationID()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.Before(conv.CreatedAt) {
		conv.UpdatedAt = conv.CreatedAt
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()

	last := conv.CreatedAt
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if err := prepareMessage(m, last); err != nil {
			return err
		}
		last = m.Timestamp
	}
	if last.After(conv.UpdatedAt) {
		conv.UpdatedAt = last
	}
	return nil
}

// prepareMessage validates m, assigns an ID and clamps its timestamp to
// be no earlier than floor.
func prepareMessage(m *Message, floor time.Time) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() || m.Timestamp.Before(floor) {
		m.Timestamp = floor
	}
	m.Timestamp = m.Timestamp.UTC()
	return nil
}

// clampLimit applies the ListByUser paging defaults.
func clampLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func preview(content string) string {
	return util.TruncateRunes(util.SingleLine(content), PreviewRunes)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
