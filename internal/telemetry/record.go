// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/sentiment"
)

// =============================================================================
// EXCHANGE RECORD
// =============================================================================

// ExchangeRecord is the accounting entry for one user message and its
// assistant reply. Written once, never updated.
type ExchangeRecord struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	UserID         string            `json:"user_id"`
	Provider       string            `json:"provider"`
	Model          string            `json:"model"`
	LatencyMs      int64             `json:"latency_ms"`
	TokensInput    int               `json:"tokens_input"`
	TokensOutput   int               `json:"tokens_output"`
	Tokens         int               `json:"tokens"`
	CostUSD        decimal.Decimal   `json:"cost_usd"`
	Sentiment      *sentiment.Result `json:"sentiment,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// ErrInvalidRecord is returned by Validate.
var ErrInvalidRecord = errors.New("invalid exchange record")

// NewRecordID returns a fresh record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// Validate checks the record's invariants.
func (r *ExchangeRecord) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	case r.ConversationID == "" || r.UserID == "":
		return fmt.Errorf("%w: missing conversation or user", ErrInvalidRecord)
	case r.Provider == "":
		return fmt.Errorf("%w: missing provider", ErrInvalidRecord)
	case r.LatencyMs < 0:
		return fmt.Errorf("%w: negative latency %d", ErrInvalidRecord, r.LatencyMs)
	case r.TokensInput < 0 || r.TokensOutput < 0 || r.Tokens < 0:
		return fmt.Errorf("%w: negative token count", ErrInvalidRecord)
	case r.Tokens != r.TokensInput+r.TokensOutput:
		return fmt.Errorf("%w: tokens %d != %d + %d", ErrInvalidRecord, r.Tokens, r.TokensInput, r.TokensOutput)
	case r.CostUSD.IsNegative():
		return fmt.Errorf("%w: negative cost %s", ErrInvalidRecord, r.CostUSD)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidRecord)
	}
	if r.Sentiment != nil {
		if err := r.Sentiment.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
	}
	return nil
}

// =============================================================================
// SCOPE
// =============================================================================

// ScopeKind selects which records an analytics query covers.
type ScopeKind string

const (
	ScopeKindUser         ScopeKind = "user"
	ScopeKindConversation ScopeKind = "conversation"
	ScopeKindGlobal       ScopeKind = "global"
)

// Scope is a ScopeKind plus the user or conversation id it applies to.
type Scope struct {
	Kind ScopeKind `json:"type"`
	ID   string    `json:"id,omitempty"`
}

// UserScope selects one user's records.
func UserScope(userID string) Scope { return Scope{Kind: ScopeKindUser, ID: userID} }

// ConversationScope selects one conversation's records.
func ConversationScope(conversationID string) Scope {
	return Scope{Kind: ScopeKindConversation, ID: conversationID}
}

// GlobalScope selects every record.
func GlobalScope() Scope { return Scope{Kind: ScopeKindGlobal} }

// Matches reports whether r falls within the scope.
func (s Scope) Matches(r *ExchangeRecord) bool {
	switch s.Kind {
	case ScopeKindUser:
		return r.UserID == s.ID
	case ScopeKindConversation:
		return r.ConversationID == s.ID
	default:
		return true
	}
}

// Validate rejects unknown kinds and scoped kinds without an id.
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeKindGlobal:
		return nil
	case ScopeKindUser, ScopeKindConversation:
		if s.ID == "" {
			return fmt.Errorf("%s scope requires an id", s.Kind)
		}
		return nil
	default:
		return fmt.Errorf("unknown scope %q", s.Kind)
	}
}

func (s Scope) String() string {
	if s.ID == "" {
		return string(s.Kind)
	}
	return string(s.Kind) + ":" + s.ID
}
